package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"voice-lead-agent/internal/lead"
	"voice-lead-agent/pkg/logger"
)

// Session is the call a media stream drives. *agent.Agent implements it.
type Session interface {
	ApplyLeadUpdate(ctx context.Context, p lead.Patch) error
	SubmitAudioFrame(frame []byte) error
	EndCall(ctx context.Context) error
}

// StreamStart describes a media stream's start frame.
type StreamStart struct {
	StreamSID        string
	CallSID          string
	AccountSID       string
	PhoneNumber      string
	CustomParameters map[string]string
}

// SessionStarter creates the session for a stream. Audio for the caller is written to out.
type SessionStarter func(ctx context.Context, start StreamStart, out *MediaStream) (Session, error)

// Conn is the subset of *websocket.Conn used by a media stream.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Twilio Media Streams frames.
// Ref: https://www.twilio.com/docs/voice/media-streams/websocket-messages
type mediaMessage struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Start          *startMessage `json:"start,omitempty"`
	Media          *mediaPayload `json:"media,omitempty"`
	Mark           *markMessage  `json:"mark,omitempty"`
	Stop           *stopMessage  `json:"stop,omitempty"`
}

type startMessage struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  mediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type markMessage struct {
	Name string `json:"name"`
}

type stopMessage struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// PhoneParam is the stream parameter carrying the lead's phone number.
const PhoneParam = "phone"

var errStartFailed = errors.New("telephony: session start failed")

// MediaStream relays one Twilio media stream to one Session.
// The read side is driven by Run; SendAudio, SendMark and Clear may be called from any goroutine.
type MediaStream struct {
	conn          Conn
	starter       SessionStarter
	fallbackPhone string
	log           *slog.Logger

	writeMu   sync.Mutex
	open      atomic.Bool
	closeOnce sync.Once

	mu        sync.Mutex
	streamSID string
	callSID   string
	session   Session

	endOnce sync.Once
}

// NewMediaStream wraps conn. fallbackPhone is used when the start frame carries no phone parameter.
func NewMediaStream(conn Conn, starter SessionStarter, fallbackPhone string, log *slog.Logger) *MediaStream {
	s := &MediaStream{
		conn:          conn,
		starter:       starter,
		fallbackPhone: fallbackPhone,
		log:           logger.Component(log, "media_stream"),
	}
	s.open.Store(true)
	return s
}

// Run reads frames until a stop frame, transport close or ctx cancellation, then ends the
// call and closes the transport. It returns an error only if the transport failed abnormally or the session
// could not be started.
func (s *MediaStream) Run(ctx context.Context) error {
	defer s.Close()
	stopClose := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stopClose()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.open.Store(false)
			s.end(ctx)
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("media stream closed", "stream_sid", s.StreamSID())
				return nil
			}
			return fmt.Errorf("telephony: read media stream: %w", err)
		}

		stop, err := s.handle(ctx, data)
		if errors.Is(err, errStartFailed) {
			s.open.Store(false)
			return err
		}
		if err != nil {
			s.log.Warn("media frame dropped", "err", err)
			continue
		}
		if stop {
			s.end(ctx)
			return nil
		}
	}
}

func (s *MediaStream) handle(ctx context.Context, data []byte) (stop bool, err error) {
	var msg mediaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return false, fmt.Errorf("decode frame: %w", err)
	}

	switch msg.Event {
	case "connected":
		s.log.Debug("media stream connected")
	case "start":
		return false, s.handleStart(ctx, msg)
	case "media":
		s.handleMedia(msg)
	case "stop":
		s.log.Info("media stream stopped", "stream_sid", msg.StreamSID)
		return true, nil
	case "mark":
		if msg.Mark != nil {
			s.log.Debug("mark played", "name", msg.Mark.Name)
		}
	default:
		s.log.Debug("unknown media event", "event", msg.Event)
	}
	return false, nil
}

func (s *MediaStream) handleStart(ctx context.Context, msg mediaMessage) error {
	if msg.Start == nil {
		return errors.New("start frame without start payload")
	}

	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		s.log.Warn("duplicate start frame ignored", "stream_sid", msg.Start.StreamSID)
		return nil
	}
	s.streamSID = msg.Start.StreamSID
	s.callSID = msg.Start.CallSID
	s.mu.Unlock()

	phone := msg.Start.CustomParams[PhoneParam]
	if phone == "" {
		phone = s.fallbackPhone
	}
	if phone == "" {
		phone = "unknown"
	}

	log := s.log.With("stream_sid", msg.Start.StreamSID, "call_sid", msg.Start.CallSID)
	log.Info("media stream started", "encoding", msg.Start.MediaFormat.Encoding)

	sess, err := s.starter(ctx, StreamStart{
		StreamSID:        msg.Start.StreamSID,
		CallSID:          msg.Start.CallSID,
		AccountSID:       msg.Start.AccountSID,
		PhoneNumber:      phone,
		CustomParameters: msg.Start.CustomParams,
	}, s)
	if err != nil {
		log.Error("failed to start call session", "err", err)
		return fmt.Errorf("%w: %w", errStartFailed, err)
	}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	if err := sess.ApplyLeadUpdate(ctx, lead.StatusPatch(lead.StatusInProgress)); err != nil {
		log.Error("failed to mark call in progress", "err", err)
	}
	return nil
}

func (s *MediaStream) handleMedia(msg mediaMessage) {
	sess := s.currentSession()
	if sess == nil {
		s.log.Debug("media before start dropped")
		return
	}
	if msg.Media == nil || msg.Media.Payload == "" {
		return
	}
	audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		s.log.Warn("invalid media payload", "err", err)
		return
	}
	if err := sess.SubmitAudioFrame(audio); err != nil {
		s.log.Warn("failed to forward audio frame", "err", err)
	}
}

// end ends the session at most once, whichever of stop or close arrives first.
func (s *MediaStream) end(ctx context.Context) {
	s.endOnce.Do(func() {
		sess := s.currentSession()
		if sess == nil {
			return
		}
		if err := sess.EndCall(context.WithoutCancel(ctx)); err != nil {
			s.log.Error("failed to end call", "err", err)
		}
	})
}

func (s *MediaStream) currentSession() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *MediaStream) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

func (s *MediaStream) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

type outboundFrame struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markMessage  `json:"mark,omitempty"`
}

// SendAudio plays audio to the caller. It is a no-op once the transport is closed.
func (s *MediaStream) SendAudio(audio []byte) error {
	return s.write(outboundFrame{
		Event:     "media",
		StreamSID: s.StreamSID(),
		Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	})
}

// SendMark asks Twilio to report back when playback reaches this point.
func (s *MediaStream) SendMark(name string) error {
	return s.write(outboundFrame{
		Event:     "mark",
		StreamSID: s.StreamSID(),
		Mark:      &markMessage{Name: name},
	})
}

// Clear drops audio queued for playback.
func (s *MediaStream) Clear() error {
	return s.write(outboundFrame{Event: "clear", StreamSID: s.StreamSID()})
}

func (s *MediaStream) write(f outboundFrame) error {
	if !s.open.Load() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("telephony: write %s frame: %w", f.Event, err)
	}
	return nil
}

// Close closes the transport. Safe to call more than once.
func (s *MediaStream) Close() error {
	s.open.Store(false)
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Twilio does not send an Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Upgrade accepts a media stream websocket.
func Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("telephony: websocket upgrade: %w", err)
	}
	return conn, nil
}
