// Package realtime is a client for a streaming conversational endpoint speaking the
// OpenAI Realtime event protocol over a single websocket.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voice-lead-agent/pkg/logger"
)

var (
	ErrNotConnected     = errors.New("realtime: not connected")
	ErrAlreadyConnected = errors.New("realtime: already connected")
)

const (
	DefaultURL                = "wss://api.openai.com/v1/realtime"
	DefaultModel              = "gpt-4o-realtime-preview-2024-10-01"
	DefaultVoice              = "alloy"
	DefaultAudioFormat        = "g711_ulaw"
	DefaultTranscriptionModel = "whisper-1"
)

// Config holds the connection and session parameters.
// Zero values are replaced by defaults.
type Config struct {
	URL    string
	Model  string
	APIKey string

	Voice              string
	InputAudioFormat   string
	OutputAudioFormat  string
	TranscriptionModel string
	Instructions       string

	VADThreshold         float64
	VADPrefixPaddingMS   int
	VADSilenceDurationMS int

	Dialer *websocket.Dialer
}

func (c Config) withDefaults() Config {
	out := c
	if out.URL == "" {
		out.URL = DefaultURL
	}
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.Voice == "" {
		out.Voice = DefaultVoice
	}
	if out.InputAudioFormat == "" {
		out.InputAudioFormat = DefaultAudioFormat
	}
	if out.OutputAudioFormat == "" {
		out.OutputAudioFormat = DefaultAudioFormat
	}
	if out.TranscriptionModel == "" {
		out.TranscriptionModel = DefaultTranscriptionModel
	}
	if out.Instructions == "" {
		out.Instructions = SystemPrompt
	}
	if out.VADThreshold <= 0 {
		out.VADThreshold = 0.5
	}
	if out.VADPrefixPaddingMS <= 0 {
		out.VADPrefixPaddingMS = 300
	}
	if out.VADSilenceDurationMS <= 0 {
		out.VADSilenceDurationMS = 500
	}
	if out.Dialer == nil {
		out.Dialer = websocket.DefaultDialer
	}
	return out
}

// Handlers receive inbound events. Every handler runs on the client's read goroutine,
// in the order the endpoint sent the events. Nil handlers are skipped.
type Handlers struct {
	// OnMessage receives conversation and transcription events.
	OnMessage func(Event)
	// OnAudioDelta receives decoded output audio chunks.
	OnAudioDelta func(audio []byte)
	// OnError receives error-typed events and transport errors after connect.
	OnError func(error)
}

// Client owns one websocket to the endpoint. State is disconnected until Connect
// returns nil; every send fails with ErrNotConnected outside that window.
type Client struct {
	cfg Config
	h   Handlers
	log *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	writeMu sync.Mutex
}

func New(cfg Config, h Handlers, log *slog.Logger) *Client {
	return &Client{cfg: cfg.withDefaults(), h: h, log: logger.Component(log, "realtime")}
}

// Connect dials the endpoint, sends the session configuration and returns once the
// endpoint acknowledges the session. The only deadline is the one carried by ctx.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	wsURL, err := c.endpointURL()
	if err != nil {
		return err
	}
	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime: dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("realtime: dial failed: %w", err)
	}

	// Unblock the handshake read if ctx ends first.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	if err := c.writeJSON(conn, c.sessionUpdate(c.cfg.Instructions)); err != nil {
		stop()
		_ = conn.Close()
		return fmt.Errorf("realtime: send session.update: %w", err)
	}

	if err := c.awaitSession(conn); err != nil {
		if !stop() {
			return ctx.Err()
		}
		_ = conn.Close()
		return err
	}
	if !stop() {
		return ctx.Err()
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.log.Info("connected to realtime endpoint", "model", c.cfg.Model)
	go c.readLoop(conn)
	return nil
}

// awaitSession reads until the session is acknowledged. Events that arrive first are
// dispatched normally so ordering is preserved.
func (c *Client) awaitSession(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("realtime: await session: %w", err)
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("malformed realtime event", "err", err)
			continue
		}
		switch ev.Type {
		case TypeSessionCreated, TypeSessionUpdated:
			c.log.Info("session configured", "type", ev.Type)
			return nil
		case TypeError:
			return apiError(ev)
		default:
			c.dispatch(ev, data)
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closedLocally := c.markDisconnected(conn)
			switch {
			case closedLocally:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.log.Info("realtime endpoint closed connection")
			default:
				c.log.Error("realtime read failed", "err", err)
				c.emitError(fmt.Errorf("realtime: read: %w", err))
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("malformed realtime event", "err", err)
			continue
		}
		c.dispatch(ev, data)
	}
}

// dispatch routes one event to exactly one handler, or drops it.
func (c *Client) dispatch(ev serverEvent, raw []byte) {
	switch ev.Type {
	case TypeSessionCreated, TypeSessionUpdated:
		c.log.Info("session configured", "type", ev.Type)

	case TypeConversationItemCreated, TypeInputTranscriptionCompleted, TypeResponseAudioTranscriptDone:
		if c.h.OnMessage != nil {
			c.h.OnMessage(Event{
				Type:       ev.Type,
				EventID:    ev.EventID,
				ItemID:     ev.ItemID,
				Transcript: ev.Transcript,
				Raw:        append(json.RawMessage(nil), raw...),
			})
		}

	case TypeResponseAudioDelta:
		if ev.Delta == "" {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			c.log.Warn("undecodable audio delta", "event_id", ev.EventID, "err", err)
			return
		}
		if c.h.OnAudioDelta != nil {
			c.h.OnAudioDelta(audio)
		}

	case TypeResponseAudioDone:
		c.log.Debug("audio response completed")

	case TypeError:
		err := apiError(ev)
		c.log.Error("realtime endpoint error", "err", err)
		c.emitError(err)

	default:
		c.log.Debug("unhandled realtime event", "type", ev.Type)
	}
}

func (c *Client) emitError(err error) {
	if c.h.OnError != nil {
		c.h.OnError(err)
	}
}

// SendAudio appends one audio frame to the endpoint's input buffer.
func (c *Client) SendAudio(frame []byte) error {
	return c.send(inputAudioAppendEvent{
		Type:  TypeInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(frame),
	})
}

// CommitAudio commits the input buffer as a user turn.
func (c *Client) CommitAudio() error {
	return c.send(controlEvent{Type: TypeInputAudioCommit})
}

// CreateResponse asks the endpoint to produce an audio+text response.
func (c *Client) CreateResponse() error {
	return c.send(responseCreateEvent{
		Type:     TypeResponseCreate,
		Response: responseOptions{Modalities: []string{"audio", "text"}},
	})
}

// UpdateInstructions replaces the session instructions mid-call.
func (c *Client) UpdateInstructions(instructions string) error {
	return c.send(sessionUpdateEvent{
		Type:    TypeSessionUpdate,
		Session: sessionConfig{Instructions: instructions},
	})
}

// Disconnect closes the websocket. It is a no-op when already disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	c.writeMu.Unlock()

	if err := conn.Close(); err != nil {
		return fmt.Errorf("realtime: close: %w", err)
	}
	c.log.Info("disconnected from realtime endpoint")
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) send(v any) error {
	c.mu.Lock()
	conn, ok := c.conn, c.connected
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	if err := c.writeJSON(conn, v); err != nil {
		return fmt.Errorf("realtime: send: %w", err)
	}
	return nil
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// markDisconnected reports whether conn had already been detached by Disconnect.
func (c *Client) markDisconnected(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return true
	}
	c.conn = nil
	c.connected = false
	return false
}

func (c *Client) sessionUpdate(instructions string) sessionUpdateEvent {
	return sessionUpdateEvent{
		Type: TypeSessionUpdate,
		Session: sessionConfig{
			Modalities:        []string{"text", "audio"},
			Instructions:      instructions,
			Voice:             c.cfg.Voice,
			InputAudioFormat:  c.cfg.InputAudioFormat,
			OutputAudioFormat: c.cfg.OutputAudioFormat,
			InputAudioTranscription: &transcriptionConfig{
				Model: c.cfg.TranscriptionModel,
			},
			TurnDetection: &turnDetection{
				Type:              "server_vad",
				Threshold:         c.cfg.VADThreshold,
				PrefixPaddingMS:   c.cfg.VADPrefixPaddingMS,
				SilenceDurationMS: c.cfg.VADSilenceDurationMS,
			},
		},
	}
}

func (c *Client) endpointURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("realtime: invalid url: %w", err)
	}
	q := u.Query()
	if q.Get("model") == "" {
		q.Set("model", c.cfg.Model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func apiError(ev serverEvent) error {
	if ev.Error == nil {
		return &APIError{Type: "error", Message: "unspecified endpoint error", EventID: ev.EventID}
	}
	e := *ev.Error
	if e.Type == "" {
		e.Type = "error"
	}
	if e.EventID == "" {
		e.EventID = ev.EventID
	}
	return &e
}
