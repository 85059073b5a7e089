package realtime

import (
	"encoding/json"
	"fmt"
)

// Outbound event types.
const (
	TypeSessionUpdate    = "session.update"
	TypeInputAudioAppend = "input_audio_buffer.append"
	TypeInputAudioCommit = "input_audio_buffer.commit"
	TypeResponseCreate   = "response.create"
)

// Inbound event types.
const (
	TypeSessionCreated              = "session.created"
	TypeSessionUpdated              = "session.updated"
	TypeConversationItemCreated     = "conversation.item.created"
	TypeInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeResponseAudioTranscriptDone = "response.audio_transcript.done"
	TypeResponseAudioDelta          = "response.audio.delta"
	TypeResponseAudioDone           = "response.audio.done"
	TypeError                       = "error"
)

// Event is an inbound conversation event handed to the message callback.
type Event struct {
	Type    string
	EventID string
	ItemID  string
	// Transcript is set for transcription events.
	Transcript string
	Raw        json.RawMessage
}

// APIError is an error-typed event sent by the endpoint.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("realtime: %s: %s", e.Type, e.Message)
}

type serverEvent struct {
	Type       string    `json:"type"`
	EventID    string    `json:"event_id"`
	ItemID     string    `json:"item_id"`
	Delta      string    `json:"delta"`
	Transcript string    `json:"transcript"`
	Error      *APIError `json:"error"`
}

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *transcriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type inputAudioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type controlEvent struct {
	Type string `json:"type"`
}

type responseCreateEvent struct {
	Type     string          `json:"type"`
	Response responseOptions `json:"response"`
}

type responseOptions struct {
	Modalities []string `json:"modalities"`
}
