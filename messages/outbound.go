package messages

import (
	"fmt"

	"github.com/room4-2/billvoice/audio"
)

// Outbound event types
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioBufferAppend = "input_audio_buffer.append"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
)

// ClientEvent is anything the client may send to the speech service.
type ClientEvent interface {
	EventType() string
}

// SessionUpdate negotiates capabilities right after the socket opens.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type SessionConfig struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions"`
	Voice                   string               `json:"voice"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
	Tools                   []ToolDefinition     `json:"tools"`
	ToolChoice              string               `json:"tool_choice"`
	Temperature             float64              `json:"temperature"`
	MaxResponseOutputTokens int                  `json:"max_response_output_tokens"`
}

type TranscriptionConfig struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// ToolDefinition is one entry of the session's tool registry.
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type InputAudioBufferAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// ConversationItem is either a user message or a function call output.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ResponseCreate struct {
	Type string `json:"type"`
}

type ResponseCancel struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

func (SessionUpdate) EventType() string          { return TypeSessionUpdate }
func (InputAudioBufferAppend) EventType() string { return TypeInputAudioBufferAppend }
func (ConversationItemCreate) EventType() string { return TypeConversationItemCreate }
func (ResponseCreate) EventType() string         { return TypeResponseCreate }
func (ResponseCancel) EventType() string         { return TypeResponseCancel }

func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{Type: TypeSessionUpdate, Session: cfg}
}

// NewAudioAppend wraps raw PCM16 for the JSON channel.
func NewAudioAppend(pcm []byte) InputAudioBufferAppend {
	return InputAudioBufferAppend{Type: TypeInputAudioBufferAppend, Audio: audio.EncodeBase64(pcm)}
}

// NewUserMessage injects a typed user turn.
func NewUserMessage(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// NewFunctionCallOutput returns a tool result; output is the serialized result object.
func NewFunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}

func NewResponseCancel(responseID string) ResponseCancel {
	return ResponseCancel{Type: TypeResponseCancel, ResponseID: responseID}
}

// Encode serializes any outbound value: client events, relay envelopes, tool results.
func Encode(v any) ([]byte, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}
