package messages

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/room4-2/billvoice/audio"
)

// Inbound event types
const (
	TypeSessionCreated              = "session.created"
	TypeSessionUpdated              = "session.updated"
	TypeResponseCreated             = "response.created"
	TypeResponseDone                = "response.done"
	TypeResponseCancelled           = "response.cancelled"
	TypeAudioDelta                  = "response.audio.delta"
	TypeAudioDone                   = "response.audio.done"
	TypeTranscriptDelta             = "response.audio_transcript.delta"
	TypeTranscriptDone              = "response.audio_transcript.done"
	TypeInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeSpeechStarted               = "input_audio_buffer.speech_started"
	TypeSpeechStopped               = "input_audio_buffer.speech_stopped"
	TypeFunctionCallArgumentsDone   = "response.function_call_arguments.done"
	TypeFunctionCall                = "function_call"
	TypeError                       = "error"
	TypeMessage                     = "message"

	// TypeClosed never crosses the wire; transports emit it when the socket drops.
	TypeClosed = "transport.closed"
)

// codec copies strings out of the input buffer, so decoded events never
// alias a websocket read buffer.
var codec = sonic.ConfigStd

// Event is one inbound protocol event. The concrete type is the discriminant.
type Event interface {
	Type() string
}

type SessionCreated struct{ SessionID string }

type SessionUpdated struct{ SessionID string }

// ResponseCreated opens a response; its id correlates later interruption.
type ResponseCreated struct{ ResponseID string }

type ResponseDone struct {
	ResponseID string
	Status     string
}

type ResponseCancelled struct{ ResponseID string }

// AudioDelta carries decoded PCM16 bytes. Raw binary relay frames arrive
// with an empty ResponseID.
type AudioDelta struct {
	ResponseID string
	ItemID     string
	Audio      []byte
}

type AudioDone struct {
	ResponseID string
	ItemID     string
}

type TranscriptDelta struct {
	ResponseID string
	ItemID     string
	Delta      string
}

type TranscriptDone struct {
	ResponseID string
	ItemID     string
	Transcript string
}

// InputTranscriptionCompleted is the recognized text of the user's own speech.
type InputTranscriptionCompleted struct {
	ItemID     string
	Transcript string
}

// SpeechStarted is the server VAD signal that drives barge-in.
type SpeechStarted struct {
	ItemID       string
	AudioStartMs int
}

type SpeechStopped struct {
	ItemID     string
	AudioEndMs int
}

// FunctionCall is a complete tool invocation. Arguments is the serialized
// argument object exactly as the model produced it and may be malformed.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments string
}

type FunctionCallArgumentsDone struct {
	ResponseID string
	ItemID     string
	CallID     string
	Name       string
	Arguments  string
}

type Error struct {
	Kind    string
	Code    string
	Message string
}

// Message is a ready-made chat line, sent by the relay as its greeting.
type Message struct {
	Text   string
	Sender string
}

type Closed struct{ Err error }

// Unknown is any well-formed event this client does not model.
type Unknown struct {
	Kind string
	Raw  []byte
}

func (SessionCreated) Type() string              { return TypeSessionCreated }
func (SessionUpdated) Type() string              { return TypeSessionUpdated }
func (ResponseCreated) Type() string             { return TypeResponseCreated }
func (ResponseDone) Type() string                { return TypeResponseDone }
func (ResponseCancelled) Type() string           { return TypeResponseCancelled }
func (AudioDelta) Type() string                  { return TypeAudioDelta }
func (AudioDone) Type() string                   { return TypeAudioDone }
func (TranscriptDelta) Type() string             { return TypeTranscriptDelta }
func (TranscriptDone) Type() string              { return TypeTranscriptDone }
func (InputTranscriptionCompleted) Type() string { return TypeInputTranscriptionCompleted }
func (SpeechStarted) Type() string               { return TypeSpeechStarted }
func (SpeechStopped) Type() string               { return TypeSpeechStopped }
func (FunctionCall) Type() string                { return TypeFunctionCall }
func (FunctionCallArgumentsDone) Type() string   { return TypeFunctionCallArgumentsDone }
func (Error) Type() string                       { return TypeError }
func (Message) Type() string                     { return TypeMessage }
func (Closed) Type() string                      { return TypeClosed }
func (u Unknown) Type() string                   { return u.Kind }

func (e Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// wireEvent is the union of every inbound field this client reads.
type wireEvent struct {
	Type         string          `json:"type"`
	ResponseID   string          `json:"response_id"`
	ItemID       string          `json:"item_id"`
	CallID       string          `json:"call_id"`
	Name         string          `json:"name"`
	Arguments    json.RawMessage `json:"arguments"`
	Delta        string          `json:"delta"`
	Transcript   string          `json:"transcript"`
	AudioStartMs int             `json:"audio_start_ms"`
	AudioEndMs   int             `json:"audio_end_ms"`
	Text         string          `json:"text"`
	Sender       string          `json:"sender"`
	Response     *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
	Session *struct {
		ID string `json:"id"`
	} `json:"session"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (w *wireEvent) responseID() string {
	if w.ResponseID != "" {
		return w.ResponseID
	}
	if w.Response != nil {
		return w.Response.ID
	}
	return ""
}

func (w *wireEvent) sessionID() string {
	if w.Session != nil {
		return w.Session.ID
	}
	return ""
}

// Decode parses one structured message into its typed event.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := codec.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("decode event: missing type")
	}

	switch w.Type {
	case TypeSessionCreated:
		return SessionCreated{SessionID: w.sessionID()}, nil
	case TypeSessionUpdated:
		return SessionUpdated{SessionID: w.sessionID()}, nil
	case TypeResponseCreated:
		return ResponseCreated{ResponseID: w.responseID()}, nil
	case TypeResponseDone:
		ev := ResponseDone{ResponseID: w.responseID()}
		if w.Response != nil {
			ev.Status = w.Response.Status
		}
		return ev, nil
	case TypeResponseCancelled:
		return ResponseCancelled{ResponseID: w.responseID()}, nil
	case TypeAudioDelta:
		pcm, err := audio.DecodeBase64(w.Delta)
		if err != nil {
			return nil, fmt.Errorf("decode audio delta: %w", err)
		}
		return AudioDelta{ResponseID: w.ResponseID, ItemID: w.ItemID, Audio: pcm}, nil
	case TypeAudioDone:
		return AudioDone{ResponseID: w.ResponseID, ItemID: w.ItemID}, nil
	case TypeTranscriptDelta:
		return TranscriptDelta{ResponseID: w.ResponseID, ItemID: w.ItemID, Delta: w.Delta}, nil
	case TypeTranscriptDone:
		return TranscriptDone{ResponseID: w.ResponseID, ItemID: w.ItemID, Transcript: w.Transcript}, nil
	case TypeInputTranscriptionCompleted:
		return InputTranscriptionCompleted{ItemID: w.ItemID, Transcript: w.Transcript}, nil
	case TypeSpeechStarted:
		return SpeechStarted{ItemID: w.ItemID, AudioStartMs: w.AudioStartMs}, nil
	case TypeSpeechStopped:
		return SpeechStopped{ItemID: w.ItemID, AudioEndMs: w.AudioEndMs}, nil
	case TypeFunctionCall:
		return FunctionCall{CallID: w.CallID, Name: w.Name, Arguments: arguments(w.Arguments)}, nil
	case TypeFunctionCallArgumentsDone:
		return FunctionCallArgumentsDone{
			ResponseID: w.ResponseID,
			ItemID:     w.ItemID,
			CallID:     w.CallID,
			Name:       w.Name,
			Arguments:  arguments(w.Arguments),
		}, nil
	case TypeError:
		ev := Error{}
		if w.Error != nil {
			ev.Kind, ev.Code, ev.Message = w.Error.Type, w.Error.Code, w.Error.Message
		}
		return ev, nil
	case TypeMessage:
		return Message{Text: w.Text, Sender: w.Sender}, nil
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{Kind: w.Type, Raw: raw}, nil
	}
}

// DecodeText never fails: text that is not JSON is an opaque transcript
// fragment, and JSON that does not fit the event shape is Unknown.
func DecodeText(data []byte) Event {
	if !sonic.Valid(data) {
		return TranscriptDelta{Delta: string(data)}
	}
	ev, err := Decode(data)
	if err != nil {
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{Raw: raw}
	}
	return ev
}

// arguments accepts both the serialized-string form the vendor sends and an
// inline object some relays produce.
func arguments(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := codec.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
