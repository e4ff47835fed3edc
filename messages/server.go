package messages

// Error codes the relay reports to its clients
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeUpstreamError  = "UPSTREAM_ERROR"
	ErrCodeSessionFailed  = "SESSION_FAILED"
	ErrCodeSessionLimit   = "SESSION_LIMIT"
)

// Chat senders
const (
	SenderBot  = "bot"
	SenderUser = "user"
)

// GreetingText is what the relay says once the upstream session is ready.
const GreetingText = "Voice mode activated. I can hear you now!"

// RelayMessage is a plain chat line produced by the relay itself.
type RelayMessage struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

// RelayError mirrors the vendor's error shape so clients decode both alike.
type RelayError struct {
	Type  string         `json:"type"`
	Error RelayErrorBody `json:"error"`
}

type RelayErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// FunctionCallNotice is the relay's re-framing of a completed tool call.
type FunctionCallNotice struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func NewGreeting() *RelayMessage {
	return &RelayMessage{Type: TypeMessage, Text: GreetingText, Sender: SenderBot}
}

func NewRelayError(code, message string) *RelayError {
	return &RelayError{Type: TypeError, Error: RelayErrorBody{Code: code, Message: message}}
}

// NewFunctionCallNotice builds the notice; empty arguments become "{}".
func NewFunctionCallNotice(callID, name, arguments string) *FunctionCallNotice {
	if arguments == "" {
		arguments = "{}"
	}
	return &FunctionCallNotice{Type: TypeFunctionCall, CallID: callID, Name: name, Arguments: arguments}
}
