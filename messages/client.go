package messages

import "fmt"

// ClientMessage is the subset of a client event a relay upstream needs in
// order to translate it for a vendor that speaks a different protocol.
type ClientMessage struct {
	Type       string           `json:"type"`
	Audio      string           `json:"audio,omitempty"`
	ResponseID string           `json:"response_id,omitempty"`
	Item       ConversationItem `json:"item"`
}

// DecodeClient parses a client JSON event.
func DecodeClient(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := codec.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode client event: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("decode client event: missing type")
	}
	return &msg, nil
}

// UserText joins the text parts of a user message item.
func (m *ClientMessage) UserText() string {
	var text string
	for _, part := range m.Item.Content {
		if part.Type == "input_text" || part.Type == "text" {
			text += part.Text
		}
	}
	return text
}
