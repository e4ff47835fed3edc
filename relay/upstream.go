// Package relay is the server side of the relay transport: each client
// websocket gets its own upstream speech session, and frames are forwarded
// between the two.
package relay

import (
	"context"
	"errors"

	"github.com/room4-2/billvoice/config"
)

// Upstream is the speech service one client session is relayed to.
type Upstream interface {
	// Open performs the upstream handshake with the session's voice settings.
	Open(ctx context.Context, settings config.VoiceSettings) error
	// Start begins delivering upstream frames. deliver receives websocket
	// message types and payloads ready for the client; closed runs once
	// when the upstream goes away.
	Start(deliver func(kind int, data []byte), closed func(err error))
	// SendAudio forwards raw PCM16 captured by the client.
	SendAudio(pcm []byte) error
	// SendEvent forwards a client JSON event.
	SendEvent(data []byte) error
	// SendText turns plain client text into a user turn.
	SendText(text string) error
	Close() error
}

var ErrUpstreamClosed = errors.New("upstream closed")
