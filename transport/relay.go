package transport

import (
	"context"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/messages"
)

// Relay talks to the billvoice relay server, which holds the vendor
// credential and re-frames the same event vocabulary. Audio travels as
// raw binary frames in both directions.
type Relay struct {
	*socket
}

func NewRelay(opts Options) *Relay {
	r := &Relay{socket: newSocket("relay", opts)}
	r.onText = func(data []byte) {
		r.events.Emit(messages.DecodeText(data))
	}
	r.onBinary = func(data []byte) {
		r.events.Emit(messages.AudioDelta{Audio: data})
	}
	r.sendAudio = func(pcm []byte) {
		r.enqueue(websocket.BinaryMessage, pcm, "audio")
	}
	return r
}

// Connect is ready as soon as the socket opens; the relay negotiates the
// upstream session itself.
func (r *Relay) Connect(ctx context.Context) error {
	if r.IsReady() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	r.log.Info("🔌 Connecting", zap.String("url", r.opts.URL))
	conn, err := r.dial(ctx, nil)
	if err != nil {
		return err
	}
	r.attach(conn)
	return nil
}

var _ Transport = (*Relay)(nil)
