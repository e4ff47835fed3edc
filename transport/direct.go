package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/messages"
)

// Direct talks to the vendor's realtime endpoint with its own credential.
type Direct struct {
	*socket
}

func NewDirect(opts Options) *Direct {
	d := &Direct{socket: newSocket("direct", opts)}
	d.onText = d.handleText
	d.onBinary = func(data []byte) {
		d.log.Debug("📥 Ignoring binary frame", zap.Int("bytes", len(data)))
	}
	d.sendAudio = func(pcm []byte) {
		d.Send(messages.NewAudioAppend(pcm))
	}
	return d
}

// Connect dials, waits for session.created, and negotiates the session.
func (d *Direct) Connect(ctx context.Context) error {
	if d.IsReady() {
		return nil
	}
	if d.opts.APIKey == "" {
		return newConnectionError(KindMissingCredential, d.opts.URL, "no API key configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.opts.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	d.log.Info("🔌 Connecting", zap.String("url", d.opts.URL))
	conn, err := d.dial(ctx, header)
	if err != nil {
		return err
	}

	if err := d.awaitSessionCreated(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}
	if err := d.negotiate(conn); err != nil {
		_ = conn.Close()
		return err
	}

	d.attach(conn)
	return nil
}

func (d *Direct) awaitSessionCreated(ctx context.Context, conn *websocket.Conn) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) || ctx.Err() != nil {
				return newConnectionError(KindHandshakeTimeout, d.opts.URL, "session.created never arrived", err)
			}
			return newConnectionError(KindUnreachable, d.opts.URL, "connection closed during handshake", err)
		}

		switch ev := messages.DecodeText(data).(type) {
		case messages.SessionCreated:
			_ = conn.SetReadDeadline(time.Time{})
			d.log.Info("✅ Session created", zap.String("session", ev.SessionID))
			return nil
		case messages.Error:
			return newConnectionError(KindRejected, d.opts.URL, ev.Message, ev)
		}
	}
}

func (d *Direct) negotiate(conn *websocket.Conn) error {
	data, err := messages.Encode(messages.NewSessionUpdate(d.opts.Session))
	if err != nil {
		return newConnectionError(KindRejected, d.opts.URL, "session.update could not be encoded", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return newConnectionError(KindUnreachable, d.opts.URL, "session.update not sent", err)
	}
	d.log.Info("📤 Sent session.update", zap.Int("tools", len(d.opts.Session.Tools)))
	return nil
}

// handleText emits every decoded event; a completed argument stream is
// re-emitted as a function_call so consumers see one call shape.
func (d *Direct) handleText(data []byte) {
	ev := messages.DecodeText(data)
	d.events.Emit(ev)

	if done, ok := ev.(messages.FunctionCallArgumentsDone); ok {
		d.events.Emit(messages.FunctionCall{
			CallID:    done.CallID,
			Name:      done.Name,
			Arguments: done.Arguments,
		})
	}
	if e, ok := ev.(messages.Error); ok {
		d.log.Warn("❌ Remote error", zap.Error(error(e)))
	}
}

var _ Transport = (*Direct)(nil)
