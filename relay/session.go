package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/config"
	"github.com/room4-2/billvoice/logger"
	"github.com/room4-2/billvoice/messages"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

type frame struct {
	kind int
	data []byte
}

// ClientSession is one client websocket and the upstream it is relayed to.
type ClientSession struct {
	ID         string
	ClientConn *websocket.Conn
	Upstream   Upstream
	CreatedAt  time.Time

	lastActivity atomic.Int64
	keepAlive    time.Duration
	log          *zap.Logger

	// Use channels for non-blocking writes
	writeChan chan frame

	mu        sync.RWMutex
	closed    bool
	CloseChan chan struct{}
}

// SessionOptions tune the client side of a relayed session.
type SessionOptions struct {
	ReadLimit int64
	KeepAlive time.Duration
	Logger    *zap.Logger
}

func NewClientSession(id string, clientConn *websocket.Conn, upstream Upstream, opts SessionOptions) *ClientSession {
	if opts.ReadLimit > 0 {
		clientConn.SetReadLimit(opts.ReadLimit)
	}

	cs := &ClientSession{
		ID:         id,
		ClientConn: clientConn,
		Upstream:   upstream,
		CreatedAt:  time.Now(),
		keepAlive:  opts.KeepAlive,
		log:        logger.OrGet(opts.Logger).With(zap.String("session", logger.ShortID(id))),
		writeChan:  make(chan frame, writeBufferSize),
		CloseChan:  make(chan struct{}),
	}
	cs.touch()
	return cs
}

// Start opens the upstream with the session's voice settings and begins
// relaying. A failed handshake is reported to the client before the
// session closes.
func (cs *ClientSession) Start(ctx context.Context, settings config.VoiceSettings) error {
	go cs.writePump()

	if err := cs.Upstream.Open(ctx, settings); err != nil {
		cs.log.Error("❌ Upstream handshake failed", zap.Error(err))
		cs.queueJSON(messages.NewRelayError(messages.ErrCodeUpstreamError, err.Error()))
		cs.Close()
		return err
	}

	cs.queueJSON(messages.NewGreeting())
	cs.Upstream.Start(cs.queue, cs.upstreamClosed)
	go cs.handleClientMessages()

	cs.log.Info("✅ Relay session started", zap.String("voice", settings.Voice))
	return nil
}

func (cs *ClientSession) upstreamClosed(err error) {
	if err != nil {
		cs.log.Error("❌ Upstream connection lost", zap.Error(err))
		cs.queueJSON(messages.NewRelayError(messages.ErrCodeUpstreamError, "Upstream connection lost"))
	}
	cs.Close()
}

// writePump handles all outgoing frames in a single goroutine and closes
// the client connection once the queue is drained.
func (cs *ClientSession) writePump() {
	var ping <-chan time.Time
	if cs.keepAlive > 0 {
		ticker := time.NewTicker(cs.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = cs.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		cs.ClientConn.Close()
	}()

	for {
		select {
		case f, ok := <-cs.writeChan:
			if !ok {
				return
			}
			_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.ClientConn.WriteMessage(f.kind, f.data); err != nil {
				cs.log.Debug("Client write failed", zap.Error(err))
				go cs.Close()
				return
			}
		case <-ping:
			_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.ClientConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go cs.Close()
				return
			}
		}
	}
}

// queue adds a frame to the write queue (non-blocking)
func (cs *ClientSession) queue(kind int, data []byte) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.closed {
		return
	}
	select {
	case cs.writeChan <- frame{kind: kind, data: data}:
		cs.touch()
	default:
		cs.log.Warn("⚠️ Client write queue full, dropping frame", zap.Int("bytes", len(data)))
	}
}

func (cs *ClientSession) queueJSON(v any) {
	data, err := messages.Encode(v)
	if err != nil {
		cs.log.Error("❌ Failed to encode client message", zap.Error(err))
		return
	}
	cs.queue(websocket.TextMessage, data)
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		kind, data, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.log.Warn("⚠️ Client connection dropped", zap.Error(err))
			}
			return
		}
		cs.touch()

		switch {
		case kind == websocket.BinaryMessage:
			err = cs.Upstream.SendAudio(data)
		case sonic.Valid(data):
			err = cs.Upstream.SendEvent(data)
		default:
			err = cs.Upstream.SendText(string(data))
		}

		if err != nil {
			if errors.Is(err, ErrUpstreamClosed) {
				return
			}
			cs.log.Warn("⚠️ Failed to forward client frame", zap.Error(err))
			cs.queueJSON(messages.NewRelayError(messages.ErrCodeInvalidMessage, err.Error()))
		}
	}
}

func (cs *ClientSession) touch() {
	cs.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity is the time of the last frame in either direction.
func (cs *ClientSession) LastActivity() time.Time {
	return time.Unix(0, cs.lastActivity.Load())
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

// Close terminates the session. Frames already queued are still written
// before the client connection closes.
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	close(cs.writeChan)
	close(cs.CloseChan)
	cs.mu.Unlock()

	if cs.Upstream != nil {
		if err := cs.Upstream.Close(); err != nil {
			cs.log.Debug("Upstream close", zap.Error(err))
		}
	}
	cs.log.Info("🔌 Relay session closed")
	return nil
}
