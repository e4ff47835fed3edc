package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/config"
	"github.com/room4-2/billvoice/logger"
	"github.com/room4-2/billvoice/messages"
	"github.com/room4-2/billvoice/session"
)

const (
	sessionCreatedTimeout = 5 * time.Second
	sessionUpdatedTimeout = time.Second
	upstreamWriteTimeout  = 10 * time.Second
	upstreamQueueSize     = 256
)

type wsFrame struct {
	kind int
	data []byte
	err  error
}

// OpenAIUpstream relays to the OpenAI realtime websocket.
type OpenAIUpstream struct {
	URL    string
	APIKey string
	Dialer *websocket.Dialer
	log    *zap.Logger

	frames  chan wsFrame
	done    chan struct{}
	pending []wsFrame

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

func NewOpenAIUpstream(url, apiKey string, log *zap.Logger) *OpenAIUpstream {
	return &OpenAIUpstream{
		URL:    url,
		APIKey: apiKey,
		Dialer: websocket.DefaultDialer,
		log:    logger.OrGet(log),
		frames: make(chan wsFrame, upstreamQueueSize),
		done:   make(chan struct{}),
	}
}

// Open dials, waits for session.created, sends session.update and gives
// the service a moment to reject it.
func (u *OpenAIUpstream) Open(ctx context.Context, settings config.VoiceSettings) error {
	if u.APIKey == "" {
		return errors.New("OpenAI API key not configured")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+u.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	u.log.Info("🔌 Connecting to OpenAI realtime", zap.String("voice", settings.Voice))
	conn, resp, err := u.Dialer.DialContext(ctx, u.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to connect to OpenAI realtime: %w", err)
	}

	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()

	if err := u.handshake(conn, settings); err != nil {
		_ = u.Close()
		return err
	}
	return nil
}

func (u *OpenAIUpstream) handshake(conn *websocket.Conn, settings config.VoiceSettings) error {
	_ = conn.SetReadDeadline(time.Now().Add(sessionCreatedTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("OpenAI did not send session.created: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch ev := messages.DecodeText(data).(type) {
	case messages.SessionCreated:
		u.log.Info("✅ Session created by OpenAI", zap.String("upstream_session", ev.SessionID))
	case messages.Error:
		return fmt.Errorf("OpenAI connection error: %s", ev.Message)
	default:
		u.log.Warn("⚠️ Unexpected initial upstream event", zap.String("type", ev.Type()))
	}

	update, err := messages.Encode(messages.NewSessionUpdate(session.NewSessionConfig(settings)))
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(upstreamWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, update); err != nil {
		return fmt.Errorf("failed to send session config: %w", err)
	}
	u.log.Info("📤 Sent session config")

	go u.readLoop(conn)
	return u.awaitUpdate()
}

// awaitUpdate waits briefly for the answer to session.update. Silence is
// taken as acceptance; anything else that arrives is kept for the client.
func (u *OpenAIUpstream) awaitUpdate() error {
	timer := time.NewTimer(sessionUpdatedTimeout)
	defer timer.Stop()

	for {
		select {
		case f := <-u.frames:
			if f.err != nil {
				return fmt.Errorf("upstream closed after session config: %w", f.err)
			}
			if f.kind == websocket.TextMessage {
				switch ev := messages.DecodeText(f.data).(type) {
				case messages.Error:
					return fmt.Errorf("OpenAI error: %s", ev.Message)
				case messages.SessionUpdated:
					u.log.Info("✅ Session updated successfully")
					return nil
				}
			}
			u.pending = append(u.pending, f)
		case <-timer.C:
			u.log.Debug("No immediate response from OpenAI, proceeding")
			return nil
		}
	}
}

func (u *OpenAIUpstream) readLoop(conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		select {
		case u.frames <- wsFrame{kind: kind, data: data, err: err}:
		case <-u.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Start forwards every upstream frame verbatim. A completed argument stream
// is followed by a function_call notice.
func (u *OpenAIUpstream) Start(deliver func(kind int, data []byte), closed func(err error)) {
	pending := u.pending
	u.pending = nil

	go func() {
		for _, f := range pending {
			u.forward(f, deliver)
		}
		for {
			select {
			case <-u.done:
				closed(nil)
				return
			case f := <-u.frames:
				if f.err != nil {
					if u.isClosed() {
						closed(nil)
					} else {
						closed(f.err)
					}
					return
				}
				u.forward(f, deliver)
			}
		}
	}()
}

func (u *OpenAIUpstream) forward(f wsFrame, deliver func(kind int, data []byte)) {
	deliver(f.kind, f.data)
	if f.kind != websocket.TextMessage {
		return
	}
	if done, ok := messages.DecodeText(f.data).(messages.FunctionCallArgumentsDone); ok {
		u.log.Info("🔧 Function call detected", zap.String("name", done.Name))
		notice, err := messages.Encode(messages.NewFunctionCallNotice(done.CallID, done.Name, done.Arguments))
		if err == nil {
			deliver(websocket.TextMessage, notice)
		}
	}
}

func (u *OpenAIUpstream) isClosed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

func (u *OpenAIUpstream) write(data []byte) error {
	u.mu.Lock()
	conn, closed := u.conn, u.closed
	u.mu.Unlock()
	if conn == nil || closed {
		return ErrUpstreamClosed
	}

	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(upstreamWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (u *OpenAIUpstream) SendAudio(pcm []byte) error {
	data, err := messages.Encode(messages.NewAudioAppend(pcm))
	if err != nil {
		return err
	}
	return u.write(data)
}

func (u *OpenAIUpstream) SendEvent(data []byte) error {
	return u.write(data)
}

func (u *OpenAIUpstream) SendText(text string) error {
	data, err := messages.Encode(messages.NewUserMessage(text))
	if err != nil {
		return err
	}
	return u.write(data)
}

func (u *OpenAIUpstream) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	close(u.done)
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}

var _ Upstream = (*OpenAIUpstream)(nil)
