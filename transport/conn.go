package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/audio"
	"github.com/room4-2/billvoice/dispatch"
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

// socket is the connection machinery both transports share: one write
// pump, one read pump, gated sends and capture.
type socket struct {
	name   string
	opts   Options
	log    *zap.Logger
	events *dispatch.Dispatcher

	// set by the owning implementation
	onText    func(data []byte)
	onBinary  func(data []byte)
	sendAudio func(pcm []byte)

	mu        sync.Mutex
	conn      *websocket.Conn
	ready     bool
	writeChan chan frame
	closeChan chan struct{}
	writeDone chan struct{}
	capture   *audio.Capture
}

func newSocket(name string, opts Options) *socket {
	opts.withDefaults()
	log := logger.OrGet(opts.Logger).With(zap.String("transport", name))
	events := opts.Dispatcher
	if events == nil {
		events = dispatch.New(log)
	}
	return &socket{name: name, opts: opts, log: log, events: events}
}

func (s *socket) Events() *dispatch.Dispatcher {
	return s.events
}

func (s *socket) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// dial opens the websocket and classifies failures.
func (s *socket) dial(ctx context.Context, header http.Header) (*websocket.Conn, error) {
	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err == nil {
		return conn, nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return nil, newConnectionError(KindHandshakeTimeout, s.opts.URL,
			fmt.Sprintf("no answer within %s", s.opts.Timeout), err)
	case resp != nil:
		return nil, newConnectionError(KindRejected, s.opts.URL,
			fmt.Sprintf("handshake refused with status %d", resp.StatusCode), err)
	default:
		return nil, newConnectionError(KindUnreachable, s.opts.URL, "endpoint unreachable", err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// attach takes ownership of an open connection and starts both pumps.
func (s *socket) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.ready = true
	s.writeChan = make(chan frame, writeBufferSize)
	s.closeChan = make(chan struct{})
	s.writeDone = make(chan struct{})
	writeChan, closeChan, writeDone := s.writeChan, s.closeChan, s.writeDone
	s.mu.Unlock()

	go s.writePump(conn, writeChan, closeChan, writeDone)
	go s.readPump(conn, closeChan)
	s.log.Info("✅ Connected", zap.String("url", s.opts.URL))
}

// writePump handles all outgoing frames in a single goroutine
func (s *socket) writePump(conn *websocket.Conn, writeChan chan frame, closeChan, done chan struct{}) {
	defer close(done)
	defer func() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-closeChan:
			return
		case f := <-writeChan:
			if err := s.write(conn, f); err != nil {
				return
			}

			n := len(writeChan)
			for i := 0; i < n; i++ {
				select {
				case f := <-writeChan:
					if err := s.write(conn, f); err != nil {
						return
					}
				default:
				}
			}
		}
	}
}

func (s *socket) write(conn *websocket.Conn, f frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(f.kind, f.data); err != nil {
		s.log.Warn("❌ Write failed", zap.Error(err))
		return err
	}
	return nil
}

// readPump is the single consumer of inbound frames; handlers run on it
// one event at a time.
func (s *socket) readPump(conn *websocket.Conn, closeChan chan struct{}) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-closeChan:
				return
			default:
			}
			s.log.Warn("🔌 Connection lost", zap.Error(err))
			if s.release(conn) {
				s.events.Emit(messages.Closed{Err: err})
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			s.onBinary(data)
		case websocket.TextMessage:
			s.onText(data)
		}
	}
}

// enqueue hands a frame to the write pump without blocking. Frames sent
// while disconnected are dropped, never buffered.
func (s *socket) enqueue(kind int, data []byte, what string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		s.log.Debug("📤 Not connected, dropping", zap.String("event", what))
		return
	}
	select {
	case s.writeChan <- frame{kind: kind, data: data}:
	default:
		s.log.Warn("📤 Write queue full, dropping", zap.String("event", what))
	}
}

func (s *socket) Send(ev messages.ClientEvent) {
	data, err := messages.Encode(ev)
	if err != nil {
		s.log.Error("❌ Encode failed", zap.String("event", ev.EventType()), zap.Error(err))
		return
	}
	s.enqueue(websocket.TextMessage, data, ev.EventType())
}

func (s *socket) SendFunctionResult(callID string, result any) {
	output, err := messages.Encode(result)
	if err != nil {
		output, _ = messages.Encode(map[string]any{"success": false, "error": err.Error()})
	}
	s.Send(messages.NewFunctionCallOutput(callID, string(output)))
	s.Send(messages.NewResponseCreate())
}

func (s *socket) StartCapture() error {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.capture != nil {
		s.mu.Unlock()
		return nil
	}
	if s.opts.Source == nil {
		s.mu.Unlock()
		return errors.New("no audio source configured")
	}
	capture := audio.NewCapture(s.opts.Source, s.sendAudio, audio.CaptureOptions{
		Interval:      s.opts.SendInterval,
		MaxBufferSize: s.opts.MaxBufferSize,
		Logger:        s.log,
	})
	s.capture = capture
	s.mu.Unlock()

	if err := capture.Start(); err != nil {
		s.mu.Lock()
		if s.capture == capture {
			s.capture = nil
		}
		s.mu.Unlock()
		return err
	}
	s.log.Info("🎤 Capture started")
	return nil
}

func (s *socket) StopCapture() {
	s.mu.Lock()
	capture := s.capture
	s.capture = nil
	s.mu.Unlock()

	if capture != nil {
		capture.Stop()
		s.log.Info("🎤 Capture stopped")
	}
}

// Disconnect stops capture and playback and closes the socket. Calling it
// again, or before any Connect, is harmless.
func (s *socket) Disconnect() {
	s.StopCapture()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil && s.release(conn) {
		s.log.Info("🔌 Disconnected")
	}
	if s.opts.Player != nil {
		s.opts.Player.Stop()
	}
}

// release tears conn down if it is still the current connection and
// reports whether this call did it.
func (s *socket) release(conn *websocket.Conn) bool {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return false
	}
	closeChan, writeDone := s.closeChan, s.writeDone
	s.conn = nil
	s.ready = false
	s.writeChan = nil
	s.closeChan = nil
	s.writeDone = nil
	capture := s.capture
	s.capture = nil
	s.mu.Unlock()

	if capture != nil {
		capture.Stop()
	}
	close(closeChan)
	<-writeDone
	_ = conn.Close()
	return true
}
