// Package session is the client-side voice session state machine. It
// tracks connection, capture and response state, drives barge-in from the
// server's voice-activity signal, and turns transcripts into chat messages.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/room4-2/billvoice/audio"
	"github.com/room4-2/billvoice/dispatch"
	"github.com/room4-2/billvoice/logger"
	"github.com/room4-2/billvoice/messages"
	"github.com/room4-2/billvoice/tools"
	"github.com/room4-2/billvoice/transport"
	"github.com/room4-2/billvoice/ui"
)

// State is the connection state of a session
type State int

const (
	Idle State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "idle"
	}
}

// User-facing diagnostics
const (
	DiagConnectFailed  = "Failed to connect to voice service. Please try again."
	DiagMicrophone     = "Could not access microphone. Please check permissions."
	DiagConnectionLost = "The voice connection was closed. Turn voice mode on again to continue."
)

// TruncationMarker ends the text of a response the user talked over.
const TruncationMarker = "…"

// maxInterrupted bounds the registry of superseded response ids.
const maxInterrupted = 64

// maxUntaggedTranscript bounds the text kept for deltas with no response id,
// which plain-text relay frames produce and no done event ever closes.
const maxUntaggedTranscript = 4096

// ErrNotConnected is returned by operations that need an open session.
var ErrNotConnected = errors.New("voice session not connected")

// FunctionHandler resolves a tool call and submits its result.
type FunctionHandler interface {
	Handle(call messages.FunctionCall) tools.Result
}

// Options wires a Machine to its collaborators. Only Transport is required.
type Options struct {
	Transport transport.Transport
	Player    *audio.Player
	Sink      ui.MessageSink
	Signals   ui.Signals
	// Tools defaults to a tools.Dispatcher submitting over Transport.
	Tools  FunctionHandler
	Logger *zap.Logger
}

// Machine drives one voice session from Idle through Connected and back.
type Machine struct {
	tr     transport.Transport
	player *audio.Player
	sink   ui.MessageSink
	tools  FunctionHandler
	log    *zap.Logger

	mu          sync.Mutex
	state       State
	capturing   bool
	active      string
	interrupted map[string]struct{}
	order       []string
	// discardUntagged drops binary relay audio, which carries no response
	// id, between a barge-in and the next response.created.
	discardUntagged bool
	transcripts     map[string]*strings.Builder
	subs            []dispatch.Subscription
}

func New(opts Options) *Machine {
	log := logger.OrGet(opts.Logger)
	if opts.Sink == nil {
		opts.Sink = ui.LogSink{Log: log}
	}
	if opts.Signals == nil {
		opts.Signals = ui.LogSink{Log: log}
	}
	if opts.Player == nil {
		opts.Player = audio.NewPlayer(audio.DiscardSink{}, log)
	}
	if opts.Tools == nil {
		opts.Tools = tools.NewDispatcher(opts.Transport, opts.Signals, opts.Sink, log)
	}
	return &Machine{
		tr:          opts.Transport,
		player:      opts.Player,
		sink:        opts.Sink,
		tools:       opts.Tools,
		log:         log,
		interrupted: make(map[string]struct{}),
		transcripts: make(map[string]*strings.Builder),
	}
}

// Activate connects the transport. Handlers are subscribed before the
// connection opens so no early event is lost. On failure the machine is
// back in Idle and the user has been told.
func (m *Machine) Activate(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return nil
	}
	m.state = Connecting
	m.mu.Unlock()

	m.subscribe()

	if err := m.tr.Connect(ctx); err != nil {
		m.log.Error("❌ Voice connection failed", zap.Error(err))
		m.unsubscribe()
		m.tr.Disconnect()
		m.mu.Lock()
		m.state = Idle
		m.mu.Unlock()
		m.sink.AddMessage(ui.NewMessage(ui.SenderBot, DiagConnectFailed))
		return err
	}

	m.mu.Lock()
	m.state = Connected
	m.mu.Unlock()
	m.log.Info("✅ Voice session active")
	return nil
}

// Deactivate tears the session down. It is idempotent.
func (m *Machine) Deactivate() {
	m.mu.Lock()
	if m.state == Idle {
		m.mu.Unlock()
		return
	}
	m.state = Idle
	m.mu.Unlock()

	m.unsubscribe()
	m.tr.Disconnect()
	m.player.Stop()

	m.mu.Lock()
	m.capturing = false
	m.active = ""
	m.discardUntagged = false
	m.interrupted = make(map[string]struct{})
	m.order = nil
	m.transcripts = make(map[string]*strings.Builder)
	m.mu.Unlock()
	m.log.Info("🔌 Voice session ended")
}

// StartCapture opens the microphone. A device failure is reported to the
// user but leaves the session connected.
func (m *Machine) StartCapture() error {
	if m.State() != Connected {
		return ErrNotConnected
	}
	if err := m.tr.StartCapture(); err != nil {
		m.log.Error("❌ Capture failed", zap.Error(err))
		m.sink.AddMessage(ui.NewMessage(ui.SenderBot, DiagMicrophone))
		return err
	}
	m.mu.Lock()
	m.capturing = true
	m.mu.Unlock()
	return nil
}

func (m *Machine) StopCapture() {
	m.tr.StopCapture()
	m.mu.Lock()
	m.capturing = false
	m.mu.Unlock()
}

// SendText injects a typed user turn and asks for a response.
func (m *Machine) SendText(text string) error {
	if m.State() != Connected {
		return ErrNotConnected
	}
	m.tr.Send(messages.NewUserMessage(text))
	m.tr.Send(messages.NewResponseCreate())
	return nil
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Capturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturing
}

// ActiveResponse is the id of the response being generated, or "".
func (m *Machine) ActiveResponse() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Machine) Interrupted(responseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.interrupted[responseID]
	return ok
}

func (m *Machine) subscribe() {
	ev := m.tr.Events()
	subs := []dispatch.Subscription{
		ev.On(messages.TypeResponseCreated, m.onResponseCreated),
		ev.On(messages.TypeResponseDone, m.onResponseFinished),
		ev.On(messages.TypeResponseCancelled, m.onResponseFinished),
		ev.On(messages.TypeAudioDelta, m.onAudioDelta),
		ev.On(messages.TypeTranscriptDelta, m.onTranscriptDelta),
		ev.On(messages.TypeTranscriptDone, m.onTranscriptDone),
		ev.On(messages.TypeInputTranscriptionCompleted, m.onUserTranscript),
		ev.On(messages.TypeSpeechStarted, m.onSpeechStarted),
		ev.On(messages.TypeFunctionCall, m.onFunctionCall),
		ev.On(messages.TypeMessage, m.onMessage),
		ev.On(messages.TypeError, m.onError),
		ev.On(messages.TypeClosed, m.onClosed),
	}
	m.mu.Lock()
	m.subs = subs
	m.mu.Unlock()
}

func (m *Machine) unsubscribe() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	ev := m.tr.Events()
	for _, s := range subs {
		ev.Off(s)
	}
}

func (m *Machine) onResponseCreated(e messages.Event) {
	ev := e.(messages.ResponseCreated)
	m.mu.Lock()
	m.active = ev.ResponseID
	m.discardUntagged = false
	m.transcripts[ev.ResponseID] = &strings.Builder{}
	m.mu.Unlock()
	m.log.Debug("📥 Response started", zap.String("response", ev.ResponseID))
}

func (m *Machine) onResponseFinished(e messages.Event) {
	var id string
	switch ev := e.(type) {
	case messages.ResponseDone:
		id = ev.ResponseID
	case messages.ResponseCancelled:
		id = ev.ResponseID
	}
	m.mu.Lock()
	if id == "" || m.active == id {
		m.active = ""
	}
	// an interrupted response keeps its partial until transcript.done
	if _, ok := m.interrupted[id]; !ok {
		delete(m.transcripts, id)
	}
	m.mu.Unlock()
}

// onAudioDelta accepts frames from any response that was not superseded.
// Frames still in flight for an interrupted response are dropped here.
func (m *Machine) onAudioDelta(e messages.Event) {
	ev := e.(messages.AudioDelta)
	m.mu.Lock()
	_, superseded := m.interrupted[ev.ResponseID]
	drop := (ev.ResponseID != "" && superseded) || (ev.ResponseID == "" && m.discardUntagged)
	m.mu.Unlock()

	if drop {
		m.log.Debug("🔇 Dropping audio for interrupted response", zap.String("response", ev.ResponseID))
		return
	}
	m.player.Enqueue(ev.Audio)
}

func (m *Machine) onTranscriptDelta(e messages.Event) {
	ev := e.(messages.TranscriptDelta)
	m.mu.Lock()
	b, ok := m.transcripts[ev.ResponseID]
	if !ok {
		b = &strings.Builder{}
		m.transcripts[ev.ResponseID] = b
	}
	if ev.ResponseID == "" && b.Len()+len(ev.Delta) > maxUntaggedTranscript {
		b.Reset()
	}
	b.WriteString(ev.Delta)
	m.mu.Unlock()
}

// onTranscriptDone emits the assistant's line. For an interrupted response
// only what was accumulated is used, since the remote's final transcript
// can describe audio that was never played.
func (m *Machine) onTranscriptDone(e messages.Event) {
	ev := e.(messages.TranscriptDone)
	m.mu.Lock()
	partial := ""
	if b, ok := m.transcripts[ev.ResponseID]; ok {
		partial = b.String()
	}
	delete(m.transcripts, ev.ResponseID)
	_, wasInterrupted := m.interrupted[ev.ResponseID]
	m.mu.Unlock()

	var text string
	if wasInterrupted {
		partial = strings.TrimSpace(partial)
		if partial == "" {
			return
		}
		text = partial + TruncationMarker
	} else {
		text = strings.TrimSpace(ev.Transcript)
		if text == "" {
			text = strings.TrimSpace(partial)
		}
	}
	if text == "" {
		return
	}
	m.sink.AddMessage(ui.NewMessage(ui.SenderBot, text))
}

func (m *Machine) onUserTranscript(e messages.Event) {
	ev := e.(messages.InputTranscriptionCompleted)
	text := strings.TrimSpace(ev.Transcript)
	if text == "" {
		return
	}
	m.sink.AddMessage(ui.NewMessage(ui.SenderUser, text))
}

// onSpeechStarted is barge-in: silence playback, drop what is queued, and
// cancel the response being generated.
func (m *Machine) onSpeechStarted(messages.Event) {
	m.player.Stop()

	m.mu.Lock()
	id := m.active
	m.active = ""
	m.discardUntagged = true
	if id != "" {
		m.markInterrupted(id)
	}
	m.mu.Unlock()

	if id == "" {
		return
	}
	m.log.Info("✋ Barge-in, cancelling response", zap.String("response", id))
	m.tr.Send(messages.NewResponseCancel(id))
}

// markInterrupted must be called with m.mu held.
func (m *Machine) markInterrupted(id string) {
	if _, ok := m.interrupted[id]; ok {
		return
	}
	m.interrupted[id] = struct{}{}
	m.order = append(m.order, id)
	if len(m.order) > maxInterrupted {
		delete(m.interrupted, m.order[0])
		delete(m.transcripts, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *Machine) onFunctionCall(e messages.Event) {
	m.tools.Handle(e.(messages.FunctionCall))
}

func (m *Machine) onMessage(e messages.Event) {
	ev := e.(messages.Message)
	if strings.TrimSpace(ev.Text) == "" {
		return
	}
	sender := ev.Sender
	if sender != ui.SenderUser {
		sender = ui.SenderBot
	}
	m.sink.AddMessage(ui.NewMessage(sender, ev.Text))
}

func (m *Machine) onError(e messages.Event) {
	ev := e.(messages.Error)
	m.log.Warn("❌ Remote error", zap.String("code", ev.Code), zap.String("message", ev.Message))
}

func (m *Machine) onClosed(e messages.Event) {
	ev := e.(messages.Closed)
	if m.State() == Idle {
		return
	}
	m.log.Warn("🔌 Transport closed", zap.Error(ev.Err))
	m.Deactivate()
	m.sink.AddMessage(ui.NewMessage(ui.SenderBot, DiagConnectionLost))
}
