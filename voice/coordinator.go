// Package voice is the façade a host UI drives: one toggle for voice mode,
// capture controls, a text fallback, and a de-duplicated message feed.
package voice

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/room4-2/billvoice/audio"
	"github.com/room4-2/billvoice/logger"
	"github.com/room4-2/billvoice/session"
	"github.com/room4-2/billvoice/transport"
	"github.com/room4-2/billvoice/ui"
)

// DefaultHistory is how many dedup keys are remembered.
const DefaultHistory = 512

// contentPrefix is how much of a message's text takes part in its content key.
const contentPrefix = 100

type Options struct {
	Transport transport.Transport
	Player    *audio.Player
	// Host receives every message that survives de-duplication.
	Host    ui.MessageSink
	Signals ui.Signals
	// Tools overrides the default tool dispatcher.
	Tools   session.FunctionHandler
	History int
	Logger  *zap.Logger
}

type Coordinator struct {
	machine *session.Machine
	host    ui.MessageSink
	log     *zap.Logger

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

func New(opts Options) *Coordinator {
	log := logger.OrGet(opts.Logger)
	if opts.Host == nil {
		opts.Host = ui.LogSink{Log: log}
	}
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	c := &Coordinator{
		host:  opts.Host,
		log:   log,
		seen:  make(map[string]struct{}),
		limit: opts.History,
	}
	c.machine = session.New(session.Options{
		Transport: opts.Transport,
		Player:    opts.Player,
		Sink:      ui.MessageFunc(func(msg ui.ChatMessage) { c.Deliver(msg) }),
		Signals:   opts.Signals,
		Tools:     opts.Tools,
		Logger:    log,
	})
	return c
}

// Toggle turns voice mode on (connect, then open the microphone) or off.
// A microphone failure leaves voice mode on and is returned.
func (c *Coordinator) Toggle(ctx context.Context) error {
	if c.Active() {
		c.machine.Deactivate()
		return nil
	}
	if err := c.machine.Activate(ctx); err != nil {
		return err
	}
	return c.machine.StartCapture()
}

// Connect turns voice mode on without opening the microphone, for hosts
// that only type.
func (c *Coordinator) Connect(ctx context.Context) error {
	if c.Active() {
		return nil
	}
	return c.machine.Activate(ctx)
}

// Active reports whether voice mode is on or coming up.
func (c *Coordinator) Active() bool {
	return c.machine.State() != session.Idle
}

func (c *Coordinator) State() session.State {
	return c.machine.State()
}

func (c *Coordinator) StartCapture() error {
	return c.machine.StartCapture()
}

func (c *Coordinator) StopCapture() {
	c.machine.StopCapture()
}

// SendTextMessage shows the typed line and sends it as a user turn.
func (c *Coordinator) SendTextMessage(text string) error {
	if err := c.machine.SendText(text); err != nil {
		return err
	}
	c.Deliver(ui.NewMessage(ui.SenderUser, text))
	return nil
}

// Deliver forwards msg to the host unless it was already delivered, either
// under the same id or with the same sender and leading text.
func (c *Coordinator) Deliver(msg ui.ChatMessage) bool {
	idKey := "id:" + msg.ID
	textKey := contentKey(msg)

	c.mu.Lock()
	dupID, dupText := false, false
	if msg.ID != "" {
		_, dupID = c.seen[idKey]
	}
	_, dupText = c.seen[textKey]
	if dupID || dupText {
		c.mu.Unlock()
		c.log.Debug("⏭️ Skipping duplicate message",
			zap.String("id", msg.ID),
			zap.Bool("by_id", dupID),
			zap.Bool("by_content", dupText),
		)
		return false
	}
	if msg.ID != "" {
		c.remember(idKey)
	}
	c.remember(textKey)
	c.mu.Unlock()

	c.host.AddMessage(msg)
	return true
}

// Reconcile delivers the messages of an externally kept list that have not
// reached the host yet, and returns how many did.
func (c *Coordinator) Reconcile(msgs []ui.ChatMessage) int {
	added := 0
	for _, msg := range msgs {
		if c.Deliver(msg) {
			added++
		}
	}
	if skipped := len(msgs) - added; skipped > 0 {
		c.log.Debug("🔄 Reconciled messages", zap.Int("added", added), zap.Int("duplicates", skipped))
	}
	return added
}

// Close ends voice mode if it is on.
func (c *Coordinator) Close() {
	c.machine.Deactivate()
}

// remember must be called with c.mu held.
func (c *Coordinator) remember(key string) {
	c.seen[key] = struct{}{}
	c.order = append(c.order, key)
	for len(c.order) > c.limit {
		delete(c.seen, c.order[0])
		c.order = c.order[1:]
	}
}

func contentKey(msg ui.ChatMessage) string {
	text := []rune(msg.Text)
	if len(text) > contentPrefix {
		text = text[:contentPrefix]
	}
	return msg.Sender + ":" + string(text)
}
