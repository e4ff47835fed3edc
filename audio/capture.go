package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Source produces PCM16 wire audio through a callback driven by the
// platform's audio thread.
type Source interface {
	Start(onData func(pcm []byte)) error
	Stop() error
}

// Capture pumps a Source into send, coalescing callback data so that at
// most one send happens per interval. Whatever is buffered when capture
// stops is flushed as a final send.
type Capture struct {
	src      Source
	send     func(pcm []byte)
	interval time.Duration
	buf      *Buffer
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	lastSend time.Time
}

type CaptureOptions struct {
	Interval      time.Duration // minimum spacing between sends
	MaxBufferSize int           // bytes held between sends; 0 means unbounded
	Logger        *zap.Logger
	Clock         func() time.Time
}

func NewCapture(src Source, send func(pcm []byte), opts CaptureOptions) *Capture {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Capture{
		src:      src,
		send:     send,
		interval: opts.Interval,
		buf:      NewBuffer(opts.MaxBufferSize),
		log:      opts.Logger,
		now:      opts.Clock,
	}
}

// Start acquires the source. A failed start releases whatever the source
// managed to open before returning.
func (c *Capture) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	if c.src == nil {
		c.mu.Unlock()
		return errors.New("no capture source configured")
	}
	c.buf.Clear()
	c.lastSend = time.Time{}
	c.running = true
	c.mu.Unlock()

	if err := c.src.Start(c.onData); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.buf.Clear()
		if stopErr := c.src.Stop(); stopErr != nil {
			c.log.Debug("Capture source cleanup after failed start", zap.Error(stopErr))
		}
		return fmt.Errorf("start capture: %w", err)
	}
	c.log.Info("🎙️ Capture started", zap.Duration("send_interval", c.interval))
	return nil
}

// Stop releases the source unconditionally and flushes pending audio.
// Calling it while stopped is a no-op.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	if err := c.src.Stop(); err != nil {
		c.log.Warn("⚠️ Capture source stop failed", zap.Error(err))
	}
	if pcm := c.buf.Flush(); len(pcm) > 0 {
		c.send(pcm)
	}
	c.log.Info("🎙️ Capture stopped")
}

func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Capture) onData(pcm []byte) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	if err := c.buf.Append(pcm); err != nil {
		// The sender has stalled; the oldest audio is the least useful.
		c.buf.Clear()
		_ = c.buf.Append(pcm)
		c.log.Warn("⚠️ Capture buffer overflow, dropped stale audio", zap.Error(err))
	}

	now := c.now()
	if !c.lastSend.IsZero() && now.Sub(c.lastSend) < c.interval {
		c.mu.Unlock()
		return
	}
	c.lastSend = now
	out := c.buf.Flush()
	c.mu.Unlock()

	if len(out) > 0 {
		c.send(out)
	}
}
