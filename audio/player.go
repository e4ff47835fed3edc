package audio

import (
	"sync"

	"go.uber.org/zap"
)

// Sink renders one playback unit. Play must eventually call done exactly
// once unless Stop intervenes; done may run on any goroutine, including
// synchronously inside Play.
type Sink interface {
	Play(frame []byte, done func()) error
	Stop()
}

// Player is a self-draining FIFO in front of a Sink. Only one unit is in
// flight; its completion dequeues the next. Stop drops everything queued
// and any completion still pending from before the stop.
type Player struct {
	sink Sink
	log  *zap.Logger

	// OnIdle, if set, runs each time the queue fully drains.
	OnIdle func()

	mu      sync.Mutex
	queue   [][]byte
	playing bool
	gen     uint64
	played  int
}

func NewPlayer(sink Sink, log *zap.Logger) *Player {
	if log == nil {
		log = zap.NewNop()
	}
	return &Player{sink: sink, log: log}
}

// Enqueue appends a frame and starts playback if the player was idle.
func (p *Player) Enqueue(frame []byte) {
	if len(frame) == 0 {
		return
	}

	p.mu.Lock()
	p.queue = append(p.queue, frame)
	if p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = true
	gen := p.gen
	p.mu.Unlock()

	p.advance(gen, false)
}

// Stop halts the current unit and clears the queue in full.
func (p *Player) Stop() {
	p.mu.Lock()
	dropped := len(p.queue)
	wasPlaying := p.playing
	p.queue = nil
	p.playing = false
	p.gen++
	p.mu.Unlock()

	if wasPlaying {
		p.sink.Stop()
		p.log.Debug("🔇 Playback stopped", zap.Int("dropped_frames", dropped))
	}
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Pending is the number of frames waiting behind the one in flight.
func (p *Player) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Played counts frames handed to the sink since creation.
func (p *Player) Played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

// advance plays the next frame of generation gen. completed is true when
// called from a done callback, so a stale callback after Stop is ignored.
func (p *Player) advance(gen uint64, completed bool) {
	p.mu.Lock()
	if gen != p.gen || (completed && !p.playing) {
		p.mu.Unlock()
		return
	}
	if len(p.queue) == 0 {
		p.playing = false
		onIdle := p.OnIdle
		p.mu.Unlock()
		if onIdle != nil {
			onIdle()
		}
		return
	}
	frame := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.played++
	p.mu.Unlock()

	var once sync.Once
	done := func() {
		once.Do(func() { p.advance(gen, true) })
	}
	if err := p.sink.Play(frame, done); err != nil {
		p.log.Warn("⚠️ Playback unit failed, skipping", zap.Error(err))
		done()
	}
}
