package audio

import (
	"errors"
	"sync"
)

// DiscardSink completes every unit immediately without rendering it.
type DiscardSink struct{}

func (DiscardSink) Play(_ []byte, done func()) error {
	done()
	return nil
}

func (DiscardSink) Stop() {}

// FakeSink records frames and holds their completions until Complete is
// called, so tests control exactly when a unit finishes playing.
type FakeSink struct {
	mu      sync.Mutex
	frames  [][]byte
	pending []func()
	stops   int
	PlayErr error
}

func (s *FakeSink) Play(frame []byte, done func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PlayErr != nil {
		return s.PlayErr
	}
	s.frames = append(s.frames, frame)
	s.pending = append(s.pending, done)
	return nil
}

func (s *FakeSink) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

// Complete finishes the oldest in-flight unit. It reports false when none is in flight.
func (s *FakeSink) Complete() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	done := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()

	done()
	return true
}

// Drain completes units until nothing is in flight.
func (s *FakeSink) Drain() int {
	n := 0
	for s.Complete() {
		n++
	}
	return n
}

func (s *FakeSink) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *FakeSink) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// FakeSource is a Source whose data is pushed by the test via Emit.
type FakeSource struct {
	StartErr error

	mu      sync.Mutex
	onData  func([]byte)
	starts  int
	stops   int
	running bool
}

var errFakeSourceStopped = errors.New("fake source not running")

func (s *FakeSource) Start(onData func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.onData = onData
	s.running = true
	return nil
}

func (s *FakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.running = false
	s.onData = nil
	return nil
}

// Emit delivers pcm as if the audio thread produced it.
func (s *FakeSource) Emit(pcm []byte) error {
	s.mu.Lock()
	cb := s.onData
	s.mu.Unlock()
	if cb == nil {
		return errFakeSourceStopped
	}
	cb(pcm)
	return nil
}

func (s *FakeSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *FakeSource) Counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}
