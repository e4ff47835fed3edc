package device

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/audio"
)

const pollInterval = 10 * time.Millisecond

// Speaker is an audio.Sink that renders each unit through its own oto
// player and reports completion once the player runs dry.
type Speaker struct {
	ctx *oto.Context
	log *zap.Logger

	mu      sync.Mutex
	current *oto.Player
	cancel  chan struct{}
}

// NewSpeaker opens the output device. oto allows a single context per
// process, so create one Speaker and share it.
func NewSpeaker(log *zap.Logger) (*Speaker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   audio.SampleRate,
		ChannelCount: audio.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open speaker: %w", err)
	}
	<-ready
	return &Speaker{ctx: ctx, log: log}, nil
}

func (s *Speaker) Play(frame []byte, done func()) error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("speaker unavailable: %w", err)
	}

	player := s.ctx.NewPlayer(bytes.NewReader(frame))
	cancel := make(chan struct{})

	s.mu.Lock()
	s.current, s.cancel = player, cancel
	s.mu.Unlock()

	player.Play()
	go s.watch(player, cancel, done)
	return nil
}

func (s *Speaker) watch(player *oto.Player, cancel chan struct{}, done func()) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			if player.IsPlaying() {
				continue
			}
			if err := player.Err(); err != nil {
				s.log.Warn("⚠️ Speaker unit failed", zap.Error(err))
			}
			s.release(player)
			done()
			return
		}
	}
}

// Stop silences the unit in flight. Its completion is never reported.
func (s *Speaker) Stop() {
	s.mu.Lock()
	player, cancel := s.current, s.cancel
	s.current, s.cancel = nil, nil
	s.mu.Unlock()

	if player == nil {
		return
	}
	close(cancel)
	player.Pause()
	if err := player.Close(); err != nil {
		s.log.Debug("Speaker close after stop", zap.Error(err))
	}
}

func (s *Speaker) release(player *oto.Player) {
	s.mu.Lock()
	if s.current == player {
		s.current, s.cancel = nil, nil
	}
	s.mu.Unlock()
	_ = player.Close()
}
