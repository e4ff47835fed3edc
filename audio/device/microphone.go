// Package device binds the audio pipeline to real hardware: malgo for the
// microphone and oto for the speaker.
package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/audio"
)

// Microphone is an audio.Source backed by a capture-only malgo device.
// The device has no playback side, so synthesized speech can never loop
// back into the outbound stream through it.
type Microphone struct {
	log *zap.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func NewMicrophone(log *zap.Logger) *Microphone {
	if log == nil {
		log = zap.NewNop()
	}
	return &Microphone{log: log}
}

// Start opens the default input device at the wire format. The data passed
// to onData is only valid for the duration of the call.
func (m *Microphone) Start(onData func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return nil
	}

	ctxConfig := malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}
	ctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = audio.Channels
	deviceConfig.SampleRate = audio.SampleRate
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onData(input)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		releaseContext(ctx)
		return fmt.Errorf("open microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		releaseContext(ctx)
		return fmt.Errorf("start microphone: %w", err)
	}

	m.ctx, m.device = ctx, device
	m.log.Info("🎙️ Microphone opened", zap.Int("sample_rate", audio.SampleRate))
	return nil
}

// Stop closes the device and its context. It is safe to call at any time.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return nil
	}
	var stopErr error
	if err := m.device.Stop(); err != nil {
		stopErr = fmt.Errorf("stop microphone: %w", err)
	}
	m.device.Uninit()
	releaseContext(m.ctx)
	m.device, m.ctx = nil, nil
	return stopErr
}

func releaseContext(ctx *malgo.AllocatedContext) {
	if ctx == nil {
		return
	}
	_ = ctx.Uninit()
	ctx.Free()
}
