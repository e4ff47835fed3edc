// Package transport owns the single socket between the voice client and
// the speech service, either directly or through the relay.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/audio"
	"github.com/room4-2/billvoice/config"
	"github.com/room4-2/billvoice/dispatch"
	"github.com/room4-2/billvoice/messages"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultSendInterval = 50 * time.Millisecond
)

// Transport is what the session state machine talks to. Which
// implementation backs it is decided once, by New.
type Transport interface {
	// Connect resolves once the remote end is ready, or fails with a *ConnectionError.
	Connect(ctx context.Context) error
	// Disconnect is idempotent.
	Disconnect()
	// Send transmits ev while connected; otherwise it logs and drops it.
	Send(ev messages.ClientEvent)
	// SendFunctionResult submits a tool result and asks the model to continue.
	SendFunctionResult(callID string, result any)
	Events() *dispatch.Dispatcher
	StartCapture() error
	StopCapture()
	IsReady() bool
}

// Options configures either implementation. Fields that only one mode
// uses are ignored by the other.
type Options struct {
	URL     string
	APIKey  string
	Timeout time.Duration

	// Session is negotiated by the direct transport right after session.created.
	Session messages.SessionConfig

	Source        audio.Source
	SendInterval  time.Duration
	MaxBufferSize int

	// Player, when set, is silenced on Disconnect.
	Player *audio.Player

	Dispatcher *dispatch.Dispatcher
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

func (o *Options) withDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.SendInterval <= 0 {
		o.SendInterval = DefaultSendInterval
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			HandshakeTimeout:  o.Timeout,
			EnableCompression: false,
		}
	}
}

// New builds the transport for mode (config.TransportDirect or config.TransportRelay).
func New(mode string, opts Options) (Transport, error) {
	switch mode {
	case config.TransportDirect:
		return NewDirect(opts), nil
	case config.TransportRelay:
		return NewRelay(opts), nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q", mode)
	}
}

// FromConfig maps the loaded configuration onto Options for the selected mode.
func FromConfig(cfg *config.Config, session messages.SessionConfig) Options {
	opts := Options{
		Timeout:       cfg.ConnectTimeout,
		SendInterval:  cfg.SendInterval,
		MaxBufferSize: cfg.MaxBufferSize,
		Session:       session,
	}
	if cfg.Transport == config.TransportDirect {
		opts.URL = cfg.RealtimeURL
		opts.APIKey = cfg.OpenAIAPIKey
	} else {
		opts.URL = cfg.RelayURL
	}
	return opts
}
