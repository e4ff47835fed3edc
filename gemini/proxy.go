// Package gemini connects to the Gemini Live API through the genai SDK.
// The relay uses it as an alternative upstream to the OpenAI realtime socket.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/room4-2/billvoice/audio"
	"github.com/room4-2/billvoice/logger"
)

// DefaultVoice is used when the configured voice is not a Gemini voice.
const DefaultVoice = "Zephyr"

// voices are the prebuilt Gemini voices.
var voices = map[string]bool{
	"puck": true, "charon": true, "kore": true, "fenrir": true,
	"aoede": true, "leda": true, "orus": true, "zephyr": true,
}

// inputMIME tags the PCM16 frames the relay forwards.
var inputMIME = fmt.Sprintf("audio/pcm;rate=%d", audio.SampleRate)

var ErrClosed = errors.New("gemini proxy is closed or not connected")

// Proxy manages one Gemini Live session
type Proxy struct {
	client  *genai.Client
	session *genai.Session
	log     *zap.Logger

	// Callbacks run on the receive goroutine, one message at a time.
	OnAudio            func(pcm []byte)
	OnOutputTranscript func(text string)
	OnInputTranscript  func(text string, finished bool)
	OnInterrupted      func()
	OnTurnComplete     func()
	OnToolCall         func(calls []*genai.FunctionCall)
	OnError            func(err error)

	mu     sync.RWMutex
	closed bool
}

// SetupOptions configures the Live session
type SetupOptions struct {
	Model        string
	Instructions string
	Tools        []*genai.Tool
	Voice        string
	Temperature  float64
	MaxTokens    int
}

// NewProxy creates the GenAI client. The Live session opens in Setup.
func NewProxy(ctx context.Context, apiKey string, log *zap.Logger) (*Proxy, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Proxy{
		client: client,
		log:    logger.OrGet(log),
	}, nil
}

// VoiceName maps a configured voice to a Gemini prebuilt voice.
func VoiceName(configured string) string {
	if voices[strings.ToLower(configured)] {
		return strings.ToUpper(configured[:1]) + strings.ToLower(configured[1:])
	}
	return DefaultVoice
}

func liveConfig(opts SetupOptions) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: opts.Instructions}},
		},
		Tools: opts.Tools,
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: VoiceName(opts.Voice)},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	return cfg
}

// Setup establishes the Live session
func (gp *Proxy) Setup(ctx context.Context, opts SetupOptions) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return ErrClosed
	}

	session, err := gp.client.Live.Connect(ctx, opts.Model, liveConfig(opts))
	if err != nil {
		return fmt.Errorf("failed to connect to Live API: %w", err)
	}

	gp.session = session
	gp.log.Info("✅ Connected to Gemini Live", zap.String("model", opts.Model))
	return nil
}

// StartReceiving begins listening for Gemini responses
func (gp *Proxy) StartReceiving() {
	go func() {
		for {
			gp.mu.RLock()
			if gp.closed || gp.session == nil {
				gp.mu.RUnlock()
				return
			}
			session := gp.session
			gp.mu.RUnlock()

			resp, err := session.Receive()
			if err != nil {
				gp.mu.RLock()
				closed := gp.closed
				gp.mu.RUnlock()

				if !closed {
					gp.log.Error("❌ Gemini receive error", zap.Error(err))
					if gp.OnError != nil {
						gp.OnError(err)
					}
				}
				return
			}

			gp.handleResponse(resp)
		}
	}()
}

func (gp *Proxy) handleResponse(resp *genai.LiveServerMessage) {
	if resp.ToolCall != nil && len(resp.ToolCall.FunctionCalls) > 0 {
		gp.log.Info("📥 Received from Gemini: function calls", zap.Int("count", len(resp.ToolCall.FunctionCalls)))
		if gp.OnToolCall != nil {
			gp.OnToolCall(resp.ToolCall.FunctionCalls)
		}
	}

	content := resp.ServerContent
	if content == nil {
		return
	}

	if content.Interrupted {
		gp.log.Info("📥 Received from Gemini: interrupted")
		if gp.OnInterrupted != nil {
			gp.OnInterrupted()
		}
	}

	if t := content.InputTranscription; t != nil && gp.OnInputTranscript != nil {
		gp.OnInputTranscript(t.Text, t.Finished)
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 && gp.OnAudio != nil {
				gp.log.Debug("📥 Received from Gemini: audio", zap.Int("bytes", len(part.InlineData.Data)))
				gp.OnAudio(part.InlineData.Data)
			}
		}
	}

	if t := content.OutputTranscription; t != nil && t.Text != "" && gp.OnOutputTranscript != nil {
		gp.OnOutputTranscript(t.Text)
	}

	if content.TurnComplete && gp.OnTurnComplete != nil {
		gp.log.Debug("📥 Received from Gemini: turn complete")
		gp.OnTurnComplete()
	}
}

func (gp *Proxy) current() (*genai.Session, error) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()
	if gp.closed || gp.session == nil {
		return nil, ErrClosed
	}
	return gp.session, nil
}

// SendAudio forwards one PCM16 chunk
func (gp *Proxy) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	session, err := gp.current()
	if err != nil {
		return err
	}

	err = session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: inputMIME, Data: pcm},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// SendText sends a complete user text turn
func (gp *Proxy) SendText(text string) error {
	session, err := gp.current()
	if err != nil {
		return err
	}

	err = session.SendClientContent(genai.LiveSendClientContentParameters{
		Turns: []*genai.Content{
			{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: text}},
			},
		},
		TurnComplete: genai.Ptr(true),
	})
	if err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}

	gp.log.Info("📤 Sent text to Gemini", zap.Int("chars", len(text)))
	return nil
}

// SendToolResponse sends function call responses back to Gemini
func (gp *Proxy) SendToolResponse(responses []*genai.FunctionResponse) error {
	session, err := gp.current()
	if err != nil {
		return err
	}

	err = session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: responses,
	})
	if err != nil {
		return fmt.Errorf("failed to send tool response: %w", err)
	}

	gp.log.Info("📤 Sent tool responses to Gemini", zap.Int("count", len(responses)))
	return nil
}

// Close terminates the Gemini connection
func (gp *Proxy) Close() error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return nil
	}
	gp.closed = true

	if gp.session != nil {
		return gp.session.Close()
	}
	return nil
}
