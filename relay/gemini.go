package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/room4-2/billvoice/audio"
	"github.com/room4-2/billvoice/config"
	"github.com/room4-2/billvoice/gemini"
	"github.com/room4-2/billvoice/logger"
	"github.com/room4-2/billvoice/messages"
	"github.com/room4-2/billvoice/session"
	"github.com/room4-2/billvoice/tools"
)

// liveSession is the part of gemini.Proxy the upstream sends through.
type liveSession interface {
	SendAudio(pcm []byte) error
	SendText(text string) error
	SendToolResponse(responses []*genai.FunctionResponse) error
	Close() error
}

// liveEvent is a Gemini Live callback re-framed as a realtime event.
type liveEvent struct {
	Type       string       `json:"type"`
	ResponseID string       `json:"response_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Response   *responseRef `json:"response,omitempty"`
}

type responseRef struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// GeminiUpstream relays to a Gemini Live session, translating both ways so
// the client sees the same event vocabulary as with OpenAI.
type GeminiUpstream struct {
	APIKey string
	Model  string
	log    *zap.Logger

	proxy *gemini.Proxy
	live  liveSession

	mu         sync.Mutex
	deliver    func(kind int, data []byte)
	responseID string
	transcript strings.Builder
	input      strings.Builder
	callNames  map[string]string
}

func NewGeminiUpstream(apiKey, model string, log *zap.Logger) *GeminiUpstream {
	return &GeminiUpstream{
		APIKey:    apiKey,
		Model:     model,
		log:       logger.OrGet(log),
		callNames: make(map[string]string),
	}
}

func (g *GeminiUpstream) Open(ctx context.Context, settings config.VoiceSettings) error {
	proxy, err := gemini.NewProxy(ctx, g.APIKey, g.log)
	if err != nil {
		return err
	}
	err = proxy.Setup(ctx, gemini.SetupOptions{
		Model:        g.Model,
		Instructions: session.Instructions,
		Tools:        tools.GeminiTools(),
		Voice:        settings.Voice,
		Temperature:  settings.Temperature,
		MaxTokens:    settings.MaxResponseOutputTokens,
	})
	if err != nil {
		_ = proxy.Close()
		return fmt.Errorf("failed to setup Gemini session: %w", err)
	}
	g.proxy = proxy
	g.live = proxy
	return nil
}

func (g *GeminiUpstream) Start(deliver func(kind int, data []byte), closed func(err error)) {
	g.mu.Lock()
	g.deliver = deliver
	g.mu.Unlock()

	if g.proxy == nil {
		closed(ErrUpstreamClosed)
		return
	}
	g.proxy.OnAudio = g.onAudio
	g.proxy.OnOutputTranscript = g.onOutputTranscript
	g.proxy.OnInputTranscript = g.onInputTranscript
	g.proxy.OnInterrupted = g.onInterrupted
	g.proxy.OnTurnComplete = g.onTurnComplete
	g.proxy.OnToolCall = g.onToolCall
	g.proxy.OnError = closed
	g.proxy.StartReceiving()
}

// emit must be called with g.mu held.
func (g *GeminiUpstream) emit(ev liveEvent) {
	data, err := messages.Encode(ev)
	if err != nil {
		g.log.Error("❌ Failed to encode relayed event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	if g.deliver != nil {
		g.deliver(websocket.TextMessage, data)
	}
}

// emitRaw must be called with g.mu held.
func (g *GeminiUpstream) emitRaw(v any) {
	data, err := messages.Encode(v)
	if err != nil {
		g.log.Error("❌ Failed to encode relayed event", zap.Error(err))
		return
	}
	if g.deliver != nil {
		g.deliver(websocket.TextMessage, data)
	}
}

// ensureResponse opens a response for the model turn in progress. Must be
// called with g.mu held.
func (g *GeminiUpstream) ensureResponse() string {
	if g.responseID != "" {
		return g.responseID
	}
	g.flushInput()
	g.responseID = "resp_" + uuid.NewString()
	g.transcript.Reset()
	g.emit(liveEvent{Type: messages.TypeResponseCreated, Response: &responseRef{ID: g.responseID}})
	return g.responseID
}

// flushInput must be called with g.mu held.
func (g *GeminiUpstream) flushInput() {
	text := strings.TrimSpace(g.input.String())
	g.input.Reset()
	if text == "" {
		return
	}
	g.emit(liveEvent{Type: messages.TypeInputTranscriptionCompleted, Transcript: text})
}

// finishResponse closes the open response with a final transcript and the
// given terminal event. Must be called with g.mu held.
func (g *GeminiUpstream) finishResponse(terminal string) {
	if g.responseID == "" {
		return
	}
	id := g.responseID
	g.emit(liveEvent{Type: messages.TypeTranscriptDone, ResponseID: id, Transcript: g.transcript.String()})
	switch terminal {
	case messages.TypeResponseDone:
		g.emit(liveEvent{Type: messages.TypeResponseDone, Response: &responseRef{ID: id, Status: "completed"}})
	default:
		g.emit(liveEvent{Type: terminal, ResponseID: id})
	}
	g.responseID = ""
	g.transcript.Reset()
}

func (g *GeminiUpstream) onAudio(pcm []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.ensureResponse()
	g.emit(liveEvent{Type: messages.TypeAudioDelta, ResponseID: id, Delta: audio.EncodeBase64(pcm)})
}

func (g *GeminiUpstream) onOutputTranscript(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.ensureResponse()
	g.transcript.WriteString(text)
	g.emit(liveEvent{Type: messages.TypeTranscriptDelta, ResponseID: id, Delta: text})
}

func (g *GeminiUpstream) onInputTranscript(text string, finished bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.input.WriteString(text)
	if finished {
		g.flushInput()
	}
}

// onInterrupted maps Gemini's own barge-in detection onto the server VAD
// signal the client acts on.
func (g *GeminiUpstream) onInterrupted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emit(liveEvent{Type: messages.TypeSpeechStarted})
	g.finishResponse(messages.TypeResponseCancelled)
}

func (g *GeminiUpstream) onTurnComplete() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flushInput()
	g.finishResponse(messages.TypeResponseDone)
}

func (g *GeminiUpstream) onToolCall(calls []*genai.FunctionCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, fc := range calls {
		args := "{}"
		if len(fc.Args) > 0 {
			encoded, err := sonic.MarshalString(fc.Args)
			if err != nil {
				g.log.Warn("⚠️ Could not encode tool arguments", zap.String("name", fc.Name), zap.Error(err))
			} else {
				args = encoded
			}
		}
		g.callNames[fc.ID] = fc.Name
		g.log.Info("🔧 Function call", zap.String("name", fc.Name), zap.String("call_id", fc.ID))
		g.emitRaw(messages.NewFunctionCallNotice(fc.ID, fc.Name, args))
	}
}

func (g *GeminiUpstream) SendAudio(pcm []byte) error {
	if g.live == nil {
		return ErrUpstreamClosed
	}
	return g.live.SendAudio(pcm)
}

func (g *GeminiUpstream) SendText(text string) error {
	if g.live == nil {
		return ErrUpstreamClosed
	}
	return g.live.SendText(text)
}

// SendEvent translates the client events Gemini has an equivalent for.
// response.create and response.cancel have none: Gemini answers tool
// results and text turns on its own, and stops generating on barge-in.
func (g *GeminiUpstream) SendEvent(data []byte) error {
	msg, err := messages.DecodeClient(data)
	if err != nil {
		return err
	}

	switch msg.Type {
	case messages.TypeInputAudioBufferAppend:
		pcm, err := audio.DecodeBase64(msg.Audio)
		if err != nil {
			return fmt.Errorf("invalid audio payload: %w", err)
		}
		return g.SendAudio(pcm)

	case messages.TypeConversationItemCreate:
		if msg.Item.Type == "function_call_output" {
			return g.sendToolResult(msg.Item.CallID, msg.Item.Output)
		}
		if text := msg.UserText(); text != "" {
			return g.SendText(text)
		}
		return nil

	case messages.TypeResponseCreate, messages.TypeResponseCancel, messages.TypeSessionUpdate:
		return nil

	default:
		g.log.Debug("Ignoring client event without Gemini equivalent", zap.String("type", msg.Type))
		return nil
	}
}

func (g *GeminiUpstream) sendToolResult(callID, output string) error {
	if g.live == nil {
		return ErrUpstreamClosed
	}

	g.mu.Lock()
	name := g.callNames[callID]
	delete(g.callNames, callID)
	g.mu.Unlock()

	response := map[string]any{}
	if err := sonic.UnmarshalString(output, &response); err != nil {
		response = map[string]any{"output": output}
	}

	return g.live.SendToolResponse([]*genai.FunctionResponse{{
		ID:       callID,
		Name:     name,
		Response: response,
	}})
}

func (g *GeminiUpstream) Close() error {
	if g.live == nil {
		return nil
	}
	return g.live.Close()
}

var _ Upstream = (*GeminiUpstream)(nil)
