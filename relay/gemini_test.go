package relay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/room4-2/billvoice/messages"
)

type fakeLive struct {
	audio     [][]byte
	texts     []string
	responses []*genai.FunctionResponse
	closed    bool
}

func (f *fakeLive) SendAudio(pcm []byte) error {
	f.audio = append(f.audio, pcm)
	return nil
}

func (f *fakeLive) SendText(text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeLive) SendToolResponse(responses []*genai.FunctionResponse) error {
	f.responses = append(f.responses, responses...)
	return nil
}

func (f *fakeLive) Close() error {
	f.closed = true
	return nil
}

func newTestGemini() (*GeminiUpstream, *fakeLive, *[]messages.Event) {
	var events []messages.Event
	g := NewGeminiUpstream("key", "model", zap.NewNop())
	live := &fakeLive{}
	g.live = live
	g.deliver = func(_ int, data []byte) {
		events = append(events, messages.DecodeText(data))
	}
	return g, live, &events
}

func TestGeminiTurnBecomesResponse(t *testing.T) {
	g, _, events := newTestGemini()

	g.onInputTranscript("show my ", false)
	g.onInputTranscript("bills", true)
	g.onOutputTranscript("Here are ")
	g.onAudio([]byte{1, 0})
	g.onOutputTranscript("your bills.")
	g.onTurnComplete()

	require.Len(t, *events, 7)
	ev := *events
	assert.Equal(t, messages.InputTranscriptionCompleted{Transcript: "show my bills"}, ev[0])

	created, ok := ev[1].(messages.ResponseCreated)
	require.True(t, ok)
	id := created.ResponseID
	assert.True(t, strings.HasPrefix(id, "resp_"))

	assert.Equal(t, messages.TranscriptDelta{ResponseID: id, Delta: "Here are "}, ev[2])
	assert.Equal(t, messages.AudioDelta{ResponseID: id, Audio: []byte{1, 0}}, ev[3])
	assert.Equal(t, messages.TranscriptDelta{ResponseID: id, Delta: "your bills."}, ev[4])
	assert.Equal(t, messages.TranscriptDone{ResponseID: id, Transcript: "Here are your bills."}, ev[5])
	assert.Equal(t, messages.ResponseDone{ResponseID: id, Status: "completed"}, ev[6])
}

func TestGeminiInterruptionCancelsResponse(t *testing.T) {
	g, _, events := newTestGemini()

	g.onOutputTranscript("Your bills are")
	g.onInterrupted()
	g.onAudio([]byte{2, 0})

	ev := *events
	require.Len(t, ev, 7)
	first := ev[0].(messages.ResponseCreated).ResponseID
	assert.IsType(t, messages.SpeechStarted{}, ev[2])
	assert.Equal(t, messages.TranscriptDone{ResponseID: first, Transcript: "Your bills are"}, ev[3])
	assert.Equal(t, messages.ResponseCancelled{ResponseID: first}, ev[4])

	// Audio after the interruption opens a new response.
	next, ok := ev[5].(messages.ResponseCreated)
	require.True(t, ok)
	assert.NotEqual(t, first, next.ResponseID)
}

func TestGeminiInterruptionWithoutResponse(t *testing.T) {
	g, _, events := newTestGemini()

	g.onInterrupted()
	g.onTurnComplete()

	require.Len(t, *events, 1)
	assert.IsType(t, messages.SpeechStarted{}, (*events)[0])
}

func TestGeminiToolCallRoundTrip(t *testing.T) {
	g, live, events := newTestGemini()

	g.onToolCall([]*genai.FunctionCall{
		{ID: "fc_1", Name: "get_bills", Args: map[string]any{"account_id": "acc_1"}},
		{ID: "fc_2", Name: "show_payment_plans"},
	})

	require.Len(t, *events, 2)
	assert.Equal(t, messages.FunctionCall{CallID: "fc_1", Name: "get_bills", Arguments: `{"account_id":"acc_1"}`}, (*events)[0])
	assert.Equal(t, messages.FunctionCall{CallID: "fc_2", Name: "show_payment_plans", Arguments: "{}"}, (*events)[1])

	output, err := messages.Encode(messages.NewFunctionCallOutput("fc_1", `{"success":true,"count":2}`))
	require.NoError(t, err)
	require.NoError(t, g.SendEvent(output))

	require.Len(t, live.responses, 1)
	resp := live.responses[0]
	assert.Equal(t, "fc_1", resp.ID)
	assert.Equal(t, "get_bills", resp.Name)
	assert.Equal(t, true, resp.Response["success"])

	create, err := messages.Encode(messages.NewResponseCreate())
	require.NoError(t, err)
	require.NoError(t, g.SendEvent(create))
	assert.Len(t, live.responses, 1)
}

func TestGeminiPlainToolOutput(t *testing.T) {
	g, live, _ := newTestGemini()

	output, err := messages.Encode(messages.NewFunctionCallOutput("fc_9", "done"))
	require.NoError(t, err)
	require.NoError(t, g.SendEvent(output))

	require.Len(t, live.responses, 1)
	assert.Equal(t, map[string]any{"output": "done"}, live.responses[0].Response)
}

func TestGeminiClientEvents(t *testing.T) {
	g, live, _ := newTestGemini()

	appendEvent, err := messages.Encode(messages.NewAudioAppend([]byte{5, 6}))
	require.NoError(t, err)
	require.NoError(t, g.SendEvent(appendEvent))

	userText, err := messages.Encode(messages.NewUserMessage("pay my bill"))
	require.NoError(t, err)
	require.NoError(t, g.SendEvent(userText))

	cancel, err := messages.Encode(messages.NewResponseCancel("resp_1"))
	require.NoError(t, err)
	require.NoError(t, g.SendEvent(cancel))

	assert.Equal(t, [][]byte{{5, 6}}, live.audio)
	assert.Equal(t, []string{"pay my bill"}, live.texts)

	assert.Error(t, g.SendEvent([]byte("not json")))

	require.NoError(t, g.Close())
	assert.True(t, live.closed)
}

func TestGeminiStartWithoutSession(t *testing.T) {
	g := NewGeminiUpstream("key", "model", zap.NewNop())
	var got error
	g.Start(func(int, []byte) {}, func(err error) { got = err })

	assert.ErrorIs(t, got, ErrUpstreamClosed)
	assert.ErrorIs(t, g.SendAudio([]byte{1}), ErrUpstreamClosed)
	assert.NoError(t, g.Close())
}
