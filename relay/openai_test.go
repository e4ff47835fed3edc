package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/config"
	"github.com/room4-2/billvoice/messages"
)

// fakeRealtime runs handle for every upgraded connection and returns a ws:// URL.
func fakeRealtime(t *testing.T, handle func(r *http.Request, conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(r, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type delivered struct {
	kind int
	data []byte
}

func collectFrames(u Upstream) (<-chan delivered, <-chan error) {
	frames := make(chan delivered, 16)
	closed := make(chan error, 1)
	u.Start(func(kind int, data []byte) {
		frames <- delivered{kind: kind, data: data}
	}, func(err error) {
		closed <- err
	})
	return frames, closed
}

func nextFrame(t *testing.T, ch <-chan delivered) delivered {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("no frame delivered")
		return delivered{}
	}
}

func TestOpenAIUpstreamHandshakeAndRelay(t *testing.T) {
	updates := make(chan []byte, 1)
	url := fakeRealtime(t, func(r *http.Request, conn *websocket.Conn) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "realtime=v1", r.Header.Get("OpenAI-Beta"))

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created","session":{"id":"sess_1"}}`))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		updates <- data
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.updated","session":{"id":"sess_1"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"response.function_call_arguments.done","response_id":"R1","call_id":"call_1","name":"get_bills","arguments":"{\"account_id\":\"acc_1\"}"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2})
		drain(conn)
	})

	settings := config.RelayVoiceSettings()
	settings.Voice = "verse"
	u := NewOpenAIUpstream(url, "sk-test", zap.NewNop())
	require.NoError(t, u.Open(context.Background(), settings))
	defer u.Close()

	update := <-updates
	assert.Contains(t, string(update), `"type":"session.update"`)
	assert.Contains(t, string(update), `"voice":"verse"`)

	frames, closed := collectFrames(u)

	first := nextFrame(t, frames)
	assert.IsType(t, messages.FunctionCallArgumentsDone{}, messages.DecodeText(first.data))

	notice := nextFrame(t, frames)
	assert.Equal(t, messages.FunctionCall{CallID: "call_1", Name: "get_bills", Arguments: `{"account_id":"acc_1"}`},
		messages.DecodeText(notice.data))

	binary := nextFrame(t, frames)
	assert.Equal(t, websocket.BinaryMessage, binary.kind)
	assert.Equal(t, []byte{1, 2}, binary.data)

	require.NoError(t, u.Close())
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("closed callback not called")
	}
}

func TestOpenAIUpstreamKeepsEarlyEvents(t *testing.T) {
	url := fakeRealtime(t, func(r *http.Request, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		// No session.updated: the relay proceeds after its short wait.
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.created","response":{"id":"R9"}}`))
		drain(conn)
	})

	u := NewOpenAIUpstream(url, "sk-test", zap.NewNop())
	require.NoError(t, u.Open(context.Background(), config.RelayVoiceSettings()))
	defer u.Close()

	frames, _ := collectFrames(u)
	assert.Equal(t, messages.ResponseCreated{ResponseID: "R9"}, messages.DecodeText(nextFrame(t, frames).data))
}

func TestOpenAIUpstreamRejectedSessionConfig(t *testing.T) {
	url := fakeRealtime(t, func(r *http.Request, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":{"message":"Invalid voice"}}`))
		drain(conn)
	})

	u := NewOpenAIUpstream(url, "sk-test", zap.NewNop())
	err := u.Open(context.Background(), config.RelayVoiceSettings())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid voice")
	assert.ErrorIs(t, u.SendText("hi"), ErrUpstreamClosed)
}

func TestOpenAIUpstreamErrorInsteadOfSession(t *testing.T) {
	url := fakeRealtime(t, func(r *http.Request, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":{"message":"quota exceeded"}}`))
		drain(conn)
	})

	u := NewOpenAIUpstream(url, "sk-test", zap.NewNop())
	err := u.Open(context.Background(), config.RelayVoiceSettings())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestOpenAIUpstreamRequiresKey(t *testing.T) {
	u := NewOpenAIUpstream("ws://127.0.0.1:1", "", zap.NewNop())
	assert.Error(t, u.Open(context.Background(), config.RelayVoiceSettings()))
}

func TestOpenAIUpstreamSendsClientInput(t *testing.T) {
	received := make(chan []byte, 4)
	url := fakeRealtime(t, func(r *http.Request, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.updated"}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	})

	u := NewOpenAIUpstream(url, "sk-test", zap.NewNop())
	require.NoError(t, u.Open(context.Background(), config.RelayVoiceSettings()))
	defer u.Close()

	require.NoError(t, u.SendAudio([]byte{0, 1}))
	require.NoError(t, u.SendText("what do I owe?"))
	require.NoError(t, u.SendEvent([]byte(`{"type":"response.cancel"}`)))

	next := func() string {
		select {
		case data := <-received:
			return string(data)
		case <-time.After(2 * time.Second):
			t.Fatal("nothing received upstream")
			return ""
		}
	}
	assert.Equal(t, `{"type":"input_audio_buffer.append","audio":"AAE="}`, next())
	assert.Contains(t, next(), `"text":"what do I owe?"`)
	assert.Equal(t, `{"type":"response.cancel"}`, next())
}
