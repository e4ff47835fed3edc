package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/room4-2/billvoice/audio"
	"github.com/room4-2/billvoice/config"
	"github.com/room4-2/billvoice/dispatch"
	"github.com/room4-2/billvoice/messages"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newServer runs handle for every upgraded connection and returns a ws:// URL.
func newServer(t *testing.T, handle func(r *http.Request, conn *websocket.Conn)) string {
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

// drain keeps the server side open until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func collect(d *dispatch.Dispatcher) <-chan messages.Event {
	ch := make(chan messages.Event, 32)
	d.On(dispatch.Wildcard, func(ev messages.Event) { ch <- ev })
	return ch
}

func next(t *testing.T, ch <-chan messages.Event) messages.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestNewSelectsImplementation(t *testing.T) {
	tr, err := New(config.TransportDirect, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.IsType(t, &Direct{}, tr)

	tr, err = New(config.TransportRelay, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.IsType(t, &Relay{}, tr)

	_, err = New("carrier-pigeon", Options{})
	assert.Error(t, err)
}

func TestDirectRequiresCredential(t *testing.T) {
	d := NewDirect(Options{URL: "ws://127.0.0.1:1", Logger: zap.NewNop()})
	err := d.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.Equal(t, KindMissingCredential, ErrorKindOf(err))
	assert.False(t, d.IsReady())
}

func TestDirectHandshakeNegotiatesSession(t *testing.T) {
	updates := make(chan []byte, 1)
	url := newServer(t, func(r *http.Request, conn *websocket.Conn) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "realtime=v1", r.Header.Get("OpenAI-Beta"))

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created","session":{"id":"sess_1"}}`))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		updates <- data

		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"response.function_call_arguments.done","response_id":"R1","call_id":"call_1","name":"get_bills","arguments":"{\"account_id\":\"acc_1\"}"}`))
		drain(conn)
	})

	d := NewDirect(Options{
		URL:     url,
		APIKey:  "sk-test",
		Session: messages.SessionConfig{Voice: "alloy", Tools: []messages.ToolDefinition{{Type: "function", Name: "get_bills"}}},
		Logger:  zap.NewNop(),
	})
	events := collect(d.Events())

	require.NoError(t, d.Connect(context.Background()))
	defer d.Disconnect()
	assert.True(t, d.IsReady())

	select {
	case data := <-updates:
		assert.Contains(t, string(data), `"type":"session.update"`)
		assert.Contains(t, string(data), `"voice":"alloy"`)
		assert.Contains(t, string(data), `"name":"get_bills"`)
	case <-time.After(2 * time.Second):
		t.Fatal("session.update never sent")
	}

	assert.IsType(t, messages.FunctionCallArgumentsDone{}, next(t, events))
	call, ok := next(t, events).(messages.FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "call_1", call.CallID)
	assert.Equal(t, "get_bills", call.Name)
	assert.JSONEq(t, `{"account_id":"acc_1"}`, call.Arguments)
}

func TestDirectHandshakeTimeout(t *testing.T) {
	url := newServer(t, func(_ *http.Request, conn *websocket.Conn) { drain(conn) })

	d := NewDirect(Options{URL: url, APIKey: "sk-test", Timeout: 100 * time.Millisecond, Logger: zap.NewNop()})
	start := time.Now()
	err := d.Connect(context.Background())

	assert.Equal(t, KindHandshakeTimeout, ErrorKindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, d.IsReady())
}

func TestDirectRejectedByErrorEvent(t *testing.T) {
	url := newServer(t, func(_ *http.Request, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"error","error":{"type":"invalid_request_error","code":"invalid_api_key","message":"Incorrect API key"}}`))
		drain(conn)
	})

	d := NewDirect(Options{URL: url, APIKey: "sk-bad", Logger: zap.NewNop()})
	err := d.Connect(context.Background())
	assert.Equal(t, KindRejected, ErrorKindOf(err))
	assert.ErrorContains(t, err, "Incorrect API key")
}

func TestUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	r := NewRelay(Options{URL: url, Logger: zap.NewNop()})
	err := r.Connect(context.Background())
	assert.Equal(t, KindUnreachable, ErrorKindOf(err))
}

func TestRelayHandshakeRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRelay(Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Logger: zap.NewNop()})
	err := r.Connect(context.Background())
	assert.Equal(t, KindRejected, ErrorKindOf(err))
}

func TestRelayBifurcatesInbound(t *testing.T) {
	url := newServer(t, func(_ *http.Request, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello there"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.created","response":{"id":"R1"}}`))
		drain(conn)
	})

	r := NewRelay(Options{URL: url, Logger: zap.NewNop()})
	events := collect(r.Events())
	require.NoError(t, r.Connect(context.Background()))
	defer r.Disconnect()

	assert.Equal(t, messages.AudioDelta{Audio: []byte{1, 2, 3, 4}}, next(t, events))
	assert.Equal(t, messages.TranscriptDelta{Delta: "hello there"}, next(t, events))
	assert.Equal(t, messages.ResponseCreated{ResponseID: "R1"}, next(t, events))
}

func TestSendFunctionResultThenContinues(t *testing.T) {
	received := make(chan []byte, 4)
	url := newServer(t, func(_ *http.Request, conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	})

	r := NewRelay(Options{URL: url, Logger: zap.NewNop()})
	require.NoError(t, r.Connect(context.Background()))
	defer r.Disconnect()

	r.SendFunctionResult("call_9", map[string]any{"success": true, "message": "ok"})

	first := <-received
	assert.Contains(t, string(first), `"type":"conversation.item.create"`)
	assert.Contains(t, string(first), `"type":"function_call_output"`)
	assert.Contains(t, string(first), `"call_id":"call_9"`)

	var item struct {
		Item struct {
			Output string `json:"output"`
		} `json:"item"`
	}
	require.NoError(t, sonic.Unmarshal(first, &item))
	assert.JSONEq(t, `{"success":true,"message":"ok"}`, item.Item.Output)

	assert.JSONEq(t, `{"type":"response.create"}`, string(<-received))
}

func TestSendWhileDisconnectedIsDropped(t *testing.T) {
	r := NewRelay(Options{URL: "ws://127.0.0.1:1", Logger: zap.NewNop()})
	assert.NotPanics(t, func() {
		r.Send(messages.NewResponseCreate())
		r.SendFunctionResult("call_1", map[string]any{"success": true})
	})
	assert.ErrorIs(t, r.StartCapture(), ErrNotConnected)

	r.Disconnect()
	r.Disconnect()
	assert.False(t, r.IsReady())
}

func TestRemoteCloseEmitsClosed(t *testing.T) {
	url := newServer(t, func(_ *http.Request, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	})

	r := NewRelay(Options{URL: url, Logger: zap.NewNop()})
	events := collect(r.Events())
	require.NoError(t, r.Connect(context.Background()))

	closed, ok := next(t, events).(messages.Closed)
	require.True(t, ok)
	assert.Error(t, closed.Err)
	assert.False(t, r.IsReady())

	r.Disconnect()
}

func TestRelayCaptureSendsBinaryAndReleasesOnDisconnect(t *testing.T) {
	frames := make(chan []byte, 4)
	url := newServer(t, func(_ *http.Request, conn *websocket.Conn) {
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				frames <- data
			}
		}
	})

	src := &audio.FakeSource{}
	player := audio.NewPlayer(&audio.FakeSink{}, zap.NewNop())
	r := NewRelay(Options{URL: url, Source: src, Player: player, Logger: zap.NewNop()})
	require.NoError(t, r.Connect(context.Background()))

	require.NoError(t, r.StartCapture())
	require.NoError(t, r.StartCapture())
	require.NoError(t, src.Emit([]byte{7, 7}))

	select {
	case data := <-frames:
		assert.Equal(t, []byte{7, 7}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("no binary audio frame")
	}

	player.Enqueue([]byte{1})
	r.Disconnect()
	r.Disconnect()

	assert.False(t, src.Running())
	assert.False(t, player.IsPlaying())
	starts, stops := src.Counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestDirectCaptureSendsAppendEvents(t *testing.T) {
	appends := make(chan []byte, 4)
	url := newServer(t, func(_ *http.Request, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created","session":{"id":"s"}}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), messages.TypeInputAudioBufferAppend) {
				appends <- data
			}
		}
	})

	src := &audio.FakeSource{}
	d := NewDirect(Options{URL: url, APIKey: "k", Source: src, Logger: zap.NewNop()})
	require.NoError(t, d.Connect(context.Background()))
	defer d.Disconnect()

	require.NoError(t, d.StartCapture())
	require.NoError(t, src.Emit([]byte{1, 2, 3}))

	select {
	case data := <-appends:
		assert.JSONEq(t, `{"type":"input_audio_buffer.append","audio":"AQID"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("no append event")
	}
}
