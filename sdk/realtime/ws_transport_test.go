package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades requests carrying token=good and echoes every frame
// back; the raw text "garbage" is answered with an undecodable message.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f Frame
			if json.Unmarshal(data, &f) == nil && f.Event == "garbage" {
				data = []byte("{not json")
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketDialer_Unauthorized(t *testing.T) {
	srv := echoServer(t)
	d := NewWebSocketDialer(time.Second, time.Second)

	_, err := d.Dial(context.Background(), wsURL(srv)+"?token=bad")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized), "got %v", err)
}

func TestWebSocketDialer_ConnectionRefused(t *testing.T) {
	d := NewWebSocketDialer(200*time.Millisecond, time.Second)

	_, err := d.Dial(context.Background(), "ws://127.0.0.1:1/ws")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionFailed), "got %v", err)
}

func TestWebSocketDialer_RoundTrip(t *testing.T) {
	srv := echoServer(t)
	d := NewWebSocketDialer(time.Second, time.Second)

	conn, err := d.Dial(context.Background(), wsURL(srv)+"?token=good")
	require.NoError(t, err)
	defer conn.Close()

	f, err := NewFrame("hello", map[string]int{"n": 1})
	require.NoError(t, err)
	require.NoError(t, conn.WriteFrame(context.Background(), f))

	got, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Event)
	assert.JSONEq(t, `{"n":1}`, string(got.Data))

	bad, _ := NewFrame("garbage", nil)
	require.NoError(t, conn.WriteFrame(context.Background(), bad))
	_, err = conn.ReadFrame()
	assert.True(t, errors.Is(err, ErrMalformedFrame), "got %v", err)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

func TestWebSocketConn_CloseDuringBlockedWrite(t *testing.T) {
	release := make(chan struct{})
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	d := NewWebSocketDialer(time.Second, 10*time.Second)
	conn, err := d.Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)

	payload, err := json.Marshal(strings.Repeat("x", 1<<20))
	require.NoError(t, err)

	// The peer never reads, so writes stall once the socket buffers fill.
	writeDone := make(chan error, 1)
	go func() {
		for {
			if err := conn.WriteFrame(context.Background(), Frame{Event: "bulk", Data: payload}); err != nil {
				writeDone <- err
				return
			}
		}
	}()
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	require.NoError(t, conn.Close())
	assert.Less(t, time.Since(start), 3*time.Second)

	select {
	case err := <-writeDone:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("blocked write not released by Close")
	}
}

func TestChannel_OverWebSocket(t *testing.T) {
	srv := echoServer(t)

	ch, err := NewChannel(Config{
		Endpoint:          wsURL(srv),
		ConnectTimeout:    time.Second,
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)
	defer ch.Close()

	r := NewRouter(ch)
	defer r.Close()
	echoes := r.On("echo")

	ch.Connect("good")
	waitState(t, ch, StateConnected)

	require.NoError(t, ch.Send("garbage", nil))
	require.NoError(t, ch.Send("echo", "one"))

	assert.Equal(t, json.RawMessage(`"one"`), next(t, echoes.C()))
	assert.Equal(t, StateConnected, ch.State().State, "malformed frames are skipped")
}
