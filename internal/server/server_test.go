package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/incogni23/collab-realtime-sdk/sdk/auth"
	"github.com/incogni23/collab-realtime-sdk/sdk/chat"
	"github.com/incogni23/collab-realtime-sdk/sdk/realtime"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(Config{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Close()
		ts.Close()
	})
	return s, ts
}

func postJSON(t *testing.T, url string, body any, bearer string) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func login(t *testing.T, ts *httptest.Server, email, password string) auth.AuthResponse {
	t.Helper()
	resp, body := postJSON(t, ts.URL+"/auth/login", auth.LoginRequest{Email: email, Password: password}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out auth.AuthResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) realtime.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f realtime.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil skips frames until one named event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) realtime.Frame {
	t.Helper()
	for {
		f := readFrame(t, conn)
		if f.Event == event {
			return f
		}
	}
}

func TestLogin(t *testing.T) {
	_, ts := newTestServer(t)

	got := login(t, ts, "Demo@CollabSpace.com", DemoPassword)
	assert.NotEmpty(t, got.AccessToken)
	assert.NotEmpty(t, got.RefreshToken)
	assert.Equal(t, DemoEmail, got.User.Email)

	resp, body := postJSON(t, ts.URL+"/auth/login", auth.LoginRequest{Email: DemoEmail, Password: "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"statusCode":401,"message":"Invalid credentials","error":"Unauthorized"}`, string(body))
}

func TestRegister(t *testing.T) {
	_, ts := newTestServer(t)

	req := auth.RegisterRequest{Email: "ada@example.com", Username: "ada", Password: "secret1"}
	resp, body := postJSON(t, ts.URL+"/auth/register", req, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = postJSON(t, ts.URL+"/auth/register", req, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "User already exists")

	resp, body = postJSON(t, ts.URL+"/auth/register", auth.RegisterRequest{Email: "bad"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "email must be an email")

	got := login(t, ts, "ada@example.com", "secret1")
	assert.Equal(t, "ada", got.User.Username)
}

func TestRefreshRotatesTokens(t *testing.T) {
	_, ts := newTestServer(t)
	first := login(t, ts, DemoEmail, DemoPassword)

	resp, body := postJSON(t, ts.URL+"/auth/refresh", refreshBody{RefreshToken: first.RefreshToken}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second auth.AuthResponse
	require.NoError(t, json.Unmarshal(body, &second))
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	// refresh tokens are single use
	resp, _ = postJSON(t, ts.URL+"/auth/refresh", refreshBody{RefreshToken: first.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutRevokes(t *testing.T) {
	s, ts := newTestServer(t)
	grant := login(t, ts, DemoEmail, DemoPassword)

	resp, _ := postJSON(t, ts.URL+"/auth/logout", struct{}{}, grant.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, ok := s.Tokens().Authenticate(grant.AccessToken)
	assert.False(t, ok)
	resp, _ = postJSON(t, ts.URL+"/auth/refresh", refreshBody{RefreshToken: grant.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postJSON(t, ts.URL+"/auth/logout", struct{}{}, grant.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTokensExpire(t *testing.T) {
	tokens := NewTokens(time.Minute, time.Hour)
	now := time.Now()
	tokens.now = func() time.Time { return now }

	access, refresh := tokens.Issue("u1")
	id, ok := tokens.Authenticate(access)
	require.True(t, ok)
	assert.Equal(t, "u1", id)

	now = now.Add(2 * time.Minute)
	_, ok = tokens.Authenticate(access)
	assert.False(t, ok)

	_, newAccess, _, ok := tokens.Rotate(refresh)
	require.True(t, ok)
	_, ok = tokens.Authenticate(newAccess)
	assert.True(t, ok)
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	_, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketPingPong(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts, login(t, ts, DemoEmail, DemoPassword).AccessToken)

	require.NoError(t, conn.WriteJSON(realtime.Frame{Event: realtime.EventPing, Data: json.RawMessage(`{"timestamp":42}`)}))
	f := readFrame(t, conn)
	assert.Equal(t, realtime.EventPong, f.Event)
	assert.JSONEq(t, `{"timestamp":42}`, string(f.Data))
}

func TestWebSocketBroadcastsMessages(t *testing.T) {
	s, ts := newTestServer(t)
	_, err := s.Users().Register("ada@example.com", "ada", "secret1", "", "")
	require.NoError(t, err)

	demo := login(t, ts, DemoEmail, DemoPassword)
	ada := login(t, ts, "ada@example.com", "secret1")
	sender := dialWS(t, ts, demo.AccessToken)
	receiver := dialWS(t, ts, ada.AccessToken)

	// both sockets are subscribed once a ping round trip completes
	for _, c := range []*websocket.Conn{sender, receiver} {
		require.NoError(t, c.WriteJSON(realtime.Frame{Event: realtime.EventPing, Data: json.RawMessage(`{}`)}))
		readUntil(t, c, realtime.EventPong)
	}

	f, err := realtime.NewFrame(chat.EventMessageSend, chat.SendMessagePayload{
		ClientID:       "c-1",
		ConversationID: "conv-1",
		Content:        "hello",
	})
	require.NoError(t, err)
	require.NoError(t, sender.WriteJSON(f))

	for _, c := range []*websocket.Conn{sender, receiver} {
		got := readUntil(t, c, chat.EventMessageNew)
		msg, err := realtime.Decode[chat.Message](got.Data)
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "c-1", msg.ClientID)
		assert.Equal(t, demo.User.ID, msg.SenderID)
		assert.Equal(t, chat.MessageText, msg.Type)
		assert.Equal(t, chat.MessageSent, msg.Status)
	}
}

func TestWebSocketTypingAggregates(t *testing.T) {
	_, ts := newTestServer(t)
	demo := login(t, ts, DemoEmail, DemoPassword)
	conn := dialWS(t, ts, demo.AccessToken)

	f, err := realtime.NewFrame(chat.EventTyping, chat.TypingSignal{ConversationID: "conv-1", IsTyping: true})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(f))

	got := readUntil(t, conn, chat.EventTyping)
	p, err := realtime.Decode[chat.TypingPayload](got.Data)
	require.NoError(t, err)
	assert.Equal(t, "conv-1", p.ConversationID)
	assert.Equal(t, []string{demo.User.ID}, p.UserIDs)
}

func TestWebSocketReportsBadPayload(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts, login(t, ts, DemoEmail, DemoPassword).AccessToken)

	require.NoError(t, conn.WriteJSON(realtime.Frame{Event: chat.EventMessageSend, Data: json.RawMessage(`"nope"`)}))
	got := readUntil(t, conn, chat.EventError)
	p, err := realtime.Decode[chat.ErrorPayload](got.Data)
	require.NoError(t, err)
	assert.Equal(t, "bad_request", p.Code)
}

func TestTypingTracker(t *testing.T) {
	tr := newTypingTracker()
	assert.True(t, tr.set("c", "u2", true))
	assert.True(t, tr.set("c", "u1", true))
	assert.False(t, tr.set("c", "u1", true))
	assert.Equal(t, []string{"u1", "u2"}, tr.users("c"))

	assert.Equal(t, []string{"c"}, tr.clearUser("u1"))
	assert.Equal(t, []string{"u2"}, tr.users("c"))
	assert.True(t, tr.set("c", "u2", false))
	assert.Empty(t, tr.users("c"))
}
