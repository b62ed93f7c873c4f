package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/incogni23/collab-realtime-sdk/internal/server"
	"github.com/incogni23/collab-realtime-sdk/sdk/auth"
	"github.com/incogni23/collab-realtime-sdk/sdk/chat"
	"github.com/incogni23/collab-realtime-sdk/sdk/realtime"
)

func newDemoServer(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()
	srv, err := server.New(server.Config{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Close()
		ts.Close()
	})
	return srv, ts
}

func demoConfig(ts *httptest.Server) Config {
	return Config{
		APIURL: ts.URL,
		WSURL:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		Realtime: RealtimeConfig{
			ReconnectBaseDelay: 10 * time.Millisecond,
			ReconnectMaxDelay:  50 * time.Millisecond,
		},
		Auth: AuthConfig{MaxRetries: -1},
	}
}

func TestEndToEnd_LoginSendAndReceive(t *testing.T) {
	srv, ts := newDemoServer(t)
	_, err := srv.Users().Register("ada@example.com", "ada", "secret1", "", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, err := New(demoConfig(ts))
	require.NoError(t, err)
	defer alice.Close()
	bob, err := New(demoConfig(ts))
	require.NoError(t, err)
	defer bob.Close()

	_, err = alice.Login(ctx, server.DemoEmail, server.DemoPassword)
	require.NoError(t, err)
	_, err = bob.Login(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, alice.WaitConnected(ctx))
	require.NoError(t, bob.WaitConnected(ctx))
	assert.False(t, alice.Store().State().Loading)

	// a pong proves bob's socket is subscribed to broadcasts
	pongs := bob.Router().On(realtime.EventPong)
	defer pongs.Cancel()
	require.NoError(t, bob.Channel().Send(realtime.EventPing, realtime.PingPayload{Timestamp: 1}))
	select {
	case <-pongs.C():
	case <-ctx.Done():
		t.Fatal("no pong")
	}

	msg, err := alice.SendMessage("general", "hello bob")
	require.NoError(t, err)

	eventually(t, func() bool {
		got := alice.Store().Messages("general")
		return len(got) == 1 && got[0].Status == chat.MessageSent
	}, "sender never saw its message confirmed")
	confirmed := alice.Store().Messages("general")[0]
	assert.NotEqual(t, msg.ClientID, confirmed.ID)
	assert.Equal(t, msg.ClientID, confirmed.ClientID)

	eventually(t, func() bool { return len(bob.Store().Messages("general")) == 1 }, "receiver never got the message")
	got := bob.Store().Messages("general")[0]
	assert.Equal(t, confirmed.ID, got.ID)
	assert.Equal(t, "hello bob", got.Content)
	assert.Equal(t, 1, bob.Store().UnreadCount("general"))
	assert.Equal(t, 0, alice.Store().UnreadCount("general"))

	require.NoError(t, alice.SetTyping("general", true))
	eventually(t, func() bool { return len(bob.Store().TypingUsers("general")) == 1 }, "typing never propagated")
}

func TestEndToEnd_LoginFailureSetsError(t *testing.T) {
	_, ts := newDemoServer(t)
	s, err := New(demoConfig(ts))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Login(context.Background(), server.DemoEmail, "wrong")
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Equal(t, "Invalid credentials", s.Store().State().Error)
	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, realtime.StateDisconnected, s.Status().State)
}

func TestEndToEnd_RejectedTokenIsRefreshed(t *testing.T) {
	srv, ts := newDemoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := New(demoConfig(ts))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Login(ctx, server.DemoEmail, server.DemoPassword)
	require.NoError(t, err)
	require.NoError(t, s.WaitConnected(ctx))
	stale := s.Auth().AccessToken()

	// the access token expires server-side and the socket drops
	srv.Tokens().Expire(stale)
	s.Channel().Disconnect()
	s.Channel().Connect(stale)

	eventually(t, func() bool {
		return s.Channel().IsConnected() && s.Auth().AccessToken() != stale
	}, "channel never reconnected with a refreshed token")
	assert.True(t, s.IsAuthenticated())
}

func TestEndToEnd_RefreshFailureEndsSession(t *testing.T) {
	srv, ts := newDemoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := New(demoConfig(ts))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Login(ctx, server.DemoEmail, server.DemoPassword)
	require.NoError(t, err)
	require.NoError(t, s.WaitConnected(ctx))

	// revoking the access token also invalidates its refresh token
	stale := s.Auth().AccessToken()
	srv.Tokens().Revoke(stale)
	s.Channel().Disconnect()
	s.Channel().Connect(stale)

	eventually(t, func() bool { return !s.IsAuthenticated() }, "session never ended")
	eventually(t, func() bool { return s.Store().State().Error == "Invalid refresh token" }, "error never surfaced")
	assert.Equal(t, realtime.StateDisconnected, s.Status().State)
}

func TestEndToEnd_Logout(t *testing.T) {
	_, ts := newDemoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := New(demoConfig(ts))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Login(ctx, server.DemoEmail, server.DemoPassword)
	require.NoError(t, err)
	require.NoError(t, s.WaitConnected(ctx))
	s.Store().SetConversations([]chat.Conversation{{ID: "c1"}})

	require.NoError(t, s.Logout(ctx))
	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, realtime.StateDisconnected, s.Status().State)
	eventually(t, func() bool { return len(s.Store().Conversations()) == 0 }, "store never reset")
}
