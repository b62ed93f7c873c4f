package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-c:
		require.True(t, ok, "stream closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestRouter_OnFiltersByEventName(t *testing.T) {
	dialer := NewMockDialer()
	ch := newTestChannel(t, dialer, nil)
	r := NewRouter(ch)
	defer r.Close()

	messages := r.On("message:new")
	defer messages.Cancel()
	typing := r.On("typing")
	defer typing.Cancel()

	ch.Connect("t")
	waitState(t, ch, StateConnected)

	conn := dialer.Last()
	conn.Simulate("message:new", map[string]string{"id": "m1"})
	conn.Simulate("typing", []string{"u1"})
	conn.Simulate("message:new", map[string]string{"id": "m2"})

	assert.JSONEq(t, `{"id":"m1"}`, string(next(t, messages.C())))
	assert.JSONEq(t, `{"id":"m2"}`, string(next(t, messages.C())))
	assert.JSONEq(t, `["u1"]`, string(next(t, typing.C())))
}

func TestRouter_FansOutToIndependentSubscribers(t *testing.T) {
	dialer := NewMockDialer()
	ch := newTestChannel(t, dialer, nil)
	r := NewRouter(ch)
	defer r.Close()

	a := r.On("message:new")
	b := r.On("message:new")
	all := r.OnAny()

	ch.Connect("t")
	waitState(t, ch, StateConnected)
	conn := dialer.Last()

	conn.Simulate("message:new", 1)
	assert.Equal(t, json.RawMessage("1"), next(t, a.C()))

	a.Cancel()
	conn.Simulate("message:new", 2)

	assert.Equal(t, json.RawMessage("1"), next(t, b.C()))
	assert.Equal(t, json.RawMessage("2"), next(t, b.C()))
	assert.Equal(t, "message:new", next(t, all.C()).Event)
	assert.Equal(t, json.RawMessage("2"), next(t, all.C()).Data)

	late := r.On("message:new")
	conn.Simulate("message:new", 3)
	assert.Equal(t, json.RawMessage("3"), next(t, late.C()), "late subscribers see only new events")
}

func TestRouter_ConnectionStatus(t *testing.T) {
	dialer := NewMockDialer()
	ch := newTestChannel(t, dialer, nil)
	r := NewRouter(ch)
	defer r.Close()

	status := r.ConnectionStatus()
	assert.False(t, next(t, status.C()))

	ch.Connect("t")
	assert.True(t, next(t, status.C()))

	dialer.Last().Drop(nil)
	assert.False(t, next(t, status.C()))
	assert.True(t, next(t, status.C()))

	ch.Disconnect()
	assert.False(t, next(t, status.C()))
}

func TestRouter_ChannelCloseEndsSubscriptions(t *testing.T) {
	dialer := NewMockDialer()
	ch := newTestChannel(t, dialer, nil)
	r := NewRouter(ch)

	sub := r.On("anything")
	status := r.ConnectionStatus()

	ch.Close()

	for _, done := range []<-chan struct{}{sub.Done(), status.Done()} {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("router subscription outlived its channel")
		}
	}
	r.Close()
}
