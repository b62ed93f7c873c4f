package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv[T any](t *testing.T, s *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestHub_PreservesOrderPerSubscriber(t *testing.T) {
	h := NewHub[int]()
	a := h.Subscribe(nil)
	b := h.Subscribe(nil)
	defer a.Cancel()
	defer b.Cancel()

	for i := 0; i < 100; i++ {
		h.Publish(i)
	}

	for i := 0; i < 100; i++ {
		assert.Equal(t, i, recv(t, a))
	}
	for i := 0; i < 100; i++ {
		assert.Equal(t, i, recv(t, b))
	}
}

func TestHub_FilterAndNoReplay(t *testing.T) {
	h := NewHub[string]()
	h.Publish("before")

	evens := h.Subscribe(func(s string) bool { return s == "keep" })
	defer evens.Cancel()

	h.Publish("drop")
	h.Publish("keep")

	assert.Equal(t, "keep", recv(t, evens))
	assert.Equal(t, 0, evens.Pending())
}

func TestMap_TransformsValues(t *testing.T) {
	h := NewHub[int]()
	s := Map(h, func(v int) bool { return v > 1 }, func(v int) string {
		return string(rune('a' + v))
	})
	defer s.Cancel()

	h.Publish(1)
	h.Publish(2)
	assert.Equal(t, "c", recv(t, s))
}

func TestSubscription_CancelClosesChannel(t *testing.T) {
	h := NewHub[int]()
	s := h.Subscribe(nil)
	require.Equal(t, 1, h.Len())

	s.Cancel()
	s.Cancel()

	_, ok := <-s.C()
	assert.False(t, ok)
	assert.Equal(t, 0, h.Len())

	h.Publish(1)
}

func TestHub_CloseTerminatesSubscriptions(t *testing.T) {
	h := NewHub[int]()
	s := h.Subscribe(nil)

	h.Close()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not terminated")
	}
	_, ok := <-s.C()
	assert.False(t, ok)

	late := h.Subscribe(nil)
	_, ok = <-late.C()
	assert.False(t, ok, "subscriptions on a closed hub start closed")
}

func TestHub_SubscribeWithQueuesInitialFirst(t *testing.T) {
	h := NewHub[bool]()
	s := h.SubscribeWith([]bool{true}, nil)
	defer s.Cancel()

	h.Publish(false)

	assert.True(t, recv(t, s))
	assert.False(t, recv(t, s))
}
