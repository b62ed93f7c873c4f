// Package stream provides an in-process publish/subscribe hub.
//
// A Hub has a single publishing side and any number of subscriptions. Every
// subscription owns an unbounded FIFO queue drained by its own goroutine, so
// Publish never blocks on a slow reader and each subscriber observes values in
// publish order. Subscriptions are live filters: a new subscription sees only
// values published after it was created.
package stream

import "sync"

type receiver[T any] interface {
	receive(v T)
	stop()
}

// Hub fans published values out to its subscriptions.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[receiver[T]]struct{}
	closed bool
}

// NewHub creates an open hub with no subscriptions.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[receiver[T]]struct{})}
}

// Publish hands v to every current subscription. It never blocks on readers.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for r := range h.subs {
		r.receive(v)
	}
}

// Subscribe registers a subscription receiving every published value accepted
// by filter. A nil filter accepts everything.
func (h *Hub[T]) Subscribe(filter func(T) bool) *Subscription[T] {
	return Map(h, filter, func(v T) T { return v })
}

// SubscribeWith is Subscribe with initial values queued ahead of anything
// published afterwards.
func (h *Hub[T]) SubscribeWith(initial []T, filter func(T) bool) *Subscription[T] {
	s := newSubscription[T]()
	m := &mapper[T, T]{filter: filter, fn: func(v T) T { return v }, sub: s}
	s.detach = func() { h.remove(m) }

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.stop()
		return s
	}
	for _, v := range initial {
		s.push(v)
	}
	h.subs[m] = struct{}{}
	return s
}

// Len returns the number of live subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close terminates every subscription. Subscriptions created afterwards start
// closed and Publish becomes a no-op.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[receiver[T]]struct{})
	h.mu.Unlock()

	for r := range subs {
		r.stop()
	}
}

func (h *Hub[T]) add(r receiver[T]) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[r] = struct{}{}
	return true
}

func (h *Hub[T]) remove(r receiver[T]) {
	h.mu.Lock()
	delete(h.subs, r)
	h.mu.Unlock()
}

// Map subscribes to h, keeping values accepted by filter and converting them
// with fn before they are queued.
func Map[T, U any](h *Hub[T], filter func(T) bool, fn func(T) U) *Subscription[U] {
	s := newSubscription[U]()
	m := &mapper[T, U]{filter: filter, fn: fn, sub: s}
	s.detach = func() { h.remove(m) }
	if !h.add(m) {
		s.stop()
	}
	return s
}

type mapper[T, U any] struct {
	filter func(T) bool
	fn     func(T) U
	sub    *Subscription[U]
}

func (m *mapper[T, U]) receive(v T) {
	if m.filter != nil && !m.filter(v) {
		return
	}
	m.sub.push(m.fn(v))
}

func (m *mapper[T, U]) stop() {
	m.sub.stop()
}

// Subscription is an owned, cancelable view on a Hub.
type Subscription[T any] struct {
	mu     sync.Mutex
	queue  []T
	wake   chan struct{}
	out    chan T
	done   chan struct{}
	once   sync.Once
	detach func()
}

func newSubscription[T any]() *Subscription[T] {
	s := &Subscription[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
		done: make(chan struct{}),
	}
	go s.pump()
	return s
}

// C returns the delivery channel. It is closed once the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Done is closed when the subscription has been canceled or its hub closed.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Cancel ends the subscription and discards anything still queued. Safe to
// call more than once.
func (s *Subscription[T]) Cancel() {
	s.stop()
	if s.detach != nil {
		s.detach()
	}
}

// Pending returns the number of values queued but not yet delivered.
func (s *Subscription[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) stop() {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		s.queue = nil
		s.mu.Unlock()
	})
}

func (s *Subscription[T]) pump() {
	defer close(s.out)

	var zero T
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
