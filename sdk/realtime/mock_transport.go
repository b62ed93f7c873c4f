package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

// MockDialer is a Dialer for tests and examples. Every successful Dial returns
// a fresh MockConn that can be driven with Simulate and Drop.
type MockDialer struct {
	mu         sync.Mutex
	conns      []*MockConn
	urls       []string
	failures   []error
	failOnDial error
}

// NewMockDialer creates a dialer whose dials succeed until told otherwise.
func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

// FailNext queues errors returned by the next len(errs) dials.
func (d *MockDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

// SetFailOnDial makes every dial fail with err until cleared with nil.
func (d *MockDialer) SetFailOnDial(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOnDial = err
}

func (d *MockDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.urls = append(d.urls, url)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return nil, err
	}
	if d.failOnDial != nil {
		return nil, d.failOnDial
	}

	c := NewMockConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// Dials returns how many dials were attempted, failed ones included.
func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// URLs returns every URL dialed so far.
func (d *MockDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.urls...)
}

// Last returns the most recent successful connection, or nil.
func (d *MockDialer) Last() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Conns returns every successful connection in dial order.
func (d *MockDialer) Conns() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MockConn{}, d.conns...)
}

// MockConn is an in-memory Conn.
type MockConn struct {
	in        chan Frame
	closed    chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	sent        []Frame
	dropErr     error
	failOnWrite bool
}

// NewMockConn creates an open connection.
func NewMockConn() *MockConn {
	return &MockConn{
		in:     make(chan Frame, 256),
		closed: make(chan struct{}),
	}
}

// Simulate queues an inbound event as if the server had sent it.
func (m *MockConn) Simulate(event string, payload any) {
	f, err := NewFrame(event, payload)
	if err != nil {
		return
	}
	m.SimulateFrame(f)
}

// SimulateFrame queues a raw inbound frame.
func (m *MockConn) SimulateFrame(f Frame) {
	select {
	case <-m.closed:
	case m.in <- f:
	}
}

// Drop closes the connection from the remote side with err.
func (m *MockConn) Drop(err error) {
	m.mu.Lock()
	if err == nil {
		err = ErrConnectionClosed
	}
	m.dropErr = err
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.closed) })
}

// SetFailOnWrite makes WriteFrame fail while the connection stays open.
func (m *MockConn) SetFailOnWrite(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOnWrite = fail
}

// Sent returns every frame written so far.
func (m *MockConn) Sent() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Frame{}, m.sent...)
}

// SentEvents returns the written frames carrying the given event name.
func (m *MockConn) SentEvents(event string) []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Frame
	for _, f := range m.sent {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// IsClosed reports whether either side closed the connection.
func (m *MockConn) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *MockConn) ReadFrame() (Frame, error) {
	select {
	case f := <-m.in:
		return f, nil
	case <-m.closed:
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.dropErr != nil {
			return Frame{}, m.dropErr
		}
		return Frame{}, ErrConnectionClosed
	}
}

func (m *MockConn) WriteFrame(_ context.Context, f Frame) error {
	if m.IsClosed() {
		return ErrConnectionClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOnWrite {
		return ErrSendFailed
	}
	f.Data = append(json.RawMessage(nil), f.Data...)
	m.sent = append(m.sent, f)
	return nil
}

func (m *MockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}
