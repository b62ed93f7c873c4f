package realtime

import "context"

// Conn is one open duplex transport. ReadFrame is only called from a single
// goroutine; WriteFrame may be called concurrently with ReadFrame.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(ctx context.Context, f Frame) error
	Close() error
}

// Dialer opens a Conn to a fully formed URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
