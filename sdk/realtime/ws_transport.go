package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WebSocketDialer dials Conns over gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadTimeout bounds the wait for the next frame; zero disables it. Keep it
	// above the server's push interval or the heartbeat interval.
	ReadTimeout time.Duration
	Header      http.Header
}

// NewWebSocketDialer creates a dialer with the given handshake timeout.
func NewWebSocketDialer(handshakeTimeout, writeTimeout time.Duration) *WebSocketDialer {
	return &WebSocketDialer{
		HandshakeTimeout: handshakeTimeout,
		WriteTimeout:     writeTimeout,
	}
}

// Dial opens a websocket. A 401/403 handshake response maps to ErrUnauthorized.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Wrapf(ErrUnauthorized, "handshake status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(ErrConnectionFailed, err.Error())
	}

	return &wsConn{
		conn:         conn,
		writeTimeout: d.WriteTimeout,
		readTimeout:  d.ReadTimeout,
	}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	readTimeout  time.Duration
	closeOnce    sync.Once
}

func (w *wsConn) ReadFrame() (Frame, error) {
	if w.readTimeout > 0 {
		_ = w.conn.SetReadDeadline(time.Now().Add(w.readTimeout))
	}
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Frame{}, errors.Wrap(ErrConnectionClosed, err.Error())
		}
		return Frame{}, err
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	if f.Event == "" {
		return Frame{}, errors.Wrap(ErrMalformedFrame, "missing event")
	}
	return f, nil
}

func (w *wsConn) WriteFrame(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}

	deadline := time.Now().Add(w.writeTimeout)
	if d, ok := ctx.Deadline(); ok && (w.writeTimeout == 0 || d.Before(deadline)) {
		deadline = d
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		// WriteControl may run concurrently with a pending WriteMessage.
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = w.conn.Close()
	})
	return err
}
