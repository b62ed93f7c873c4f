package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Config configures a Channel.
type Config struct {
	// Endpoint is the websocket URL. The bearer token is appended as the
	// "token" query parameter on every dial.
	Endpoint string

	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration

	// MaxReconnectAttempts bounds consecutive failed reconnects before the
	// channel gives up and enters StateFailed.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	// Dialer opens transports. Defaults to a WebSocketDialer.
	Dialer Dialer

	// OnUnauthorized is called (on its own goroutine) when the endpoint rejects
	// the token. The channel stays Disconnected until Connect is called again.
	// ctx is cancelled by Close, which also waits for the callback to return.
	OnUnauthorized func(ctx context.Context)

	Logger *zerolog.Logger
}

const (
	defaultConnectTimeout       = 10 * time.Second
	defaultWriteTimeout         = 10 * time.Second
	defaultHeartbeatInterval    = 30 * time.Second
	defaultMaxReconnectAttempts = 10
	defaultReconnectBaseDelay   = 1 * time.Second
	defaultReconnectMaxDelay    = 30 * time.Second
)

func (c *Config) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}
