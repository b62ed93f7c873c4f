// Package realtime maintains a single logical duplex event channel over an
// unreliable transport, with automatic reconnection, heartbeat probes and
// per-event fan-out of inbound frames.
package realtime

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/incogni23/collab-realtime-sdk/sdk/stream"
)

// Channel owns at most one live connection to the event endpoint. Transport
// failures never reach callers: they drive the reconnect state machine and are
// visible through State and States.
type Channel struct {
	cfg      Config
	endpoint *url.URL
	dialer   Dialer
	log      zerolog.Logger

	mu         sync.Mutex
	state      ConnectionState
	attempt    int
	lastErr    error
	token      string
	gen        uint64
	conn       Conn
	dialCancel context.CancelFunc
	retry      *time.Timer
	stopBeat   chan struct{}
	backoff    *backoff.ExponentialBackOff
	closed     bool

	// lifetime is cancelled by Close; callbacks run under it.
	lifetime context.Context
	shutdown context.CancelFunc

	inbound *stream.Hub[Frame]
	states  *stream.Hub[StateChange]
	wg      sync.WaitGroup
}

// NewChannel validates cfg and returns a Disconnected channel.
func NewChannel(cfg Config) (*Channel, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidEndpoint, err.Error())
	}
	cfg.applyDefaults()

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = NewWebSocketDialer(cfg.ConnectTimeout, cfg.WriteTimeout)
	}

	lifetime, shutdown := context.WithCancel(context.Background())

	return &Channel{
		lifetime: lifetime,
		shutdown: shutdown,
		cfg:      cfg,
		endpoint: endpoint,
		dialer:   dialer,
		log:      cfg.Logger.With().Str("component", "realtime").Logger(),
		state:    StateDisconnected,
		backoff:  newReconnectBackoff(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay),
		inbound:  stream.NewHub[Frame](),
		states:   stream.NewHub[StateChange](),
	}, nil
}

// Connect opens the channel with token as credential. It returns immediately;
// progress is reported through States. Calling Connect while connecting or
// connected is a no-op, except that a new token is adopted for the next retry
// when the channel is Reconnecting.
func (c *Channel) Connect(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.log.Warn().Msg("connect on closed channel ignored")
		return
	}

	switch c.state {
	case StateConnecting, StateConnected:
		return
	case StateReconnecting:
		c.token = token
		return
	}

	c.token = token
	c.attempt = 0
	c.lastErr = nil
	c.backoff.Reset()
	c.setStateLocked(StateConnecting, 0)
	c.dialLocked()
}

// Disconnect closes the connection and cancels every pending dial, retry and
// heartbeat. The channel always ends up Disconnected. Safe to call repeatedly.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

// Close disconnects, terminates every subscription handed out by Inbound and
// States, and waits for the channel's goroutines to exit. The channel cannot
// be reused.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.disconnectLocked()
	c.closed = true
	c.mu.Unlock()

	c.shutdown()
	c.wg.Wait()
	c.inbound.Close()
	c.states.Close()
	c.log.Debug().Msg("channel closed")
}

// Send writes an event if the channel is Connected. Otherwise the event is
// dropped and ErrNotConnected returned; delivery is never guaranteed.
func (c *Channel) Send(event string, payload any) error {
	f, err := NewFrame(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	state, conn := c.state, c.conn
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		c.log.Warn().Str("event", event).Str("state", state.String()).Msg("not connected, dropping event")
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	if err := conn.WriteFrame(ctx, f); err != nil {
		c.log.Warn().Err(err).Str("event", event).Msg("send failed")
		return errors.Wrap(ErrSendFailed, err.Error())
	}
	return nil
}

// State returns the current status.
func (c *Channel) State() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// IsConnected reports whether the channel is Connected.
func (c *Channel) IsConnected() bool {
	return c.State().Connected()
}

// Inbound subscribes to every decoded inbound frame in arrival order.
func (c *Channel) Inbound() *stream.Subscription[Frame] {
	return c.inbound.Subscribe(nil)
}

// States subscribes to state transitions.
func (c *Channel) States() *stream.Subscription[StateChange] {
	return c.states.Subscribe(nil)
}

func (c *Channel) disconnectLocked() {
	c.gen++
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.stopHeartbeatLocked()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Debug().Err(err).Msg("error closing connection")
		}
		c.conn = nil
	}
	c.attempt = 0
	if c.state != StateDisconnected {
		c.setStateLocked(StateDisconnected, 0)
		c.log.Info().Msg("disconnected")
	}
}

func (c *Channel) dialLocked() {
	c.gen++
	gen := c.gen

	u := *c.endpoint
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	c.dialCancel = cancel

	c.wg.Add(1)
	go c.dial(ctx, cancel, gen, u.String())
}

func (c *Channel) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, target string) {
	defer c.wg.Done()

	conn, err := c.dialer.Dial(ctx, target)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.closed {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.dialCancel = nil

	if err != nil {
		c.log.Warn().Err(err).Int("attempt", c.attempt).Msg("dial failed")
		c.handleFailureLocked(err)
		return
	}

	c.conn = conn
	c.attempt = 0
	c.lastErr = nil
	c.backoff.Reset()
	c.setStateLocked(StateConnected, 0)
	c.startHeartbeatLocked()
	c.log.Info().Str("endpoint", c.endpoint.Redacted()).Msg("connected")

	c.wg.Add(1)
	go c.readLoop(conn)
}

func (c *Channel) readLoop(conn Conn) {
	defer c.wg.Done()

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				c.log.Warn().Err(err).Msg("skipping malformed frame")
				continue
			}

			c.mu.Lock()
			if c.conn == conn {
				_ = conn.Close()
				c.conn = nil
				c.log.Warn().Err(err).Msg("connection lost")
				c.handleFailureLocked(err)
			}
			c.mu.Unlock()
			return
		}
		c.inbound.Publish(f)
	}
}

// handleFailureLocked decides between a scheduled retry and giving up.
func (c *Channel) handleFailureLocked(err error) {
	c.lastErr = err
	c.stopHeartbeatLocked()

	if errors.Is(err, ErrUnauthorized) {
		c.attempt = 0
		c.setStateLocked(StateDisconnected, 0)
		if cb := c.cfg.OnUnauthorized; cb != nil {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				cb(c.lifetime)
			}()
		}
		return
	}

	if c.attempt >= c.cfg.MaxReconnectAttempts {
		c.log.Error().Err(err).Int("attempts", c.attempt).Msg("max reconnection attempts reached")
		c.setStateLocked(StateFailed, 0)
		return
	}

	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop {
		c.setStateLocked(StateFailed, 0)
		return
	}
	c.attempt++

	gen := c.gen
	c.retry = time.AfterFunc(delay, func() { c.redial(gen) })
	c.setStateLocked(StateReconnecting, delay)
	c.log.Info().Dur("delay", delay).Int("attempt", c.attempt).Msg("reconnecting")
}

func (c *Channel) redial(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen || c.state != StateReconnecting {
		return
	}
	c.retry = nil
	c.dialLocked()
}

func (c *Channel) startHeartbeatLocked() {
	c.stopHeartbeatLocked()
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}

	stop := make(chan struct{})
	c.stopBeat = stop
	c.wg.Add(1)
	go c.heartbeat(stop)
}

func (c *Channel) stopHeartbeatLocked() {
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
}

func (c *Channel) heartbeat(stop <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			_ = c.Send(EventPing, PingPayload{Timestamp: now.UnixMilli()})
		}
	}
}

func (c *Channel) heartbeatRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopBeat != nil
}

func (c *Channel) statusLocked() Status {
	return Status{
		State:            c.state,
		ReconnectAttempt: c.attempt,
		LastError:        c.lastErr,
	}
}

func (c *Channel) setStateLocked(s ConnectionState, delay time.Duration) {
	c.state = s
	c.states.Publish(StateChange{Status: c.statusLocked(), Delay: delay})
}

func newReconnectBackoff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
