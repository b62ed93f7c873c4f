package auth

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/incogni23/collab-realtime-sdk/sdk/chat"
	"github.com/incogni23/collab-realtime-sdk/sdk/stream"
)

// Connector is what the Holder re-opens with a fresh token after a refresh.
type Connector interface {
	Connect(token string)
}

// EventType tells session events apart.
type EventType int

const (
	EventLoggedIn EventType = iota
	EventRefreshed
	EventSessionEnded
)

func (t EventType) String() string {
	switch t {
	case EventLoggedIn:
		return "logged-in"
	case EventRefreshed:
		return "refreshed"
	case EventSessionEnded:
		return "session-ended"
	default:
		return "unknown"
	}
}

// Event reports a change of the authenticated session. Err is set on
// EventSessionEnded when the session ended because of a failure.
type Event struct {
	Type EventType
	User *chat.User
	Err  error
}

// Holder owns the session credentials and their refresh contract.
type Holder struct {
	client *Client
	store  TokenStore
	log    zerolog.Logger

	mu        sync.RWMutex
	creds     Credentials
	connector Connector

	refresh singleflight.Group
	events  *stream.Hub[Event]
}

// NewHolder restores previously stored credentials. An incomplete or
// unreadable stored triple is cleared.
func NewHolder(client *Client, store TokenStore) *Holder {
	h := &Holder{
		client: client,
		store:  store,
		log:    client.log.With().Str("subcomponent", "holder").Logger(),
		events: stream.NewHub[Event](),
	}

	creds, ok, err := store.Load()
	switch {
	case err != nil:
		h.log.Warn().Err(err).Msg("discarding stored credentials")
		h.clearStore()
	case ok && creds.Complete():
		h.creds = creds
	case ok:
		h.log.Warn().Msg("discarding incomplete stored credentials")
		h.clearStore()
	}
	return h
}

// SetConnector registers the transport to re-open after a refresh.
func (h *Holder) SetConnector(c Connector) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connector = c
}

// Login authenticates and stores the returned credentials.
func (h *Holder) Login(ctx context.Context, req LoginRequest) (*chat.User, error) {
	resp, err := h.client.Login(ctx, req)
	if err != nil {
		h.log.Error().Err(err).Msg("login failed")
		return nil, err
	}
	return h.accept(resp, EventLoggedIn)
}

// Register creates an account and stores the returned credentials.
func (h *Holder) Register(ctx context.Context, req RegisterRequest) (*chat.User, error) {
	resp, err := h.client.Register(ctx, req)
	if err != nil {
		h.log.Error().Err(err).Msg("registration failed")
		return nil, err
	}
	return h.accept(resp, EventLoggedIn)
}

// Logout ends the session. Local credentials are cleared even when the
// server call fails; that failure is still returned.
func (h *Holder) Logout(ctx context.Context) error {
	token := h.AccessToken()
	var err error
	if token != "" {
		err = h.client.Logout(ctx, token)
	}
	h.end(nil)
	return err
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers
// share one exchange. Any failure ends the session, except when ctx ended
// first.
func (h *Holder) Refresh(ctx context.Context) (string, error) {
	v, err, _ := h.refresh.Do("refresh", func() (any, error) {
		h.mu.RLock()
		refreshToken := h.creds.RefreshToken
		h.mu.RUnlock()

		if refreshToken == "" {
			return "", ErrNotAuthenticated
		}

		resp, err := h.client.Refresh(ctx, refreshToken)
		if err != nil && ctx.Err() != nil {
			h.log.Debug().Err(err).Msg("token refresh abandoned")
			return "", err
		}
		if err != nil {
			h.log.Warn().Err(err).Msg("token refresh failed, ending session")
			h.end(err)
			return "", err
		}
		if _, err := h.accept(resp, EventRefreshed); err != nil {
			return "", err
		}
		return resp.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// HandleUnauthorized runs the one-shot refresh after the transport was
// rejected and reconnects with the new token.
func (h *Holder) HandleUnauthorized(ctx context.Context) error {
	token, err := h.Refresh(ctx)
	if err != nil {
		return err
	}

	h.mu.RLock()
	connector := h.connector
	h.mu.RUnlock()

	if connector != nil {
		connector.Connect(token)
	}
	return nil
}

// AccessToken returns the current access token, or "".
func (h *Holder) AccessToken() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.creds.AccessToken
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (h *Holder) CurrentUser() *chat.User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.creds.User == nil {
		return nil
	}
	u := *h.creds.User
	return &u
}

// IsAuthenticated reports whether an access token is held.
func (h *Holder) IsAuthenticated() bool {
	return h.AccessToken() != ""
}

// Events yields session changes.
func (h *Holder) Events() *stream.Subscription[Event] {
	return h.events.Subscribe(nil)
}

// Close ends the event stream.
func (h *Holder) Close() {
	h.events.Close()
}

func (h *Holder) accept(resp *AuthResponse, typ EventType) (*chat.User, error) {
	user := resp.User
	creds := Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User:         &user,
	}
	if !creds.Complete() {
		return nil, clientError(errors.New("incomplete auth response"))
	}
	if err := h.store.Save(creds); err != nil {
		return nil, errors.Wrap(err, "persist credentials")
	}

	h.mu.Lock()
	h.creds = creds
	h.mu.Unlock()

	out := user
	h.events.Publish(Event{Type: typ, User: &out})
	return &user, nil
}

func (h *Holder) end(cause error) {
	h.mu.Lock()
	h.creds = Credentials{}
	h.mu.Unlock()

	h.clearStore()
	h.events.Publish(Event{Type: EventSessionEnded, Err: cause})
}

func (h *Holder) clearStore() {
	if err := h.store.Clear(); err != nil {
		h.log.Error().Err(err).Msg("failed to clear stored credentials")
	}
}
