// Package session assembles the realtime channel, event router, chat store
// and auth holder into one explicitly owned client session.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/incogni23/collab-realtime-sdk/sdk/auth"
	"github.com/incogni23/collab-realtime-sdk/sdk/chat"
	"github.com/incogni23/collab-realtime-sdk/sdk/realtime"
	"github.com/incogni23/collab-realtime-sdk/sdk/stream"
)

const refreshTimeout = 30 * time.Second

// Option configures New.
type Option func(*options)

type options struct {
	logger     zerolog.Logger
	dialer     realtime.Dialer
	httpClient *http.Client
	tokens     auth.TokenStore
}

// WithLogger sets the logger shared by every component.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDialer replaces the websocket transport, e.g. with a MockDialer.
func WithDialer(d realtime.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithHTTPClient sets the client used for the auth endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTokenStore overrides the store selected by Config.TokenFile.
func WithTokenStore(s auth.TokenStore) Option {
	return func(o *options) { o.tokens = s }
}

// Session owns every stateful component of a signed-in client. Nothing is
// global: two sessions never share state.
type Session struct {
	log zerolog.Logger

	store   *chat.Store
	holder  *auth.Holder
	channel *realtime.Channel
	router  *realtime.Router
	syncer  *Sync

	authEvents *stream.Subscription[auth.Event]
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// New wires a session from cfg. The channel is not opened until Start,
// Login or Register.
func New(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tokens == nil {
		if cfg.TokenFile != "" {
			o.tokens = auth.NewFileTokenStore(cfg.TokenFile)
		} else {
			o.tokens = auth.NewMemoryTokenStore()
		}
	}
	if o.httpClient == nil && cfg.Auth.RequestTimeout > 0 {
		o.httpClient = &http.Client{Timeout: cfg.Auth.RequestTimeout}
	}

	s := &Session{
		log:   o.logger.With().Str("component", "session").Logger(),
		store: chat.NewStore(chat.WithLogger(o.logger)),
	}

	client, err := auth.NewClient(auth.Config{
		BaseURL:        cfg.APIURL,
		HTTPClient:     o.httpClient,
		MaxRetries:     cfg.Auth.MaxRetries,
		RetryBaseDelay: cfg.Auth.RetryBaseDelay,
		Loading:        auth.NewLoadingTracker(s.store.SetLoading),
		Logger:         &o.logger,
	})
	if err != nil {
		return nil, err
	}
	s.holder = auth.NewHolder(client, o.tokens)

	s.channel, err = realtime.NewChannel(realtime.Config{
		Endpoint:             cfg.WSURL,
		ConnectTimeout:       cfg.Realtime.ConnectTimeout,
		WriteTimeout:         cfg.Realtime.WriteTimeout,
		HeartbeatInterval:    cfg.Realtime.HeartbeatInterval,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Realtime.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Realtime.ReconnectMaxDelay,
		Dialer:               o.dialer,
		OnUnauthorized:       s.onUnauthorized,
		Logger:               &o.logger,
	})
	if err != nil {
		s.holder.Close()
		return nil, err
	}
	s.holder.SetConnector(s.channel)

	s.router = realtime.NewRouter(s.channel)
	s.syncer = NewSync(s.router, s.store, s.selfID, o.logger)

	s.authEvents = s.holder.Events()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for e := range s.authEvents.C() {
			s.onAuthEvent(e)
		}
	}()

	return s, nil
}

// Store returns the conversation and message state.
func (s *Session) Store() *chat.Store { return s.store }

// Auth returns the credential holder.
func (s *Session) Auth() *auth.Holder { return s.holder }

// Channel returns the realtime channel.
func (s *Session) Channel() *realtime.Channel { return s.channel }

// Router returns the router that dispatches channel events.
func (s *Session) Router() *realtime.Router { return s.router }

// Status returns the channel state.
func (s *Session) Status() realtime.Status { return s.channel.State() }

// CurrentUser returns the signed-in user, or nil.
func (s *Session) CurrentUser() *chat.User { return s.holder.CurrentUser() }

// IsAuthenticated reports whether the session holds an access token.
func (s *Session) IsAuthenticated() bool { return s.holder.IsAuthenticated() }

// Start opens the realtime channel with the stored access token.
func (s *Session) Start() error {
	token := s.holder.AccessToken()
	if token == "" {
		return auth.ErrNotAuthenticated
	}
	s.channel.Connect(token)
	return nil
}

// WaitConnected blocks until the channel is Connected. It fails when the
// channel is or becomes Failed or Disconnected, when the session ends, or
// when ctx ends first. A rejected token being refreshed is waited out.
func (s *Session) WaitConnected(ctx context.Context) error {
	states := s.channel.States()
	defer states.Cancel()
	sessionEvents := s.holder.Events()
	defer sessionEvents.Cancel()

	if done, err := s.connectOutcome(s.channel.State(), false); done {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sessionEvents.C():
			if !ok {
				return realtime.ErrClosed
			}
			if e.Type == auth.EventSessionEnded {
				return errors.Wrap(auth.ErrNotAuthenticated, "session ended while connecting")
			}
		case sc, ok := <-states.C():
			if !ok {
				return realtime.ErrClosed
			}
			if done, err := s.connectOutcome(sc.Status, true); done {
				return err
			}
		}
	}
}

// connectOutcome reports whether st settles a pending connect, and how. While
// waiting, a Disconnected caused by a rejected token is not final as long as
// the session can still refresh it.
func (s *Session) connectOutcome(st realtime.Status, waiting bool) (bool, error) {
	switch st.State {
	case realtime.StateConnected:
		return true, nil
	case realtime.StateFailed:
		return true, errors.Wrap(realtime.ErrConnectionFailed, errString(st.LastError))
	case realtime.StateDisconnected:
		if st.LastError == nil {
			return true, realtime.ErrNotConnected
		}
		if waiting && errors.Is(st.LastError, realtime.ErrUnauthorized) && s.holder.IsAuthenticated() {
			return false, nil
		}
		return true, errors.Wrap(realtime.ErrNotConnected, st.LastError.Error())
	default:
		return false, nil
	}
}

// Login signs in and opens the channel.
func (s *Session) Login(ctx context.Context, email, password string) (*chat.User, error) {
	user, err := s.holder.Login(ctx, auth.LoginRequest{Email: email, Password: password})
	if err != nil {
		s.store.SetError(userMessage(err))
		return nil, err
	}
	s.store.SetError("")
	return user, s.Start()
}

// Register creates an account and opens the channel.
func (s *Session) Register(ctx context.Context, req auth.RegisterRequest) (*chat.User, error) {
	user, err := s.holder.Register(ctx, req)
	if err != nil {
		s.store.SetError(userMessage(err))
		return nil, err
	}
	s.store.SetError("")
	return user, s.Start()
}

// Logout disconnects, ends the session server-side and clears local state.
// Local state is cleared even when the server call fails.
func (s *Session) Logout(ctx context.Context) error {
	s.channel.Disconnect()
	return s.holder.Logout(ctx)
}

// SendMessage adds an optimistic pending message and sends it. If the
// channel drops the send, the message is marked failed and the error
// returned.
func (s *Session) SendMessage(conversationID, content string) (chat.Message, error) {
	now := time.Now()
	clientID := uuid.NewString()
	msg := chat.Message{
		ID:             clientID,
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       s.selfID(),
		Content:        content,
		Type:           chat.MessageText,
		IsRead:         true,
		Status:         chat.MessagePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.store.AddMessage(conversationID, msg)

	err := s.channel.Send(chat.EventMessageSend, chat.SendMessagePayload{
		ClientID:       clientID,
		ConversationID: conversationID,
		Content:        content,
		Type:           chat.MessageText,
	})
	if err != nil {
		failed := chat.MessageFailed
		s.store.UpdateMessage(conversationID, clientID, chat.MessagePatch{Status: &failed})
		msg.Status = failed
		return msg, err
	}
	return msg, nil
}

// SetTyping tells the server whether the user is typing in a conversation.
func (s *Session) SetTyping(conversationID string, typing bool) error {
	return s.channel.Send(chat.EventTyping, chat.TypingSignal{
		ConversationID: conversationID,
		IsTyping:       typing,
	})
}

// MarkRead clears the conversation's unread state locally and tells the
// server. The local change is kept even if the send is dropped.
func (s *Session) MarkRead(conversationID string) error {
	s.store.MarkAsRead(conversationID)
	return s.channel.Send(chat.EventMessageRead, chat.ReadPayload{
		ConversationID: conversationID,
		UserID:         s.selfID(),
	})
}

// OpenConversation makes the conversation active and marks it read.
func (s *Session) OpenConversation(conversationID string) error {
	s.store.SetActiveConversation(conversationID)
	return s.MarkRead(conversationID)
}

// Close tears the session down: subscriptions end, the channel closes and
// the store resets. Stored credentials are kept.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.syncer.Stop()
		s.router.Close()
		s.channel.Close()

		s.authEvents.Cancel()
		s.holder.Close()
		s.wg.Wait()

		s.store.Reset()
		s.store.Close()
		s.log.Debug().Msg("session closed")
	})
}

func (s *Session) selfID() string {
	if u := s.holder.CurrentUser(); u != nil {
		return u.ID
	}
	return ""
}

// onUnauthorized runs when the channel's token is rejected. ctx ends when
// the channel closes.
func (s *Session) onUnauthorized(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	if err := s.holder.HandleUnauthorized(ctx); err != nil {
		s.log.Warn().Err(err).Msg("could not recover from rejected token")
	}
}

func (s *Session) onAuthEvent(e auth.Event) {
	switch e.Type {
	case auth.EventSessionEnded:
		s.channel.Disconnect()
		s.store.Reset()
		if e.Err != nil {
			s.store.SetError(userMessage(e.Err))
		}
		s.log.Info().Msg("session ended")
	case auth.EventLoggedIn:
		s.log.Info().Str("user", e.User.Username).Msg("logged in")
	case auth.EventRefreshed:
		s.log.Debug().Msg("tokens refreshed")
	}
}

func userMessage(err error) string {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return authErr.UserMessage
	}
	return err.Error()
}

func errString(err error) string {
	if err == nil {
		return "gave up reconnecting"
	}
	return err.Error()
}
