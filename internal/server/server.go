// Package server is a small collaboration server for local development and
// end-to-end tests: an in-memory user directory, token auth over HTTP and a
// websocket endpoint that fans chat events out to every connected client.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

const (
	DemoEmail    = "demo@collabspace.com"
	DemoPassword = "demo123"
	DemoUsername = "demo"
)

type Config struct {
	Addr       string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration

	Logger *zerolog.Logger
}

const (
	defaultAddr            = ":3001"
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 7 * 24 * time.Hour
	defaultShutdownTimeout = 5 * time.Second
)

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.AccessTTL == 0 {
		c.AccessTTL = defaultAccessTTL
	}
	if c.RefreshTTL == 0 {
		c.RefreshTTL = defaultRefreshTTL
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

type Server struct {
	cfg      Config
	log      zerolog.Logger
	users    *Directory
	tokens   *Tokens
	typing   *typingTracker
	pubsub   *gochannel.GoChannel
	upgrader websocket.Upgrader
	router   *httprouter.Router

	peersMu sync.Mutex
	peers   map[*peer]struct{}
}

// New builds a server with the demo user already registered.
func New(cfg Config) (*Server, error) {
	cfg.applyDefaults()
	log := cfg.Logger.With().Str("component", "server").Logger()

	s := &Server{
		cfg:    cfg,
		log:    log,
		users:  NewDirectory(cfg.BcryptCost),
		tokens: NewTokens(cfg.AccessTTL, cfg.RefreshTTL),
		typing: newTypingTracker(),
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, newWatermillLogger(log)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		router: httprouter.New(),
		peers:  make(map[*peer]struct{}),
	}

	if _, err := s.users.Register(DemoEmail, DemoUsername, DemoPassword, "Demo", "User"); err != nil {
		return nil, errors.Wrap(err, "seed demo user")
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	s.router.POST("/auth/login", s.handleLogin)
	s.router.POST("/auth/register", s.handleRegister)
	s.router.POST("/auth/refresh", s.handleRefresh)
	s.router.POST("/auth/logout", s.handleLogout)

	s.router.GET("/ws", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Users exposes the directory, e.g. for seeding test accounts.
func (s *Server) Users() *Directory {
	return s.users
}

// Tokens exposes the token table, e.g. for revoking tokens in tests.
func (s *Server) Tokens() *Tokens {
	return s.tokens
}

// Close stops event fan-out and drops every connected socket.
func (s *Server) Close() error {
	err := s.pubsub.Close()
	s.closePeers()
	return err
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.log.Info().Msg("shutting down")
		if err := s.Close(); err != nil {
			s.log.Warn().Err(err).Msg("closing pubsub")
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
