package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/incogni23/collab-realtime-sdk/sdk/auth"
	"github.com/incogni23/collab-realtime-sdk/sdk/chat"
	"github.com/incogni23/collab-realtime-sdk/sdk/session"
)

type rootFlags struct {
	configPath string
	apiURL     string
	wsURL      string
	tokenFile  string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:          "collab-client",
		Short:        "Command line client for the collaboration server",
		SilenceUsage: true,
	}

	defaultTokens := ""
	if dir, err := os.UserConfigDir(); err == nil {
		defaultTokens = filepath.Join(dir, "collab", "credentials.yaml")
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&flags.apiURL, "api-url", "http://localhost:3001", "Auth API base URL")
	pf.StringVar(&flags.wsURL, "ws-url", "ws://localhost:3001/ws", "Realtime websocket URL")
	pf.StringVar(&flags.tokenFile, "token-file", defaultTokens, "Where credentials are kept between runs")
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")

	cmd.AddCommand(
		newLoginCommand(flags),
		newLogoutCommand(flags),
		newTailCommand(flags),
		newSendCommand(flags),
	)
	return cmd
}

func newLoginCommand(flags *rootFlags) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, log, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			user, err := s.Auth().Login(cmd.Context(), auth.LoginRequest{Email: email, Password: password})
			if err != nil {
				return reportAuthError(log, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, log, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Logout(cmd.Context()); err != nil {
				log.Warn().Err(err).Msg("server logout failed, local credentials cleared anyway")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newTailCommand(flags *rootFlags) *cobra.Command {
	var events []string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Connect and print inbound events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, log, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			frames := s.Router().OnAny()
			defer frames.Cancel()
			status := s.Router().ConnectionStatus()
			defer status.Cancel()

			if err := s.Start(); err != nil {
				return errors.Wrap(err, "not logged in, run login first")
			}

			filter := make(map[string]bool, len(events))
			for _, e := range events {
				filter[e] = true
			}

			out := cmd.OutOrStdout()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case up, ok := <-status.C():
					if !ok {
						return nil
					}
					st := s.Status()
					log.Info().Bool("connected", up).Str("state", st.State.String()).Int("attempt", st.ReconnectAttempt).Msg("connection")
				case f, ok := <-frames.C():
					if !ok {
						return nil
					}
					if len(filter) > 0 && !filter[f.Event] {
						continue
					}
					fmt.Fprintf(out, "%s %s\n", f.Event, string(f.Data))
				}
			}
		},
	}

	cmd.Flags().StringSliceVar(&events, "event", nil, "Only print these events")
	return cmd
}

func newSendCommand(flags *rootFlags) *cobra.Command {
	var conversationID string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send a message and wait for the server to confirm it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := s.Start(); err != nil {
				return errors.Wrap(err, "not logged in, run login first")
			}
			if err := s.WaitConnected(ctx); err != nil {
				return errors.Wrap(err, "connect")
			}

			watch := s.Store().Watch()
			defer watch.Cancel()

			msg, err := s.SendMessage(conversationID, strings.Join(args, " "))
			if err != nil {
				return errors.Wrap(err, "send")
			}

			for {
				select {
				case <-ctx.Done():
					return errors.Wrap(ctx.Err(), "waiting for confirmation")
				case st, ok := <-watch.C():
					if !ok {
						return nil
					}
					for _, m := range st.Messages[conversationID] {
						if m.ClientID == msg.ClientID && m.Status == chat.MessageSent {
							fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", m.ID)
							return nil
						}
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "general", "Conversation id")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for confirmation")
	return cmd
}

// openSession builds a session from the config file overlaid with any flags
// given explicitly.
func openSession(cmd *cobra.Command, flags *rootFlags) (*session.Session, zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(flags.logLevel)
	if err != nil {
		return nil, zerolog.Logger{}, errors.Wrapf(err, "invalid log level %q", flags.logLevel)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	cfg := session.Config{}
	if flags.configPath != "" {
		if cfg, err = session.LoadConfig(flags.configPath); err != nil {
			return nil, log, err
		}
	}
	pf := cmd.Flags()
	if cfg.APIURL == "" || pf.Changed("api-url") {
		cfg.APIURL = flags.apiURL
	}
	if cfg.WSURL == "" || pf.Changed("ws-url") {
		cfg.WSURL = flags.wsURL
	}
	if cfg.TokenFile == "" || pf.Changed("token-file") {
		cfg.TokenFile = flags.tokenFile
	}

	s, err := session.New(cfg, session.WithLogger(log))
	return s, log, err
}

func reportAuthError(log zerolog.Logger, err error) error {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		log.Error().Int("status", authErr.StatusCode).Msg(authErr.UserMessage)
	}
	return err
}
