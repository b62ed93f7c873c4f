package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/incogni23/collab-realtime-sdk/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		cfg      server.Config
		logLevel string
		jsonLogs bool
	)

	cmd := &cobra.Command{
		Use:          "collab-server",
		Short:        "Run the development collaboration server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return errors.Wrapf(err, "invalid log level %q", logLevel)
			}
			var log zerolog.Logger
			if jsonLogs {
				log = zerolog.New(os.Stderr)
			} else {
				log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
			}
			log = log.Level(level).With().Timestamp().Logger()
			cfg.Logger = &log

			srv, err := server.New(cfg)
			if err != nil {
				return err
			}
			log.Info().Str("email", server.DemoEmail).Str("password", server.DemoPassword).Msg("demo account ready")
			return srv.ListenAndServe(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.Addr, "addr", "a", ":3001", "Listen address")
	f.DurationVar(&cfg.AccessTTL, "access-ttl", 15*time.Minute, "Access token lifetime")
	f.DurationVar(&cfg.RefreshTTL, "refresh-ttl", 7*24*time.Hour, "Refresh token lifetime")
	f.StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	f.BoolVar(&jsonLogs, "json-logs", false, "Log JSON instead of console output")
	return cmd
}
