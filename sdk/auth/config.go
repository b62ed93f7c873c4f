package auth

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	// BaseURL is the API root; auth endpoints live under /auth.
	BaseURL    string
	HTTPClient *http.Client

	// MaxRetries applies to network errors and 5xx responses. Negative
	// disables retries.
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Loading, when set, is held busy for the duration of every call.
	Loading *LoadingTracker

	Logger *zerolog.Logger
}

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 1 * time.Second
	defaultHTTPTimeout    = 30 * time.Second
)

func (c *Config) applyDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = defaultRetryBaseDelay
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}
