// Package auth talks to the collaboration server's auth API and holds the
// session's credentials.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/incogni23/collab-realtime-sdk/sdk/chat"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

type AuthResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	User         chat.User `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

const maxResponseBytes = 1 << 20

// Client is the request/response collaborator for login, registration,
// token refresh and logout.
type Client struct {
	cfg  Config
	base *url.URL
	log  zerolog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base URL")
	}
	cfg.applyDefaults()

	return &Client{
		cfg:  cfg,
		base: base,
		log:  cfg.Logger.With().Str("component", "auth-client").Logger(),
	}, nil
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.post(ctx, "/auth/login", req, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.post(ctx, "/auth/register", req, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.post(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout invalidates the session server-side. The response body is ignored.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.post(ctx, "/auth/logout", struct{}{}, accessToken, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, bearer string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrapf(err, "encode %s request", path)
	}
	target := c.base.JoinPath(path).String()

	c.cfg.Loading.Begin()
	defer c.cfg.Loading.End()

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "build request"))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(clientError(err))
			}
			return clientError(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return clientError(err)
		}

		switch {
		case resp.StatusCode >= 500:
			return responseError(resp.StatusCode, data)
		case resp.StatusCode >= 400:
			return backoff.Permanent(responseError(resp.StatusCode, data))
		}

		if out == nil || len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(clientError(errors.Wrap(err, "decode response")))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newRetryBackoff(c.cfg.RetryBaseDelay), uint64(c.cfg.MaxRetries)),
		ctx,
	)
	err = backoff.RetryNotify(op, policy, func(err error, d time.Duration) {
		c.log.Warn().Err(err).Str("path", path).Dur("delay", d).Msg("retrying request")
	})
	if err != nil {
		c.log.Debug().Err(err).Str("path", path).Msg("request failed")
		var authErr *Error
		if !errors.As(err, &authErr) {
			return clientError(err)
		}
		return authErr
	}
	return nil
}

func newRetryBackoff(base time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         base * 8,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
