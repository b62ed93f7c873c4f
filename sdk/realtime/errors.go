package realtime

import "github.com/pkg/errors"

var (
	ErrNotConnected     = errors.New("channel is not connected")
	ErrClosed           = errors.New("channel is closed")
	ErrMissingEndpoint  = errors.New("missing endpoint")
	ErrInvalidEndpoint  = errors.New("invalid endpoint")
	ErrConnectionFailed = errors.New("connection failed")
	ErrConnectionClosed = errors.New("connection closed")
	ErrUnauthorized     = errors.New("connection rejected: unauthorized")
	ErrSendFailed       = errors.New("failed to send frame")
	ErrEventEmpty       = errors.New("event name cannot be empty")
	ErrMalformedFrame   = errors.New("malformed frame")
)
