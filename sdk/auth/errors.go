package auth

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrMissingBaseURL     = errors.New("missing base URL")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrCorruptCredentials = errors.New("stored credentials are corrupt")
)

// Error is a failed auth call. UserMessage is safe to show to end users.
type Error struct {
	StatusCode  int
	UserMessage string
	Err         error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return e.UserMessage
	}
	return fmt.Sprintf("%s (status %d)", e.UserMessage, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func clientError(err error) *Error {
	return &Error{
		UserMessage: "Client Error: " + err.Error(),
		Err:         err,
	}
}

// responseError builds an Error from a non-2xx response, preferring the
// server's "message" field.
func responseError(code int, body []byte) *Error {
	e := &Error{StatusCode: code}

	var payload struct {
		Message json.RawMessage `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && len(payload.Message) > 0 {
		var single string
		var many []string
		switch {
		case json.Unmarshal(payload.Message, &single) == nil && single != "":
			e.UserMessage = single
		case json.Unmarshal(payload.Message, &many) == nil && len(many) > 0:
			e.UserMessage = many[0]
		}
	}
	if e.UserMessage == "" {
		e.UserMessage = fmt.Sprintf("Server Error: %d %s", code, http.StatusText(code))
	}

	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		e.Err = ErrUnauthorized
	}
	return e
}
