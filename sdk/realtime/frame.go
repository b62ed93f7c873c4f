package realtime

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Wire event names owned by the transport itself.
const (
	EventPing = "ping"
	EventPong = "pong"
)

// Frame is the unit exchanged on the wire: {"event": "...", "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PingPayload is the heartbeat probe body.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// NewFrame encodes payload as the data of an event frame.
func NewFrame(event string, payload any) (Frame, error) {
	if event == "" {
		return Frame{}, ErrEventEmpty
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return Frame{Event: event, Data: raw}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "encode %q payload", event)
	}
	return Frame{Event: event, Data: data}, nil
}

// Decode unmarshals a routed payload into T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, errors.Wrap(ErrMalformedFrame, "empty payload")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	return v, nil
}
