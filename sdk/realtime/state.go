package realtime

import "time"

// ConnectionState is the lifecycle state of a Channel.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateFailed is terminal until Connect is called again.
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of a Channel.
type Status struct {
	State            ConnectionState
	ReconnectAttempt int
	LastError        error
}

// Connected reports whether the status describes a live connection.
func (s Status) Connected() bool {
	return s.State == StateConnected
}

// StateChange is published on every transition. Delay is the scheduled
// reconnect delay when State is StateReconnecting.
type StateChange struct {
	Status
	Delay time.Duration
}
