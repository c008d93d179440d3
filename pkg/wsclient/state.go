package wsclient

import "time"

// Status is the connection state machine position. Transitions follow
// disconnected→connecting→{connected|error}, connected→{disconnected|
// reconnecting}, reconnecting→{connected|error}, error→{disconnected|
// connecting}.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the snapshot broadcast to every status observer on each
// transition.
type State struct {
	Status            Status
	IsConnected       bool
	ReconnectAttempts int
	LastConnected     time.Time
	Err               error
}
