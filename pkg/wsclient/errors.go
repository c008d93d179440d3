package wsclient

import "errors"

var (
	errNoTransports       = errors.New("no transports configured")
	errReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// ErrReconnectExhausted reports whether a state's Err means the retry
// ceiling was hit; no further automatic attempts happen until Connect.
func ErrReconnectExhausted(err error) bool {
	return errors.Is(err, errReconnectExhausted)
}
