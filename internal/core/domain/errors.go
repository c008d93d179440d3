package domain

import "errors"

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrUnknownSession = errors.New("unknown session")
	ErrClientClosed   = errors.New("client closed")
	ErrMissingSecret  = errors.New("token secret is required outside development mode")
)
