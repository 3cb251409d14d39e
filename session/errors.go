package session

import "errors"

// Domain-specific errors for the session client.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("session: client closed")

	// ErrNotConnected is returned when a publish is attempted without a
	// live connection.
	ErrNotConnected = errors.New("session: client not connected")

	// ErrNilFactory is returned by New when no transport factory is given.
	ErrNilFactory = errors.New("session: transport factory is required")

	// ErrNilHandler is returned when a subscription handler is nil.
	ErrNilHandler = errors.New("session: handler cannot be nil")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("session: invalid QoS level (must be 0, 1, or 2)")
)
