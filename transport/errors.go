package transport

import "errors"

// Domain-specific errors for broker connectivity.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidOptions is returned when transport options fail validation.
	ErrInvalidOptions = errors.New("transport: invalid options")

	// ErrConnectionFailed is returned when a connection attempt is refused
	// or times out.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrNotConnected is returned by operations that need a live
	// connection when there is none.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAckTimeout is returned when the broker does not acknowledge an
	// operation within the ack timeout.
	ErrAckTimeout = errors.New("transport: acknowledgement timeout")
)
