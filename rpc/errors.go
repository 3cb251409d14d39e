package rpc

import "errors"

// Domain-specific errors for the request/response client.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrClientClosed is returned by any operation attempted after Close,
	// and delivered to every request still pending when Close runs.
	ErrClientClosed = errors.New("rpc: client closed")

	// ErrNilAdapter is returned by New when no protocol adapter is given.
	ErrNilAdapter = errors.New("rpc: protocol adapter is required")

	// ErrInvalidRequest is returned when request options fail validation.
	ErrInvalidRequest = errors.New("rpc: invalid request")

	// ErrRequestTimeout is returned when no matching response arrives
	// within the request's timeout window.
	ErrRequestTimeout = errors.New("rpc: request timed out")

	// ErrOperationTimeout is returned when a single subscribe or publish
	// against the adapter exceeds the operation timeout, as opposed to the
	// request's end-to-end timeout.
	ErrOperationTimeout = errors.New("rpc: operation timed out")
)

// RetryableError wraps a transport failure with a hint about whether the
// operation could reasonably be retried. The client itself never retries;
// the hint is surfaced to the caller.
type RetryableError struct {
	Err       error
	Retryable bool
}

// Error implements the error interface.
func (e *RetryableError) Error() string { return e.Err.Error() }

// Unwrap exposes the wrapped error to errors.Is/As.
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err carries a positive retryability hint.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re) && re.Retryable
}
