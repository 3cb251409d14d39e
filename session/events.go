package session

import "time"

// ConnectionSuccessEvent accompanies every successful connection,
// first connects and resumes alike.
type ConnectionSuccessEvent struct {
	Ack      ConnectAck
	Settings NegotiatedSettings
}

// ConnectionFailureEvent reports an attempt that never reached the broker.
// RetryDelay is the backoff before the next attempt, zero when no retry is
// scheduled; Failures counts consecutive failed attempts including this one.
type ConnectionFailureEvent struct {
	Err        error
	RetryDelay time.Duration
	Failures   int
}

// DisconnectionEvent reports the loss of an established connection.
// RetryDelay and Failures mirror ConnectionFailureEvent.
type DisconnectionEvent struct {
	Err        error
	RetryDelay time.Duration
	Failures   int
}

// Handlers are the lifecycle event callbacks of a Client. Any field may be
// nil. All callbacks run on the client's command loop: they are never
// invoked concurrently, and they observe the documented event ordering.
type Handlers struct {
	OnAttemptingConnect func()
	OnConnectionSuccess func(ConnectionSuccessEvent)
	OnConnectionFailure func(ConnectionFailureEvent)
	OnDisconnection     func(DisconnectionEvent)
	OnStopped           func()

	// OnMessage fires for every inbound message, before trie routing.
	OnMessage func(Message)

	// OnError surfaces transport failures that change no lifecycle state.
	OnError func(error)
}

// Logger is the logging interface accepted by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// nopLogger discards everything; used when no logger is configured.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
