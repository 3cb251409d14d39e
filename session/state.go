package session

// State is the lifecycle state of a Client.
//
// The Restarting state exists so that a Start issued while a stop is in
// flight is honoured only after that stop fully completes; collapsing it
// into a flag would lose the "at most one transport" guarantee.
type State uint8

const (
	// StateStopped means no transport exists and no work is scheduled.
	StateStopped State = iota

	// StateRunning means a transport exists and the client is connected,
	// connecting, or waiting out a backoff delay.
	StateRunning

	// StateStopping means a graceful shutdown has been requested and the
	// client is waiting for the transport's terminal event.
	StateStopping

	// StateRestarting means Start was called during Stopping; one new
	// lifecycle begins as soon as the pending stop completes.
	StateRestarting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// attemptState tracks the most recent normalized connectivity signal of
// the current attempt. It decides whether a transport loss counts as a
// connection failure (never connected this attempt) or a disconnection
// (was connected, now dropped).
type attemptState uint8

const (
	attemptNone attemptState = iota
	attemptConnecting
	attemptConnected
	attemptDisconnected
)
