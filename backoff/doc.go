// Package backoff provides the reconnection scheduling policy for
// gray-logic-mqtt.
//
// This package manages:
//   - Exponential backoff delays with configurable jitter
//   - The retry timer that triggers the next reconnect attempt
//   - The reset window that forgives failures after a stable connection
//
// # Jitter
//
// Many clients reconnecting to the same broker after an outage produce a
// synchronized retry storm. Jitter spreads the retries out:
//
//   - JitterFull (default): uniform random in [min, min(max, min*2^n)]
//   - JitterNone: deterministic min(max, min*2^n)
//   - JitterDecorrelated: uniform random in [min, 3*lastDelay]
//
// Each Scheduler owns its own random source, so independent client
// instances compute statistically independent delays.
//
// # Usage
//
//	sched := backoff.NewScheduler(backoff.Policy{
//	    MinDelay:   time.Second,
//	    MaxDelay:   60 * time.Second,
//	    ResetAfter: 30 * time.Second,
//	}, func() { transport.Reconnect() })
//
//	// On every failed or dropped connection:
//	delay := sched.OnConnectionFailure()
//
//	// On every successful connection:
//	sched.OnConnectionSuccess()
//
// Timers run on an injectable clock (github.com/benbjohnson/clock) so the
// schedule is deterministic under test.
package backoff
