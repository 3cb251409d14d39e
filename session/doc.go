// Package session provides the managed MQTT connection lifecycle for
// gray-logic-mqtt.
//
// This package manages:
//   - A start/stop lifecycle that survives transient network loss
//   - Translation of raw transport events into ordered lifecycle events
//   - Reconnection driven by the backoff scheduler (never by the transport)
//   - Wildcard-aware routing of inbound messages to local handlers
//
// # Lifecycle
//
// A Client is always in exactly one of four states: Stopped, Running,
// Stopping or Restarting. Start on a stopped client builds a fresh
// transport and begins connecting; Stop requests a graceful shutdown and
// waits for the transport's terminal event before declaring Stopped.
// Calling Start while a stop is still in flight records Restarting: the
// pending stop completes first, then exactly one new transport is built.
// At most one transport instance is ever active.
//
// Connectivity is reported through a fixed event sequence regardless of
// how often the underlying connection churns:
//
//	attempting connect -> (success | failure) -> [disconnection] -> ... -> stopped
//
// Every successful connect emits a success event, including transport-level
// resumes; there is never a silent reconnect.
//
// # Concurrency
//
// All state transitions and event callbacks run on a single internal
// command loop, so callbacks are never concurrent with each other and
// always observe the ordering above. Callbacks must not call back into
// blocking Client methods (Publish, Subscribe, Stop); hand work that needs
// them to another goroutine.
//
// # Usage
//
//	client, err := session.New(transport.NewFactory(opts),
//	    session.WithBackoffPolicy(backoff.Policy{
//	        MinDelay: time.Second,
//	        MaxDelay: time.Minute,
//	    }),
//	    session.WithHandlers(session.Handlers{
//	        OnConnectionSuccess: func(ev session.ConnectionSuccessEvent) {
//	            log.Printf("connected as %s", ev.Settings.ClientID)
//	        },
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Subscribe("graylogic/state/#", 1, handleState)
//	client.Start()
package session
