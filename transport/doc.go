// Package transport binds the lifecycle session client and the
// request/response client to paho.mqtt.golang.
//
// This package provides:
//   - A session.TransportFactory producing paho-backed transports with
//     reconnection disabled in paho itself; retry timing is owned by the
//     session client's backoff scheduler
//   - SessionAdapter, exposing a session.Client as an rpc.ProtocolAdapter
//   - DirectAdapter, exposing a bare paho client as an rpc.ProtocolAdapter
//     for callers that do not want the managed lifecycle
//
// # Connection ownership
//
// The factory-built transport never reconnects on its own: paho's
// AutoReconnect and ConnectRetry are both off, every connection attempt is
// an explicit Start, and every failure is reported through
// session.TransportEvents. This keeps a single source of truth for retry
// timing and attempt classification.
//
// # QoS>0 persistence
//
// Options.Store accepts any paho message store. Pass a store.Store to keep
// in-flight QoS 1/2 messages across process restarts; the default is
// paho's in-memory store.
package transport
