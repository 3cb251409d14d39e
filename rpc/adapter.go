package rpc

import "context"

// ConnectionStatus reports a connectivity transition of the underlying
// protocol client.
type ConnectionStatus struct {
	// Connected is true when a connection is established.
	Connected bool

	// RejoinedSession is true when the broker resumed an existing
	// session, meaning server-side subscription state survived.
	RejoinedSession bool
}

// ProtocolAdapter is the capability the correlation client drives its
// underlying protocol client through. Two concrete variants exist in the
// transport package: one over the managed session client, one over a bare
// paho client. The correlation logic works unmodified against either.
//
// Publish, Subscribe and Unsubscribe block until the transport's
// completion event and honour ctx for per-operation timeouts. Failures
// may be wrapped in *RetryableError to carry a retryability hint.
type ProtocolAdapter interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	Subscribe(ctx context.Context, filter string, qos byte) error
	Unsubscribe(ctx context.Context, filter string) error

	// SetMessageHandler registers the sink for every inbound message.
	// The client calls it once, at construction.
	SetMessageHandler(fn func(topic string, payload []byte))

	// SetStatusHandler registers the sink for connectivity transitions.
	SetStatusHandler(fn func(ConnectionStatus))

	// Close releases the adapter. Underlying transport teardown may
	// still be in flight when it returns.
	Close() error
}
