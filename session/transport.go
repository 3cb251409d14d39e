package session

import "time"

// Message is an inbound MQTT application message.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
}

// FinalMessage is an optional last publish sent during a graceful stop,
// before the transport disconnects (for example a retained offline status).
type FinalMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// ConnectAck carries the broker's acknowledgement of a connection attempt.
type ConnectAck struct {
	// SessionPresent is true when the broker resumed an existing session.
	SessionPresent bool
}

// NegotiatedSettings is the authoritative set of session parameters in
// effect after a successful connection: configured values combined with
// what the broker acknowledged.
type NegotiatedSettings struct {
	// ClientID is the final client identifier in use.
	ClientID string

	// MaximumQoS is the effective QoS ceiling for this session.
	MaximumQoS byte

	// SessionExpiryInterval is how long the broker keeps session state
	// after a disconnect. Zero means the session ends at disconnect.
	SessionExpiryInterval time.Duration

	// ServerKeepAlive is the keep-alive interval in effect.
	ServerKeepAlive time.Duration

	// ReceiveMaximum is the broker's limit on concurrent QoS>0 deliveries.
	ReceiveMaximum uint16

	// Capability flags reported by (or assumed for) the broker.
	RetainAvailable                bool
	WildcardSubscriptionsAvailable bool
	SharedSubscriptionsAvailable   bool

	// RejoinedSession is true when an existing session was resumed.
	RejoinedSession bool
}

// TransportEvents is the set of callbacks a Transport delivers raw
// connectivity events through. The Client marshals every callback onto its
// command loop, so transports may fire them from any goroutine.
type TransportEvents struct {
	// OnConnected fires every time the broker accepts a connection,
	// including reconnects of the same transport instance.
	OnConnected func(ConnectAck)

	// OnConnectionLost fires when a connection attempt fails or an
	// established connection drops.
	OnConnectionLost func(error)

	// OnTerminated fires exactly once, after Stop, when the transport has
	// fully shut down and will emit no further events.
	OnTerminated func()

	// OnMessage fires for every inbound application message.
	OnMessage func(Message)

	// OnError surfaces transport-level failures that do not change
	// connectivity (for example a failed re-subscribe).
	OnError func(error)
}

// Transport is the narrow interface the lifecycle client drives the
// external MQTT implementation through. A Transport is single-use per
// Running period: the client builds a fresh one on every Start from
// Stopped and discards it after OnTerminated.
type Transport interface {
	// Start begins a connection attempt. It is called again, without an
	// intervening Stop, to retry after a connection loss.
	Start() error

	// Stop requests a graceful shutdown, publishing final first when it
	// is non-nil. The transport must eventually fire OnTerminated.
	Stop(final *FinalMessage) error

	// Publish sends an application message and waits for the transport's
	// acknowledgement.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a filter with the broker.
	Subscribe(filter string, qos byte) error

	// Unsubscribe removes a filter from the broker.
	Unsubscribe(filter string) error

	// Negotiated combines the transport's configuration with a broker
	// acknowledgement into the effective session settings.
	Negotiated(ack ConnectAck) NegotiatedSettings
}

// TransportFactory builds a fresh Transport bound to the given event
// sinks. The client calls it once per Running period.
type TransportFactory func(TransportEvents) (Transport, error)
