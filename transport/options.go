package transport

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-mqtt/session"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a CONNACK.
	defaultConnectTimeout = 10 * time.Second

	// defaultAckTimeout is the maximum time to wait for publish,
	// subscribe and unsubscribe acknowledgements.
	defaultAckTimeout = 5 * time.Second

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultDisconnectQuiesce is the time allowed for pending operations
	// to drain on disconnect.
	defaultDisconnectQuiesce = time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// receiveMaximumDefault is assumed when the broker states no limit.
	receiveMaximumDefault = 65535
)

// Options configures a paho-backed transport.
type Options struct {
	// Host and Port locate the broker.
	Host string
	Port int

	// TLS switches the broker URL to ssl:// and applies TLSConfig.
	TLS bool

	// TLSConfig overrides the default TLS settings. Ignored unless TLS is
	// set. Nil gets a config with the minimum TLS version enforced.
	TLSConfig *tls.Config

	// ClientID identifies this client to the broker.
	ClientID string

	// Username and Password are the broker credentials. Empty Username
	// disables authentication.
	Username string
	Password string

	// CleanSession starts a fresh broker session on every connect. With
	// it off the broker retains subscriptions and queued QoS>0 messages
	// across reconnects.
	CleanSession bool

	// KeepAlive is the PINGREQ interval. Zero means 60s.
	KeepAlive time.Duration

	// ConnectTimeout bounds each connection attempt. Zero means 10s.
	ConnectTimeout time.Duration

	// AckTimeout bounds publish/subscribe acknowledgement waits.
	// Zero means 5s.
	AckTimeout time.Duration

	// DisconnectQuiesce is how long a graceful stop waits for in-flight
	// operations. Zero means 1s.
	DisconnectQuiesce time.Duration

	// SessionExpiry is reported in negotiated settings as how long the
	// broker keeps session state after disconnect. Ignored when
	// CleanSession is set.
	SessionExpiry time.Duration

	// Will, when non-nil, is registered as the Last Will and Testament:
	// published by the broker if the connection drops without a graceful
	// stop.
	Will *session.FinalMessage

	// Store persists in-flight QoS>0 messages. Nil uses paho's in-memory
	// store, which drops state on process exit.
	Store pahomqtt.Store
}

// Validate checks the options and applies defaults in place.
func (o *Options) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidOptions)
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	}
	if o.ClientID == "" {
		return fmt.Errorf("%w: client ID is required", ErrInvalidOptions)
	}
	if o.Will != nil {
		if o.Will.Topic == "" {
			return fmt.Errorf("%w: will topic is required", ErrInvalidOptions)
		}
		if o.Will.QoS > maxQoS {
			return fmt.Errorf("%w: will QoS must be 0, 1, or 2", ErrInvalidOptions)
		}
	}
	if o.KeepAlive == 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.AckTimeout == 0 {
		o.AckTimeout = defaultAckTimeout
	}
	if o.DisconnectQuiesce == 0 {
		o.DisconnectQuiesce = defaultDisconnectQuiesce
	}
	return nil
}

// brokerURL builds the paho broker URL from host, port and TLS mode.
func (o Options) brokerURL() string {
	scheme := "tcp"
	if o.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

// clientOptions builds paho options for one transport instance.
//
// Reconnection is deliberately disabled here: AutoReconnect and
// ConnectRetry are off because retry timing belongs to the session
// client's backoff scheduler, not to paho.
func (o Options) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.brokerURL())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(o.CleanSession)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(o.KeepAlive)

	if o.TLS {
		tlsConfig := o.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tlsMinVersion}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	if o.Will != nil {
		opts.SetBinaryWill(o.Will.Topic, o.Will.Payload, o.Will.QoS, o.Will.Retained)
	}

	if o.Store != nil {
		opts.SetStore(o.Store)
	}

	return opts
}
