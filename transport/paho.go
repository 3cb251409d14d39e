package transport

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-mqtt/session"
)

// NewFactory validates opts and returns a session.TransportFactory that
// builds paho-backed transports. Each factory call produces an independent
// paho client; the session client calls the factory once per Running
// period.
func NewFactory(opts Options) (session.TransportFactory, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return func(events session.TransportEvents) (session.Transport, error) {
		t := &pahoTransport{opts: opts, events: events}

		clientOpts := opts.clientOptions()
		clientOpts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
			t.deliver(msg)
		})
		clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			t.emit(t.events.OnConnectionLost, err)
		})

		t.client = pahomqtt.NewClient(clientOpts)
		return t, nil
	}, nil
}

// pahoTransport adapts one paho client to the session.Transport contract.
// Connection success is reported from the connect token rather than paho's
// OnConnect handler so the CONNACK session-present flag is preserved.
type pahoTransport struct {
	opts   Options
	events session.TransportEvents
	client pahomqtt.Client

	mu         sync.Mutex
	connecting bool
	terminated sync.Once
}

// Start begins an asynchronous connection attempt. The outcome arrives
// through OnConnected or OnConnectionLost; Start itself only fails when an
// attempt is already in flight, and then by doing nothing.
func (t *pahoTransport) Start() error {
	t.mu.Lock()
	if t.connecting {
		t.mu.Unlock()
		return nil
	}
	t.connecting = true
	t.mu.Unlock()

	go t.connect()
	return nil
}

func (t *pahoTransport) connect() {
	defer func() {
		t.mu.Lock()
		t.connecting = false
		t.mu.Unlock()
	}()

	token := t.client.Connect()
	if !token.WaitTimeout(t.opts.ConnectTimeout) {
		t.emit(t.events.OnConnectionLost,
			fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, t.opts.ConnectTimeout))
		return
	}
	if err := token.Error(); err != nil {
		t.emit(t.events.OnConnectionLost, fmt.Errorf("%w: %w", ErrConnectionFailed, err))
		return
	}

	ack := session.ConnectAck{}
	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		ack.SessionPresent = ct.SessionPresent()
	}
	if t.events.OnConnected != nil {
		t.events.OnConnected(ack)
	}
}

// Stop publishes the optional final message, disconnects, and fires
// OnTerminated exactly once. It returns immediately; teardown runs on its
// own goroutine because paho's Disconnect blocks for the quiesce period.
func (t *pahoTransport) Stop(final *session.FinalMessage) error {
	go func() {
		if final != nil && t.client.IsConnected() {
			token := t.client.Publish(final.Topic, final.QoS, final.Retained, final.Payload)
			token.WaitTimeout(t.opts.AckTimeout)
		}
		t.client.Disconnect(uint(t.opts.DisconnectQuiesce.Milliseconds()))
		t.terminated.Do(func() {
			if t.events.OnTerminated != nil {
				t.events.OnTerminated()
			}
		})
	}()
	return nil
}

// Publish sends one message and waits for the broker's acknowledgement.
func (t *pahoTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if !t.client.IsConnected() {
		return ErrNotConnected
	}
	token := t.client.Publish(topic, qos, retained, payload)
	return t.await(token, "publish "+topic)
}

// Subscribe registers filter with the broker. Messages arrive through the
// default publish handler; routing happens above this layer.
func (t *pahoTransport) Subscribe(filter string, qos byte) error {
	if !t.client.IsConnected() {
		return ErrNotConnected
	}
	token := t.client.Subscribe(filter, qos, nil)
	return t.await(token, "subscribe "+filter)
}

// Unsubscribe removes filter from the broker.
func (t *pahoTransport) Unsubscribe(filter string) error {
	if !t.client.IsConnected() {
		return ErrNotConnected
	}
	token := t.client.Unsubscribe(filter)
	return t.await(token, "unsubscribe "+filter)
}

// Negotiated combines configuration with the broker's acknowledgement.
// MQTT 3.1.1 brokers negotiate almost nothing, so most fields restate the
// configured values and standard protocol assumptions.
func (t *pahoTransport) Negotiated(ack session.ConnectAck) session.NegotiatedSettings {
	sessionExpiry := t.opts.SessionExpiry
	if t.opts.CleanSession {
		sessionExpiry = 0
	}
	return session.NegotiatedSettings{
		ClientID:                       t.opts.ClientID,
		MaximumQoS:                     maxQoS,
		SessionExpiryInterval:          sessionExpiry,
		ServerKeepAlive:                t.opts.KeepAlive,
		ReceiveMaximum:                 receiveMaximumDefault,
		RetainAvailable:                true,
		WildcardSubscriptionsAvailable: true,
		SharedSubscriptionsAvailable:   true,
		RejoinedSession:                ack.SessionPresent && !t.opts.CleanSession,
	}
}

// await waits on a paho token with the ack timeout.
func (t *pahoTransport) await(token pahomqtt.Token, op string) error {
	if !token.WaitTimeout(t.opts.AckTimeout) {
		return fmt.Errorf("%w: %s", ErrAckTimeout, op)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("transport: %s: %w", op, err)
	}
	return nil
}

// deliver translates a paho message into a session message.
func (t *pahoTransport) deliver(msg pahomqtt.Message) {
	if t.events.OnMessage == nil {
		return
	}
	t.events.OnMessage(session.Message{
		Topic:     msg.Topic(),
		Payload:   msg.Payload(),
		QoS:       msg.Qos(),
		Retained:  msg.Retained(),
		Duplicate: msg.Duplicate(),
	})
}

// emit fires an error sink if it is set.
func (t *pahoTransport) emit(sink func(error), err error) {
	if sink != nil {
		sink(err)
	}
}
