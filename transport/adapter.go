package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-mqtt/rpc"
	"github.com/nerrad567/gray-logic-mqtt/session"
)

// sessionAPI is the slice of session.Client the adapter needs.
type sessionAPI interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(filter string, qos byte, handler session.MessageHandler) error
	Unsubscribe(filter string) error
	SetStatusObserver(fn func(connected, rejoined bool))
}

// SessionAdapter exposes a managed session client as an
// rpc.ProtocolAdapter. The session client stays owned by the caller:
// closing the adapter detaches from it without stopping it.
type SessionAdapter struct {
	sess sessionAPI

	mu        sync.RWMutex
	onMessage func(topic string, payload []byte)
	onStatus  func(rpc.ConnectionStatus)
}

// NewSessionAdapter wraps sess. Lifecycle management (Start, Stop, retry)
// remains the caller's responsibility.
func NewSessionAdapter(sess *session.Client) *SessionAdapter {
	return newSessionAdapter(sess)
}

func newSessionAdapter(sess sessionAPI) *SessionAdapter {
	a := &SessionAdapter{sess: sess}
	sess.SetStatusObserver(func(connected, rejoined bool) {
		a.mu.RLock()
		fn := a.onStatus
		a.mu.RUnlock()
		if fn != nil {
			fn(rpc.ConnectionStatus{Connected: connected, RejoinedSession: rejoined})
		}
	})
	return a
}

// Publish sends through the session client, honouring ctx.
func (a *SessionAdapter) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	return await(ctx, func() error {
		err := a.sess.Publish(topic, payload, qos, false)
		if errors.Is(err, session.ErrNotConnected) {
			return &rpc.RetryableError{Err: err, Retryable: true}
		}
		return err
	})
}

// Subscribe registers filter on the session client with the adapter's own
// message sink as handler. The session replays the filter after reconnects
// on its own.
func (a *SessionAdapter) Subscribe(ctx context.Context, filter string, qos byte) error {
	return await(ctx, func() error {
		return a.sess.Subscribe(filter, qos, a.forward)
	})
}

// Unsubscribe removes filter from the session client.
func (a *SessionAdapter) Unsubscribe(ctx context.Context, filter string) error {
	return await(ctx, func() error {
		return a.sess.Unsubscribe(filter)
	})
}

// SetMessageHandler registers the inbound message sink.
func (a *SessionAdapter) SetMessageHandler(fn func(topic string, payload []byte)) {
	a.mu.Lock()
	a.onMessage = fn
	a.mu.Unlock()
}

// SetStatusHandler registers the connectivity sink.
func (a *SessionAdapter) SetStatusHandler(fn func(rpc.ConnectionStatus)) {
	a.mu.Lock()
	a.onStatus = fn
	a.mu.Unlock()
}

// Close detaches from the session client. The session keeps running.
func (a *SessionAdapter) Close() error {
	a.sess.SetStatusObserver(nil)
	return nil
}

// forward is the handler registered for every adapter subscription.
func (a *SessionAdapter) forward(topic string, payload []byte) {
	a.mu.RLock()
	fn := a.onMessage
	a.mu.RUnlock()
	if fn != nil {
		fn(topic, payload)
	}
}

// DirectAdapter exposes a bare paho client as an rpc.ProtocolAdapter, for
// callers that want paho's own reconnection instead of the managed
// session. The adapter owns its paho client: Close disconnects it.
type DirectAdapter struct {
	client       pahomqtt.Client
	ackTimeout   time.Duration
	quiesce      time.Duration
	cleanSession bool

	mu        sync.RWMutex
	onMessage func(topic string, payload []byte)
	onStatus  func(rpc.ConnectionStatus)
}

// NewDirectAdapter builds a paho client from opts and wraps it. The
// adapter chains its own connect and connection-lost handlers after any
// already registered, and takes over the default publish handler. Call
// Connect before submitting requests.
func NewDirectAdapter(opts *pahomqtt.ClientOptions) *DirectAdapter {
	a := &DirectAdapter{
		ackTimeout:   defaultAckTimeout,
		quiesce:      defaultDisconnectQuiesce,
		cleanSession: opts.CleanSession,
	}

	prevConnect := opts.OnConnect
	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		if prevConnect != nil {
			prevConnect(client)
		}
		// Reconnects of a non-clean session resume broker-side state.
		a.status(rpc.ConnectionStatus{Connected: true, RejoinedSession: !a.cleanSession})
	})

	prevLost := opts.OnConnectionLost
	opts.SetConnectionLostHandler(func(client pahomqtt.Client, err error) {
		if prevLost != nil {
			prevLost(client, err)
		}
		a.status(rpc.ConnectionStatus{Connected: false})
	})

	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		a.mu.RLock()
		fn := a.onMessage
		a.mu.RUnlock()
		if fn != nil {
			fn(msg.Topic(), msg.Payload())
		}
	})

	a.client = pahomqtt.NewClient(opts)
	return a
}

// Connect establishes the initial connection, honouring ctx.
func (a *DirectAdapter) Connect(ctx context.Context) error {
	return a.awaitToken(ctx, a.client.Connect())
}

// Publish sends one message and waits for the acknowledgement or ctx.
func (a *DirectAdapter) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if !a.client.IsConnected() {
		return &rpc.RetryableError{Err: ErrNotConnected, Retryable: true}
	}
	return a.awaitToken(ctx, a.client.Publish(topic, qos, false, payload))
}

// Subscribe registers filter; messages route through the default handler.
func (a *DirectAdapter) Subscribe(ctx context.Context, filter string, qos byte) error {
	if !a.client.IsConnected() {
		return &rpc.RetryableError{Err: ErrNotConnected, Retryable: true}
	}
	return a.awaitToken(ctx, a.client.Subscribe(filter, qos, nil))
}

// Unsubscribe removes filter from the broker.
func (a *DirectAdapter) Unsubscribe(ctx context.Context, filter string) error {
	if !a.client.IsConnected() {
		return &rpc.RetryableError{Err: ErrNotConnected, Retryable: true}
	}
	return a.awaitToken(ctx, a.client.Unsubscribe(filter))
}

// SetMessageHandler registers the inbound message sink.
func (a *DirectAdapter) SetMessageHandler(fn func(topic string, payload []byte)) {
	a.mu.Lock()
	a.onMessage = fn
	a.mu.Unlock()
}

// SetStatusHandler registers the connectivity sink.
func (a *DirectAdapter) SetStatusHandler(fn func(rpc.ConnectionStatus)) {
	a.mu.Lock()
	a.onStatus = fn
	a.mu.Unlock()
}

// Close disconnects the owned paho client.
func (a *DirectAdapter) Close() error {
	a.client.Disconnect(uint(a.quiesce.Milliseconds()))
	return nil
}

func (a *DirectAdapter) status(s rpc.ConnectionStatus) {
	a.mu.RLock()
	fn := a.onStatus
	a.mu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

// awaitToken races a paho token against ctx and the ack timeout.
func (a *DirectAdapter) awaitToken(ctx context.Context, token pahomqtt.Token) error {
	timer := time.NewTimer(a.ackTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return &rpc.RetryableError{Err: ErrAckTimeout, Retryable: true}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await runs fn on its own goroutine and races it against ctx.
func await(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
