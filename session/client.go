package session

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-mqtt/backoff"
	"github.com/nerrad567/gray-logic-mqtt/topics"
)

// commandBuffer sizes the command loop's queue. Posting blocks once the
// queue is full, which back-pressures chatty transports instead of
// reordering or dropping events.
const commandBuffer = 128

// MessageHandler is the callback signature for routed messages.
//
// Handlers run on the client's command loop and should not block; a slow
// handler delays every other event.
type MessageHandler func(topic string, payload []byte)

// subscription holds subscription details for replay after reconnect.
type subscription struct {
	filter string
	qos    byte
}

// Client manages one MQTT connection lifecycle over a Transport.
//
// All lifecycle state lives on a single command-loop goroutine; public
// methods post commands onto it and never race each other. See the package
// documentation for the state machine and event ordering.
type Client struct {
	factory  TransportFactory
	handlers Handlers
	policy   backoff.Policy
	sched    *backoff.Scheduler
	clk      clock.Clock
	rng      *rand.Rand
	log      Logger

	cmds chan func()
	done chan struct{}

	closed    atomic.Bool
	stateMir  atomic.Uint32 // mirrors state for lock-free State()
	connected atomic.Bool   // mirrors attempt == attemptConnected

	// Loop-owned state. Only the command loop touches these.
	state          State
	attempt        attemptState
	transport      Transport
	connectCount   int
	routes         *topics.Trie
	subs           map[string]subscription
	statusObserver func(connected, rejoined bool)
}

// Option configures a Client.
type Option func(*Client)

// WithHandlers sets the lifecycle event callbacks.
func WithHandlers(h Handlers) Option {
	return func(c *Client) { c.handlers = h }
}

// WithBackoffPolicy sets the reconnection policy. Zero fields take the
// backoff package defaults.
func WithBackoffPolicy(p backoff.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithClock injects the clock used for reconnect scheduling.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clk = clk }
}

// WithRand injects the random source used for backoff jitter.
func WithRand(rng *rand.Rand) Option {
	return func(c *Client) { c.rng = rng }
}

// WithLogger sets a logger for internal diagnostics.
func WithLogger(log Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a Client over the given transport factory and starts its
// command loop. The client begins Stopped; call Start to connect and Close
// to release it.
func New(factory TransportFactory, opts ...Option) (*Client, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}

	c := &Client{
		factory: factory,
		cmds:    make(chan func(), commandBuffer),
		done:    make(chan struct{}),
		state:   StateStopped,
		attempt: attemptNone,
		routes:  topics.NewTrie(),
		subs:    make(map[string]subscription),
		log:     nopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clk == nil {
		c.clk = clock.New()
	}

	// The scheduler's retry fires on a timer goroutine; marshal it onto
	// the command loop like every other event.
	retry := func() { c.post(c.retryConnect) }
	schedOpts := []backoff.Option{backoff.WithClock(c.clk)}
	if c.rng != nil {
		schedOpts = append(schedOpts, backoff.WithRand(c.rng))
	}
	c.sched = backoff.NewScheduler(c.policy, retry, schedOpts...)

	go c.run()
	return c, nil
}

// run is the command loop. Every state transition, timer firing and
// transport callback executes here, one at a time, in arrival order.
func (c *Client) run() {
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.done:
			return
		}
	}
}

// post queues fn onto the command loop. It reports false once the client
// is closed and the loop is gone.
func (c *Client) post(fn func()) bool {
	select {
	case c.cmds <- fn:
		return true
	case <-c.done:
		return false
	}
}

// =============================================================================
// Lifecycle operations
// =============================================================================

// Start moves a stopped client to Running and begins connecting. Called
// during Stopping it records a restart instead; in any other state it is a
// no-op. Start never blocks on the connection attempt: the outcome arrives
// through the event handlers.
func (c *Client) Start() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.post(c.startFromLoop) {
		return ErrClosed
	}
	return nil
}

func (c *Client) startFromLoop() {
	switch c.state {
	case StateStopped:
		c.beginLifecycle()
	case StateStopping:
		c.setState(StateRestarting)
	default:
		// Running or already Restarting: nothing to do.
	}
}

// beginLifecycle builds a fresh transport and starts the first attempt.
// Caller guarantees state is Stopped.
func (c *Client) beginLifecycle() {
	c.setState(StateRunning)
	c.attempt = attemptConnecting
	c.connectCount = 0
	c.emitAttempting()

	// The slot is filled before this function returns; transport events
	// only ever execute as later commands on this same loop, so they
	// always observe the bound instance.
	slot := new(Transport)
	transport, err := c.factory(c.transportEvents(slot))
	if err != nil {
		// A factory that cannot build a transport is a configuration
		// problem, not a transient failure: report and stand down.
		c.attempt = attemptNone
		c.setState(StateStopped)
		c.emitFailure(fmt.Errorf("session: building transport: %w", err), 0, 0)
		c.emitStopped()
		return
	}
	*slot = transport
	c.transport = transport

	if err := transport.Start(); err != nil {
		c.handleConnectionLost(transport, err)
	}
}

// Stop requests a graceful shutdown, optionally publishing final before
// the transport disconnects. The Stopped event fires once the transport
// reports terminal shutdown. Calling Stop during Restarting cancels the
// queued restart.
func (c *Client) Stop(final *FinalMessage) error {
	if c.closed.Load() {
		return ErrClosed
	}
	ok := c.post(func() {
		switch c.state {
		case StateRunning:
			c.setState(StateStopping)
			c.sched.Clear()
			if err := c.transport.Stop(final); err != nil {
				c.emitError(fmt.Errorf("session: stopping transport: %w", err))
			}
		case StateRestarting:
			c.setState(StateStopping)
		default:
			// Stopped or already Stopping: nothing to do.
		}
	})
	if !ok {
		return ErrClosed
	}
	return nil
}

// Close stops the client and terminates its command loop. Pending
// lifecycle events are not delivered after Close returns; all later calls
// fail with ErrClosed. Close is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	finished := make(chan struct{})
	c.cmds <- func() {
		c.sched.Clear()
		if c.transport != nil {
			_ = c.transport.Stop(nil)
			c.transport = nil
		}
		c.attempt = attemptNone
		c.setState(StateStopped)
		close(c.done)
		close(finished)
	}
	<-finished
	return nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.stateMir.Load())
}

// IsConnected reports whether the current attempt holds a live connection.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// =============================================================================
// Messaging operations
// =============================================================================

// Publish sends an application message over the live connection and waits
// for the transport's acknowledgement. It fails with ErrNotConnected when
// no connection is up; the session never queues publishes.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := topics.ValidateName(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	transport, err := c.liveTransport()
	if err != nil {
		return err
	}
	// The transport call happens off the command loop so a slow broker
	// cannot stall event delivery.
	return transport.Publish(topic, payload, qos, retained)
}

// Subscribe registers handler for all messages matching filter and, when a
// connection is live, issues the subscription to the broker. Registered
// filters are replayed after every reconnect. Subscribing while
// disconnected succeeds immediately; the broker subscription follows on
// the next successful connect.
//
// At most one handler is kept per exact filter string; re-subscribing the
// same filter replaces the previous handler.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := topics.ValidateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return ErrNilHandler
	}

	res := make(chan Transport, 1)
	ok := c.post(func() {
		c.subs[filter] = subscription{filter: filter, qos: qos}
		c.routes.Insert(filter, topics.Handler(handler))
		res <- c.liveTransportFromLoop()
	})
	if !ok {
		return ErrClosed
	}
	transport := <-res
	if transport == nil {
		return nil
	}
	if err := transport.Subscribe(filter, qos); err != nil {
		return fmt.Errorf("session: subscribing %q: %w", filter, err)
	}
	return nil
}

// Unsubscribe removes the local registration for filter and, when
// connected, the broker subscription. Unsubscribing an unknown filter is a
// no-op.
func (c *Client) Unsubscribe(filter string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := topics.ValidateFilter(filter); err != nil {
		return err
	}

	res := make(chan Transport, 1)
	ok := c.post(func() {
		if _, known := c.subs[filter]; !known {
			res <- nil
			return
		}
		delete(c.subs, filter)
		c.routes.Remove(filter)
		res <- c.liveTransportFromLoop()
	})
	if !ok {
		return ErrClosed
	}
	transport := <-res
	if transport == nil {
		return nil
	}
	if err := transport.Unsubscribe(filter); err != nil {
		return fmt.Errorf("session: unsubscribing %q: %w", filter, err)
	}
	return nil
}

// SetStatusObserver registers an additional observer of connection
// transitions, invoked on the command loop after the configured handlers.
// It exists for layers built on top of the client, such as the
// request/response adapter; most callers use Handlers instead. Passing nil
// removes the observer.
func (c *Client) SetStatusObserver(fn func(connected, rejoined bool)) {
	c.post(func() { c.statusObserver = fn })
}

func (c *Client) notifyStatus(connected, rejoined bool) {
	if c.statusObserver != nil {
		c.statusObserver(connected, rejoined)
	}
}

// SubscriptionCount returns the number of registered filters.
func (c *Client) SubscriptionCount() int {
	res := make(chan int, 1)
	if !c.post(func() { res <- len(c.subs) }) {
		return 0
	}
	return <-res
}

// liveTransport fetches the current transport when connected.
func (c *Client) liveTransport() (Transport, error) {
	res := make(chan Transport, 1)
	if !c.post(func() { res <- c.liveTransportFromLoop() }) {
		return nil, ErrClosed
	}
	transport := <-res
	if transport == nil {
		return nil, ErrNotConnected
	}
	return transport, nil
}

func (c *Client) liveTransportFromLoop() Transport {
	if c.state == StateRunning && c.attempt == attemptConnected {
		return c.transport
	}
	return nil
}

// =============================================================================
// Transport event translation
// =============================================================================

// transportEvents binds the raw event sinks for one transport instance.
// Each sink ignores events from a transport the client has since replaced.
func (c *Client) transportEvents(slot *Transport) TransportEvents {
	return TransportEvents{
		OnConnected: func(ack ConnectAck) {
			c.post(func() { c.handleConnected(*slot, ack) })
		},
		OnConnectionLost: func(err error) {
			c.post(func() { c.handleConnectionLost(*slot, err) })
		},
		OnTerminated: func() {
			c.post(func() { c.handleTerminated(*slot) })
		},
		OnMessage: func(msg Message) {
			c.post(func() { c.dispatch(msg) })
		},
		OnError: func(err error) {
			c.post(func() { c.emitError(err) })
		},
	}
}

func (c *Client) handleConnected(from Transport, ack ConnectAck) {
	if from != c.transport || c.state != StateRunning {
		return
	}
	c.connectCount++
	c.attempt = attemptConnected
	c.connected.Store(true)

	settings := c.transport.Negotiated(ack)
	c.sched.OnConnectionSuccess()
	c.log.Info("mqtt connected",
		"client_id", settings.ClientID,
		"rejoined_session", settings.RejoinedSession,
		"connect_count", c.connectCount,
	)
	c.emitSuccess(ConnectionSuccessEvent{Ack: ack, Settings: settings})
	c.replaySubscriptions()
	c.notifyStatus(true, settings.RejoinedSession)
}

func (c *Client) handleConnectionLost(from Transport, err error) {
	if from != c.transport || c.state != StateRunning {
		return
	}

	wasConnected := c.attempt == attemptConnected
	c.attempt = attemptDisconnected
	c.connected.Store(false)

	delay := c.sched.OnConnectionFailure()
	failures := c.sched.FailureCount()
	if wasConnected {
		c.emitDisconnection(err, delay, failures)
		c.notifyStatus(false, false)
	} else {
		c.emitFailure(err, delay, failures)
	}

	c.log.Warn("mqtt connection lost, retry scheduled",
		"error", err,
		"delay", delay,
		"failures", c.sched.FailureCount(),
	)
}

// retryConnect fires when a backoff delay elapses.
func (c *Client) retryConnect() {
	if c.state != StateRunning || c.transport == nil {
		return
	}
	c.attempt = attemptConnecting
	c.emitAttempting()
	if err := c.transport.Start(); err != nil {
		c.handleConnectionLost(c.transport, err)
	}
}

func (c *Client) handleTerminated(from Transport) {
	if from != c.transport || c.transport == nil {
		return
	}
	c.transport = nil
	c.attempt = attemptNone
	c.connected.Store(false)

	if c.state == StateRestarting {
		// Honour the queued restart with no visible Stopped event.
		c.setState(StateStopped)
		c.beginLifecycle()
		return
	}
	c.setState(StateStopped)
	c.emitStopped()
}

// replaySubscriptions re-issues every registered filter after a connect.
// Failures are surfaced through OnError; the registration survives for the
// next reconnect.
func (c *Client) replaySubscriptions() {
	for _, sub := range c.subs {
		if err := c.transport.Subscribe(sub.filter, sub.qos); err != nil {
			c.emitError(fmt.Errorf("session: restoring subscription %q: %w", sub.filter, err))
		}
	}
}

// dispatch routes an inbound message to the registered handler, if any,
// after the global OnMessage callback.
func (c *Client) dispatch(msg Message) {
	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(msg)
	}
	if handler, ok := c.routes.Lookup(msg.Topic); ok {
		handler(msg.Topic, msg.Payload)
	}
}

// =============================================================================
// Event emission (loop only)
// =============================================================================

func (c *Client) setState(s State) {
	c.state = s
	c.stateMir.Store(uint32(s))
}

func (c *Client) emitAttempting() {
	if c.handlers.OnAttemptingConnect != nil {
		c.handlers.OnAttemptingConnect()
	}
}

func (c *Client) emitSuccess(ev ConnectionSuccessEvent) {
	if c.handlers.OnConnectionSuccess != nil {
		c.handlers.OnConnectionSuccess(ev)
	}
}

func (c *Client) emitFailure(err error, delay time.Duration, failures int) {
	if c.handlers.OnConnectionFailure != nil {
		c.handlers.OnConnectionFailure(ConnectionFailureEvent{Err: err, RetryDelay: delay, Failures: failures})
	}
}

func (c *Client) emitDisconnection(err error, delay time.Duration, failures int) {
	if c.handlers.OnDisconnection != nil {
		c.handlers.OnDisconnection(DisconnectionEvent{Err: err, RetryDelay: delay, Failures: failures})
	}
}

func (c *Client) emitStopped() {
	if c.handlers.OnStopped != nil {
		c.handlers.OnStopped()
	}
}

func (c *Client) emitError(err error) {
	if c.handlers.OnError != nil {
		c.handlers.OnError(err)
	}
}

// maxQoS is the maximum QoS level supported.
const maxQoS = 2
