package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	defaultRequestTimeout   = 30 * time.Second
	defaultOperationTimeout = 10 * time.Second
	defaultQoS              = 1
)

// Logger is the subset of logging used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// settlement is the outcome of one request, delivered exactly once.
type settlement struct {
	resp Response
	err  error
}

type pendingRequest struct {
	id   uint64
	req  Request
	done chan settlement
}

// Client multiplexes request/response exchanges and message streams over
// one protocol adapter. All methods are safe for concurrent use.
type Client struct {
	adapter        ProtocolAdapter
	clk            clock.Clock
	log            Logger
	defaultTimeout time.Duration
	opTimeout      time.Duration
	qos            byte

	mu         sync.Mutex
	closed     bool
	nextID     uint64
	pending    map[uint64]*pendingRequest
	streams    map[uint64]*Stream
	subscribed map[string]struct{}
}

// Option customises a Client.
type Option func(*Client)

// WithClock injects the clock used for request timeouts. Tests pass a mock.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clk = clk }
}

// WithLogger sets the logger. Default discards everything.
func WithLogger(log Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithDefaultTimeout sets the request timeout used when a request does not
// carry its own. Default 30s.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithOperationTimeout bounds individual subscribe and publish calls
// against the adapter. Default 10s.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

// WithDefaultQoS sets the QoS used when a request or stream does not carry
// its own. Default 1.
func WithDefaultQoS(qos byte) Option {
	return func(c *Client) {
		if qos <= 2 {
			c.qos = qos
		}
	}
}

// New builds a Client over the given adapter and registers itself as the
// adapter's message and status sink.
func New(adapter ProtocolAdapter, opts ...Option) (*Client, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	c := &Client{
		adapter:        adapter,
		clk:            clock.New(),
		log:            nopLogger{},
		defaultTimeout: defaultRequestTimeout,
		opTimeout:      defaultOperationTimeout,
		qos:            defaultQoS,
		pending:        make(map[uint64]*pendingRequest),
		streams:        make(map[uint64]*Stream),
		subscribed:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	adapter.SetMessageHandler(c.dispatch)
	adapter.SetStatusHandler(c.onStatus)
	return c, nil
}

// SubmitRequest publishes a request and blocks until a matching response
// arrives, the timeout elapses, ctx is cancelled, or the client closes.
func (c *Client) SubmitRequest(ctx context.Context, req Request) (Response, error) {
	if err := req.validate(); err != nil {
		return Response{}, err
	}
	if req.QoS == 0 {
		req.QoS = c.qos
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.defaultTimeout
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Response{}, ErrClientClosed
	}
	c.nextID++
	p := &pendingRequest{
		id:   c.nextID,
		req:  req,
		done: make(chan settlement, 1),
	}
	// Registered before the subscribe so a response racing the
	// subscription ack cannot slip past the dispatcher.
	c.pending[p.id] = p
	c.mu.Unlock()

	if err := c.ensureSubscribed(ctx, req.SubscriptionFilters, req.QoS); err != nil {
		c.abandon(p)
		return Response{}, err
	}

	pubCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	err := c.adapter.Publish(pubCtx, req.PublishTopic, req.Payload, req.QoS)
	cancel()
	if err != nil {
		c.abandon(p)
		return Response{}, fmt.Errorf("rpc: publish request: %w", opError(ctx, err))
	}

	timer := c.clk.Timer(timeout)
	defer timer.Stop()
	select {
	case s := <-p.done:
		return s.resp, s.err
	case <-timer.C:
		return c.settleLate(p, ErrRequestTimeout)
	case <-ctx.Done():
		return c.settleLate(p, ctx.Err())
	}
}

// settleLate resolves a request from the waiter's side. If the dispatcher
// settled it concurrently the delivered response wins.
func (c *Client) settleLate(p *pendingRequest, cause error) (Response, error) {
	c.mu.Lock()
	_, still := c.pending[p.id]
	if still {
		delete(c.pending, p.id)
	}
	c.mu.Unlock()
	if still {
		return Response{}, cause
	}
	s := <-p.done
	return s.resp, s.err
}

// abandon unregisters a request that failed before it was in flight.
func (c *Client) abandon(p *pendingRequest) {
	c.mu.Lock()
	delete(c.pending, p.id)
	c.mu.Unlock()
}

// opError distinguishes an operation-timeout expiry from a cancellation of
// the caller's context: both surface as context errors from the adapter.
func opError(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %w", ErrOperationTimeout, err)
	}
	return err
}

// ensureSubscribed subscribes any filters not already held, bounding each
// call with the operation timeout.
func (c *Client) ensureSubscribed(ctx context.Context, filters []string, qos byte) error {
	for _, filter := range filters {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClientClosed
		}
		_, have := c.subscribed[filter]
		c.mu.Unlock()
		if have {
			continue
		}

		subCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		err := c.adapter.Subscribe(subCtx, filter, qos)
		cancel()
		if err != nil {
			return fmt.Errorf("rpc: subscribe %q: %w", filter, opError(ctx, err))
		}

		c.mu.Lock()
		c.subscribed[filter] = struct{}{}
		c.mu.Unlock()
	}
	return nil
}

// dispatch routes one inbound message to every matching pending request
// and stream. Runs on the adapter's delivery goroutine.
func (c *Client) dispatch(topic string, payload []byte) {
	resp := Response{Topic: topic, Payload: payload}

	c.mu.Lock()
	for id, p := range c.pending {
		if p.req.matches(topic, payload) {
			delete(c.pending, id)
			p.done <- settlement{resp: resp}
		}
	}
	for _, s := range c.streams {
		if !s.matches(topic) {
			continue
		}
		select {
		case s.ch <- resp:
		default:
			c.log.Warn("stream buffer full, dropping message", "topic", topic)
		}
	}
	c.mu.Unlock()
}

// onStatus reacts to connectivity transitions. After a connection that did
// not resume the previous session, every held subscription is replayed.
func (c *Client) onStatus(status ConnectionStatus) {
	if !status.Connected {
		c.log.Debug("adapter disconnected")
		return
	}
	if status.RejoinedSession {
		c.log.Debug("adapter reconnected, session resumed")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	filters := make([]string, 0, len(c.subscribed))
	for filter := range c.subscribed {
		filters = append(filters, filter)
	}
	qos := c.qos
	c.mu.Unlock()

	for _, filter := range filters {
		ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
		err := c.adapter.Subscribe(ctx, filter, qos)
		cancel()
		if err != nil {
			c.log.Error("resubscribe after reconnect failed", "filter", filter, "error", err)
		}
	}
}

// Close fails every pending request with ErrClientClosed, closes all
// streams, and releases the adapter. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	streams := c.streams
	c.pending = map[uint64]*pendingRequest{}
	c.streams = map[uint64]*Stream{}
	c.mu.Unlock()

	for _, p := range pending {
		p.done <- settlement{err: ErrClientClosed}
	}
	for _, s := range streams {
		s.once.Do(func() { close(s.ch) })
	}
	return c.adapter.Close()
}
