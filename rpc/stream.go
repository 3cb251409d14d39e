package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-mqtt/topics"
)

const defaultStreamBuffer = 16

// StreamOptions configures a long-lived message stream.
type StreamOptions struct {
	// SubscriptionFilters are subscribed before the stream is returned.
	// Every inbound message matching one of them is delivered.
	SubscriptionFilters []string

	// BufferSize is the delivery channel capacity. Zero means 16. When
	// the buffer is full the newest message is dropped with a warning;
	// delivery never blocks the shared dispatch path.
	BufferSize int

	// QoS for the stream's subscriptions. Zero takes the client default.
	QoS byte
}

// Stream delivers every inbound message matching its filters until closed.
type Stream struct {
	client  *Client
	id      uint64
	filters []string
	ch      chan Response
	once    sync.Once
}

// CreateStream subscribes the given filters and returns a stream of the
// messages arriving on them. ctx bounds the subscribe operations only.
func (c *Client) CreateStream(ctx context.Context, opts StreamOptions) (*Stream, error) {
	if len(opts.SubscriptionFilters) == 0 {
		return nil, fmt.Errorf("%w: at least one subscription filter is required", ErrInvalidRequest)
	}
	for _, filter := range opts.SubscriptionFilters {
		if err := topics.ValidateFilter(filter); err != nil {
			return nil, fmt.Errorf("%w: subscription filter: %w", ErrInvalidRequest, err)
		}
	}
	buffer := opts.BufferSize
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	qos := opts.QoS
	if qos == 0 {
		qos = c.qos
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.nextID++
	stream := &Stream{
		client:  c,
		id:      c.nextID,
		filters: opts.SubscriptionFilters,
		ch:      make(chan Response, buffer),
	}
	c.mu.Unlock()

	if err := c.ensureSubscribed(ctx, opts.SubscriptionFilters, qos); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.streams[stream.id] = stream
	c.mu.Unlock()
	return stream, nil
}

// Messages returns the delivery channel. It is closed when the stream or
// the client is closed.
func (s *Stream) Messages() <-chan Response {
	return s.ch
}

// Close detaches the stream and closes its channel. Subscriptions are left
// in place; other requests and streams may share them.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.streams, s.id)
		close(s.ch)
		s.client.mu.Unlock()
	})
}

// matches reports whether a topic falls under one of the stream's filters.
func (s *Stream) matches(topic string) bool {
	for _, filter := range s.filters {
		if topics.Match(filter, topic) {
			return true
		}
	}
	return false
}
