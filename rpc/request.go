package rpc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-mqtt/topics"
)

// ResponsePath declares where a reply to a request may arrive and how to
// extract its correlation value.
type ResponsePath struct {
	// Topic is the topic (wildcards allowed) replies may arrive on. It
	// must be covered by one of the request's subscription filters.
	Topic string

	// CorrelationPath is an optional dot-separated path to the
	// correlation value inside a JSON payload, for example
	// "request_id" or "meta.token". Empty means the topic alone decides.
	CorrelationPath string
}

// Request describes one request/response exchange.
type Request struct {
	// PublishTopic carries the request payload to the responder.
	PublishTopic string

	// Payload is the request body. The caller embeds the correlation
	// token; the client never rewrites payloads.
	Payload []byte

	// SubscriptionFilters are subscribed (if not already) before the
	// request is published, so the reply cannot be missed.
	SubscriptionFilters []string

	// ResponsePaths declare the acceptable reply topics and their
	// correlation extraction rules.
	ResponsePaths []ResponsePath

	// CorrelationToken pairs the request with its reply. Empty accepts
	// any message on a matched response topic.
	CorrelationToken string

	// Timeout bounds the whole exchange. Zero takes the client default.
	Timeout time.Duration

	// QoS for the request publish and any new subscriptions. Zero takes
	// the client default.
	QoS byte
}

// Response is a matched reply.
type Response struct {
	// Topic the reply arrived on.
	Topic string

	// Payload of the reply.
	Payload []byte
}

// NewCorrelationToken mints a random token suitable for pairing a request
// with its reply.
func NewCorrelationToken() string {
	return uuid.NewString()
}

// validate checks the request shape; returned errors wrap
// ErrInvalidRequest.
func (r Request) validate() error {
	if err := topics.ValidateName(r.PublishTopic); err != nil {
		return fmt.Errorf("%w: publish topic: %w", ErrInvalidRequest, err)
	}
	if len(r.SubscriptionFilters) == 0 {
		return fmt.Errorf("%w: at least one subscription filter is required", ErrInvalidRequest)
	}
	for _, filter := range r.SubscriptionFilters {
		if err := topics.ValidateFilter(filter); err != nil {
			return fmt.Errorf("%w: subscription filter: %w", ErrInvalidRequest, err)
		}
	}
	if len(r.ResponsePaths) == 0 {
		return fmt.Errorf("%w: at least one response path is required", ErrInvalidRequest)
	}
	for _, path := range r.ResponsePaths {
		if err := topics.ValidateFilter(path.Topic); err != nil {
			return fmt.Errorf("%w: response topic: %w", ErrInvalidRequest, err)
		}
	}
	if r.Timeout < 0 {
		return fmt.Errorf("%w: timeout cannot be negative", ErrInvalidRequest)
	}
	if r.QoS > 2 {
		return fmt.Errorf("%w: QoS must be 0, 1, or 2", ErrInvalidRequest)
	}
	return nil
}

// matches reports whether an inbound message settles this request.
func (r Request) matches(topic string, payload []byte) bool {
	for _, path := range r.ResponsePaths {
		if !topics.Match(path.Topic, topic) {
			continue
		}
		if r.CorrelationToken == "" || path.CorrelationPath == "" {
			return true
		}
		if value, ok := extractCorrelation(payload, path.CorrelationPath); ok && value == r.CorrelationToken {
			return true
		}
	}
	return false
}

// extractCorrelation pulls the string value at a dot-separated path out of
// a JSON payload.
func extractCorrelation(payload []byte, path string) (string, bool) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", false
	}
	current := doc
	for _, segment := range strings.Split(path, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = object[segment]
		if !ok {
			return "", false
		}
	}
	value, ok := current.(string)
	return value, ok
}
