package rpc

import (
	"errors"
	"testing"
	"time"
)

func TestExtractCorrelation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		path    string
		want    string
		ok      bool
	}{
		{"top level", `{"request_id":"abc"}`, "request_id", "abc", true},
		{"nested", `{"meta":{"token":"xyz"}}`, "meta.token", "xyz", true},
		{"deeply nested", `{"a":{"b":{"c":"v"}}}`, "a.b.c", "v", true},
		{"missing key", `{"request_id":"abc"}`, "other", "", false},
		{"non-string value", `{"request_id":42}`, "request_id", "", false},
		{"path through non-object", `{"request_id":"abc"}`, "request_id.deeper", "", false},
		{"invalid json", `not json`, "request_id", "", false},
		{"empty payload", ``, "request_id", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractCorrelation([]byte(tt.payload), tt.path)
			if ok != tt.ok || got != tt.want {
				t.Errorf("extractCorrelation(%q, %q) = (%q, %v), want (%q, %v)",
					tt.payload, tt.path, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRequestValidate(t *testing.T) {
	valid := Request{
		PublishTopic:        "svc/request",
		SubscriptionFilters: []string{"svc/response/+"},
		ResponsePaths:       []ResponsePath{{Topic: "svc/response/+"}},
	}

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"wildcard in publish topic", func(r *Request) { r.PublishTopic = "svc/+/request" }},
		{"empty publish topic", func(r *Request) { r.PublishTopic = "" }},
		{"no subscription filters", func(r *Request) { r.SubscriptionFilters = nil }},
		{"bad subscription filter", func(r *Request) { r.SubscriptionFilters = []string{"svc/#/x"} }},
		{"no response paths", func(r *Request) { r.ResponsePaths = nil }},
		{"bad response topic", func(r *Request) { r.ResponsePaths = []ResponsePath{{Topic: "svc/a+b"}} }},
		{"negative timeout", func(r *Request) { r.Timeout = -time.Second }},
		{"qos out of range", func(r *Request) { r.QoS = 3 }},
	}

	if err := valid.validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			if err := req.validate(); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestRequestMatches(t *testing.T) {
	req := Request{
		CorrelationToken: "tok-1",
		ResponsePaths: []ResponsePath{
			{Topic: "svc/response/+", CorrelationPath: "request_id"},
		},
	}

	if !req.matches("svc/response/ok", []byte(`{"request_id":"tok-1"}`)) {
		t.Error("matching topic and token should settle the request")
	}
	if req.matches("svc/response/ok", []byte(`{"request_id":"tok-2"}`)) {
		t.Error("wrong token must not settle the request")
	}
	if req.matches("svc/other", []byte(`{"request_id":"tok-1"}`)) {
		t.Error("non-matching topic must not settle the request")
	}

	// No correlation path configured: topic alone decides.
	topicOnly := Request{
		CorrelationToken: "tok-1",
		ResponsePaths:    []ResponsePath{{Topic: "svc/response/accepted"}},
	}
	if !topicOnly.matches("svc/response/accepted", []byte(`whatever`)) {
		t.Error("topic-only matcher should accept any payload")
	}

	// No token on the request: any message on the topic settles it.
	noToken := Request{
		ResponsePaths: []ResponsePath{{Topic: "svc/response/+", CorrelationPath: "request_id"}},
	}
	if !noToken.matches("svc/response/ok", []byte(`{}`)) {
		t.Error("tokenless request should accept any message on a matched topic")
	}
}

func TestNewCorrelationToken(t *testing.T) {
	a, b := NewCorrelationToken(), NewCorrelationToken()
	if a == "" || b == "" {
		t.Fatal("tokens must not be empty")
	}
	if a == b {
		t.Error("consecutive tokens must differ")
	}
}

func TestIsRetryable(t *testing.T) {
	base := errors.New("boom")
	if !IsRetryable(&RetryableError{Err: base, Retryable: true}) {
		t.Error("retryable error not recognised")
	}
	if IsRetryable(&RetryableError{Err: base, Retryable: false}) {
		t.Error("non-retryable error misreported")
	}
	if IsRetryable(base) {
		t.Error("plain error misreported as retryable")
	}
	wrapped := &RetryableError{Err: base, Retryable: true}
	if !errors.Is(wrapped, base) {
		t.Error("RetryableError must unwrap to its cause")
	}
}
