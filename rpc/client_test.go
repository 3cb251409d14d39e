package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// ---------------------------------------------------------------------------
// Fake adapter
// ---------------------------------------------------------------------------

type publishRecord struct {
	topic   string
	payload []byte
	qos     byte
}

type fakeAdapter struct {
	mu           sync.Mutex
	onMessage    func(topic string, payload []byte)
	onStatus     func(ConnectionStatus)
	published    []publishRecord
	subscribed   []string
	subscribeErr error
	publishErr   error
	closed       bool
}

func (f *fakeAdapter) Publish(_ context.Context, topic string, payload []byte, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishRecord{topic: topic, payload: payload, qos: qos})
	return nil
}

func (f *fakeAdapter) Subscribe(_ context.Context, filter string, _ byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed = append(f.subscribed, filter)
	return nil
}

func (f *fakeAdapter) Unsubscribe(_ context.Context, filter string) error {
	return nil
}

func (f *fakeAdapter) SetMessageHandler(fn func(topic string, payload []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = fn
}

func (f *fakeAdapter) SetStatusHandler(fn func(ConnectionStatus)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStatus = fn
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// deliver injects an inbound message as the transport would.
func (f *fakeAdapter) deliver(topic string, payload []byte) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	fn(topic, payload)
}

// status injects a connectivity transition.
func (f *fakeAdapter) status(s ConnectionStatus) {
	f.mu.Lock()
	fn := f.onStatus
	f.mu.Unlock()
	fn(s)
}

func (f *fakeAdapter) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeAdapter) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestRPC(t *testing.T) (*Client, *fakeAdapter, *clock.Mock) {
	t.Helper()
	adapter := &fakeAdapter{}
	mock := clock.NewMock()
	client, err := New(adapter, WithClock(mock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, adapter, mock
}

type submitResult struct {
	resp Response
	err  error
}

// submitAsync runs SubmitRequest on its own goroutine and blocks until the
// request publish has been observed, so the caller can deliver responses
// or drive the mock clock.
func submitAsync(t *testing.T, c *Client, adapter *fakeAdapter, req Request) chan submitResult {
	t.Helper()
	before := adapter.publishCount()
	out := make(chan submitResult, 1)
	go func() {
		resp, err := c.SubmitRequest(context.Background(), req)
		out <- submitResult{resp: resp, err: err}
	}()
	waitFor(t, func() bool { return adapter.publishCount() > before })
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

// advanceUntil drives the mock clock forward until the request resolves.
// The timer may not be armed yet when this is called, so time is added in
// small steps rather than one jump.
func advanceUntil(t *testing.T, mock *clock.Mock, out chan submitResult) submitResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case res := <-out:
			return res
		default:
			mock.Add(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatal("request did not resolve")
	return submitResult{}
}

func testRequest(token string) Request {
	return Request{
		PublishTopic:        "svc/request/get",
		Payload:             []byte(fmt.Sprintf(`{"request_id":%q}`, token)),
		SubscriptionFilters: []string{"svc/response/+"},
		ResponsePaths: []ResponsePath{
			{Topic: "svc/response/+", CorrelationPath: "request_id"},
		},
		CorrelationToken: token,
	}
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewRequiresAdapter(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNilAdapter) {
		t.Errorf("expected ErrNilAdapter, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Request/response correlation
// ---------------------------------------------------------------------------

func TestSubmitRequestCorrelatesByToken(t *testing.T) {
	client, adapter, _ := newTestRPC(t)
	defer client.Close()

	out := submitAsync(t, client, adapter, testRequest("tok-1"))

	// A reply carrying a different token must be ignored.
	adapter.deliver("svc/response/ok", []byte(`{"request_id":"tok-other"}`))
	select {
	case res := <-out:
		t.Fatalf("request settled by mismatched token: %+v", res)
	case <-time.After(20 * time.Millisecond):
	}

	adapter.deliver("svc/response/ok", []byte(`{"request_id":"tok-1","state":"on"}`))
	res := <-out
	if res.err != nil {
		t.Fatalf("SubmitRequest: %v", res.err)
	}
	if res.resp.Topic != "svc/response/ok" {
		t.Errorf("response topic = %q", res.resp.Topic)
	}
	if string(res.resp.Payload) != `{"request_id":"tok-1","state":"on"}` {
		t.Errorf("response payload = %q", res.resp.Payload)
	}
}

func TestSubmitRequestTopicOnlyCorrelation(t *testing.T) {
	client, adapter, _ := newTestRPC(t)
	defer client.Close()

	req := Request{
		PublishTopic:        "svc/request/shadow",
		Payload:             []byte(`{}`),
		SubscriptionFilters: []string{"svc/response/accepted", "svc/response/rejected"},
		ResponsePaths: []ResponsePath{
			{Topic: "svc/response/accepted"},
			{Topic: "svc/response/rejected"},
		},
	}
	out := submitAsync(t, client, adapter, req)

	adapter.deliver("svc/response/rejected", []byte(`nope`))
	res := <-out
	if res.err != nil {
		t.Fatalf("SubmitRequest: %v", res.err)
	}
	if res.resp.Topic != "svc/response/rejected" {
		t.Errorf("response topic = %q", res.resp.Topic)
	}
}

func TestSubmitRequestConcurrentRequestsResolveIndependently(t *testing.T) {
	client, adapter, _ := newTestRPC(t)
	defer client.Close()

	outA := submitAsync(t, client, adapter, testRequest("tok-a"))
	outB := submitAsync(t, client, adapter, testRequest("tok-b"))

	adapter.deliver("svc/response/ok", []byte(`{"request_id":"tok-b"}`))
	resB := <-outB
	if resB.err != nil {
		t.Fatalf("request B: %v", resB.err)
	}

	select {
	case res := <-outA:
		t.Fatalf("request A settled by B's response: %+v", res)
	case <-time.After(20 * time.Millisecond):
	}

	adapter.deliver("svc/response/ok", []byte(`{"request_id":"tok-a"}`))
	if resA := <-outA; resA.err != nil {
		t.Fatalf("request A: %v", resA.err)
	}
}

func TestSubmitRequestValidatesBeforePublishing(t *testing.T) {
	client, adapter, _ := newTestRPC(t)
	defer client.Close()

	_, err := client.SubmitRequest(context.Background(), Request{PublishTopic: "bad/+/topic"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if adapter.publishCount() != 0 {
		t.Error("invalid request must not publish")
	}
}

// ---------------------------------------------------------------------------
// Timeouts
// ---------------------------------------------------------------------------

func TestSubmitRequestTimesOut(t *testing.T) {
	client, adapter, mock := newTestRPC(t)
	defer client.Close()

	req := testRequest("tok-1")
	req.Timeout = 5 * time.Second
	out := submitAsync(t, client, adapter, req)

	res := advanceUntil(t, mock, out)
	if !errors.Is(res.err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", res.err)
	}

	// A late response must not disturb anything.
	adapter.deliver("svc/response/ok", []byte(`{"request_id":"tok-1"}`))
}

func TestSubmitRequestHonoursContextCancellation(t *testing.T) {
	client, adapter, _ := newTestRPC(t)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	before := adapter.publishCount()
	out := make(chan submitResult, 1)
	go func() {
		resp, err := client.SubmitRequest(ctx, testRequest("tok-1"))
		out <- submitResult{resp: resp, err: err}
	}()
	waitFor(t, func() bool { return adapter.publishCount() > before })

	cancel()
	res := <-out
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.err)
	}
}

// ---------------------------------------------------------------------------
// Subscription management
// ---------------------------------------------------------------------------

func TestSubmitRequestSubscribesEachFilterOnce(t *testing.T) {
	client, adapter, _ := newTestRPC(t)
	defer client.Close()

	out := submitAsync(t, client, adapter, testRequest("tok-1"))
	adapter.deliver("svc/response/ok", []byte(`{"request_id":"tok-1"}`))
	<-out

	out = submitAsync(t, client, adapter, testRequest("tok-2"))
	adapter.deliver("svc/response/ok", []byte(`{"request_id":"tok-2"}`))
	<-out

	if n := adapter.subscribeCount(); n != 1 {
		t.Errorf("shared filter subscribed %d times, want 1", n)
	}
}

func TestSubmitRequestSubscribeFailure(t *testing.T) {
	client, adapter, _ := newTestRPC(t)
	defer client.Close()

	adapter.subscribeErr = errors.New("broker refused")
	_, err := client.SubmitRequest(context.Background(), testRequest("tok-1"))
	if err == nil || !errors.Is(err, adapter.subscribeErr) {
		t.Fatalf("expected subscribe error, got %v", err)
	}
	if adapter.publishCount() != 0 {
		t.Error("request published despite failed subscribe")
	}
}

func TestSubmitRequestOperationTimeout(t *testing.T) {
	client, adapter, _ := newTestRPC(t)
	defer client.Close()

	// The adapter reporting a deadline expiry with the caller's context
	// still live means the per-operation bound fired.
	adapter.subscribeErr = context.DeadlineExceeded
	_, err := client.SubmitRequest(context.Background(), testRequest("tok-1"))
	if !errors.Is(err, ErrOperationTimeout) {
		t.Fatalf("SubmitRequest() error = %v, want ErrOperationTimeout", err)
	}
}

func TestResubscribesAfterSessionLoss(t *testing.T) {
	client, adapter, _ := newTestRPC(t)
	defer client.Close()

	out := submitAsync(t, client, adapter, testRequest("tok-1"))
	adapter.deliver("svc/response/ok", []byte(`{"request_id":"tok-1"}`))
	<-out

	// Session resumed: no replay.
	adapter.status(ConnectionStatus{Connected: true, RejoinedSession: true})
	if n := adapter.subscribeCount(); n != 1 {
		t.Fatalf("resumed session replayed subscriptions: %d", n)
	}

	// Fresh session: held filters replayed.
	adapter.status(ConnectionStatus{Connected: true, RejoinedSession: false})
	waitFor(t, func() bool { return adapter.subscribeCount() == 2 })
}

// ---------------------------------------------------------------------------
// Streams
// ---------------------------------------------------------------------------

func TestStreamDeliversMatchingMessages(t *testing.T) {
	client, adapter, _ := newTestRPC(t)
	defer client.Close()

	stream, err := client.CreateStream(context.Background(), StreamOptions{
		SubscriptionFilters: []string{"events/#"},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	defer stream.Close()

	adapter.deliver("events/device/1", []byte(`a`))
	adapter.deliver("other/topic", []byte(`b`))
	adapter.deliver("events/device/2", []byte(`c`))

	got := <-stream.Messages()
	if got.Topic != "events/device/1" {
		t.Errorf("first message topic = %q", got.Topic)
	}
	got = <-stream.Messages()
	if got.Topic != "events/device/2" {
		t.Errorf("second message topic = %q", got.Topic)
	}
}

func TestStreamDropsWhenBufferFull(t *testing.T) {
	client, adapter, _ := newTestRPC(t)
	defer client.Close()

	stream, err := client.CreateStream(context.Background(), StreamOptions{
		SubscriptionFilters: []string{"events/#"},
		BufferSize:          1,
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	defer stream.Close()

	adapter.deliver("events/1", []byte(`kept`))
	adapter.deliver("events/2", []byte(`dropped`))

	got := <-stream.Messages()
	if string(got.Payload) != "kept" {
		t.Errorf("payload = %q, want the first message", got.Payload)
	}
	select {
	case extra := <-stream.Messages():
		t.Errorf("overflow message delivered: %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStreamCloseStopsDelivery(t *testing.T) {
	client, adapter, _ := newTestRPC(t)
	defer client.Close()

	stream, err := client.CreateStream(context.Background(), StreamOptions{
		SubscriptionFilters: []string{"events/#"},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	stream.Close()
	stream.Close() // idempotent

	adapter.deliver("events/1", []byte(`late`))
	if _, ok := <-stream.Messages(); ok {
		t.Error("closed stream delivered a message")
	}
}

func TestCreateStreamValidatesFilters(t *testing.T) {
	client, _, _ := newTestRPC(t)
	defer client.Close()

	if _, err := client.CreateStream(context.Background(), StreamOptions{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty filters: expected ErrInvalidRequest, got %v", err)
	}
	_, err := client.CreateStream(context.Background(), StreamOptions{
		SubscriptionFilters: []string{"bad/#/filter"},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("bad filter: expected ErrInvalidRequest, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

func TestCloseFailsPendingRequests(t *testing.T) {
	client, adapter, _ := newTestRPC(t)

	out := submitAsync(t, client, adapter, testRequest("tok-1"))
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	res := <-out
	if !errors.Is(res.err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", res.err)
	}
	if !adapter.closed {
		t.Error("adapter not closed")
	}
}

func TestCloseClosesStreams(t *testing.T) {
	client, _, _ := newTestRPC(t)

	stream, err := client.CreateStream(context.Background(), StreamOptions{
		SubscriptionFilters: []string{"events/#"},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-stream.Messages(); ok {
		t.Error("stream channel still open after client close")
	}
}

func TestOperationsAfterClose(t *testing.T) {
	client, _, _ := newTestRPC(t)
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := client.SubmitRequest(context.Background(), testRequest("tok-1")); !errors.Is(err, ErrClientClosed) {
		t.Errorf("SubmitRequest after close: expected ErrClientClosed, got %v", err)
	}
	if _, err := client.CreateStream(context.Background(), StreamOptions{
		SubscriptionFilters: []string{"events/#"},
	}); !errors.Is(err, ErrClientClosed) {
		t.Errorf("CreateStream after close: expected ErrClientClosed, got %v", err)
	}
}
