package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/config"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Connection event names recorded by RecordConnection.
const (
	EventAttempting   = "attempting"
	EventConnected    = "connected"
	EventFailed       = "failed"
	EventDisconnected = "disconnected"
	EventStopped      = "stopped"
)

// Recorder wraps the InfluxDB v2 client with glmqtt-specific measurement
// helpers.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Write operations are non-blocking and batched.
//   - Every recording helper is a safe no-op on a nil *Recorder, so
//     callers keep one code path whether telemetry is enabled or not.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.TelemetryConfig

	// connected tracks current connection state.
	connected bool
	mu        sync.RWMutex

	// onError is called when async write errors occur.
	onError func(err error)
}

// Connect establishes a connection to the InfluxDB server.
//
// It performs the following setup:
//  1. Creates the client with token authentication
//  2. Verifies connectivity with a ping
//  3. Configures the non-blocking write API with batching
//  4. Sets up error callback for async write failures
//
// Parameters:
//   - cfg: Telemetry configuration from config.yaml
//
// Returns:
//   - *Recorder: Connected recorder ready for use
//   - error: ErrDisabled when telemetry is off, or if connection fails
func Connect(cfg config.TelemetryConfig) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval.Milliseconds())),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	r := &Recorder{
		client:    client,
		writeAPI:  writeAPI,
		cfg:       cfg,
		connected: true,
	}

	go r.handleWriteErrors(writeAPI.Errors())

	return r, nil
}

// handleWriteErrors processes async write errors from the WriteAPI.
func (r *Recorder) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		r.mu.RLock()
		callback := r.onError
		r.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// Close flushes pending writes and shuts the client down. Safe on nil.
func (r *Recorder) Close() error {
	if r == nil || r.client == nil {
		return nil
	}

	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()

	r.writeAPI.Flush()
	r.client.Close()

	return nil
}

// HealthCheck verifies the InfluxDB connection is alive and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (r *Recorder) HealthCheck(ctx context.Context) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := r.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("telemetry health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("telemetry health check failed: server not healthy")
	}

	return nil
}

// IsConnected returns the current connection state. Safe on nil.
func (r *Recorder) IsConnected() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// SetOnError sets a callback to be invoked when async write errors occur.
//
// Since writes are non-blocking, errors are delivered asynchronously.
// Use this callback to log or handle write failures.
func (r *Recorder) SetOnError(callback func(err error)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = callback
}

// Flush forces all pending writes to be sent to InfluxDB.
//
// This blocks until all buffered points are written. Safe on nil and
// after Close (no-op).
func (r *Recorder) Flush() {
	if r == nil || r.writeAPI == nil || !r.IsConnected() {
		return
	}
	r.writeAPI.Flush()
}

// RecordConnection records one connection lifecycle event.
//
// Parameters:
//   - clientID: The MQTT client identifier
//   - event: One of the Event* constants
//   - rejoined: Whether the broker resumed an existing session
//
// Example:
//
//	rec.RecordConnection("glmqtt-1", telemetry.EventConnected, true)
func (r *Recorder) RecordConnection(clientID, event string, rejoined bool) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"mqtt_connection",
		map[string]string{
			"client_id": clientID,
			"event":     event,
		},
		map[string]interface{}{
			"count":            1,
			"rejoined_session": rejoined,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// RecordReconnectDelay records the backoff delay chosen after a failure,
// tagged with the running failure count. Plotting these shows the backoff
// curve a flapping broker produces.
func (r *Recorder) RecordReconnectDelay(clientID string, delay time.Duration, failures int) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"mqtt_reconnect",
		map[string]string{
			"client_id": clientID,
		},
		map[string]interface{}{
			"delay_ms": delay.Milliseconds(),
			"failures": failures,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// RecordRequestLatency records one request/response exchange.
//
// Parameters:
//   - clientID: The MQTT client identifier
//   - topic: The request publish topic (keep cardinality low)
//   - latency: Time from publish to matched response
//   - outcome: "ok", "timeout", or "error"
func (r *Recorder) RecordRequestLatency(clientID, topic string, latency time.Duration, outcome string) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"mqtt_request",
		map[string]string{
			"client_id": clientID,
			"topic":     topic,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"latency_ms": latency.Milliseconds(),
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (r *Recorder) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	r.writeAPI.WritePoint(point)
}
