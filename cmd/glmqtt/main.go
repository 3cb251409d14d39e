// glmqtt - managed MQTT connectivity daemon
//
// This is the main entry point for the glmqtt daemon. It maintains a
// supervised MQTT connection with scheduler-owned reconnection backoff,
// publishes a retained online/offline status, optionally persists
// in-flight QoS>0 messages in SQLite, and records connection telemetry
// in InfluxDB.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/telemetry"
	"github.com/nerrad567/gray-logic-mqtt/rpc"
	"github.com/nerrad567/gray-logic-mqtt/session"
	"github.com/nerrad567/gray-logic-mqtt/store"
	"github.com/nerrad567/gray-logic-mqtt/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// probeInterval is how often the loopback round-trip probe runs.
const probeInterval = time.Minute

// statusPayload is the retained JSON document published on the status
// topic. The broker publishes the "offline" variant as the LWT when the
// connection dies without a graceful stop.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting glmqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Connect to InfluxDB (optional)
	recorder, err := telemetry.Connect(cfg.Telemetry)
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
		recorder = nil
		log.Info("telemetry disabled")
	case err != nil:
		return fmt.Errorf("connecting telemetry: %w", err)
	default:
		defer func() {
			log.Info("closing telemetry connection")
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()
		recorder.SetOnError(func(err error) {
			log.Error("telemetry write error", "error", err)
		})
		log.Info("telemetry connected",
			"url", cfg.Telemetry.URL,
			"org", cfg.Telemetry.Org,
			"bucket", cfg.Telemetry.Bucket,
		)
	}

	// Open the in-flight message store (optional)
	var messageStore *store.Store
	if cfg.Store.Enabled {
		messageStore, err = store.New(store.Config{
			Path:        cfg.Store.Path,
			BusyTimeout: cfg.Store.BusyTimeout,
			Logger:      log.With("component", "store"),
		})
		if err != nil {
			return fmt.Errorf("opening message store: %w", err)
		}
		defer func() {
			log.Info("closing message store")
			if closeErr := messageStore.Shutdown(); closeErr != nil {
				log.Error("error closing message store", "error", closeErr)
			}
		}()
		log.Info("message store opened", "path", messageStore.Path())
	} else {
		log.Info("message store disabled, in-flight QoS>0 state is in-memory only")
	}

	// Build the paho transport factory
	clientID := cfg.MQTT.Broker.ClientID
	factory, err := buildFactory(cfg, messageStore)
	if err != nil {
		return fmt.Errorf("building transport: %w", err)
	}

	// Build the session client with lifecycle handlers. The handlers are
	// constructed before the client exists, so they reach it through a
	// getter closure.
	var sess *session.Client
	getSess := func() *session.Client { return sess }
	sess, err = session.New(factory,
		session.WithBackoffPolicy(cfg.BackoffPolicy()),
		session.WithLogger(log.With("component", "session")),
		session.WithHandlers(sessionHandlers(cfg, log, recorder, getSess)),
	)
	if err != nil {
		return fmt.Errorf("creating session client: %w", err)
	}
	defer func() {
		log.Info("closing session client")
		if closeErr := sess.Close(); closeErr != nil {
			log.Error("error closing session", "error", closeErr)
		}
	}()

	if err := sess.Start(); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	log.Info("session started",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", clientID,
	)

	// Request/response client over the managed session, used by the
	// loopback probe and the peer status watch.
	rpcClient, err := rpc.New(transport.NewSessionAdapter(sess),
		rpc.WithDefaultTimeout(cfg.Request.Timeout),
		rpc.WithOperationTimeout(cfg.Request.OperationTimeout),
		rpc.WithDefaultQoS(byte(cfg.MQTT.QoS)),
		rpc.WithLogger(log.With("component", "rpc")),
	)
	if err != nil {
		return fmt.Errorf("creating rpc client: %w", err)
	}
	defer func() {
		if closeErr := rpcClient.Close(); closeErr != nil {
			log.Error("error closing rpc client", "error", closeErr)
		}
	}()

	go runProbe(ctx, rpcClient, recorder, cfg, log.With("component", "probe"))
	go watchStatus(ctx, rpcClient, cfg.MQTT.StatusTopic, clientID, log.With("component", "status-watch"))

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Publish the graceful offline status before disconnecting, then wait
	// for the transport to report terminal shutdown.
	if err := sess.Stop(&session.FinalMessage{
		Topic:    cfg.MQTT.StatusTopic,
		Payload:  statusJSON("offline", clientID, "graceful_shutdown"),
		QoS:      1,
		Retained: true,
	}); err != nil && !errors.Is(err, session.ErrClosed) {
		log.Error("error stopping session", "error", err)
	}
	waitStopped(sess, 5*time.Second)

	log.Info("glmqtt stopped")
	return nil
}

// buildFactory assembles transport options from configuration.
func buildFactory(cfg *config.Config, messageStore *store.Store) (session.TransportFactory, error) {
	opts := transport.Options{
		Host:         cfg.MQTT.Broker.Host,
		Port:         cfg.MQTT.Broker.Port,
		TLS:          cfg.MQTT.Broker.TLS,
		ClientID:     cfg.MQTT.Broker.ClientID,
		Username:     cfg.MQTT.Auth.Username,
		Password:     cfg.MQTT.Auth.Password,
		CleanSession: cfg.MQTT.CleanSession,
		KeepAlive:    cfg.MQTT.KeepAlive,
		Will: &session.FinalMessage{
			Topic:    cfg.MQTT.StatusTopic,
			Payload:  statusJSON("offline", cfg.MQTT.Broker.ClientID, "unexpected_disconnect"),
			QoS:      1,
			Retained: true,
		},
	}
	if messageStore != nil {
		opts.Store = messageStore
	}
	return transport.NewFactory(opts)
}

// sessionHandlers wires lifecycle events into logging, telemetry, and the
// retained status topic.
//
// Handlers run on the session's command loop, so the online status publish
// happens on its own goroutine; a blocking client call from a handler
// would stall event delivery.
func sessionHandlers(cfg *config.Config, log *logging.Logger, recorder *telemetry.Recorder, getSess func() *session.Client) session.Handlers {
	clientID := cfg.MQTT.Broker.ClientID

	return session.Handlers{
		OnAttemptingConnect: func() {
			log.Debug("attempting broker connection")
			recorder.RecordConnection(clientID, telemetry.EventAttempting, false)
		},
		OnConnectionSuccess: func(ev session.ConnectionSuccessEvent) {
			log.Info("broker connected",
				"rejoined_session", ev.Settings.RejoinedSession,
			)
			recorder.RecordConnection(clientID, telemetry.EventConnected, ev.Settings.RejoinedSession)
			go publishOnlineStatus(getSess(), cfg, log)
		},
		OnConnectionFailure: func(ev session.ConnectionFailureEvent) {
			log.Warn("broker connection failed", "error", ev.Err, "retry_in", ev.RetryDelay)
			recorder.RecordConnection(clientID, telemetry.EventFailed, false)
			if ev.RetryDelay > 0 {
				recorder.RecordReconnectDelay(clientID, ev.RetryDelay, ev.Failures)
			}
		},
		OnDisconnection: func(ev session.DisconnectionEvent) {
			log.Warn("broker connection lost", "error", ev.Err, "retry_in", ev.RetryDelay)
			recorder.RecordConnection(clientID, telemetry.EventDisconnected, false)
			if ev.RetryDelay > 0 {
				recorder.RecordReconnectDelay(clientID, ev.RetryDelay, ev.Failures)
			}
		},
		OnStopped: func() {
			log.Info("session stopped")
			recorder.RecordConnection(clientID, telemetry.EventStopped, false)
		},
		OnError: func(err error) {
			log.Error("transport error", "error", err)
		},
	}
}

// runProbe periodically publishes a correlated message to a loopback topic
// the client itself subscribes to. The broker echoes it back, which measures
// the full publish/subscribe round trip and exercises the request/response
// path end to end. Latencies land in telemetry.
func runProbe(ctx context.Context, client *rpc.Client, recorder *telemetry.Recorder, cfg *config.Config, log *logging.Logger) {
	clientID := cfg.MQTT.Broker.ClientID
	topic := fmt.Sprintf("glmqtt/probe/%s", clientID)

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		token := rpc.NewCorrelationToken()
		payload, _ := json.Marshal(map[string]string{"request_id": token}) //nolint:errcheck // Fixed map cannot fail to marshal

		start := time.Now()
		_, err := client.SubmitRequest(ctx, rpc.Request{
			PublishTopic:        topic,
			Payload:             payload,
			SubscriptionFilters: []string{topic},
			ResponsePaths:       []rpc.ResponsePath{{Topic: topic, CorrelationPath: "request_id"}},
			CorrelationToken:    token,
		})
		latency := time.Since(start)

		switch {
		case errors.Is(err, rpc.ErrClientClosed), errors.Is(err, context.Canceled):
			return
		case errors.Is(err, rpc.ErrRequestTimeout):
			log.Warn("loopback probe timed out", "latency", latency)
			recorder.RecordRequestLatency(clientID, topic, latency, "timeout")
		case err != nil:
			log.Warn("loopback probe failed", "error", err)
			recorder.RecordRequestLatency(clientID, topic, latency, "error")
		default:
			log.Debug("loopback probe round trip", "latency", latency)
			recorder.RecordRequestLatency(clientID, topic, latency, "ok")
		}
	}
}

// watchStatus consumes the retained status documents other instances publish
// on the shared status topic and logs peer transitions.
func watchStatus(ctx context.Context, client *rpc.Client, statusTopic, clientID string, log *logging.Logger) {
	stream, err := client.CreateStream(ctx, rpc.StreamOptions{
		SubscriptionFilters: []string{statusTopic},
	})
	if err != nil {
		log.Warn("status watch unavailable", "error", err)
		return
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream.Messages():
			if !ok {
				return
			}
			var doc statusPayload
			if err := json.Unmarshal(msg.Payload, &doc); err != nil {
				log.Warn("unreadable status document", "topic", msg.Topic, "error", err)
				continue
			}
			if doc.ClientID == clientID {
				continue // our own retained status echoed back
			}
			log.Info("peer status changed",
				"peer", doc.ClientID,
				"status", doc.Status,
				"reason", doc.Reason,
			)
		}
	}
}

// publishOnlineStatus publishes the retained online status document.
func publishOnlineStatus(sess *session.Client, cfg *config.Config, log *logging.Logger) {
	if sess == nil {
		return
	}
	payload := statusJSON("online", cfg.MQTT.Broker.ClientID, "")
	if err := sess.Publish(cfg.MQTT.StatusTopic, payload, 1, true); err != nil {
		log.Warn("publishing online status", "error", err)
	}
}

// statusJSON builds a status document for the status topic and LWT.
func statusJSON(status, clientID, reason string) []byte {
	doc := statusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, _ := json.Marshal(doc) //nolint:errcheck // Fixed struct cannot fail to marshal
	return data
}

// waitStopped blocks until the session reports Stopped or the timeout
// elapses.
func waitStopped(sess *session.Client, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sess.State() == session.StateStopped {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// getConfigPath returns the configuration file path.
// Uses GLMQTT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GLMQTT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
