// Package telemetry records connection and request metrics in InfluxDB.
//
// This package manages:
//   - Connection lifecycle events (connects, failures, disconnections)
//   - Reconnection backoff delays, for observing retry behaviour over time
//   - Request/response latencies and outcomes
//
// Writes are non-blocking and batched by the InfluxDB client; a broker
// hiccup in the telemetry path never stalls MQTT traffic. Telemetry is
// optional: when disabled in configuration, Connect returns ErrDisabled
// and callers run without a recorder (the helpers on a nil *Recorder are
// safe no-ops).
//
// Usage:
//
//	rec, err := telemetry.Connect(cfg.Telemetry)
//	if errors.Is(err, telemetry.ErrDisabled) {
//	    rec = nil // run without telemetry
//	} else if err != nil {
//	    log.Fatal(err)
//	}
//	defer rec.Close()
//
//	rec.RecordConnection("glmqtt-1", telemetry.EventConnected, true)
package telemetry
