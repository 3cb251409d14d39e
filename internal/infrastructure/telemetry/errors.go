package telemetry

import "errors"

// Sentinel errors for telemetry operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, telemetry.ErrDisabled) {
//	    // Run without telemetry
//	}
var (
	// ErrNotConnected indicates the recorder is not connected to InfluxDB.
	ErrNotConnected = errors.New("telemetry: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("telemetry: connection failed")

	// ErrDisabled indicates telemetry is disabled in config.
	ErrDisabled = errors.New("telemetry: disabled in configuration")
)
