package influxdb

import "errors"

// Sentinel errors for InfluxDB operations. Write failures are delivered
// asynchronously through SetOnError rather than returned.
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates telemetry is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
