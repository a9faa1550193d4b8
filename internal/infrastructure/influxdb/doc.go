// Package influxdb writes Control4 device telemetry to InfluxDB v2.
//
// Climate and fan readings (temperatures, setpoints, humidity, fan
// speed) are written as points in control4_<type> measurements tagged by
// device. Telemetry is optional: Connect returns ErrDisabled when the
// influxdb section is not enabled and the bridge runs without it.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
package influxdb
