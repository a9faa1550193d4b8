package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementPrefix namespaces bridge measurements in a shared bucket.
const measurementPrefix = "control4_"

// WriteDeviceState records one normalized reading for a Control4 device.
//
// The measurement is "control4_" + deviceType (e.g. control4_climate) and
// the point is tagged with device_id and name. Nil fields are dropped so
// unknown readings are not written as zero. Nothing is written if no
// fields remain.
//
// Example:
//
//	client.WriteDeviceState("123", "Hallway", "climate", map[string]any{
//	    "current_temperature": 71.5,
//	    "hvac_mode":           "heat",
//	}, time.Now())
func (c *Client) WriteDeviceState(deviceID, name, deviceType string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}

	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if v != nil {
			clean[k] = v
		}
	}
	if len(clean) == 0 {
		return
	}

	tags := map[string]string{"device_id": deviceID}
	if name != "" {
		tags["name"] = name
	}

	c.writeAPI.WritePoint(write.NewPoint(measurementPrefix+deviceType, tags, clean, at))
}

// WritePoint writes a point stamped with the current time.
//
// Example:
//
//	client.WritePoint("control4_bridge",
//	    map[string]string{"bridge_id": "control4-01"},
//	    map[string]any{"commands_failed": 2})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
