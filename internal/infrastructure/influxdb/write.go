package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementName is the InfluxDB measurement holding wallbox telemetry.
const measurementName = "easywallbox"

// WriteDeviceMetric records one confirmed numeric wallbox value.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Calls on a closed client are dropped.
//
// Example:
//
//	client.WriteDeviceMetric("AA:BB:CC:DD:EE:FF", "user_limit", 16)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(devicePoint(deviceID, measurement, value, time.Now()))
}

// devicePoint builds the point for one field sample. The field name is a
// tag so every field shares the "value" column.
func devicePoint(deviceID, field string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		measurementName,
		map[string]string{
			"device_id": deviceID,
			"field":     field,
		},
		map[string]any{
			"value": value,
		},
		at,
	)
}
