package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// boolField converts a bool to the 0/1 field value used in telemetry points.
func boolField(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// WriteTelemetry records a controller state snapshot.
//
// This is the primary method for recording device telemetry. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Controller identifier (e.g., "alarm-gate-01")
//   - armed: Whether the controller reports itself armed
//   - alarmActive: Whether the siren/alarm output is currently firing
//   - rssi: Reported signal strength in dBm
//
// Example:
//
//	client.WriteTelemetry("alarm-gate-01", true, false, -67)
func (c *Client) WriteTelemetry(deviceID string, armed, alarmActive bool, rssi int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"armed":        boolField(armed),
			"alarm_active": boolField(alarmActive),
			"rssi":         int64(rssi),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEvent records an unsolicited device event (alarm triggered, armed,
// bengala fired) for historical queries.
//
// Parameters:
//   - deviceID: Controller identifier
//   - kind: Event kind string (e.g., "alarm_triggered")
func (c *Client) WriteEvent(deviceID string, kind string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"events",
		map[string]string{
			"device_id": deviceID,
			"kind":      kind,
		},
		map[string]interface{}{
			"count": int64(1),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
