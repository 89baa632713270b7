package influxdb

import (
	"context"
	"fmt"
	"time"
)

// TelemetryPoint is one historical telemetry sample for a device.
type TelemetryPoint struct {
	Time        time.Time `json:"time"`
	Armed       bool      `json:"armed"`
	AlarmActive bool      `json:"alarm_active"`
	RSSI        int       `json:"rssi"`
}

// RecentTelemetry returns telemetry samples for a device over the trailing
// window, oldest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Controller identifier
//   - window: How far back to query (e.g., 24h)
//
// Returns:
//   - []TelemetryPoint: Samples in chronological order (may be empty)
//   - error: If the client is disconnected or the query fails
func (c *Client) RecentTelemetry(ctx context.Context, deviceID string, window time.Duration) ([]TelemetryPoint, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive", ErrQueryFailed)
	}

	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == "telemetry" and r.device_id == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"])
`, c.cfg.Bucket, int(window.Seconds()), deviceID)

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close() //nolint:errcheck // Best effort cleanup

	var points []TelemetryPoint
	for result.Next() {
		record := result.Record()
		p := TelemetryPoint{Time: record.Time()}
		if v, ok := record.ValueByKey("armed").(int64); ok {
			p.Armed = v != 0
		}
		if v, ok := record.ValueByKey("alarm_active").(int64); ok {
			p.AlarmActive = v != 0
		}
		if v, ok := record.ValueByKey("rssi").(int64); ok {
			p.RSSI = int(v)
		}
		points = append(points, p)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, result.Err())
	}

	return points, nil
}
