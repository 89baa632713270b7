// Package influxdb provides telemetry history storage for Vigil Core.
//
// Every controller telemetry snapshot and unsolicited event is written as a
// point; the ops API reads recent history back through RecentTelemetry.
//
// # Features
//
//   - Non-blocking batched writes (async error callback)
//   - Flux queries for recent per-device telemetry
//   - Health monitoring via ping
//   - Gracefully optional: when disabled in config, the core runs without it
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
//	    log.Fatal(err)
//	}
//	if client != nil {
//	    defer client.Close()
//	    client.WriteTelemetry("alarm-gate-01", true, false, -67)
//	}
package influxdb
