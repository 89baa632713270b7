// Package api provides the HTTP ops surface and WebSocket event feed.
//
// Chat is the primary control plane; this server is a small read-mostly
// companion for dashboards and debugging: login, health, the device fleet
// with cached state, telemetry history from InfluxDB, the audit trail and
// a live event feed over WebSocket.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
