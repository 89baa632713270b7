// Package ingest bridges the device bus into the core.
//
// Controllers publish unsolicited events, periodic telemetry and command
// replies over MQTT. The bridge subscribes to those topics, decodes the
// payloads and routes them: events update alarm state and kick off the
// deterrent flow, telemetry refreshes the registry and triggers offline
// command replay plus schedule sync on reconnect, replies are handed to
// the correlation tracker.
package ingest
