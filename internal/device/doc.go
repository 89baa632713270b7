// Package device manages alarm controller records and last-known state.
//
// This package provides:
//   - Device types and deterrent (bengala) mode policy values
//   - SQLite-backed persistence (Repository / SQLiteRepository)
//   - A write-through cached Registry for frequent state reads
//   - Telemetry ingestion with a mode sync grace window
//   - A liveness Monitor marking silent controllers offline
//   - An offline command queue replayed on next controller contact
//
// # State Model
//
// Controllers are the source of truth for their own state; the registry
// holds the last-known snapshot from telemetry and correlated replies.
// The one exception is the deterrent mode: an operator's local change wins
// over stale telemetry for a grace window, because mode changes propagate
// to the controller asynchronously (possibly via the offline queue).
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo, cfg.GetModeSyncGrace())
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
package device
