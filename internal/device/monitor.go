package device

import (
	"context"
	"time"
)

// checkDivisor sets how often the monitor sweeps relative to the offline
// window (a 90s window is checked every 15s).
const checkDivisor = 6

// Monitor watches device liveness and reports offline transitions.
//
// A device is considered stale once it has gone longer than the configured
// window without telemetry contact. Online transitions are reported by the
// telemetry path (Registry.ApplyTelemetry), not the monitor.
type Monitor struct {
	registry     *Registry
	offlineAfter time.Duration

	// onOffline is invoked once per offline transition, outside any lock.
	onOffline func(d Device)

	logger Logger
}

// NewMonitor creates a liveness monitor.
//
// Parameters:
//   - registry: Device registry to sweep
//   - offlineAfter: Silence window after which a device is offline
//   - onOffline: Callback invoked for each offline transition (may be nil)
func NewMonitor(registry *Registry, offlineAfter time.Duration, onOffline func(d Device)) *Monitor {
	return &Monitor{
		registry:     registry,
		offlineAfter: offlineAfter,
		onOffline:    onOffline,
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for monitor operations.
func (m *Monitor) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Run sweeps for stale devices until the context is cancelled.
// It blocks; run it in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.offlineAfter / checkDivisor
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep marks every stale online device as offline and fires the callback.
// Exposed for deterministic testing; Run calls it on every tick.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, d := range m.registry.StaleDevices(m.offlineAfter) {
		if err := m.registry.MarkOffline(ctx, d.ID); err != nil {
			m.logger.Error("marking device offline", "device_id", d.ID, "error", err)
			continue
		}
		d.Online = false
		if m.onOffline != nil {
			m.onOffline(d)
		}
	}
}
