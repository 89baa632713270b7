package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides cached access to devices with write-through persistence.
//
// The cache holds every device (controller fleets are small) and is the
// single source for the frequently read last-known state. All writes go
// through the repository first; the cache is updated only after a
// successful persist.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	repo  Repository
	cache map[string]*Device
	mu    sync.RWMutex

	// modeSyncGrace protects a local deterrent mode change from being
	// overwritten by telemetry that has not caught up yet.
	modeSyncGrace time.Duration

	logger Logger
	now    func() time.Time
}

// NewRegistry creates a device registry backed by the given repository.
//
// Parameters:
//   - repo: Persistence backend
//   - modeSyncGrace: Window during which telemetry cannot overwrite a
//     locally changed deterrent mode
func NewRegistry(repo Repository, modeSyncGrace time.Duration) *Registry {
	return &Registry{
		repo:          repo,
		cache:         make(map[string]*Device),
		modeSyncGrace: modeSyncGrace,
		logger:        noopLogger{},
		now:           time.Now,
	}
}

// SetLogger sets the logger for registry operations.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RefreshCache reloads all devices from the repository into the cache.
// Call once at startup; afterwards the cache stays consistent through
// write-through updates.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("refreshing device cache: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = &d
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Get returns a copy of the device with the given ID.
// Returns ErrNotFound if the device does not exist.
func (r *Registry) Get(ctx context.Context, id string) (*Device, error) {
	r.mu.RLock()
	cached, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	// Cache miss: fall through to the repository (device may have been
	// provisioned since startup).
	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.mu.Unlock()

	return d, nil
}

// List returns copies of all devices, ordered by name.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// Create provisions a new device and caches it.
func (r *Registry) Create(ctx context.Context, d *Device) error {
	if d.BengalaMode == "" {
		d.BengalaMode = ModeAsk
	}
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.mu.Unlock()

	r.logger.Info("device created", "device_id", d.ID, "name", d.Name)
	return nil
}

// Update persists a full device update and refreshes the cache.
func (r *Registry) Update(ctx context.Context, d *Device) error {
	if err := r.repo.Update(ctx, d); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.mu.Unlock()

	return nil
}

// Delete removes a device from persistence and cache.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()

	r.logger.Info("device deleted", "device_id", id)
	return nil
}

// ApplyTelemetry ingests a controller state snapshot.
//
// An unknown device ID registers the device on first contact: controllers
// self-provision by announcing themselves on the telemetry topic. The new
// device starts in ask mode and is named after its ID until renamed.
//
// The reported deterrent mode is ignored while a local mode change is
// within the sync grace window, so an operator's choice is not undone by
// a controller that has not yet received the new mode.
//
// Returns:
//   - cameOnline: true if this contact transitioned the device from offline
//   - error: persistence failure
func (r *Registry) ApplyTelemetry(ctx context.Context, t Telemetry) (cameOnline bool, err error) {
	r.mu.RLock()
	cached, ok := r.cache[t.DeviceID]
	var (
		wasOnline     bool
		localMode     BengalaMode
		modeChangedAt *time.Time
	)
	if ok {
		wasOnline = cached.Online
		localMode = cached.BengalaMode
		if cached.BengalaModeChangedAt != nil {
			ts := *cached.BengalaModeChangedAt
			modeChangedAt = &ts
		}
	}
	r.mu.RUnlock()

	if !ok {
		mode := ModeAsk
		if IsValidBengalaMode(t.BengalaMode) {
			mode = t.BengalaMode
		}
		created := &Device{ID: t.DeviceID, Name: t.DeviceID, BengalaMode: mode}
		if err := r.Create(ctx, created); err != nil {
			return false, fmt.Errorf("registering device on first contact: %w", err)
		}
		r.logger.Info("device registered on first contact", "device_id", t.DeviceID)
	}

	acceptMode := IsValidBengalaMode(t.BengalaMode)
	if acceptMode && t.BengalaMode != localMode && modeChangedAt != nil &&
		r.now().Sub(*modeChangedAt) < r.modeSyncGrace {
		r.logger.Debug("ignoring stale telemetry mode",
			"device_id", t.DeviceID,
			"reported", t.BengalaMode,
			"local", localMode,
		)
		acceptMode = false
	}

	if err := r.repo.UpdateTelemetry(ctx, t, acceptMode); err != nil {
		return false, err
	}

	r.mu.Lock()
	if d, ok := r.cache[t.DeviceID]; ok {
		d.Armed = t.Armed
		d.AlarmActive = t.AlarmActive
		d.RSSI = t.RSSI
		d.Online = true
		ts := t.Time
		d.LastSeen = &ts
		if acceptMode {
			d.BengalaMode = t.BengalaMode
		}
	}
	r.mu.Unlock()

	return !wasOnline, nil
}

// SetBengalaMode records an operator-initiated deterrent mode change.
// The change time starts the telemetry sync grace window.
func (r *Registry) SetBengalaMode(ctx context.Context, id string, mode BengalaMode) error {
	if !IsValidBengalaMode(mode) {
		return ErrInvalidMode
	}

	changedAt := r.now()
	if err := r.repo.SetBengalaMode(ctx, id, mode, changedAt); err != nil {
		return err
	}

	r.mu.Lock()
	if d, ok := r.cache[id]; ok {
		d.BengalaMode = mode
		ts := changedAt
		d.BengalaModeChangedAt = &ts
	}
	r.mu.Unlock()

	r.logger.Info("bengala mode changed", "device_id", id, "mode", mode)
	return nil
}

// SetArmed records a confirmed armed/disarmed state.
func (r *Registry) SetArmed(ctx context.Context, id string, armed bool) error {
	if err := r.repo.SetArmed(ctx, id, armed); err != nil {
		return err
	}

	r.mu.Lock()
	if d, ok := r.cache[id]; ok {
		d.Armed = armed
	}
	r.mu.Unlock()

	return nil
}

// SetAlarmActive records an alarm activation or clearance from an
// unsolicited device event.
func (r *Registry) SetAlarmActive(ctx context.Context, id string, active bool) error {
	r.mu.RLock()
	cached, ok := r.cache[id]
	var cp *Device
	if ok {
		cp = cached.DeepCopy()
	}
	r.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}

	cp.AlarmActive = active
	if err := r.repo.Update(ctx, cp); err != nil {
		return err
	}

	r.mu.Lock()
	if d, ok := r.cache[id]; ok {
		d.AlarmActive = active
		d.UpdatedAt = cp.UpdatedAt
	}
	r.mu.Unlock()

	return nil
}

// MarkOffline records that a device has gone silent.
func (r *Registry) MarkOffline(ctx context.Context, id string) error {
	if err := r.repo.SetOnline(ctx, id, false); err != nil {
		return err
	}

	r.mu.Lock()
	if d, ok := r.cache[id]; ok {
		d.Online = false
	}
	r.mu.Unlock()

	r.logger.Warn("device marked offline", "device_id", id)
	return nil
}

// StaleDevices returns copies of online devices whose last contact is
// older than the given window. Used by the liveness monitor.
func (r *Registry) StaleDevices(olderThan time.Duration) []Device {
	cutoff := r.now().Add(-olderThan)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []Device
	for _, d := range r.cache {
		if !d.Online {
			continue
		}
		if d.LastSeen == nil || d.LastSeen.Before(cutoff) {
			stale = append(stale, *d.DeepCopy())
		}
	}
	return stale
}

// AlarmingDevices returns copies of devices currently in an active-alarm
// state, filtered to the given ID set (nil = all devices).
func (r *Registry) AlarmingDevices(ids []string) []Device {
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var alarming []Device
	for _, d := range r.cache {
		if !d.AlarmActive {
			continue
		}
		if ids != nil && !idSet[d.ID] {
			continue
		}
		alarming = append(alarming, *d.DeepCopy())
	}
	return alarming
}

// GetStats returns registry metrics for monitoring.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{CachedDevices: len(r.cache)}
	for _, d := range r.cache {
		if d.Online {
			stats.OnlineDevices++
		}
		if d.Armed {
			stats.ArmedDevices++
		}
	}
	return stats
}
