package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/vigil-core/internal/correlation"
	"github.com/nerrad567/vigil-core/internal/device"
)

// Actions arms and disarms devices on behalf of the system actor.
type Actions interface {
	Arm(ctx context.Context, deviceID string) error
	Disarm(ctx context.Context, deviceID string) error
}

// Notifier announces scheduled transitions to a device's operators.
type Notifier interface {
	NotifyDevice(ctx context.Context, deviceID, text string)
}

// Commander pushes schedule config to controllers.
type Commander interface {
	Send(ctx context.Context, deviceIDs []string, kind string, args map[string]any, timeout time.Duration) ([]correlation.Result, error)
}

// DeviceDirectory is the slice of the device registry the scheduler needs.
type DeviceDirectory interface {
	Get(ctx context.Context, id string) (*device.Device, error)
}

// Logger is the minimal logging interface the scheduler needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Scheduler fires auto-arm and auto-disarm transitions on exact HH:MM
// matches.
type Scheduler struct {
	repo        Repository
	actions     Actions
	notifier    Notifier
	commander   Commander
	devices     DeviceDirectory
	tick        time.Duration
	sendTimeout time.Duration
	logger      Logger

	// notified guards the advance warning: deviceID -> date last warned.
	// In-memory only; the worst a restart can do is warn twice.
	mu       sync.Mutex
	notified map[string]string

	// now is the clock source, overridable in tests.
	now func() time.Time
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(repo Repository, actions Actions, notifier Notifier, commander Commander, devices DeviceDirectory, tick, sendTimeout time.Duration) *Scheduler {
	return &Scheduler{
		repo:        repo,
		actions:     actions,
		notifier:    notifier,
		commander:   commander,
		devices:     devices,
		tick:        tick,
		sendTimeout: sendTimeout,
		logger:      noopLogger{},
		notified:    make(map[string]string),
		now:         time.Now,
	}
}

// SetLogger attaches a logger. Passing nil restores the no-op logger.
func (s *Scheduler) SetLogger(l Logger) {
	if l == nil {
		s.logger = noopLogger{}
		return
	}
	s.logger = l
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "tick", s.tick.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every enabled schedule against the current minute.
// Exposed for deterministic tests; Run calls it on each ticker fire.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	hhmm := now.Format("15:04")
	date := now.Format("2006-01-02")
	day := now.Weekday()

	schedules, err := s.repo.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("listing schedules", "error", err)
		return
	}

	for i := range schedules {
		sched := &schedules[i]
		if !sched.ActiveOn(day) {
			continue
		}
		s.evaluate(ctx, sched, hhmm, date)
	}
}

func (s *Scheduler) evaluate(ctx context.Context, sched *Schedule, hhmm, date string) {
	if sched.NotifyBeforeMinutes > 0 && sched.ArmTime != "" {
		if warnAt, ok := minutesBefore(sched.ArmTime, sched.NotifyBeforeMinutes); ok && warnAt == hhmm {
			s.warnOnce(ctx, sched, date)
		}
	}

	if sched.ArmTime == hhmm && sched.LastArmedOn != date {
		s.fire(ctx, sched, date, true)
	}
	if sched.DisarmTime == hhmm && sched.LastDisarmedOn != date {
		s.fire(ctx, sched, date, false)
	}
}

// warnOnce sends the advance warning at most once per day per device.
func (s *Scheduler) warnOnce(ctx context.Context, sched *Schedule, date string) {
	s.mu.Lock()
	if s.notified[sched.DeviceID] == date {
		s.mu.Unlock()
		return
	}
	s.notified[sched.DeviceID] = date
	s.mu.Unlock()

	s.notifier.NotifyDevice(ctx, sched.DeviceID, fmt.Sprintf(
		"⏳ Auto-arm in %d minutes (at %s). /off beforehand to keep it disarmed today.",
		sched.NotifyBeforeMinutes, sched.ArmTime))
}

func (s *Scheduler) fire(ctx context.Context, sched *Schedule, date string, arm bool) {
	verb := "auto-disarm"
	action := s.actions.Disarm
	if arm {
		verb = "auto-arm"
		action = s.actions.Arm
	}

	s.logger.Info("scheduled transition firing",
		"device_id", sched.DeviceID, "transition", verb)

	if err := action(ctx, sched.DeviceID); err != nil {
		s.logger.Error("scheduled transition failed",
			"device_id", sched.DeviceID, "transition", verb, "error", err)
		s.notifier.NotifyDevice(ctx, sched.DeviceID,
			fmt.Sprintf("⚠️ Scheduled %s failed: %v", verb, err))
		return
	}

	if err := s.repo.MarkFired(ctx, sched.DeviceID, arm, date); err != nil {
		s.logger.Error("recording scheduled transition",
			"device_id", sched.DeviceID, "error", err)
	}

	state := "disarmed"
	if arm {
		state = "armed"
	}
	s.notifier.NotifyDevice(ctx, sched.DeviceID,
		fmt.Sprintf("🕒 Scheduled transition: system %s the alarm.", state))
}

// SyncDevice pushes a dirty schedule to its controller and clears the
// flag on success. Called on device contact; a failed push leaves the
// flag set for the next attempt.
func (s *Scheduler) SyncDevice(ctx context.Context, deviceID string) error {
	dirty, err := s.repo.IsDirty(ctx, deviceID)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	sched, err := s.repo.Get(ctx, deviceID)
	if err != nil {
		return err
	}

	args := map[string]any{
		"enabled":     sched.Enabled,
		"arm_time":    sched.ArmTime,
		"disarm_time": sched.DisarmTime,
		"days_mask":   sched.DaysMask,
	}
	results, err := s.commander.Send(ctx, []string{deviceID}, "set_schedule", args, s.sendTimeout)
	if err != nil {
		return err
	}
	if results[0].Err != nil {
		s.logger.Warn("schedule push failed, staying dirty",
			"device_id", deviceID, "error", results[0].Err)
		return results[0].Err
	}

	return s.repo.ClearDirty(ctx, deviceID)
}

// Get returns the stored schedule for a device.
func (s *Scheduler) Get(ctx context.Context, deviceID string) (*Schedule, error) {
	return s.repo.Get(ctx, deviceID)
}

// Apply persists a schedule edit and attempts an immediate push when the
// controller is online. The edit itself always succeeds if valid; push
// failures surface through the dirty flag, not the return value.
func (s *Scheduler) Apply(ctx context.Context, sched *Schedule) error {
	if err := s.repo.Upsert(ctx, sched); err != nil {
		return err
	}

	dev, err := s.devices.Get(ctx, sched.DeviceID)
	if err != nil {
		return err
	}
	if !dev.Online {
		s.logger.Debug("controller offline, schedule push deferred",
			"device_id", sched.DeviceID)
		return nil
	}

	if err := s.SyncDevice(ctx, sched.DeviceID); err != nil {
		s.logger.Warn("immediate schedule push failed",
			"device_id", sched.DeviceID, "error", err)
	}
	return nil
}

// minutesBefore returns the HH:MM that is mins minutes before hhmm.
// Warnings that would land on the previous calendar day are skipped.
func minutesBefore(hhmm string, mins int) (string, bool) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", false
	}
	total := t.Hour()*60 + t.Minute() - mins
	if total < 0 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", total/60, total%60), true
}
