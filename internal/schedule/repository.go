package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines persistence for device schedules.
type Repository interface {
	// Get retrieves a device's schedule. Returns ErrNotFound when the
	// device has none.
	Get(ctx context.Context, deviceID string) (*Schedule, error)

	// Upsert creates or replaces a device's schedule. The row is marked
	// dirty so the next controller contact receives the new config.
	Upsert(ctx context.Context, s *Schedule) error

	// Delete removes a device's schedule.
	Delete(ctx context.Context, deviceID string) error

	// ListEnabled returns every enabled schedule.
	ListEnabled(ctx context.Context) ([]Schedule, error)

	// MarkFired records that a side of the schedule fired on the given
	// date (YYYY-MM-DD), guarding against a second firing the same day.
	MarkFired(ctx context.Context, deviceID string, arm bool, date string) error

	// IsDirty reports whether the device's schedule awaits a push.
	IsDirty(ctx context.Context, deviceID string) (bool, error)

	// ClearDirty marks the device's schedule as pushed.
	ClearDirty(ctx context.Context, deviceID string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a schedule repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const scheduleColumns = `device_id, enabled, arm_time, disarm_time, days_mask,
	notify_before_minutes, last_armed_on, last_disarmed_on, dirty, updated_at`

// Get retrieves a device's schedule.
func (r *SQLiteRepository) Get(ctx context.Context, deviceID string) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE device_id = ?`, deviceID)

	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying schedule: %w", err)
	}
	return s, nil
}

// Upsert creates or replaces a device's schedule and marks it dirty.
func (r *SQLiteRepository) Upsert(ctx context.Context, s *Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}

	s.Dirty = true
	s.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schedules (device_id, enabled, arm_time, disarm_time,
			days_mask, notify_before_minutes, dirty, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			enabled = excluded.enabled,
			arm_time = excluded.arm_time,
			disarm_time = excluded.disarm_time,
			days_mask = excluded.days_mask,
			notify_before_minutes = excluded.notify_before_minutes,
			dirty = 1,
			updated_at = excluded.updated_at`,
		s.DeviceID, boolToInt(s.Enabled), s.ArmTime, s.DisarmTime,
		s.DaysMask, s.NotifyBeforeMinutes, s.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting schedule: %w", err)
	}
	return nil
}

// Delete removes a device's schedule.
func (r *SQLiteRepository) Delete(ctx context.Context, deviceID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM schedules WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEnabled returns every enabled schedule.
func (r *SQLiteRepository) ListEnabled(ctx context.Context) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE enabled = 1 ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var schedules []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

// MarkFired records the once-per-day guard for one side of the schedule.
func (r *SQLiteRepository) MarkFired(ctx context.Context, deviceID string, arm bool, date string) error {
	column := "last_disarmed_on"
	if arm {
		column = "last_armed_on"
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE schedules SET `+column+` = ? WHERE device_id = ?`, date, deviceID)
	if err != nil {
		return fmt.Errorf("marking schedule fired: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// IsDirty reports whether the schedule awaits a controller push.
func (r *SQLiteRepository) IsDirty(ctx context.Context, deviceID string) (bool, error) {
	var dirty int
	err := r.db.QueryRowContext(ctx,
		`SELECT dirty FROM schedules WHERE device_id = ?`, deviceID).Scan(&dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying dirty flag: %w", err)
	}
	return dirty != 0, nil
}

// ClearDirty marks the schedule as pushed to the controller.
func (r *SQLiteRepository) ClearDirty(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE schedules SET dirty = 0 WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("clearing dirty flag: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*Schedule, error) {
	var (
		s                       Schedule
		enabled, dirty          int
		lastArmed, lastDisarmed sql.NullString
		updatedAt               string
	)
	err := row.Scan(&s.DeviceID, &enabled, &s.ArmTime, &s.DisarmTime,
		&s.DaysMask, &s.NotifyBeforeMinutes, &lastArmed, &lastDisarmed,
		&dirty, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.Enabled = enabled != 0
	s.Dirty = dirty != 0
	s.LastArmedOn = lastArmed.String
	s.LastDisarmedOn = lastDisarmed.String
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		s.UpdatedAt = t
	}
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
