package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateTelemetry updates the state fields from a telemetry snapshot.
	// This is optimised for the frequent per-contact write path. The
	// deterrent mode is written only when acceptMode is true (mode sync
	// grace is decided by the caller).
	UpdateTelemetry(ctx context.Context, t Telemetry, acceptMode bool) error

	// SetBengalaMode persists a local deterrent mode change, recording
	// the change time for the telemetry sync grace window.
	SetBengalaMode(ctx context.Context, id string, mode BengalaMode, changedAt time.Time) error

	// SetArmed persists a confirmed armed/disarmed state.
	SetArmed(ctx context.Context, id string, armed bool) error

	// SetOnline persists an online/offline transition.
	SetOnline(ctx context.Context, id string, online bool) error

	// EnqueueCommand stores a config-class command for an offline device.
	EnqueueCommand(ctx context.Context, cmd *QueuedCommand) error

	// PendingCommands returns queued commands for a device, oldest first,
	// excluding entries older than maxAge (which are deleted).
	PendingCommands(ctx context.Context, deviceID string, maxAge time.Duration) ([]QueuedCommand, error)

	// DeleteCommand removes a queued command after successful replay.
	DeleteCommand(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, armed, alarm_active, bengala_mode,
	bengala_mode_changed_at, rssi, online, last_seen, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	if device.ID == "" {
		return ErrInvalidID
	}
	if !IsValidBengalaMode(device.BengalaMode) {
		return ErrInvalidMode
	}

	exists, err := r.exists(ctx, device.ID)
	if err != nil {
		return err
	}
	if exists {
		return ErrExists
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		boolToInt(device.Armed),
		boolToInt(device.AlarmActive),
		string(device.BengalaMode),
		nullableTime(device.BengalaModeChangedAt),
		device.RSSI,
		boolToInt(device.Online),
		nullableTime(device.LastSeen),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	if !IsValidBengalaMode(device.BengalaMode) {
		return ErrInvalidMode
	}

	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices
		SET name = ?, armed = ?, alarm_active = ?, bengala_mode = ?,
			bengala_mode_changed_at = ?, rssi = ?, online = ?, last_seen = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Name,
		boolToInt(device.Armed),
		boolToInt(device.AlarmActive),
		string(device.BengalaMode),
		nullableTime(device.BengalaModeChangedAt),
		device.RSSI,
		boolToInt(device.Online),
		nullableTime(device.LastSeen),
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return checkAffected(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return checkAffected(result)
}

// UpdateTelemetry updates the state fields from a telemetry snapshot.
func (r *SQLiteRepository) UpdateTelemetry(ctx context.Context, t Telemetry, acceptMode bool) error {
	now := time.Now().UTC().Format(time.RFC3339)
	seen := t.Time.UTC().Format(time.RFC3339)

	var (
		result sql.Result
		err    error
	)
	if acceptMode && IsValidBengalaMode(t.BengalaMode) {
		result, err = r.db.ExecContext(ctx, `
			UPDATE devices
			SET armed = ?, alarm_active = ?, bengala_mode = ?, rssi = ?,
				online = 1, last_seen = ?, updated_at = ?
			WHERE id = ?`,
			boolToInt(t.Armed), boolToInt(t.AlarmActive), string(t.BengalaMode),
			t.RSSI, seen, now, t.DeviceID,
		)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE devices
			SET armed = ?, alarm_active = ?, rssi = ?,
				online = 1, last_seen = ?, updated_at = ?
			WHERE id = ?`,
			boolToInt(t.Armed), boolToInt(t.AlarmActive),
			t.RSSI, seen, now, t.DeviceID,
		)
	}
	if err != nil {
		return fmt.Errorf("updating telemetry: %w", err)
	}
	return checkAffected(result)
}

// SetBengalaMode persists a local deterrent mode change.
func (r *SQLiteRepository) SetBengalaMode(ctx context.Context, id string, mode BengalaMode, changedAt time.Time) error {
	if !IsValidBengalaMode(mode) {
		return ErrInvalidMode
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET bengala_mode = ?, bengala_mode_changed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(mode),
		changedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating bengala mode: %w", err)
	}
	return checkAffected(result)
}

// SetArmed persists a confirmed armed/disarmed state.
func (r *SQLiteRepository) SetArmed(ctx context.Context, id string, armed bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET armed = ?, updated_at = ? WHERE id = ?`,
		boolToInt(armed),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating armed state: %w", err)
	}
	return checkAffected(result)
}

// SetOnline persists an online/offline transition.
func (r *SQLiteRepository) SetOnline(ctx context.Context, id string, online bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET online = ?, updated_at = ? WHERE id = ?`,
		boolToInt(online),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating online state: %w", err)
	}
	return checkAffected(result)
}

// EnqueueCommand stores a config-class command for an offline device.
func (r *SQLiteRepository) EnqueueCommand(ctx context.Context, cmd *QueuedCommand) error {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO offline_commands (id, device_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		cmd.ID, cmd.DeviceID, cmd.Kind, string(cmd.Payload),
		cmd.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("enqueueing command: %w", err)
	}
	return nil
}

// PendingCommands returns queued commands for a device, oldest first.
// Entries older than maxAge are deleted rather than returned.
func (r *SQLiteRepository) PendingCommands(ctx context.Context, deviceID string, maxAge time.Duration) ([]QueuedCommand, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)

	// Expired entries are dropped first so replay never sends stale config.
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM offline_commands WHERE device_id = ? AND created_at < ?`,
		deviceID, cutoff,
	); err != nil {
		return nil, fmt.Errorf("purging expired commands: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, kind, payload, created_at
		FROM offline_commands
		WHERE device_id = ?
		ORDER BY created_at`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending commands: %w", err)
	}
	defer rows.Close()

	var cmds []QueuedCommand
	for rows.Next() {
		var (
			cmd       QueuedCommand
			payload   string
			createdAt string
		)
		if err := rows.Scan(&cmd.ID, &cmd.DeviceID, &cmd.Kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning queued command: %w", err)
		}
		cmd.Payload = []byte(payload)
		cmd.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
		cmds = append(cmds, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queued commands: %w", err)
	}
	return cmds, nil
}

// DeleteCommand removes a queued command after successful replay.
func (r *SQLiteRepository) DeleteCommand(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM offline_commands WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting queued command: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// ─── Helpers ───

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var (
		d             Device
		armed         int
		alarmActive   int
		mode          string
		modeChangedAt sql.NullString
		online        int
		lastSeen      sql.NullString
		createdAt     string
		updatedAt     string
	)

	err := s.Scan(&d.ID, &d.Name, &armed, &alarmActive, &mode, &modeChangedAt,
		&d.RSSI, &online, &lastSeen, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	d.Armed = armed != 0
	d.AlarmActive = alarmActive != 0
	d.Online = online != 0
	d.BengalaMode = BengalaMode(mode)
	d.BengalaModeChangedAt = parseNullTime(modeChangedAt)
	d.LastSeen = parseNullTime(lastSeen)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled

	return &d, nil
}

func (r *SQLiteRepository) exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE id = ?`, id,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking device existence: %w", err)
	}
	return count > 0, nil
}

func checkAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
