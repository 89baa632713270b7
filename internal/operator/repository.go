package operator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for operator persistence operations.
type Repository interface {
	// GetByID retrieves an operator with their device assignments.
	// Returns ErrNotFound if the operator does not exist.
	GetByID(ctx context.Context, id string) (*Operator, error)

	// List retrieves all operators with their device assignments.
	List(ctx context.Context) ([]Operator, error)

	// ListForDevice retrieves all active operators assigned to a device.
	ListForDevice(ctx context.Context, deviceID string) ([]Operator, error)

	// Create inserts a new operator.
	// Returns ErrExists if the operator already exists.
	Create(ctx context.Context, op *Operator) error

	// LinkDevice assigns a device to an operator (idempotent).
	LinkDevice(ctx context.Context, operatorID, deviceID string) error

	// UnlinkDevice removes a device assignment.
	// Returns ErrNotLinked if the assignment does not exist.
	UnlinkDevice(ctx context.Context, operatorID, deviceID string) error

	// SetActive soft-enables or soft-disables an operator.
	SetActive(ctx context.Context, id string, active bool) error

	// SetRole changes an operator's authorisation tier.
	// Returns ErrInvalidRole for unknown roles, ErrNotFound if the
	// operator does not exist.
	SetRole(ctx context.Context, id string, role Role) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves an operator with their device assignments.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Operator, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, role, is_active, created_at, updated_at
		FROM operators WHERE id = ?`, id)

	op, err := scanOperator(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying operator by id: %w", err)
	}

	if op.DeviceIDs, err = r.deviceIDs(ctx, id); err != nil {
		return nil, err
	}
	return op, nil
}

// List retrieves all operators with their device assignments.
func (r *SQLiteRepository) List(ctx context.Context) ([]Operator, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, display_name, role, is_active, created_at, updated_at
		FROM operators ORDER BY display_name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing operators: %w", err)
	}
	defer rows.Close()

	var ops []Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning operator row: %w", err)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operators: %w", err)
	}

	for i := range ops {
		if ops[i].DeviceIDs, err = r.deviceIDs(ctx, ops[i].ID); err != nil {
			return nil, err
		}
	}
	return ops, nil
}

// ListForDevice retrieves all active operators assigned to a device.
func (r *SQLiteRepository) ListForDevice(ctx context.Context, deviceID string) ([]Operator, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.display_name, o.role, o.is_active, o.created_at, o.updated_at
		FROM operators o
		JOIN operator_devices od ON od.operator_id = o.id
		WHERE od.device_id = ? AND o.is_active = 1
		ORDER BY o.display_name, o.id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("listing operators for device: %w", err)
	}
	defer rows.Close()

	var ops []Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning operator row: %w", err)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operators: %w", err)
	}

	for i := range ops {
		if ops[i].DeviceIDs, err = r.deviceIDs(ctx, ops[i].ID); err != nil {
			return nil, err
		}
	}
	return ops, nil
}

// Create inserts a new operator and links any listed devices.
func (r *SQLiteRepository) Create(ctx context.Context, op *Operator) error {
	if !IsValidRole(op.Role) {
		return ErrInvalidRole
	}

	now := time.Now().UTC()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	op.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO operators (id, display_name, role, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, op.DisplayName, string(op.Role), boolToInt(op.IsActive),
		op.CreatedAt.Format(time.RFC3339), op.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting operator: %w", err)
	}

	for _, deviceID := range op.DeviceIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO operator_devices (operator_id, device_id, linked_at)
			VALUES (?, ?, ?)`,
			op.ID, deviceID, now.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("linking device %s: %w", deviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing operator: %w", err)
	}
	return nil
}

// LinkDevice assigns a device to an operator (idempotent).
func (r *SQLiteRepository) LinkDevice(ctx context.Context, operatorID, deviceID string) error {
	if _, err := r.GetByID(ctx, operatorID); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO operator_devices (operator_id, device_id, linked_at)
		VALUES (?, ?, ?)`,
		operatorID, deviceID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("linking device: %w", err)
	}
	return nil
}

// UnlinkDevice removes a device assignment.
func (r *SQLiteRepository) UnlinkDevice(ctx context.Context, operatorID, deviceID string) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM operator_devices WHERE operator_id = ? AND device_id = ?`,
		operatorID, deviceID,
	)
	if err != nil {
		return fmt.Errorf("unlinking device: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotLinked
	}
	return nil
}

// SetActive soft-enables or soft-disables an operator.
func (r *SQLiteRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE operators SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating operator active flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRole changes an operator's authorisation tier.
func (r *SQLiteRepository) SetRole(ctx context.Context, id string, role Role) error {
	if !IsValidRole(role) {
		return ErrInvalidRole
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE operators SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating operator role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Helpers ───

type scanner interface {
	Scan(dest ...any) error
}

func scanOperator(s scanner) (*Operator, error) {
	var (
		op        Operator
		role      string
		active    int
		createdAt string
		updatedAt string
	)
	if err := s.Scan(&op.ID, &op.DisplayName, &role, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	op.Role = Role(role)
	op.IsActive = active != 0
	op.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	op.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled
	return &op, nil
}

func (r *SQLiteRepository) deviceIDs(ctx context.Context, operatorID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id FROM operator_devices
		WHERE operator_id = ? ORDER BY device_id`, operatorID)
	if err != nil {
		return nil, fmt.Errorf("querying device links: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning device link: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device links: %w", err)
	}
	return ids, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation detects SQLite primary key conflicts without importing
// the driver's error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
