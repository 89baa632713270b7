// Package audit provides access to the audit_events table recording who
// did what to which device, including system-actor transitions.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event represents a single audit trail entry.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Actor     string    `json:"actor"`
	DeviceID  string    `json:"device_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Filter controls which audit events to return.
type Filter struct {
	Kind     string // optional: filter by event kind (armed, disarmed, alarm_triggered, ...)
	Actor    string // optional: operator ID, "system" or "device"
	DeviceID string // optional: filter by device
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains the paginated audit event results.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the interface for audit event operations.
type Repository interface {
	Create(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository reads audit events from SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit event repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new audit event. The ID and Timestamp are generated
// if empty.
func (r *SQLiteRepository) Create(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = "aud-" + uuid.NewString()[:8]
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, ts, actor, device_id, kind, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.Format(time.RFC3339), event.Actor,
		nullableString(event.DeviceID), event.Kind, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns audit events matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for audit queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Actor != "" {
		conditions = append(conditions, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_events %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit events: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, ts, actor, device_id, kind, detail FROM audit_events %s ORDER BY ts DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var events []Event
	for rows.Next() {
		var event Event
		var deviceID sql.NullString
		var ts string

		if err := rows.Scan(&event.ID, &ts, &event.Actor,
			&deviceID, &event.Kind, &event.Detail); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}

		if deviceID.Valid {
			event.DeviceID = deviceID.String
		}

		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", ts, err)
		}
		event.Timestamp = t

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}

	if events == nil {
		events = []Event{}
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
