package enroll

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines persistence for invites and join requests.
type Repository interface {
	// CreateInvite stores a fresh invite.
	CreateInvite(ctx context.Context, inv *Invite) error

	// GetInvite retrieves an invite by code. Returns ErrInvalidInvite
	// for unknown codes.
	GetInvite(ctx context.Context, code string) (*Invite, error)

	// BurnInvite marks an invite used. Returns ErrInviteUsed if it
	// already was, so a code can never be redeemed twice.
	BurnInvite(ctx context.Context, code, usedBy string) error

	// CreateJoinRequest stores a join request. Returns ErrRequestExists
	// when the identity already has one awaiting approval.
	CreateJoinRequest(ctx context.Context, req *JoinRequest) error

	// GetJoinRequest retrieves the identity's join request. Returns
	// ErrNoJoinRequest when none exists.
	GetJoinRequest(ctx context.Context, identity string) (*JoinRequest, error)

	// DeleteJoinRequest removes the identity's join request.
	DeleteJoinRequest(ctx context.Context, identity string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates an enrollment repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateInvite stores a fresh invite.
func (r *SQLiteRepository) CreateInvite(ctx context.Context, inv *Invite) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invites (code, device_id, issued_by, used, created_at)
		VALUES (?, ?, ?, 0, ?)`,
		inv.Code, inv.DeviceID, inv.IssuedBy, inv.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating invite: %w", err)
	}
	return nil
}

// GetInvite retrieves an invite by code.
func (r *SQLiteRepository) GetInvite(ctx context.Context, code string) (*Invite, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT code, device_id, issued_by, used, used_by, created_at, used_at
		FROM invites WHERE code = ?`, code)

	var (
		inv               Invite
		used              int
		usedBy            sql.NullString
		createdAt, usedAt sql.NullString
	)
	err := row.Scan(&inv.Code, &inv.DeviceID, &inv.IssuedBy, &used,
		&usedBy, &createdAt, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidInvite
	}
	if err != nil {
		return nil, fmt.Errorf("querying invite: %w", err)
	}

	inv.Used = used != 0
	inv.UsedBy = usedBy.String
	if createdAt.Valid {
		if t, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
			inv.CreatedAt = t
		}
	}
	if usedAt.Valid && usedAt.String != "" {
		if t, err := time.Parse(time.RFC3339, usedAt.String); err == nil {
			inv.UsedAt = &t
		}
	}
	return &inv, nil
}

// BurnInvite marks an invite used. The WHERE clause makes the burn
// atomic: two racing redemptions cannot both succeed.
func (r *SQLiteRepository) BurnInvite(ctx context.Context, code, usedBy string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE invites SET used = 1, used_by = ?, used_at = ?
		WHERE code = ? AND used = 0`,
		usedBy, time.Now().UTC().Format(time.RFC3339), code,
	)
	if err != nil {
		return fmt.Errorf("burning invite: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish unknown from already-used.
		if _, err := r.GetInvite(ctx, code); errors.Is(err, ErrInvalidInvite) {
			return ErrInvalidInvite
		}
		return ErrInviteUsed
	}
	return nil
}

// CreateJoinRequest stores a join request.
func (r *SQLiteRepository) CreateJoinRequest(ctx context.Context, req *JoinRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO join_requests (identity, display_name, invite_code, device_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		req.Identity, req.DisplayName, req.InviteCode, req.DeviceID,
		req.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrRequestExists
		}
		return fmt.Errorf("creating join request: %w", err)
	}
	return nil
}

// GetJoinRequest retrieves the identity's join request.
func (r *SQLiteRepository) GetJoinRequest(ctx context.Context, identity string) (*JoinRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT identity, display_name, invite_code, device_id, created_at
		FROM join_requests WHERE identity = ?`, identity)

	var (
		req       JoinRequest
		createdAt string
	)
	err := row.Scan(&req.Identity, &req.DisplayName, &req.InviteCode,
		&req.DeviceID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJoinRequest
	}
	if err != nil {
		return nil, fmt.Errorf("querying join request: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		req.CreatedAt = t
	}
	return &req, nil
}

// DeleteJoinRequest removes the identity's join request.
func (r *SQLiteRepository) DeleteJoinRequest(ctx context.Context, identity string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM join_requests WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("deleting join request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNoJoinRequest
	}
	return nil
}
