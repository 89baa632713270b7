package operator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// SeedAdmins ensures every configured chat identity exists as an active
// admin operator. Without at least one admin nobody can issue invites,
// so a fresh deployment would be locked out of enrollment entirely.
//
// Existing operators are promoted and reactivated rather than recreated;
// their device links and display names are untouched. Idempotent, safe
// to run on every startup.
//
// Returns:
//   - created: number of operators newly created
//   - error: first persistence failure
func SeedAdmins(ctx context.Context, repo Repository, chatIDs []int64) (created int, err error) {
	for _, chatID := range chatIDs {
		id := strconv.FormatInt(chatID, 10)

		op, err := repo.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			if err := repo.Create(ctx, &Operator{
				ID:       id,
				Role:     RoleAdmin,
				IsActive: true,
			}); err != nil {
				return created, fmt.Errorf("creating admin %s: %w", id, err)
			}
			created++
			continue
		}
		if err != nil {
			return created, fmt.Errorf("looking up admin %s: %w", id, err)
		}

		if op.Role != RoleAdmin {
			if err := repo.SetRole(ctx, id, RoleAdmin); err != nil {
				return created, fmt.Errorf("promoting admin %s: %w", id, err)
			}
		}
		if !op.IsActive {
			if err := repo.SetActive(ctx, id, true); err != nil {
				return created, fmt.Errorf("reactivating admin %s: %w", id, err)
			}
		}
	}
	return created, nil
}
