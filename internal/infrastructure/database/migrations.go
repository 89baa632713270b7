package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// Migration is one versioned schema change, read from a pair of
// "<version>_<name>.up.sql" / "<version>_<name>.down.sql" files where the
// version is a YYYYMMDD_HHMMSS timestamp. The down file is optional.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// Migrate applies every migration in fsys that has not been recorded in the
// schema_migrations table, in version order. Each migration runs in its own
// transaction: a failure rolls back that migration only, earlier ones stay
// committed, and a later Migrate call resumes from the failed version. The
// call is a no-op when everything is already applied.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	if err := db.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	migrations, err := loadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	done, err := db.appliedSet(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// Rollback undoes the most recently applied migration using its down SQL.
// Intended for development databases; it fails if the migration has no down
// file, and is a no-op on a fresh database.
func (db *DB) Rollback(ctx context.Context, fsys fs.FS) error {
	applied, err := db.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1]

	migrations, err := loadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	var target *Migration
	for i := range migrations {
		if migrations[i].Version == latest {
			target = &migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration %s not present in filesystem", latest)
	}
	if target.Down == "" {
		return fmt.Errorf("migration %s has no down SQL", latest)
	}

	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, target.Down); err != nil {
		return fmt.Errorf("executing down SQL for %s: %w", latest, err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM schema_migrations WHERE version = ?", latest,
	); err != nil {
		return fmt.Errorf("removing migration record: %w", err)
	}
	return tx.Commit()
}

// Applied returns the recorded migration versions in apply order. Returns an
// empty slice when the version table does not exist yet.
func (db *DB) Applied(ctx context.Context) ([]string, error) {
	var exists int
	err := db.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking schema_migrations: %w", err)
	}
	if exists == 0 {
		return nil, nil
	}

	rows, err := db.DB.QueryContext(ctx,
		"SELECT version FROM schema_migrations ORDER BY version",
	)
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (db *DB) ensureVersionTable(ctx context.Context) error {
	_, err := db.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func (db *DB) appliedSet(ctx context.Context) (map[string]bool, error) {
	versions, err := db.Applied(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(versions))
	for _, v := range versions {
		set[v] = true
	}
	return set, nil
}

// apply runs one migration and records it, atomically.
func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return fmt.Errorf("executing up SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// loadMigrations reads every *.sql file at the root of fsys, pairs up and
// down files by version, and returns the result sorted oldest first. Files
// that do not match the naming scheme are ignored.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migration directory: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, up, ok := splitMigrationName(entry.Name())
		if !ok {
			continue
		}

		sql, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if up {
			m.Up = string(sql)
		} else {
			m.Down = string(sql)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// splitMigrationName parses "20260115_000000_initial_schema.up.sql" into
// version "20260115_000000", name "initial_schema", and direction.
func splitMigrationName(filename string) (version, name string, up, ok bool) {
	base, isUp := strings.CutSuffix(filename, ".up.sql")
	if !isUp {
		var isDown bool
		base, isDown = strings.CutSuffix(filename, ".down.sql")
		if !isDown {
			return "", "", false, false
		}
	}

	// version is the date and time fields, name is the rest
	first := strings.Index(base, "_")
	if first < 0 {
		return "", "", false, false
	}
	second := strings.Index(base[first+1:], "_")
	if second < 0 {
		return "", "", false, false
	}
	cut := first + 1 + second
	return base[:cut], base[cut+1:], isUp, true
}
