package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// openTimeout bounds the connectivity check inside Open.
	openTimeout = 5 * time.Second

	connMaxIdleTime = 30 * time.Minute
)

// Config maps the database section of config.yaml.
type Config struct {
	// Path to the SQLite file. The parent directory is created on first run.
	Path string

	// WALMode enables write-ahead logging so reads proceed during writes.
	WALMode bool

	// BusyTimeout is how long a statement waits on a locked database,
	// in seconds.
	BusyTimeout int
}

// DB is the SQLite handle behind every Vigil repository. It embeds *sql.DB,
// restricted to a single connection because SQLite allows one writer, and
// adds schema migration support and a health probe.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the SQLite database at cfg.Path, applies
// the connection pragmas, and verifies connectivity before returning. The
// file is chmodded to owner-only since it holds operator identities and the
// audit trail.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One writer; a second connection would just queue on the file lock.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // best effort on the error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// First run creates the file during the ping above.
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// dsn builds the go-sqlite3 connection string. Foreign keys are always on:
// operator_devices and the invite tables rely on cascading deletes.
func dsn(cfg Config) string {
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// Close releases the connection. Safe to call on a zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path of the database file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to confirm the handle is usable.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
