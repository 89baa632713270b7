// Package migrations holds the SQL schema migrations compiled into the
// vigil binary, so a deployment needs no migration files on disk.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var files embed.FS

// Files returns the embedded migration files for database.Migrate.
func Files() fs.FS {
	return files
}
