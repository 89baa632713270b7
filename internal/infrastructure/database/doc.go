// Package database owns the SQLite handle behind Vigil's repositories:
// operators, devices, schedules, invites, the offline command queue, and
// the audit trail all live in one file.
//
// The connection is opened with WAL mode so reads proceed during writes, a
// busy timeout so contending statements queue instead of failing, and
// foreign keys on because the link tables rely on cascading deletes. The
// pool is pinned to a single connection; SQLite permits one writer and a
// second connection would only wait on the file lock.
//
// Schema changes are versioned .up.sql/.down.sql files applied by Migrate
// from an fs.FS, normally the set embedded by the migrations package:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Files()); err != nil {
//		return err
//	}
//
// Migrations are additive: new columns are nullable or defaulted, and
// nothing is dropped or renamed, so an older binary can still read a newer
// file. Every query in the repositories uses parameterised statements, and
// the database file is created owner-only since it stores operator chat IDs
// and the audit history.
package database
