// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package store

// This file maintains the database migration code. It runs "outside"
// the normal Store read/write paths, either at initial deployment or
// from an external tool. It is the embed-based modernization of the
// upstream work-queue's go-bindata-backed migration runner: the
// migrations themselves are compiled into the binary via go:embed
// instead of a generated Asset()/AssetDir() pair.

import (
	"database/sql"
	"embed"

	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var migrationSource = &migrate.EmbedFileSystemMigrationSource{
	FileSystem: migrationFiles,
	Root:       "migrations",
}

// Upgrade applies every pending migration to bring db up to the latest
// schema version.
func Upgrade(db *sql.DB) error {
	_, err := migrate.Exec(db, "postgres", migrationSource, migrate.Up)
	return err
}

// Downgrade reverts every migration, ultimately dropping every table
// this package owns. Intended for test teardown.
func Downgrade(db *sql.DB) error {
	_, err := migrate.Exec(db, "postgres", migrationSource, migrate.Down)
	return err
}
