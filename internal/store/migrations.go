package store

import (
	"database/sql"
	"fmt"
	"time"

	"lyricreel/internal/history"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
}

// migrations contains all database migrations in order. The events and
// snapshots layout is shared with other tools and must not change in place;
// add a new version instead.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Event log and snapshot tables",
		Up:          migrationV1Up,
	},
}

// In snapshots, timestamp is the as-of time: the latest timestamp among the
// events the snapshot folds, not the wall-clock time it was written, which
// is created_at. It never decreases as event_id grows, so the snapshot with
// the greatest timestamp is also the most advanced one. Tools reading this
// table should treat the column that way.
const migrationV1Up = `
CREATE TABLE IF NOT EXISTS events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id      TEXT NOT NULL,
    event_type      TEXT NOT NULL,
    timestamp       TEXT NOT NULL,
    user            TEXT NOT NULL DEFAULT '',
    data_compressed BLOB NOT NULL,
    metadata        TEXT NOT NULL DEFAULT '{}',
    checksum        TEXT NOT NULL,
    created_at      TEXT NOT NULL,
    UNIQUE (project_id, checksum)
);

CREATE INDEX IF NOT EXISTS idx_events_project_timestamp ON events(project_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);

CREATE TABLE IF NOT EXISTS snapshots (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id       TEXT NOT NULL,
    event_id         INTEGER REFERENCES events(id),
    state_compressed BLOB NOT NULL,
    timestamp        TEXT NOT NULL,
    created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_project_timestamp ON snapshots(project_id, timestamp);
`

const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     INTEGER PRIMARY KEY,
    applied_at  TEXT NOT NULL,
    description TEXT NOT NULL
);
`

// applyMigrations brings db up to the latest schema version. Each migration
// runs in its own transaction.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(migrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, history.FormatTime(time.Now()), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// MigrationStatus describes which migrations have been applied.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
}

// GetMigrationStatus reports the schema version of the open database.
func (s *Store) GetMigrationStatus() (*MigrationStatus, error) {
	status := &MigrationStatus{
		LatestVersion: migrations[len(migrations)-1].Version,
	}

	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&status.CurrentVersion); err != nil {
		return nil, fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version > status.CurrentVersion {
			status.Pending = append(status.Pending, m)
		}
	}

	return status, nil
}

// ValidateSchema checks that all expected tables and indexes exist.
func (s *Store) ValidateSchema() error {
	required := []struct{ kind, name string }{
		{"table", "events"},
		{"table", "snapshots"},
		{"table", "schema_migrations"},
		{"index", "idx_events_project_timestamp"},
		{"index", "idx_events_type"},
		{"index", "idx_snapshots_project_timestamp"},
	}

	for _, r := range required {
		var count int
		err := s.db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
			r.kind, r.name,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check %s %s: %w", r.kind, r.name, err)
		}
		if count == 0 {
			return fmt.Errorf("missing required %s: %s", r.kind, r.name)
		}
	}

	return nil
}
