// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// migrations are applied in order; the schema version is tracked via
// PRAGMA user_version. Append only, never edit a shipped migration.
var migrations = []string{
	`
	CREATE TABLE periodicals (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		title            TEXT NOT NULL,
		normalized_title TEXT NOT NULL,
		language         TEXT NOT NULL DEFAULT 'English',
		publisher        TEXT,
		issn             TEXT,
		cover_path       TEXT,
		organized_path   TEXT NOT NULL,
		issue_date       TIMESTAMP NOT NULL,
		issue_count      INTEGER NOT NULL DEFAULT 1,
		tracking_id      INTEGER,
		created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (normalized_title, language, organized_path)
	);
	CREATE INDEX idx_periodicals_normalized_title ON periodicals (normalized_title);
	CREATE INDEX idx_periodicals_tracking_id ON periodicals (tracking_id);

	CREATE TABLE tracking_records (
		id                               INTEGER PRIMARY KEY AUTOINCREMENT,
		title                            TEXT NOT NULL,
		normalized_title                 TEXT NOT NULL,
		publisher                        TEXT,
		issn                             TEXT NOT NULL DEFAULT '',
		track_all_editions               INTEGER NOT NULL DEFAULT 0,
		track_new_only                   INTEGER NOT NULL DEFAULT 0,
		delete_from_client_on_completion INTEGER NOT NULL DEFAULT 0,
		organization_pattern             TEXT,
		created_at                       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at                       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (normalized_title, issn)
	);

	-- tracking_id is a weak reference on purpose: deleting a tracking record
	-- must not cascade into the queue.
	CREATE TABLE submissions (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		tracking_id   INTEGER,
		title         TEXT NOT NULL,
		url           TEXT NOT NULL,
		provider      TEXT NOT NULL DEFAULT '',
		magazine      TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending','downloading','completed','failed','skipped')),
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error    TEXT,
		job_id        TEXT,
		file_path     TEXT,
		match_group   TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at  TIMESTAMP
	);
	CREATE INDEX idx_submissions_status ON submissions (status);
	CREATE INDEX idx_submissions_job_id ON submissions (job_id);
	CREATE INDEX idx_submissions_tracking_id ON submissions (tracking_id);
	CREATE INDEX idx_submissions_match_group ON submissions (match_group);

	CREATE TABLE task_stats (
		task_id                    TEXT PRIMARY KEY,
		total_runs                 INTEGER NOT NULL DEFAULT 0,
		client_downloads_processed INTEGER NOT NULL DEFAULT 0,
		client_downloads_failed    INTEGER NOT NULL DEFAULT 0,
		folder_files_imported      INTEGER NOT NULL DEFAULT 0,
		bad_files_detected         INTEGER NOT NULL DEFAULT 0,
		last_client_check          TIMESTAMP,
		last_folder_scan           TIMESTAMP,
		last_run                   TIMESTAMP,
		last_status                TEXT NOT NULL DEFAULT '',
		last_error                 TEXT,
		updated_at                 TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`,
}

type DB struct {
	conn *sql.DB
}

// New opens (and if necessary creates) the sqlite database at path and
// applies pending migrations.
func New(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc sqlite is not safe for concurrent writers on one connection
	// pool without serialization; a single connection keeps row writes atomic.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}

	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	var version int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}

		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to bump schema version to %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}

		log.Debug().Int("version", i+1).Msg("Applied database migration")
	}

	return nil
}

// Conn exposes the underlying handle for stores.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) Close() error {
	return db.conn.Close()
}
