package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "fingerprint store",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS fingerprints (
    item_id TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    first_seen_at TEXT NOT NULL,
    last_seen_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fingerprints_last_seen ON fingerprints(last_seen_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "run lock and report history",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS run_lock (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    holder TEXT NOT NULL,
    acquired_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
    run_id TEXT PRIMARY KEY,
    generated_at TEXT NOT NULL,
    total_updates INTEGER DEFAULT 0,
    summary TEXT NOT NULL,
    body_markdown TEXT NOT NULL,
    report_json TEXT NOT NULL,
    warning_count INTEGER DEFAULT 0,
    delivered INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_reports_generated ON reports(generated_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
