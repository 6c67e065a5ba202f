package database

import (
	"database/sql"
	"fmt"
)

// Schema for the two durable tables. Station scripts are stored as a JSON
// blob keyed by station ID; submissions carry a UNIQUE session_id so the
// at-most-once terminal semantics hold even across server restarts.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS stations (
	id         TEXT PRIMARY KEY,
	script     TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL UNIQUE,
	candidate_id TEXT NOT NULL,
	station_id   TEXT NOT NULL,
	scores       TEXT NOT NULL,
	total_score  REAL NOT NULL,
	submitted_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_candidate ON submissions(candidate_id);
CREATE INDEX IF NOT EXISTS idx_submissions_station ON submissions(station_id);
`

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// validateTablesExist verifies the required tables after startup, so a
// misconfigured database path fails fast instead of at first write.
func validateTablesExist(db *sql.DB) error {
	for _, table := range []string{"stations", "submissions"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			return fmt.Errorf("required table %s does not exist: %w", table, err)
		}
	}
	return nil
}
