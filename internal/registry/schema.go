package registry

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version of the SQLite registry.
const SchemaVersion = 2

const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
    seq INTEGER PRIMARY KEY,        -- insertion order
    id TEXT NOT NULL UNIQUE,
    particle TEXT NOT NULL DEFAULT '',
    ion TEXT NOT NULL DEFAULT '',
    energy TEXT NOT NULL DEFAULT '',
    source_volume TEXT NOT NULL DEFAULT '',
    output_dir TEXT NOT NULL,
    output_file TEXT NOT NULL DEFAULT '',
    num_events INTEGER NOT NULL DEFAULT 0,
    num_jobs INTEGER NOT NULL DEFAULT 1,
    random_seed INTEGER NOT NULL DEFAULT 0,
    settings_file TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

// schemaV2 keeps record keys unknown to this version as a JSON object.
const schemaV2 = `ALTER TABLE runs ADD COLUMN extra TEXT NOT NULL DEFAULT ''`

// InitSchema creates the registry tables if they do not exist and migrates
// older databases.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	var version int
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version < 2 {
		if _, err := db.ExecContext(ctx, schemaV2); err != nil {
			return fmt.Errorf("failed to migrate schema to v2: %w", err)
		}
	}
	if version < SchemaVersion {
		if _, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}
	return nil
}
