package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore keeps the registry in a SQLite database, one row per run,
// ordered by insertion.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create registry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Load reads every run in insertion order.
func (s *SQLiteStore) Load(ctx context.Context) (*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, particle, ion, energy, source_volume, output_dir, output_file,
		       num_events, num_jobs, random_seed, settings_file, status, extra
		FROM runs ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	doc := &Document{Runs: []RunRecord{}}
	for rows.Next() {
		var r RunRecord
		var status, extra string
		if err := rows.Scan(&r.ID, &r.Particle, &r.Ion, &r.Energy, &r.SourceVolume,
			&r.OutputDir, &r.OutputFile, &r.NumEvents, &r.NumJobs, &r.RandomSeed,
			&r.SettingsFile, &status, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Status = Status(status)
		if extra != "" {
			if err := json.Unmarshal([]byte(extra), &r.Extra); err != nil {
				return nil, fmt.Errorf("failed to decode extra keys of run %s: %w", r.ID, err)
			}
		}
		doc.Runs = append(doc.Runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return doc, nil
}

// Save replaces the stored runs with doc in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, doc *Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs`); err != nil {
		return fmt.Errorf("failed to clear runs: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO runs (seq, id, particle, ion, energy, source_volume, output_dir, output_file,
		                  num_events, num_jobs, random_seed, settings_file, status, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range doc.Runs {
		var extra string
		if len(r.Extra) > 0 {
			data, err := json.Marshal(r.Extra)
			if err != nil {
				return fmt.Errorf("failed to encode extra keys of run %s: %w", r.ID, err)
			}
			extra = string(data)
		}
		if _, err := stmt.ExecContext(ctx, i+1, r.ID, r.Particle, r.Ion, r.Energy, r.SourceVolume,
			r.OutputDir, r.OutputFile, r.NumEvents, r.NumJobs, r.RandomSeed, r.SettingsFile,
			string(r.Status), extra); err != nil {
			return fmt.Errorf("failed to insert run %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit runs: %w", err)
	}
	return nil
}

// ImportJSON loads a JSON registry document into the database, replacing
// its contents.
func (s *SQLiteStore) ImportJSON(ctx context.Context, path string) (int, error) {
	doc, err := NewJSONFileStore(path).Load(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.Save(ctx, doc); err != nil {
		return 0, err
	}
	return len(doc.Runs), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
