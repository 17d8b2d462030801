// Package sqlite implements the job archive on a local sqlite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"comfyguard/internal/store"
)

// Archive is the sqlite-backed job archive.
type Archive struct {
	db *sql.DB
}

// New opens (creating if needed) the archive database at dbPath.
func New(dbPath string) (*Archive, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// NewWithDB wraps an existing database handle. Used by tests.
func NewWithDB(db *sql.DB) *Archive {
	return &Archive{db: db}
}

func (a *Archive) Close() error { return a.db.Close() }

func (a *Archive) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
		correlation_id TEXT PRIMARY KEY,
		state          TEXT NOT NULL,          -- success|error|timeout
		reason         TEXT,
		artifact_count INTEGER NOT NULL DEFAULT 0,
		submitted_at   TIMESTAMP NOT NULL,
		completed_at   TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_completed ON jobs(completed_at);
	`

	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate archive schema: %w", err)
	}
	return nil
}

// Save records the terminal outcome of a job. Saving the same correlation id
// twice overwrites the previous record.
func (a *Archive) Save(ctx context.Context, rec store.JobRecord) error {
	_, err := a.db.ExecContext(ctx, `
INSERT INTO jobs (correlation_id, state, reason, artifact_count, submitted_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(correlation_id) DO UPDATE SET
	state = excluded.state,
	reason = excluded.reason,
	artifact_count = excluded.artifact_count,
	submitted_at = excluded.submitted_at,
	completed_at = excluded.completed_at`,
		rec.CorrelationID, rec.State, rec.Reason, rec.ArtifactCount,
		rec.SubmittedAt.UTC(), rec.CompletedAt.UTC())
	return err
}

// Get returns the archived record for a correlation id.
func (a *Archive) Get(ctx context.Context, correlationID string) (store.JobRecord, error) {
	row := a.db.QueryRowContext(ctx, `
SELECT correlation_id, state, reason, artifact_count, submitted_at, completed_at
FROM jobs WHERE correlation_id = ?`, correlationID)

	var rec store.JobRecord
	var reason sql.NullString
	err := row.Scan(&rec.CorrelationID, &rec.State, &reason, &rec.ArtifactCount,
		&rec.SubmittedAt, &rec.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.JobRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.JobRecord{}, err
	}
	rec.Reason = reason.String
	return rec, nil
}

// Recent returns up to limit records, newest completion first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]store.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT correlation_id, state, reason, artifact_count, submitted_at, completed_at
FROM jobs ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.JobRecord
	for rows.Next() {
		var rec store.JobRecord
		var reason sql.NullString
		if err := rows.Scan(&rec.CorrelationID, &rec.State, &reason, &rec.ArtifactCount,
			&rec.SubmittedAt, &rec.CompletedAt); err != nil {
			return nil, err
		}
		rec.Reason = reason.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
