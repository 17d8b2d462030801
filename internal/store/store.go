// Package store defines the persistence contract for terminal job records.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no archived record exists for a correlation id.
var ErrNotFound = errors.New("job record not found")

// JobRecord is the archived terminal outcome of one job. Artifacts are not
// persisted, only their count; the binary payloads go back to the caller
// and are the engine's to keep.
type JobRecord struct {
	CorrelationID string
	State         string
	Reason        string
	ArtifactCount int
	SubmittedAt   time.Time
	CompletedAt   time.Time
}

// Archive persists terminal job records.
type Archive interface {
	// Save records the terminal outcome of a job.
	Save(ctx context.Context, rec JobRecord) error

	// Get returns the archived record for a correlation id, or ErrNotFound.
	Get(ctx context.Context, correlationID string) (JobRecord, error)

	// Recent returns up to limit records ordered by completion time, newest first.
	Recent(ctx context.Context, limit int) ([]JobRecord, error)

	Close() error
}
