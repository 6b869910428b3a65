package repository

import (
	"context"
	"time"

	"github.com/user/note-enricher/internal/entity"
)

// JobRepository is the durable backing store of job records and the wait/delayed queues.
type JobRepository interface {
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
	// Create persists a new pending record and appends it to the wait queue.
	Create(ctx context.Context, rec *entity.JobRecord) error
	// Get returns the record, or nil with no error when it is unknown or expired.
	Get(ctx context.Context, id string) (*entity.JobRecord, error)
	// Claim atomically moves the next ready job from pending to active.
	// Returns nil with no error when nothing is ready.
	Claim(ctx context.Context, now time.Time) (*entity.JobRecord, error)
	// UpdateProgress sets the progress of an active job.
	UpdateProgress(ctx context.Context, id string, progress int) error
	// Save persists a transition computed by the worker and releases the active slot.
	// Pending records are scheduled on the delayed queue at NextRunAt.
	Save(ctx context.Context, rec *entity.JobRecord) error
	// Active lists the records on the active list, including ones abandoned by a dead worker.
	Active(ctx context.Context) ([]*entity.JobRecord, error)
	// Waiting returns the number of jobs in the wait and delayed queues.
	Waiting(ctx context.Context) (int64, error)
	// Close releases the connection. Idempotent.
	Close() error
}

// ActiveJobRepository indexes the non-terminal job of a logical key for de-duplication.
type ActiveJobRepository interface {
	// Mark records jobID as the active job for key with an expiry.
	Mark(ctx context.Context, key, jobID string, expiry time.Duration) error
	// Lookup returns the active job id for key, or "" when none.
	Lookup(ctx context.Context, key string) (string, error)
	// MarkIfAbsent records jobID for key only when no entry exists. It returns the
	// id already holding the key and false when the key is taken.
	MarkIfAbsent(ctx context.Context, key, jobID string, expiry time.Duration) (string, bool, error)
	// Clear removes the index entry if it still points at jobID.
	Clear(ctx context.Context, key, jobID string) error
}
