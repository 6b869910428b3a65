package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultProbeTimeout = 5 * time.Second
	defaultActiveKeyTTL = time.Hour
)

// JobQueue accepts enqueue requests and answers status queries.
type JobQueue interface {
	// Enqueue persists a new pending job for payload. With QueueOptions.Dedupe it
	// fails with an *ActiveJobError while the note has a live job, unless Replace is given.
	Enqueue(ctx context.Context, payload entity.NotePayload, opts ...EnqueueOption) (*entity.JobRecord, error)
	// GetStatus returns nil with no error when the job is unknown or expired.
	GetStatus(ctx context.Context, jobID string) (*entity.JobRecord, error)
	// FindActive returns the non-terminal job of a note, or nil.
	FindActive(ctx context.Context, noteID string) (*entity.JobRecord, error)
	// Probe checks the backing store once per process and caches the answer.
	Probe(ctx context.Context) error
	// Close releases the connection. Idempotent.
	Close() error
}

// QueueOptions configures a job queue.
type QueueOptions struct {
	Name         string
	MaxAttempts  int
	ProbeTimeout time.Duration
	ActiveKeyTTL time.Duration
	// Dedupe claims the note's active index with SET NX before creating the job.
	Dedupe bool
}

type enqueueConfig struct {
	replace bool
}

// EnqueueOption adjusts a single Enqueue call.
type EnqueueOption func(*enqueueConfig)

// Replace enqueues even when the note has a live job and points the index at the new one.
func Replace() EnqueueOption {
	return func(c *enqueueConfig) { c.replace = true }
}

type jobQueueUseCase struct {
	store  repository.JobRepository
	active repository.ActiveJobRepository
	opts   QueueOptions
	logger *zap.Logger
	now    func() time.Time

	probeOnce sync.Once
	probeErr  error

	seq       atomic.Uint32
	closeOnce sync.Once
	closeErr  error
}

// NewJobQueue creates a new JobQueue use case.
func NewJobQueue(store repository.JobRepository, active repository.ActiveJobRepository, opts QueueOptions, logger *zap.Logger) JobQueue {
	return newJobQueue(store, active, opts, logger)
}

func newJobQueue(store repository.JobRepository, active repository.ActiveJobRepository, opts QueueOptions, logger *zap.Logger) *jobQueueUseCase {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.ActiveKeyTTL <= 0 {
		opts.ActiveKeyTTL = defaultActiveKeyTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &jobQueueUseCase{
		store:  store,
		active: active,
		opts:   opts,
		logger: logger.With(zap.String("queue", opts.Name)),
		now:    time.Now,
	}
}

func (q *jobQueueUseCase) Probe(ctx context.Context) error {
	q.probeOnce.Do(func() {
		pctx, cancel := context.WithTimeout(ctx, q.opts.ProbeTimeout)
		defer cancel()
		if err := q.store.Ping(pctx); err != nil {
			q.probeErr = fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
			q.logger.Error("backing store probe failed", zap.Error(err))
			return
		}
		q.logger.Info("backing store reachable")
	})
	return q.probeErr
}

// newJobID builds note-<noteId>-<unixMillis><seq>. Only digits follow the last dash.
func (q *jobQueueUseCase) newJobID(noteID string) string {
	seq := q.seq.Add(1) % 1000
	return fmt.Sprintf("note-%s-%d%03d", noteID, q.now().UnixMilli(), seq)
}

func (q *jobQueueUseCase) Enqueue(ctx context.Context, payload entity.NotePayload, opts ...EnqueueOption) (*entity.JobRecord, error) {
	if err := q.Probe(ctx); err != nil {
		return nil, err
	}
	payload.NoteID = strings.TrimSpace(payload.NoteID)
	if payload.NoteID == "" {
		return nil, fmt.Errorf("%w: noteId is required", ErrInvalidPayload)
	}
	var cfg enqueueConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	rec := &entity.JobRecord{
		ID:          q.newJobID(payload.NoteID),
		Name:        entity.ProcessNoteJob,
		Payload:     payload,
		State:       entity.JobPending,
		MaxAttempts: q.opts.MaxAttempts,
		CreatedAt:   q.now().UTC(),
	}

	exclusive := q.opts.Dedupe && !cfg.replace
	if exclusive {
		if err := q.claimKey(ctx, payload.Key(), rec.ID); err != nil {
			return nil, err
		}
	}

	if err := q.store.Create(ctx, rec); err != nil {
		if exclusive {
			if cerr := q.active.Clear(ctx, payload.Key(), rec.ID); cerr != nil {
				q.logger.Warn("failed to release active job index", zap.String("job_id", rec.ID), zap.Error(cerr))
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	if !exclusive {
		if err := q.active.Mark(ctx, payload.Key(), rec.ID, q.opts.ActiveKeyTTL); err != nil {
			// The job is queued; only the de-duplication hint is missing.
			q.logger.Warn("failed to index active job", zap.String("job_id", rec.ID), zap.Error(err))
		}
	}

	q.logger.Info("job enqueued", zap.String("job_id", rec.ID), zap.String("note_id", payload.NoteID))
	return rec, nil
}

// claimKey points key at jobID only if no live job holds it. A terminal holder
// is released and the claim is tried once more. A holder without a record is
// treated as live: it is either mid-Enqueue or expires with ActiveKeyTTL.
func (q *jobQueueUseCase) claimKey(ctx context.Context, key, jobID string) error {
	var holder string
	for attempt := 0; attempt < 2; attempt++ {
		var (
			ok  bool
			err error
		)
		holder, ok, err = q.active.MarkIfAbsent(ctx, key, jobID, q.opts.ActiveKeyTTL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}
		if ok {
			return nil
		}

		rec, err := q.store.Get(ctx, holder)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}
		if rec == nil || !rec.State.Terminal() {
			return &ActiveJobError{JobID: holder, Job: rec}
		}
		if err := q.active.Clear(ctx, key, holder); err != nil {
			return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}
	}
	return &ActiveJobError{JobID: holder}
}

func (q *jobQueueUseCase) GetStatus(ctx context.Context, jobID string) (*entity.JobRecord, error) {
	if err := q.Probe(ctx); err != nil {
		return nil, err
	}
	rec, err := q.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return rec, nil
}

func (q *jobQueueUseCase) FindActive(ctx context.Context, noteID string) (*entity.JobRecord, error) {
	if err := q.Probe(ctx); err != nil {
		return nil, err
	}
	key := entity.NotePayload{NoteID: noteID}.Key()
	id, err := q.active.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if id == "" {
		return nil, nil
	}
	rec, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if rec == nil || rec.State.Terminal() {
		if err := q.active.Clear(ctx, key, id); err != nil {
			q.logger.Warn("failed to clear stale active job", zap.String("job_id", id), zap.Error(err))
		}
		return nil, nil
	}
	return rec, nil
}

func (q *jobQueueUseCase) Close() error {
	q.closeOnce.Do(func() {
		if q.store != nil {
			q.closeErr = q.store.Close()
		}
	})
	return q.closeErr
}
