package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/repository"
	"github.com/user/note-enricher/pkg/metrics"
	"go.uber.org/zap"
)

const (
	defaultConcurrency  = 2
	maxConcurrency      = 16
	defaultPollInterval = 500 * time.Millisecond
	defaultReapInterval = 30 * time.Second
	defaultStallTimeout = 30 * time.Minute

	saveBackoffBase = 100 * time.Millisecond
	saveBackoffCap  = 5 * time.Second
)

// errStalled is recorded against jobs left active by a worker that never saved them.
var errStalled = errors.New("job stalled in active state")

// Processor handles one job payload. It reports progress through emitter and
// returns the job result, or an error classified by IsRetryable.
type Processor func(ctx context.Context, payload entity.NotePayload, emitter entity.ProgressEmitter) (json.RawMessage, error)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Concurrency  int
	PollInterval time.Duration
	Policy       RetryPolicy
	// JobTimeout bounds a single attempt; zero means no bound beyond the processor's own.
	JobTimeout time.Duration
	// ReapInterval is how often active jobs are checked for stalls.
	ReapInterval time.Duration
	// StallTimeout is how long a job may stay active before it is reaped.
	// Defaults to JobTimeout plus a minute, or 30m when JobTimeout is zero.
	StallTimeout time.Duration
}

// Worker claims jobs from the store and runs them with bounded concurrency.
type Worker struct {
	id        string
	store     repository.JobRepository
	active    repository.ActiveJobRepository
	processor Processor
	opts      WorkerOptions
	logger    *zap.Logger
	now       func() time.Time

	slots chan struct{}
	stop  chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}

	startOnce sync.Once
	closeOnce sync.Once
}

// NewWorker creates a Worker. It does nothing until Start.
func NewWorker(store repository.JobRepository, active repository.ActiveJobRepository, processor Processor, opts WorkerOptions, logger *zap.Logger) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Concurrency > maxConcurrency {
		opts.Concurrency = maxConcurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = defaultReapInterval
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = defaultStallTimeout
		if opts.JobTimeout > 0 {
			opts.StallTimeout = opts.JobTimeout + time.Minute
		}
	}
	opts.Policy = opts.Policy.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Worker{
		id:        id,
		store:     store,
		active:    active,
		processor: processor,
		opts:      opts,
		logger:    logger.With(zap.String("worker_id", id)),
		now:       time.Now,
		slots:     make(chan struct{}, opts.Concurrency),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		inflight:  make(map[string]struct{}),
	}
}

// ID identifies the worker in logs.
func (w *Worker) ID() string { return w.id }

// Start launches the claim loop and the stall reaper. Later calls are no-ops.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.logger.Info("worker started",
			zap.Int("concurrency", w.opts.Concurrency),
			zap.Int("max_attempts", w.opts.Policy.MaxAttempts),
			zap.Duration("stall_timeout", w.opts.StallTimeout),
		)
		w.wg.Add(1)
		go w.reapLoop()
		go w.loop()
	})
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case w.slots <- struct{}{}:
		}

		rec, err := w.store.Claim(context.Background(), w.now())
		if err != nil || rec == nil {
			<-w.slots
			if err != nil {
				w.logger.Error("failed to claim job", zap.Error(err))
			}
			w.refreshWaiting()
			if !w.sleep() {
				return
			}
			continue
		}

		w.track(rec.ID)
		w.wg.Add(1)
		go func(rec *entity.JobRecord) {
			defer func() { <-w.slots }()
			defer w.wg.Done()
			defer w.untrack(rec.ID)
			w.handle(rec)
		}(rec)
	}
}

// sleep waits one poll interval; false means the worker is stopping.
func (w *Worker) sleep() bool {
	t := time.NewTimer(w.opts.PollInterval)
	defer t.Stop()
	select {
	case <-w.stop:
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) refreshWaiting() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if n, err := w.store.Waiting(ctx); err == nil {
		metrics.SetWaiting(n)
	}
}

// handle runs one claimed job to a persisted transition. It never panics.
func (w *Worker) handle(rec *entity.JobRecord) {
	start := w.now()
	log := w.logger.With(
		zap.String("job_id", rec.ID),
		zap.String("note_id", rec.Payload.NoteID),
		zap.Int("attempt", rec.AttemptsMade+1),
	)
	log.Info("processing job")

	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if w.opts.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, w.opts.JobTimeout)
	}
	defer cancel()

	emitter := &progressRecorder{store: w.store, jobID: rec.ID, logger: log}
	result, err := w.run(ctx, rec.Payload, emitter)

	out := Outcome{Result: result, Err: err, Retryable: IsRetryable(err)}
	next, decision := Transition(*rec, out, w.now(), w.opts.Policy)

	if !w.persist(&next, log) {
		log.Error("job left active, the reaper will recover it", zap.String("state", string(next.State)))
		return
	}
	w.clearIfTerminal(&next, log)

	elapsed := w.now().Sub(start)
	metrics.ObserveJob(string(decision), elapsed.Seconds())

	switch decision {
	case DecisionCompleted:
		log.Info("job completed", zap.Duration("elapsed", elapsed))
	case DecisionRetry:
		log.Warn("job failed, retrying",
			zap.Error(err),
			zap.Time("next_run_at", *next.NextRunAt),
			zap.Int("attempts_made", next.AttemptsMade),
		)
	case DecisionFailed:
		log.Error("job failed",
			zap.Error(err),
			zap.Bool("retryable", out.Retryable),
			zap.Int("attempts_made", next.AttemptsMade),
		)
	}
}

// persist saves rec, retrying with capped exponential backoff until it succeeds
// or the worker stops. It reports whether the record was saved.
func (w *Worker) persist(rec *entity.JobRecord, log *zap.Logger) bool {
	delay := saveBackoffBase
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := w.store.Save(ctx, rec)
		cancel()
		if err == nil {
			return true
		}
		log.Warn("failed to persist job transition",
			zap.String("state", string(rec.State)),
			zap.Int("save_attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)

		t := time.NewTimer(delay)
		select {
		case <-w.stop:
			t.Stop()
			return false
		case <-t.C:
		}
		delay *= 2
		if delay > saveBackoffCap {
			delay = saveBackoffCap
		}
	}
}

func (w *Worker) clearIfTerminal(rec *entity.JobRecord, log *zap.Logger) {
	if !rec.State.Terminal() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.active.Clear(ctx, rec.Payload.Key(), rec.ID); err != nil {
		log.Warn("failed to clear active job index", zap.Error(err))
	}
}

func (w *Worker) track(id string) {
	w.mu.Lock()
	w.inflight[id] = struct{}{}
	w.mu.Unlock()
}

func (w *Worker) untrack(id string) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.mu.Unlock()
}

func (w *Worker) running(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.inflight[id]
	return ok
}

func (w *Worker) reapLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.reap()
		}
	}
}

// reap moves jobs that stayed active past StallTimeout through Transition as a
// retryable failure. Jobs this worker is still running are left alone.
func (w *Worker) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recs, err := w.store.Active(ctx)
	if err != nil {
		w.logger.Warn("failed to list active jobs", zap.Error(err))
		return
	}
	now := w.now()
	for _, rec := range recs {
		if rec.State != entity.JobActive || w.running(rec.ID) {
			continue
		}
		if rec.ProcessedAt != nil && now.Sub(*rec.ProcessedAt) < w.opts.StallTimeout {
			continue
		}

		log := w.logger.With(zap.String("job_id", rec.ID), zap.String("note_id", rec.Payload.NoteID))
		next, decision := Transition(*rec, Outcome{Err: errStalled, Retryable: true}, now, w.opts.Policy)
		if err := w.store.Save(ctx, &next); err != nil {
			log.Warn("failed to reap stalled job", zap.Error(err))
			continue
		}
		w.clearIfTerminal(&next, log)
		metrics.ObserveJob(string(decision), 0)
		log.Warn("reaped stalled job",
			zap.String("decision", string(decision)),
			zap.Int("attempts_made", next.AttemptsMade),
		)
	}
}

// run calls the processor and turns a panic into a permanent error.
func (w *Worker) run(ctx context.Context, payload entity.NotePayload, emitter entity.ProgressEmitter) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("processor panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			result = nil
			err = Permanent(fmt.Errorf("processor panic: %v", r))
		}
	}()
	return w.processor(ctx, payload, emitter)
}

// Close stops claiming and waits for in-flight jobs or ctx, whichever ends first. Idempotent.
func (w *Worker) Close(ctx context.Context) error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		w.startOnce.Do(func() { close(w.done) })

		finished := make(chan struct{})
		go func() {
			<-w.done
			w.wg.Wait()
			close(finished)
		}()

		select {
		case <-finished:
			w.logger.Info("worker stopped")
		case <-ctx.Done():
			err = fmt.Errorf("waiting for in-flight jobs: %w", ctx.Err())
		}
	})
	return err
}

// progressRecorder writes progress events to the job record, best effort.
type progressRecorder struct {
	store  repository.JobRepository
	jobID  string
	logger *zap.Logger

	mu   sync.Mutex
	last int
}

func (p *progressRecorder) OnProgress(event entity.ProgressEvent) {
	pct := event.Progress
	if pct > 99 {
		// 100 is reserved for the completed transition.
		pct = 99
	}
	p.mu.Lock()
	if pct <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = pct
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.store.UpdateProgress(ctx, p.jobID, pct); err != nil {
		p.logger.Debug("failed to record progress", zap.Int("progress", pct), zap.Error(err))
	}
}
