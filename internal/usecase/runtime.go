package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/user/note-enricher/internal/repository"
	"go.uber.org/zap"
)

// Runtime owns the queue and the worker of one queue name for the life of the process.
type Runtime struct {
	mu       sync.Mutex
	queue    *jobQueueUseCase
	store    repository.JobRepository
	active   repository.ActiveJobRepository
	workerOp WorkerOptions
	worker   *Worker
	closed   bool
	logger   *zap.Logger
}

// NewRuntime wires a queue over store. Nothing connects until the first probe.
func NewRuntime(store repository.JobRepository, active repository.ActiveJobRepository, qopts QueueOptions, wopts WorkerOptions, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	if wopts.Policy.MaxAttempts <= 0 {
		wopts.Policy.MaxAttempts = qopts.MaxAttempts
	}
	return &Runtime{
		queue:    newJobQueue(store, active, qopts, logger),
		store:    store,
		active:   active,
		workerOp: wopts,
		logger:   logger,
	}
}

// Queue returns the job queue.
func (r *Runtime) Queue() JobQueue { return r.queue }

// StartWorker starts the worker on first call and returns the running one afterwards.
// The processor of later calls is ignored.
func (r *Runtime) StartWorker(ctx context.Context, processor Processor) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrWorkerClosed
	}
	if r.worker != nil {
		return r.worker, nil
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if err := r.queue.Probe(ctx); err != nil {
		return nil, err
	}
	w := NewWorker(r.store, r.active, processor, r.workerOp, r.logger.With(zap.String("queue", r.queue.opts.Name)))
	w.Start()
	r.worker = w
	return w, nil
}

// Close stops the worker, waits for in-flight jobs, then releases the connection. Idempotent.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	w := r.worker
	r.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Close(ctx))
	}
	errs = append(errs, r.queue.Close())
	return errors.Join(errs...)
}

var (
	currentMu sync.Mutex
	current   *Runtime
)

// Init installs the process runtime, building it with build on first use.
// Later calls return the installed runtime without calling build.
func Init(build func() (*Runtime, error)) (*Runtime, error) {
	currentMu.Lock()
	defer currentMu.Unlock()
	if current != nil {
		return current, nil
	}
	rt, err := build()
	if err != nil {
		return nil, err
	}
	current = rt
	return rt, nil
}

// Current returns the installed runtime or nil.
func Current() *Runtime {
	currentMu.Lock()
	defer currentMu.Unlock()
	return current
}

// Teardown closes and uninstalls the process runtime. Safe when nothing was installed.
func Teardown(ctx context.Context) error {
	currentMu.Lock()
	rt := current
	current = nil
	currentMu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Close(ctx)
}
