package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisadapter "github.com/user/note-enricher/internal/adapter/redis"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/extraction"
	"go.uber.org/zap"
)

func fastWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Concurrency:  2,
		PollInterval: 5 * time.Millisecond,
		Policy:       RetryPolicy{MaxAttempts: 3, BackoffBase: 10 * time.Millisecond, BackoffCap: 20 * time.Millisecond},
	}
}

func newTestRuntime(t *testing.T, wopts WorkerOptions) (*Runtime, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redisadapter.NewClient(redisadapter.Config{Address: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	store := redisadapter.NewJobStore(client, "test", redisadapter.JobStoreOptions{})
	active := redisadapter.NewActiveJobRepo(client, "test")
	rt := NewRuntime(store, active, QueueOptions{Name: "test", MaxAttempts: wopts.Policy.MaxAttempts}, wopts, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Close(ctx)
	})
	return rt, mr
}

func waitForState(t *testing.T, q JobQueue, id string, want entity.JobState) *entity.JobRecord {
	t.Helper()
	var rec *entity.JobRecord
	require.Eventually(t, func() bool {
		got, err := q.GetStatus(context.Background(), id)
		if err != nil || got == nil {
			return false
		}
		rec = got
		return got.State == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return rec
}

func TestJobQueue_EnqueueCreatesPendingJob(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())
	ctx := context.Background()

	rec, err := rt.Queue().Enqueue(ctx, entity.NotePayload{NoteID: "note-456"})
	require.NoError(t, err)
	assert.Regexp(t, `^note-note-456-\d+$`, rec.ID)
	assert.Equal(t, entity.JobPending, rec.State)
	assert.Equal(t, entity.ProcessNoteJob, rec.Name)

	got, err := rt.Queue().GetStatus(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.JobPending, got.State)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, 3, got.MaxAttempts)
}

func TestJobQueue_EnqueueRejectsEmptyNoteID(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())

	_, err := rt.Queue().Enqueue(context.Background(), entity.NotePayload{NoteID: "  "})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestJobQueue_GetStatusUnknownReturnsNil(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())

	got, err := rt.Queue().GetStatus(context.Background(), "note-x-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestJobQueue_IDsStayUniqueWithinOneMillisecond(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())
	fixed := time.UnixMilli(1700000000000)
	rt.queue.now = func() time.Time { return fixed }

	a, err := rt.Queue().Enqueue(context.Background(), entity.NotePayload{NoteID: "n1"})
	require.NoError(t, err)
	b, err := rt.Queue().Enqueue(context.Background(), entity.NotePayload{NoteID: "n1"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Regexp(t, `^note-n1-1700000000000\d{3}$`, a.ID)
}

func TestJobQueue_ProbeFailureIsCached(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := redisadapter.NewClient(redisadapter.Config{Address: addr}, zap.NewNop())
	require.NoError(t, err)
	store := redisadapter.NewJobStore(client, "test", redisadapter.JobStoreOptions{})
	q := NewJobQueue(store, redisadapter.NewActiveJobRepo(client, "test"),
		QueueOptions{Name: "test", ProbeTimeout: 200 * time.Millisecond}, zap.NewNop())
	defer q.Close()

	_, err = q.Enqueue(context.Background(), entity.NotePayload{NoteID: "n1"})
	assert.ErrorIs(t, err, ErrBackingStoreUnavailable)

	_, err = q.GetStatus(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrBackingStoreUnavailable)
}

func TestJobQueue_CloseIsIdempotent(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())
	assert.NoError(t, rt.Queue().Close())
	assert.NoError(t, rt.Queue().Close())

	q := NewJobQueue(nil, nil, QueueOptions{}, nil)
	assert.NoError(t, q.Close())
}

func TestJobQueue_FindActiveTracksLifecycle(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())
	ctx := context.Background()

	release := make(chan struct{})
	rec, err := rt.Queue().Enqueue(ctx, entity.NotePayload{NoteID: "n1"})
	require.NoError(t, err)

	found, err := rt.Queue().FindActive(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.ID, found.ID)

	_, err = rt.StartWorker(ctx, func(ctx context.Context, _ entity.NotePayload, _ entity.ProgressEmitter) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{}`), nil
	})
	require.NoError(t, err)
	close(release)
	waitForState(t, rt.Queue(), rec.ID, entity.JobCompleted)

	found, err = rt.Queue().FindActive(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestWorker_CompletesNoteJob(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())
	ctx := context.Background()

	var (
		mu    sync.Mutex
		calls []entity.NotePayload
	)
	_, err := rt.StartWorker(ctx, func(ctx context.Context, p entity.NotePayload, _ entity.ProgressEmitter) (json.RawMessage, error) {
		mu.Lock()
		calls = append(calls, p)
		mu.Unlock()
		return json.RawMessage(`{"title":"Hello"}`), nil
	})
	require.NoError(t, err)

	rec, err := rt.Queue().Enqueue(ctx, entity.NotePayload{NoteID: "note-456"})
	require.NoError(t, err)
	assert.Regexp(t, `^note-note-456-\d+$`, rec.ID)

	done := waitForState(t, rt.Queue(), rec.ID, entity.JobCompleted)
	assert.Equal(t, 100, done.Progress)
	assert.Empty(t, done.Error)
	assert.JSONEq(t, `{"title":"Hello"}`, string(done.Result))
	assert.Equal(t, 1, done.AttemptsMade)

	status := done.Status()
	assert.Nil(t, status.Error)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1)
	assert.Equal(t, entity.NotePayload{NoteID: "note-456"}, calls[0])
}

func TestWorker_RetriesUntilMaxAttempts(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())
	ctx := context.Background()

	var calls atomic.Int32
	_, err := rt.StartWorker(ctx, func(ctx context.Context, _ entity.NotePayload, _ entity.ProgressEmitter) (json.RawMessage, error) {
		calls.Add(1)
		return nil, &extraction.ExtractionFailedError{URL: "https://example.com", LastErr: errors.New("connection reset")}
	})
	require.NoError(t, err)

	rec, err := rt.Queue().Enqueue(ctx, entity.NotePayload{NoteID: "n1"})
	require.NoError(t, err)

	failed := waitForState(t, rt.Queue(), rec.ID, entity.JobFailed)
	assert.Equal(t, 3, failed.AttemptsMade)
	assert.Equal(t, failed.MaxAttempts, failed.AttemptsMade)
	assert.NotEmpty(t, failed.Error)
	assert.Nil(t, failed.Result)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWorker_PermanentErrorFailsWithoutRetry(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())
	ctx := context.Background()

	var calls atomic.Int32
	_, err := rt.StartWorker(ctx, func(ctx context.Context, _ entity.NotePayload, _ entity.ProgressEmitter) (json.RawMessage, error) {
		calls.Add(1)
		return nil, Permanent(errors.New("malformed payload"))
	})
	require.NoError(t, err)

	rec, err := rt.Queue().Enqueue(ctx, entity.NotePayload{NoteID: "n1"})
	require.NoError(t, err)

	failed := waitForState(t, rt.Queue(), rec.ID, entity.JobFailed)
	assert.Equal(t, 1, failed.AttemptsMade)
	assert.Equal(t, "malformed payload", failed.Error)
	assert.EqualValues(t, 1, calls.Load())
}

func TestWorker_RecoversFromProcessorPanic(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())
	ctx := context.Background()

	_, err := rt.StartWorker(ctx, func(ctx context.Context, _ entity.NotePayload, _ entity.ProgressEmitter) (json.RawMessage, error) {
		panic("boom")
	})
	require.NoError(t, err)

	first, err := rt.Queue().Enqueue(ctx, entity.NotePayload{NoteID: "n1"})
	require.NoError(t, err)
	failed := waitForState(t, rt.Queue(), first.ID, entity.JobFailed)
	assert.Contains(t, failed.Error, "boom")

	// The loop keeps running after a panic.
	second, err := rt.Queue().Enqueue(ctx, entity.NotePayload{NoteID: "n2"})
	require.NoError(t, err)
	waitForState(t, rt.Queue(), second.ID, entity.JobFailed)
}

func TestWorker_RecordsProgress(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())
	ctx := context.Background()

	reported := make(chan struct{})
	release := make(chan struct{})
	_, err := rt.StartWorker(ctx, func(ctx context.Context, _ entity.NotePayload, emitter entity.ProgressEmitter) (json.RawMessage, error) {
		emitter.OnProgress(entity.ProgressEvent{Step: "fetch", Progress: 40})
		emitter.OnProgress(entity.ProgressEvent{Step: "late", Progress: 100})
		close(reported)
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	rec, err := rt.Queue().Enqueue(ctx, entity.NotePayload{NoteID: "n1"})
	require.NoError(t, err)

	<-reported
	mid := waitForState(t, rt.Queue(), rec.ID, entity.JobActive)
	assert.Equal(t, 99, mid.Progress, "100 is reserved for completion")

	close(release)
	done := waitForState(t, rt.Queue(), rec.ID, entity.JobCompleted)
	assert.Equal(t, 100, done.Progress)
	assert.JSONEq(t, `{}`, string(done.Result))
}

func TestRuntime_StartWorkerIsIdempotent(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())
	ctx := context.Background()
	noop := func(ctx context.Context, _ entity.NotePayload, _ entity.ProgressEmitter) (json.RawMessage, error) {
		return nil, nil
	}

	w1, err := rt.StartWorker(ctx, noop)
	require.NoError(t, err)
	w2, err := rt.StartWorker(ctx, noop)
	require.NoError(t, err)
	assert.Same(t, w1, w2)
	assert.NotEmpty(t, w1.ID())
}

func TestRuntime_CloseWithNoActivity(t *testing.T) {
	rt, _ := newTestRuntime(t, fastWorkerOptions())
	ctx := context.Background()

	assert.NoError(t, rt.Close(ctx))
	assert.NoError(t, rt.Close(ctx))

	_, err := rt.StartWorker(ctx, func(context.Context, entity.NotePayload, entity.ProgressEmitter) (json.RawMessage, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrWorkerClosed)
}

func TestWorker_CloseWithoutStart(t *testing.T) {
	w := NewWorker(nil, nil, nil, WorkerOptions{}, nil)
	assert.NoError(t, w.Close(context.Background()))
	assert.NoError(t, w.Close(context.Background()))
}

func TestInitAndTeardown(t *testing.T) {
	require.NoError(t, Teardown(context.Background()))
	assert.Nil(t, Current())

	builds := 0
	build := func() (*Runtime, error) {
		builds++
		return NewRuntime(nil, nil, QueueOptions{Name: "test"}, WorkerOptions{}, nil), nil
	}

	first, err := Init(build)
	require.NoError(t, err)
	second, err := Init(build)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)
	assert.Same(t, first, Current())

	require.NoError(t, Teardown(context.Background()))
	assert.Nil(t, Current())
}

func newDedupeQueue(t *testing.T) (*jobQueueUseCase, *redisadapter.JobStoreImpl) {
	t.Helper()
	store, active, _ := newRedisRepos(t)
	return newJobQueue(store, active, QueueOptions{Name: "test", Dedupe: true}, zap.NewNop()), store
}

func TestJobQueue_DedupeAdmitsOneConcurrentEnqueue(t *testing.T) {
	q, _ := newDedupeQueue(t)
	ctx := context.Background()

	const callers = 8
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		mu       sync.Mutex
		holders  []string
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			rec, err := q.Enqueue(ctx, entity.NotePayload{NoteID: "n1"})
			if err == nil {
				accepted.Add(1)
				mu.Lock()
				holders = append(holders, rec.ID)
				mu.Unlock()
				return
			}
			var active *ActiveJobError
			if assert.ErrorAs(t, err, &active) {
				assert.ErrorIs(t, err, ErrJobActive)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, accepted.Load())
	found, err := q.FindActive(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, holders[0], found.ID)

	waiting, err := q.store.Waiting(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, waiting)
}

func TestJobQueue_DedupeReportsHolderAndHonorsReplace(t *testing.T) {
	q, _ := newDedupeQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, entity.NotePayload{NoteID: "n1"})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, entity.NotePayload{NoteID: "n1"})
	var active *ActiveJobError
	require.ErrorAs(t, err, &active)
	assert.Equal(t, first.ID, active.JobID)
	require.NotNil(t, active.Job)
	assert.Equal(t, entity.JobPending, active.Job.State)

	second, err := q.Enqueue(ctx, entity.NotePayload{NoteID: "n1"}, Replace())
	require.NoError(t, err)
	found, err := q.FindActive(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, second.ID, found.ID)
}

func TestJobQueue_DedupeReleasesTerminalHolder(t *testing.T) {
	q, store := newDedupeQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, entity.NotePayload{NoteID: "n1"})
	require.NoError(t, err)

	// Finished without the worker clearing the index.
	claimed, err := store.Claim(ctx, time.Now())
	require.NoError(t, err)
	now := time.Now()
	claimed.State = entity.JobCompleted
	claimed.FinishedAt = &now
	require.NoError(t, store.Save(ctx, claimed))

	second, err := q.Enqueue(ctx, entity.NotePayload{NoteID: "n1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}
