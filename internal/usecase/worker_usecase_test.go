package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisadapter "github.com/user/note-enricher/internal/adapter/redis"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/repository"
	"go.uber.org/zap"
)

// flakySaveStore fails the first failSaves calls to Save.
type flakySaveStore struct {
	repository.JobRepository
	failSaves atomic.Int32
	saves     atomic.Int32
}

func (s *flakySaveStore) Save(ctx context.Context, rec *entity.JobRecord) error {
	s.saves.Add(1)
	if s.failSaves.Add(-1) >= 0 {
		return errors.New("connection reset by peer")
	}
	return s.JobRepository.Save(ctx, rec)
}

func newRedisRepos(t *testing.T) (*redisadapter.JobStoreImpl, *redisadapter.ActiveJobRepoImpl, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redisadapter.NewClient(redisadapter.Config{Address: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	store := redisadapter.NewJobStore(client, "test", redisadapter.JobStoreOptions{})
	t.Cleanup(func() { _ = store.Close() })
	return store, redisadapter.NewActiveJobRepo(client, "test"), mr
}

func closeWorker(t *testing.T, w *Worker) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Close(ctx)
	})
}

func TestWorker_RetriesFailedSaveUntilPersisted(t *testing.T) {
	store, active, _ := newRedisRepos(t)
	flaky := &flakySaveStore{JobRepository: store}
	flaky.failSaves.Store(1)

	rt := NewRuntime(flaky, active, QueueOptions{Name: "test"}, fastWorkerOptions(), zap.NewNop())
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	ctx := context.Background()

	var calls atomic.Int32
	_, err := rt.StartWorker(ctx, func(context.Context, entity.NotePayload, entity.ProgressEmitter) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`{"ok":true}`), nil
	})
	require.NoError(t, err)

	rec, err := rt.Queue().Enqueue(ctx, entity.NotePayload{NoteID: "n1"})
	require.NoError(t, err)

	done := waitForState(t, rt.Queue(), rec.ID, entity.JobCompleted)
	assert.Equal(t, 1, done.AttemptsMade)
	assert.EqualValues(t, 1, calls.Load(), "a failed save must not rerun the processor")
	assert.GreaterOrEqual(t, flaky.saves.Load(), int32(2))

	found, err := rt.Queue().FindActive(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestWorker_GivesUpSavingOnClose(t *testing.T) {
	store, active, _ := newRedisRepos(t)
	flaky := &flakySaveStore{JobRepository: store}
	flaky.failSaves.Store(1 << 20)

	processed := make(chan struct{})
	w := NewWorker(flaky, active, func(context.Context, entity.NotePayload, entity.ProgressEmitter) (json.RawMessage, error) {
		close(processed)
		return nil, nil
	}, fastWorkerOptions(), zap.NewNop())

	require.NoError(t, store.Create(context.Background(), newStoreRecord("stuck", "n1", 3)))
	w.Start()
	<-processed

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Close(ctx))

	got, err := store.Get(context.Background(), "stuck")
	require.NoError(t, err)
	assert.Equal(t, entity.JobActive, got.State, "an unsaved job stays active for the reaper")
}

func newStoreRecord(id, noteID string, maxAttempts int) *entity.JobRecord {
	return &entity.JobRecord{
		ID:          id,
		Name:        entity.ProcessNoteJob,
		Payload:     entity.NotePayload{NoteID: noteID},
		State:       entity.JobPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
}

func reaperOptions() WorkerOptions {
	opts := fastWorkerOptions()
	opts.ReapInterval = 10 * time.Millisecond
	opts.StallTimeout = time.Minute
	return opts
}

func TestWorker_ReapsStalledJobBackToPending(t *testing.T) {
	store, active, _ := newRedisRepos(t)
	ctx := context.Background()

	// Claimed an hour ago by a worker that died before saving.
	require.NoError(t, store.Create(ctx, newStoreRecord("orphan", "n1", 3)))
	claimed, err := store.Claim(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, claimed)

	var calls atomic.Int32
	w := NewWorker(store, active, func(context.Context, entity.NotePayload, entity.ProgressEmitter) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`{}`), nil
	}, reaperOptions(), zap.NewNop())
	closeWorker(t, w)
	w.Start()

	require.Eventually(t, func() bool {
		got, err := store.Get(ctx, "orphan")
		return err == nil && got != nil && got.State == entity.JobCompleted
	}, 5*time.Second, 10*time.Millisecond)

	got, err := store.Get(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, 2, got.AttemptsMade, "the stalled attempt counts")
	assert.EqualValues(t, 1, calls.Load())
}

func TestWorker_ReapFailsStalledJobAtMaxAttempts(t *testing.T) {
	store, active, _ := newRedisRepos(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newStoreRecord("orphan", "n1", 1)))
	require.NoError(t, active.Mark(ctx, "n1", "orphan", time.Hour))
	_, err := store.Claim(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	w := NewWorker(store, active, func(context.Context, entity.NotePayload, entity.ProgressEmitter) (json.RawMessage, error) {
		t.Error("a failed job must not be processed")
		return nil, nil
	}, reaperOptions(), zap.NewNop())
	closeWorker(t, w)
	w.Start()

	require.Eventually(t, func() bool {
		got, err := store.Get(ctx, "orphan")
		return err == nil && got != nil && got.State == entity.JobFailed
	}, 5*time.Second, 10*time.Millisecond)

	got, err := store.Get(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, errStalled.Error(), got.Error)
	assert.Equal(t, 1, got.AttemptsMade)

	id, err := active.Lookup(ctx, "n1")
	require.NoError(t, err)
	assert.Empty(t, id)

	left, err := store.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestWorker_ReaperLeavesRunningJobsAlone(t *testing.T) {
	store, active, _ := newRedisRepos(t)
	ctx := context.Background()

	opts := reaperOptions()
	opts.StallTimeout = 5 * time.Millisecond

	release := make(chan struct{})
	w := NewWorker(store, active, func(context.Context, entity.NotePayload, entity.ProgressEmitter) (json.RawMessage, error) {
		<-release
		return nil, nil
	}, opts, zap.NewNop())
	closeWorker(t, w)

	require.NoError(t, store.Create(ctx, newStoreRecord("slow", "n1", 3)))
	w.Start()

	// Several reap ticks pass while the job is still running.
	time.Sleep(100 * time.Millisecond)
	mid, err := store.Get(ctx, "slow")
	require.NoError(t, err)
	assert.Equal(t, entity.JobActive, mid.State)
	assert.Equal(t, 0, mid.AttemptsMade)

	close(release)
	require.Eventually(t, func() bool {
		got, err := store.Get(ctx, "slow")
		return err == nil && got != nil && got.State == entity.JobCompleted
	}, 5*time.Second, 10*time.Millisecond)

	got, err := store.Get(ctx, "slow")
	require.NoError(t, err)
	assert.Equal(t, 1, got.AttemptsMade)
}
