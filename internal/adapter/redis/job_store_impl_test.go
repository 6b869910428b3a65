package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/note-enricher/internal/entity"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*JobStoreImpl, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(Config{Address: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	store := NewJobStore(client, "test", JobStoreOptions{})
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func newPending(id, noteID string) *entity.JobRecord {
	return &entity.JobRecord{
		ID:          id,
		Name:        entity.ProcessNoteJob,
		Payload:     entity.NotePayload{NoteID: noteID},
		State:       entity.JobPending,
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestJobStore_CreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := newPending("note-n1-1", "n1")
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.JobPending, got.State)
	assert.Equal(t, "n1", got.Payload.NoteID)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.Result)

	waiting, err := store.Waiting(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, waiting)
}

func TestJobStore_GetUnknownReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestJobStore_ClaimIsFIFOAndMarksActive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newPending("a", "1")))
	require.NoError(t, store.Create(ctx, newPending("b", "2")))

	first, err := store.Claim(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, entity.JobActive, first.State)
	assert.NotNil(t, first.ProcessedAt)

	second, err := store.Claim(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "b", second.ID)

	none, err := store.Claim(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestJobStore_ClaimReturnsFullRecordInOneRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	rec := newPending("a", "n1")
	require.NoError(t, store.Create(ctx, rec))

	now := time.Now().UTC().Truncate(time.Millisecond)
	got, err := store.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, entity.ProcessNoteJob, got.Name)
	assert.Equal(t, "n1", got.Payload.NoteID)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	require.NotNil(t, got.ProcessedAt)
	assert.Equal(t, now, *got.ProcessedAt)
	assert.Equal(t, "active", mr.HGet("test:job:a", "state"))
}

func TestJobStore_ActiveListsClaimedRecords(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	none, err := store.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, store.Create(ctx, newPending("a", "1")))
	require.NoError(t, store.Create(ctx, newPending("b", "2")))
	_, err = store.Claim(ctx, time.Now())
	require.NoError(t, err)
	_, err = store.Claim(ctx, time.Now())
	require.NoError(t, err)

	mr.Del("test:job:b")

	active, err := store.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, entity.JobActive, active[0].State)

	ids, err := mr.List("test:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids, "ids without a hash are dropped from the active list")
}

func TestJobStore_ClaimSkipsNonPending(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newPending("a", "1")))
	mr.HSet("test:job:a", "state", "completed")

	got, err := store.Claim(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestJobStore_SaveCompletedSetsRetention(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newPending("a", "1")))
	rec, err := store.Claim(ctx, time.Now())
	require.NoError(t, err)

	now := time.Now()
	rec.State = entity.JobCompleted
	rec.Progress = 100
	rec.AttemptsMade = 1
	rec.Result = json.RawMessage(`{"wordCount":12}`)
	rec.FinishedAt = &now
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, got.State)
	assert.Equal(t, 100, got.Progress)
	assert.JSONEq(t, `{"wordCount":12}`, string(got.Result))

	active, err := mr.List("test:active")
	if err == nil {
		assert.Empty(t, active)
	}
	assert.True(t, mr.TTL("test:job:a") > 0)

	mr.FastForward(25 * time.Hour)
	gone, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestJobStore_SavePendingSchedulesDelayed(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newPending("a", "1")))
	rec, err := store.Claim(ctx, time.Now())
	require.NoError(t, err)

	runAt := time.Now().Add(time.Minute)
	rec.State = entity.JobPending
	rec.AttemptsMade = 1
	rec.NextRunAt = &runAt
	require.NoError(t, store.Save(ctx, rec))

	early, err := store.Claim(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, early, "delayed job must not be claimable before its run time")

	later, err := store.Claim(ctx, runAt.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, later)
	assert.Equal(t, "a", later.ID)
	assert.Equal(t, 1, later.AttemptsMade)
	assert.Nil(t, later.NextRunAt)
}

func TestJobStore_UpdateProgress(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newPending("a", "1")))
	require.NoError(t, store.UpdateProgress(ctx, "a", 40))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
}

func TestJobStore_CloseIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestActiveJobRepo_MarkLookupClear(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	repo := NewActiveJobRepo(client, "test")
	ctx := context.Background()

	id, err := repo.Lookup(ctx, "n1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, repo.Mark(ctx, "n1", "job-1", time.Hour))
	id, err = repo.Lookup(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	require.NoError(t, repo.Clear(ctx, "n1", "job-other"))
	id, _ = repo.Lookup(ctx, "n1")
	assert.Equal(t, "job-1", id, "clear must not remove an entry owned by another job")

	require.NoError(t, repo.Clear(ctx, "n1", "job-1"))
	id, _ = repo.Lookup(ctx, "n1")
	assert.Empty(t, id)
}

func TestActiveJobRepo_MarkIfAbsentAdmitsOneHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	repo := NewActiveJobRepo(client, "test")
	ctx := context.Background()

	holder, ok, err := repo.MarkIfAbsent(ctx, "n1", "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, holder)
	assert.True(t, mr.TTL("test:active-key:n1") > 0)

	holder, ok, err = repo.MarkIfAbsent(ctx, "n1", "job-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "job-1", holder)

	mr.FastForward(2 * time.Minute)
	_, ok, err = repo.MarkIfAbsent(ctx, "n1", "job-3", 0)
	require.NoError(t, err)
	assert.True(t, ok, "an expired entry no longer blocks the key")
	id, _ := repo.Lookup(ctx, "n1")
	assert.Equal(t, "job-3", id)
}

func TestNewClient_ReturnsErrorWhenAddressEmpty(t *testing.T) {
	client, err := NewClient(Config{}, nil)
	assert.ErrorIs(t, err, ErrEmptyAddress)
	assert.Nil(t, client)
}
