package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/note-enricher/internal/entity"
)

// Hash fields of a job record.
const (
	fieldName         = "name"
	fieldPayload      = "payload"
	fieldState        = "state"
	fieldProgress     = "progress"
	fieldResult       = "result"
	fieldError        = "error"
	fieldAttemptsMade = "attemptsMade"
	fieldMaxAttempts  = "maxAttempts"
	fieldCreatedAt    = "createdAt"
	fieldProcessedAt  = "processedAt"
	fieldFinishedAt   = "finishedAt"
	fieldNextRunAt    = "nextRunAt"
)

// JobStoreOptions tunes retention of finished records.
type JobStoreOptions struct {
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// JobStoreImpl implements repository.JobRepository on Redis.
//
// Layout, for queue "q":
//
//	q:job:<id>   hash with the record fields
//	q:wait       list of ready ids (LPUSH in, RPOP out)
//	q:active     list of claimed ids
//	q:delayed    zset of ids scored by next run time in ms
type JobStoreImpl struct {
	client    *redis.Client
	queue     string
	opts      JobStoreOptions
	closeOnce sync.Once
	closeErr  error
}

// NewJobStore creates a new instance of JobStoreImpl.
func NewJobStore(client *redis.Client, queue string, opts JobStoreOptions) *JobStoreImpl {
	if opts.CompletedRetention <= 0 {
		opts.CompletedRetention = 24 * time.Hour
	}
	if opts.FailedRetention <= 0 {
		opts.FailedRetention = 7 * 24 * time.Hour
	}
	return &JobStoreImpl{client: client, queue: queue, opts: opts}
}

func (r *JobStoreImpl) jobKey(id string) string { return r.queue + ":job:" + id }
func (r *JobStoreImpl) jobPrefix() string       { return r.queue + ":job:" }
func (r *JobStoreImpl) waitKey() string         { return r.queue + ":wait" }
func (r *JobStoreImpl) activeKey() string       { return r.queue + ":active" }
func (r *JobStoreImpl) delayedKey() string      { return r.queue + ":delayed" }

// Ping checks that Redis answers.
func (r *JobStoreImpl) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Create writes the record and pushes it on the wait list in one transaction.
func (r *JobStoreImpl) Create(ctx context.Context, rec *entity.JobRecord) error {
	fields, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.jobKey(rec.ID), fields)
		pipe.LPush(ctx, r.waitKey(), rec.ID)
		return nil
	})
	return err
}

// Get loads a record. Unknown or expired ids return nil, nil.
func (r *JobStoreImpl) Get(ctx context.Context, id string) (*entity.JobRecord, error) {
	vals, err := r.client.HGetAll(ctx, r.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return decodeRecord(id, vals)
}

// claimScript promotes due delayed jobs, then pops wait ids until one is still
// pending and flips it to active. Ids whose hash expired are discarded.
// Returns the id followed by the flattened hash so the caller never reads it twice.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('LPUSH', KEYS[1], id)
end
while true do
  local id = redis.call('RPOP', KEYS[1])
  if not id then
    return false
  end
  local key = ARGV[2] .. id
  if redis.call('HGET', key, 'state') == 'pending' then
    redis.call('LPUSH', KEYS[2], id)
    redis.call('HSET', key, 'state', 'active', 'processedAt', ARGV[1])
    redis.call('HDEL', key, 'nextRunAt')
    local out = {id}
    for _, v in ipairs(redis.call('HGETALL', key)) do
      out[#out + 1] = v
    end
    return out
  end
end
`)

// Claim runs the claim script and returns the claimed record, or nil when idle.
func (r *JobStoreImpl) Claim(ctx context.Context, now time.Time) (*entity.JobRecord, error) {
	keys := []string{r.waitKey(), r.activeKey(), r.delayedKey()}
	reply, err := claimScript.Run(ctx, r.client, keys, now.UnixMilli(), r.jobPrefix()).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if len(reply) == 0 || len(reply)%2 == 0 {
		return nil, fmt.Errorf("claim job: malformed reply of %d elements", len(reply))
	}
	id := reply[0]
	vals := make(map[string]string, len(reply)/2)
	for i := 1; i+1 < len(reply); i += 2 {
		vals[reply[i]] = reply[i+1]
	}
	return decodeRecord(id, vals)
}

// Active lists the records currently on the active list. Ids whose hash
// expired are dropped from the list.
func (r *JobStoreImpl) Active(ctx context.Context) ([]*entity.JobRecord, error) {
	ids, err := r.client.LRange(ctx, r.activeKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]*entity.JobRecord, 0, len(ids))
	for i, id := range ids {
		vals := cmds[i].Val()
		if len(vals) == 0 {
			r.client.LRem(ctx, r.activeKey(), 0, id)
			continue
		}
		rec, err := decodeRecord(id, vals)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpdateProgress sets the progress field of an existing job.
func (r *JobStoreImpl) UpdateProgress(ctx context.Context, id string, progress int) error {
	return r.client.HSet(ctx, r.jobKey(id), fieldProgress, progress).Err()
}

// Save persists the record and moves it off the active list in one transaction.
func (r *JobStoreImpl) Save(ctx context.Context, rec *entity.JobRecord) error {
	fields, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	key := r.jobKey(rec.ID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if len(rec.Result) == 0 {
			pipe.HDel(ctx, key, fieldResult)
		}
		if rec.Error == "" {
			pipe.HDel(ctx, key, fieldError)
		}
		if rec.NextRunAt == nil {
			pipe.HDel(ctx, key, fieldNextRunAt)
		}
		pipe.LRem(ctx, r.activeKey(), 0, rec.ID)

		switch rec.State {
		case entity.JobPending:
			runAt := time.Now()
			if rec.NextRunAt != nil {
				runAt = *rec.NextRunAt
			}
			pipe.ZAdd(ctx, r.delayedKey(), redis.Z{Score: float64(runAt.UnixMilli()), Member: rec.ID})
		case entity.JobCompleted:
			pipe.Expire(ctx, key, r.opts.CompletedRetention)
		case entity.JobFailed:
			pipe.Expire(ctx, key, r.opts.FailedRetention)
		}
		return nil
	})
	return err
}

// Waiting counts ready and delayed jobs.
func (r *JobStoreImpl) Waiting(ctx context.Context) (int64, error) {
	pipe := r.client.Pipeline()
	waitCmd := pipe.LLen(ctx, r.waitKey())
	delayedCmd := pipe.ZCard(ctx, r.delayedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return waitCmd.Val() + delayedCmd.Val(), nil
}

// Close releases the client. Idempotent.
func (r *JobStoreImpl) Close() error {
	r.closeOnce.Do(func() {
		if err := r.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			r.closeErr = err
		}
	})
	return r.closeErr
}

func encodeRecord(rec *entity.JobRecord) (map[string]any, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	fields := map[string]any{
		fieldName:         rec.Name,
		fieldPayload:      string(payload),
		fieldState:        string(rec.State),
		fieldProgress:     rec.Progress,
		fieldAttemptsMade: rec.AttemptsMade,
		fieldMaxAttempts:  rec.MaxAttempts,
		fieldCreatedAt:    rec.CreatedAt.UnixMilli(),
	}
	if len(rec.Result) > 0 {
		fields[fieldResult] = string(rec.Result)
	}
	if rec.Error != "" {
		fields[fieldError] = rec.Error
	}
	if rec.ProcessedAt != nil {
		fields[fieldProcessedAt] = rec.ProcessedAt.UnixMilli()
	}
	if rec.FinishedAt != nil {
		fields[fieldFinishedAt] = rec.FinishedAt.UnixMilli()
	}
	if rec.NextRunAt != nil {
		fields[fieldNextRunAt] = rec.NextRunAt.UnixMilli()
	}
	return fields, nil
}

func decodeRecord(id string, vals map[string]string) (*entity.JobRecord, error) {
	rec := &entity.JobRecord{
		ID:    id,
		Name:  vals[fieldName],
		State: entity.JobState(vals[fieldState]),
		Error: vals[fieldError],
	}
	if p := vals[fieldPayload]; p != "" {
		if err := json.Unmarshal([]byte(p), &rec.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of job %s: %w", id, err)
		}
	}
	if res := vals[fieldResult]; res != "" {
		rec.Result = json.RawMessage(res)
	}
	rec.Progress = atoi(vals[fieldProgress])
	rec.AttemptsMade = atoi(vals[fieldAttemptsMade])
	rec.MaxAttempts = atoi(vals[fieldMaxAttempts])
	if t := millis(vals[fieldCreatedAt]); t != nil {
		rec.CreatedAt = *t
	}
	rec.ProcessedAt = millis(vals[fieldProcessedAt])
	rec.FinishedAt = millis(vals[fieldFinishedAt])
	rec.NextRunAt = millis(vals[fieldNextRunAt])
	return rec, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func millis(s string) *time.Time {
	if s == "" {
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
