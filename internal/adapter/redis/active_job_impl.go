package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const activeKeyPrefix = "active-key:"

// ActiveJobRepoImpl implements repository.ActiveJobRepository with expiring keys.
type ActiveJobRepoImpl struct {
	client *redis.Client
	prefix string
}

// NewActiveJobRepo creates a new instance of ActiveJobRepoImpl scoped to a queue.
func NewActiveJobRepo(client *redis.Client, queue string) *ActiveJobRepoImpl {
	return &ActiveJobRepoImpl{client: client, prefix: queue + ":"}
}

func (r *ActiveJobRepoImpl) generateKey(key string) string {
	return fmt.Sprintf("%s%s%s", r.prefix, activeKeyPrefix, key)
}

// Mark points key at jobID. SET with expiry is atomic.
func (r *ActiveJobRepoImpl) Mark(ctx context.Context, key, jobID string, expiry time.Duration) error {
	return r.client.Set(ctx, r.generateKey(key), jobID, expiry).Err()
}

// Lookup returns the indexed job id or "" when the key is absent.
func (r *ActiveJobRepoImpl) Lookup(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.generateKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

var markIfAbsent = redis.NewScript(`
local ok
if tonumber(ARGV[2]) > 0 then
  ok = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2])
else
  ok = redis.call('SET', KEYS[1], ARGV[1], 'NX')
end
if ok then
  return ''
end
return redis.call('GET', KEYS[1]) or ''
`)

// MarkIfAbsent claims key for jobID with SET NX. When the key is held it
// returns the holder and false.
func (r *ActiveJobRepoImpl) MarkIfAbsent(ctx context.Context, key, jobID string, expiry time.Duration) (string, bool, error) {
	holder, err := markIfAbsent.Run(ctx, r.client, []string{r.generateKey(key)}, jobID, expiry.Milliseconds()).Text()
	if err != nil {
		return "", false, err
	}
	if holder == "" {
		return "", true, nil
	}
	return holder, false, nil
}

var clearIfMatch = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Clear deletes the entry only while it still references jobID.
func (r *ActiveJobRepoImpl) Clear(ctx context.Context, key, jobID string) error {
	return clearIfMatch.Run(ctx, r.client, []string{r.generateKey(key)}, jobID).Err()
}
