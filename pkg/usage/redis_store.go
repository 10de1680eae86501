package usage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementWithinScript checks and increments in a single server-side step.
// KEYS[1] counter key; ARGV[1] amount; ARGV[2] limit (-1 unlimited);
// ARGV[3] expiry as unix milliseconds.
var incrementWithinScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if limit >= 0 and current + amount > limit then
	return {0, current}
end
local updated = redis.call('INCRBY', KEYS[1], amount)
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIREAT', KEYS[1], ARGV[3])
end
return {1, updated}
`)

// RedisStore keeps counters in Redis so limits hold across replicas.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) IncrementWithin(ctx context.Context, key string, amount, limit int64, expiresAt time.Time) (bool, int64, error) {
	res, err := incrementWithinScript.Run(ctx, s.client, []string{key}, amount, limit, expiresAt.UnixMilli()).Int64Slice()
	if err != nil {
		return false, 0, errors.Join(ErrStoreFailure, err)
	}
	if len(res) != 2 {
		return false, 0, errors.Join(ErrStoreFailure, errors.New("unexpected script result"))
	}
	return res[0] == 1, res[1], nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Join(ErrStoreFailure, err)
	}
	return v, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}
