package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker serializes advancement per lead. Acquire returns a release func and
// whether the lock was obtained; callers that fail to obtain it are racing
// another worker on the same lead.
type Locker interface {
	Acquire(ctx context.Context, leadID uint) (release func(), ok bool)
}

// releaseScript deletes the lock only if the holder's token still matches, so
// an expired lock reacquired by another worker is never released by the
// original holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a per-lead advisory lock. The TTL bounds how long a crashed
// worker can stall a lead.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, leadID uint) (func(), bool) {
	key := fmt.Sprintf("reachflow:lead-lock:%d", leadID)
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		// Redis unavailable: proceed without the lock, the state version
		// check still prevents lost updates.
		return func() {}, true
	}
	if !ok {
		return func() {}, false
	}

	return func() {
		_ = releaseScript.Run(context.Background(), l.rdb, []string{key}, token).Err()
	}, true
}

// NopLocker is used when redis is disabled; optimistic concurrency on the
// state row is the only serialization.
type NopLocker struct{}

func (NopLocker) Acquire(ctx context.Context, leadID uint) (func(), bool) {
	return func() {}, true
}
