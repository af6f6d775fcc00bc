package orchestrator

import (
	"context"
	"time"

	"reachflow/models"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Dedup detects duplicate webhook deliveries by fingerprint.
type Dedup interface {
	// Seen records the fingerprint and reports whether it was already seen
	// inside the dedup window.
	Seen(ctx context.Context, fingerprint string) (bool, error)
	// Forget clears a fingerprint whose event failed to apply, so the
	// platform's retry of the same delivery is not swallowed as a duplicate.
	Forget(ctx context.Context, fingerprint string) error
}

// RedisDedup uses SETNX with a TTL matching the dedup window. When redis is
// unavailable it falls back to the audit log, which catches duplicates whose
// first delivery was already processed.
type RedisDedup struct {
	rdb    *redis.Client
	db     *gorm.DB
	window time.Duration
}

func NewRedisDedup(rdb *redis.Client, db *gorm.DB, window time.Duration) *RedisDedup {
	return &RedisDedup{rdb: rdb, db: db, window: window}
}

func (d *RedisDedup) Seen(ctx context.Context, fingerprint string) (bool, error) {
	if d.rdb != nil {
		ok, err := d.rdb.SetNX(ctx, "reachflow:dedup:"+fingerprint, 1, d.window).Result()
		if err == nil {
			return !ok, nil
		}
		// redis down, fall back to the audit log
	}

	if d.db == nil {
		return false, nil
	}
	var count int64
	err := d.db.Model(&models.WebhookEvent{}).
		Where("fingerprint = ? AND outcome = ? AND received_at > ?",
			fingerprint, models.EventApplied, time.Now().Add(-d.window)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *RedisDedup) Forget(ctx context.Context, fingerprint string) error {
	if d.rdb == nil {
		// the audit-log fallback only counts applied events, nothing to clear
		return nil
	}
	return d.rdb.Del(ctx, "reachflow:dedup:"+fingerprint).Err()
}
