package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestDedupFirstDeliveryPasses(t *testing.T) {
	_, rdb := newTestRedis(t)
	d := NewRedisDedup(rdb, nil, 10*time.Minute)

	seen, err := d.Seen(context.Background(), "smartlead|email_replied|a@b.test|2025-06-02T09:00:00Z")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(context.Background(), "smartlead|email_replied|a@b.test|2025-06-02T09:00:00Z")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestDedupDistinctFingerprintsPass(t *testing.T) {
	_, rdb := newTestRedis(t)
	d := NewRedisDedup(rdb, nil, 10*time.Minute)

	seen, err := d.Seen(context.Background(), "smartlead|email_replied|a@b.test|2025-06-02T09:00:00Z")
	require.NoError(t, err)
	assert.False(t, seen)

	// same lead, one minute later: a new event, not a redelivery
	seen, err = d.Seen(context.Background(), "smartlead|email_replied|a@b.test|2025-06-02T09:01:00Z")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestDedupWindowExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	d := NewRedisDedup(rdb, nil, 10*time.Minute)

	_, err := d.Seen(context.Background(), "fp-expiring")
	require.NoError(t, err)

	mr.FastForward(11 * time.Minute)

	seen, err := d.Seen(context.Background(), "fp-expiring")
	require.NoError(t, err)
	assert.False(t, seen, "fingerprint outside the window is treated as new")
}

func TestDedupForgetReopensFingerprint(t *testing.T) {
	_, rdb := newTestRedis(t)
	d := NewRedisDedup(rdb, nil, 10*time.Minute)

	_, err := d.Seen(context.Background(), "fp-failed-apply")
	require.NoError(t, err)

	require.NoError(t, d.Forget(context.Background(), "fp-failed-apply"))

	seen, err := d.Seen(context.Background(), "fp-failed-apply")
	require.NoError(t, err)
	assert.False(t, seen, "a forgotten delivery may be retried")
}

func TestDedupRedisDownWithoutFallbackPasses(t *testing.T) {
	mr, rdb := newTestRedis(t)
	d := NewRedisDedup(rdb, nil, 10*time.Minute)
	mr.Close()

	// failing open is deliberate: the deployment markers still protect
	// against double deploys
	seen, err := d.Seen(context.Background(), "fp-x")
	require.NoError(t, err)
	assert.False(t, seen)
}
