package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestGetMissingKey(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSummaryRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetSummary(ctx, 12, "cached summary"))
	assert.True(t, mr.Exists(SummaryKey(12)))
	assert.Equal(t, SummaryTTL, mr.TTL(SummaryKey(12)))

	got, err := c.GetSummary(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, "cached summary", got)

	require.NoError(t, c.DeleteSummary(ctx, 12))
	_, err = c.GetSummary(ctx, 12)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestLockIsExclusive(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	lock, err := c.AcquireLock(ctx, 5, time.Minute)
	require.NoError(t, err)

	_, err = c.AcquireLock(ctx, 5, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	other, err := c.AcquireLock(ctx, 6, time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.ReleaseLock(ctx, other))

	require.NoError(t, c.ReleaseLock(ctx, lock))
	again, err := c.AcquireLock(ctx, 5, time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestExpiredLockIsNotReleasedByOldOwner(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	old, err := c.AcquireLock(ctx, 8, time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	current, err := c.AcquireLock(ctx, 8, time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.ReleaseLock(ctx, old))
	assert.True(t, mr.Exists(LockKey(8)))

	require.NoError(t, c.ReleaseLock(ctx, current))
	assert.False(t, mr.Exists(LockKey(8)))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "news:summary:42", SummaryKey(42))
	assert.Equal(t, "news:lock:42", LockKey(42))
}
