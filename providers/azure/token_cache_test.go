package azure

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestTokenCacheLocalHit(t *testing.T) {
	c := NewTokenCache(nil, zap.NewNop())
	c.Set(context.Background(), "k1", "tok-1", time.Hour)

	tok, ok := c.Get(context.Background(), "k1")
	assert.True(t, ok)
	assert.Equal(t, "tok-1", tok)
}

func TestTokenCacheMiss(t *testing.T) {
	c := NewTokenCache(nil, zap.NewNop())
	_, ok := c.Get(context.Background(), "absent")
	assert.False(t, ok)
}

func TestTokenCacheLazyExpiry(t *testing.T) {
	c := NewTokenCache(nil, zap.NewNop())
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set(context.Background(), "k1", "tok-1", time.Minute)

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok := c.Get(context.Background(), "k1")
	assert.False(t, ok)
	assert.Empty(t, c.local, "expired entry should be evicted on read")
}

func TestTokenCacheRedisBackfill(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	writer := NewTokenCache(rdb, zap.NewNop())
	writer.Set(ctx, "shared", "tok-redis", time.Hour)

	// 另一个实例进程内没有该条目，应从 Redis 命中并回填
	reader := NewTokenCache(rdb, zap.NewNop())
	tok, ok := reader.Get(ctx, "shared")
	require.True(t, ok)
	assert.Equal(t, "tok-redis", tok)

	reader.mu.Lock()
	_, backfilled := reader.local["shared"]
	reader.mu.Unlock()
	assert.True(t, backfilled)
}

func TestTokenCacheRedisExpiredEntryIgnored(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	writer := NewTokenCache(rdb, zap.NewNop())
	now := time.Now()
	writer.now = func() time.Time { return now }
	writer.Set(ctx, "stale", "tok", time.Minute)

	reader := NewTokenCache(rdb, zap.NewNop())
	reader.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok := reader.Get(ctx, "stale")
	assert.False(t, ok)
}
