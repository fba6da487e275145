package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditline/internal/config"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestLockerExclusiveUntilReleased(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "job:renewal", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryLock(ctx, "job:renewal", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, locker.Release(ctx, "job:renewal", "not-the-owner"))
	require.True(t, mr.Exists("job:renewal"))

	require.NoError(t, locker.Release(ctx, "job:renewal", token))
	require.False(t, mr.Exists("job:renewal"))
}

func TestLockerExtendAndExpiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "lease", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	extended, err := locker.Extend(ctx, "lease", token, time.Minute)
	require.NoError(t, err)
	require.True(t, extended)
	require.Equal(t, time.Minute, mr.TTL("lease"))

	extended, err = locker.Extend(ctx, "lease", "stranger", time.Minute)
	require.NoError(t, err)
	require.False(t, extended)

	mr.FastForward(2 * time.Minute)
	_, ok, err = locker.TryLock(ctx, "lease", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLockerValidation(t *testing.T) {
	_, client := setupTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	_, _, err := locker.TryLock(ctx, "", time.Second)
	require.ErrorIs(t, err, ErrLockKeyEmpty)
	_, _, err = locker.TryLock(ctx, "k", 0)
	require.ErrorIs(t, err, ErrLockTTLInvalid)

	var missing *Locker
	require.Nil(t, NewLocker(nil))
	_, _, err = missing.TryLock(ctx, "k", time.Second)
	require.ErrorIs(t, err, ErrLockNotConfigured)
	require.NoError(t, missing.Release(ctx, "k", "t"))
}

func TestTokenBucketDeniesPastBurst(t *testing.T) {
	_, client := setupTestRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := bucket.Allow(ctx, "bucket:a", 0.001, 2)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		require.Equal(t, 2, res.Limit)
	}

	res, err := bucket.Allow(ctx, "bucket:a", 0.001, 2)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Greater(t, res.RetryAfter, time.Duration(0))

	other, err := bucket.Allow(ctx, "bucket:b", 0.001, 2)
	require.NoError(t, err)
	require.True(t, other.Allowed)
}

func TestTokenBucketValidation(t *testing.T) {
	_, client := setupTestRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	_, err := bucket.Allow(ctx, "", 1, 1)
	require.ErrorIs(t, err, ErrLimiterKeyEmpty)
	_, err = bucket.Allow(ctx, "k", 0, 1)
	require.ErrorIs(t, err, ErrLimiterRate)

	var missing *TokenBucket
	_, err = missing.Allow(ctx, "k", 1, 1)
	require.ErrorIs(t, err, ErrLimiterNotConfigured)
}

func TestExecutionLimiter(t *testing.T) {
	_, client := setupTestRedis(t)
	cfg := config.Config{Metering: config.MeteringConfig{IngestRate: 0.001, IngestBurst: 1}}
	limiter := NewExecutionLimiter(LimiterParams{Config: cfg, Client: client})
	ctx := context.Background()
	require.True(t, limiter.Enabled())

	res, err := limiter.AllowTenant(ctx, "t1", "executions.start")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.AllowTenant(ctx, "t1", "executions.start")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	res, err = limiter.AllowTenant(ctx, "t2", "executions.start")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestExecutionLimiterWithoutRedisAllows(t *testing.T) {
	limiter := NewExecutionLimiter(LimiterParams{Config: config.Config{Metering: config.MeteringConfig{IngestRate: 1, IngestBurst: 1}}})
	require.False(t, limiter.Enabled())

	for i := 0; i < 5; i++ {
		res, err := limiter.AllowTenant(context.Background(), "t1", "executions.calls")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
}
