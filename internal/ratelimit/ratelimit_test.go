package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/kantoor/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLimiter(t *testing.T, client *redis.Client) (*Limiter, *clock.FakeClock) {
	t.Helper()
	fake := clock.NewFakeClock(time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC))
	return NewLimiter(Params{Client: client, Clock: fake, Log: zaptest.NewLogger(t)}), fake
}

func TestLimiterLocalWindow(t *testing.T) {
	limiter, fake := newTestLimiter(t, nil)
	ctx := context.Background()

	res, err := limiter.Allow(ctx, "sync:manual:alice", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	fake.Advance(10 * time.Second)
	res, err = limiter.Allow(ctx, "sync:manual:alice", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 20*time.Second, res.RetryAfter)
	assert.Equal(t, 20, res.RetryAfterSeconds())

	res, err = limiter.Allow(ctx, "sync:manual:bob", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "identities are independent")

	fake.Advance(20 * time.Second)
	res, err = limiter.Allow(ctx, "sync:manual:alice", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiterValidatesInput(t *testing.T) {
	limiter, _ := newTestLimiter(t, nil)

	_, err := limiter.Allow(context.Background(), "  ", time.Second)
	assert.ErrorIs(t, err, ErrEmptyIdentity)

	_, err = limiter.Allow(context.Background(), "x", 0)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestLimiterFallsBackWhenRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	limiter, _ := newTestLimiter(t, client)

	res, err := limiter.Allow(context.Background(), "doc:create:alice", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(context.Background(), "doc:create:alice", time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestLimiterRedis(t *testing.T) {
	url := os.Getenv("KANTOOR_TEST_REDIS_URL")
	if url == "" {
		t.Skip("KANTOOR_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	identity := "test:" + time.Now().Format(time.RFC3339Nano)
	limiter, _ := newTestLimiter(t, client)
	ctx := context.Background()

	res, err := limiter.Allow(ctx, identity, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, identity, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, 5*time.Second)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocker(nil)
	ctx := context.Background()

	lock, err := locker.Obtain(ctx, "scheduler:clickup-sync", time.Minute)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, "scheduler:clickup-sync", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))

	again, err := locker.Obtain(ctx, "scheduler:clickup-sync", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalLockerExpires(t *testing.T) {
	locker := NewLocker(nil)
	now := time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)
	locker.nowFn = func() time.Time { return now }
	ctx := context.Background()

	_, err := locker.Obtain(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = locker.Obtain(ctx, "k", time.Second)
	assert.NoError(t, err)
}
