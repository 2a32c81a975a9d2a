package service

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawpoint/admin-identity/internal/model"
)

// newTestRedis returns a client on DB 15 of a local Redis, skipping the test
// when none is reachable.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	opts, err := redis.ParseURL("redis://localhost:6379/15")
	require.NoError(t, err)

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available for testing")
	}

	client.FlushDB(context.Background())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRateLimiter_Basic(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	limiter := NewRateLimiter(client)

	t.Run("allows requests within limit", func(t *testing.T) {
		key := "test:ip1"
		limit := 3
		window := 10 * time.Second

		for i := 0; i < limit; i++ {
			allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}

		allowed, resetAt := limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed, "Request should be rate limited")
		assert.True(t, resetAt.After(time.Now()), "Reset time should be in future")
	})

	t.Run("sliding window behavior", func(t *testing.T) {
		key := "test:ip2"
		limit := 2
		window := 2 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed)

		time.Sleep(2100 * time.Millisecond)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		limit := 1
		window := 10 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, "test:independent1", limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, "test:independent1", limit, window)
		assert.False(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, "test:independent2", limit, window)
		assert.True(t, allowed)
	})
}

func TestRateLimiter_FailsClosed(t *testing.T) {
	invalidClient := redis.NewClient(&redis.Options{
		Addr:        "localhost:9999",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer invalidClient.Close()

	limiter := NewRateLimiter(invalidClient)

	allowed, resetAt := limiter.CheckLimit(context.Background(), "test:key", 1, time.Minute)
	require.False(t, allowed, "Should deny when Redis is unreachable")
	require.True(t, resetAt.After(time.Now()), "Should return valid reset time")
}

func TestPendingLoginStore(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	store := NewPendingLoginStore(client, "pending-secret", time.Minute)

	token, err := store.Create(ctx, adminOneID, model.PendingMfaVerify)
	require.NoError(t, err)
	assert.Contains(t, token, PendingTokenPrefix)

	pending, err := store.Resolve(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, adminOneID, pending.AdminID)
	assert.Equal(t, model.PendingMfaVerify, pending.Step)

	consumed, err := store.Consume(ctx, token)
	require.NoError(t, err)
	assert.True(t, consumed)

	consumed, err = store.Consume(ctx, token)
	require.NoError(t, err)
	assert.False(t, consumed, "second consume must lose")

	pending, err = store.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestPendingLoginStore_RejectsForeignTokens(t *testing.T) {
	client := newTestRedis(t)
	store := NewPendingLoginStore(client, "pending-secret", time.Minute)

	pending, err := store.Resolve(context.Background(), "not-a-pending-token")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestReplayGuard(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	guard := NewReplayGuard(client)

	ok, err := guard.Consume(ctx, adminOneID, 100, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Consume(ctx, adminOneID, 100, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "same step is a replay")

	ok, err = guard.Consume(ctx, adminOneID, 99, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "older step is a replay")

	ok, err = guard.Consume(ctx, adminOneID, 101, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Consume(ctx, adminTwoID, 100, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "steps are tracked per admin")
}
