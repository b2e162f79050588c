package api

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestMemoryReplayGuard(t *testing.T) {
	now := testNow
	guard := NewMemoryReplayGuard(0, func() time.Time { return now })
	ctx := context.Background()

	ok, err := guard.Claim(ctx, "sig-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "first claim")

	ok, _ = guard.Claim(ctx, "sig-a", time.Minute)
	assert.False(t, ok, "second claim inside ttl")

	ok, _ = guard.Claim(ctx, "sig-b", time.Minute)
	assert.True(t, ok, "other signature")

	now = now.Add(2 * time.Minute)
	ok, _ = guard.Claim(ctx, "sig-a", time.Minute)
	assert.True(t, ok, "claim after expiry")
}

func TestMemoryReplayGuard_ConcurrentClaims(t *testing.T) {
	guard := NewMemoryReplayGuard(16, nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := guard.Claim(context.Background(), "same", time.Minute); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisReplayGuard(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	guard := NewRedisReplayGuard(client)

	ok, err := guard.Claim(ctx, "sig-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Claim(ctx, "sig-a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.TTL(ctx, replayKeyPrefix+"sig-a").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, client.Del(ctx, replayKeyPrefix+"sig-a").Err())
	ok, err = guard.Claim(ctx, "sig-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "claim after key expiry")

	// A closed client surfaces the error instead of accepting the request.
	closed := redis.NewClient(&redis.Options{Addr: client.Options().Addr})
	closed.Close()
	_, err = NewRedisReplayGuard(closed).Claim(ctx, "sig-b", time.Minute)
	assert.Error(t, err)
}
