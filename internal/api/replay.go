package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

// ReplayGuard records accepted request signatures so each is used once.
type ReplayGuard interface {
	// Claim marks signature as used for ttl. It reports false when the
	// signature was already claimed.
	Claim(ctx context.Context, signature string, ttl time.Duration) (bool, error)
}

const replayKeyPrefix = "staking:sig:"

// RedisReplayGuard shares claimed signatures across server instances.
type RedisReplayGuard struct {
	client *redis.Client
}

// NewRedisReplayGuard creates a guard backed by client.
func NewRedisReplayGuard(client *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{client: client}
}

// Claim uses SET NX so that concurrent claims of one signature race in Redis.
func (g *RedisReplayGuard) Claim(ctx context.Context, signature string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, replayKeyPrefix+signature, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim signature: %w", err)
	}
	return ok, nil
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

const defaultReplayCacheSize = 100_000

// MemoryReplayGuard keeps claimed signatures in a bounded LRU. Suitable for a
// single server instance.
type MemoryReplayGuard struct {
	mu    sync.Mutex
	seen  *lru.Cache // signature -> expiry time.Time
	clock func() time.Time
}

// NewMemoryReplayGuard creates an in-process guard. size <= 0 uses the default.
func NewMemoryReplayGuard(size int, clock func() time.Time) *MemoryReplayGuard {
	if size <= 0 {
		size = defaultReplayCacheSize
	}
	if clock == nil {
		clock = time.Now
	}
	cache, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &MemoryReplayGuard{seen: cache, clock: clock}
}

// Claim implements ReplayGuard.
func (g *MemoryReplayGuard) Claim(_ context.Context, signature string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	if v, ok := g.seen.Get(signature); ok && now.Before(v.(time.Time)) {
		return false, nil
	}
	g.seen.Add(signature, now.Add(ttl))
	return true, nil
}
