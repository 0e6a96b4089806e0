package export

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"chronicle/pkg/domain"
	"chronicle/pkg/platform/sentinel"
)

// TokenCache maps download tokens to export ids for the fast path of
// Download. The export store stays authoritative; a cache miss falls back
// to it, so losing the cache only costs latency.
type TokenCache interface {
	Put(ctx context.Context, token string, id domain.ExportID, ttl time.Duration) error
	Get(ctx context.Context, token string) (domain.ExportID, error)
	Invalidate(ctx context.Context, token string) error
}

const tokenKeyPrefix = "export:token:"

// RedisTokenCache is the production token cache for distributed
// deployments where any instance may serve a download.
type RedisTokenCache struct {
	client *redis.Client
}

// NewRedisTokenCache constructs a Redis-backed token cache.
func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{client: client}
}

func (c *RedisTokenCache) Put(ctx context.Context, token string, id domain.ExportID, ttl time.Duration) error {
	return c.client.Set(ctx, tokenKeyPrefix+token, id.String(), ttl).Err()
}

func (c *RedisTokenCache) Get(ctx context.Context, token string) (domain.ExportID, error) {
	value, err := c.client.Get(ctx, tokenKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ExportID{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.ExportID{}, err
	}
	return domain.ParseExportID(value)
}

func (c *RedisTokenCache) Invalidate(ctx context.Context, token string) error {
	return c.client.Del(ctx, tokenKeyPrefix+token).Err()
}

// MemoryTokenCache backs single-node deployments and tests.
type MemoryTokenCache struct {
	mu      sync.RWMutex
	entries map[string]memoryTokenEntry
}

type memoryTokenEntry struct {
	id        domain.ExportID
	expiresAt time.Time
}

// NewMemoryTokenCache constructs an in-memory token cache.
func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{entries: make(map[string]memoryTokenEntry)}
}

func (c *MemoryTokenCache) Put(_ context.Context, token string, id domain.ExportID, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = memoryTokenEntry{id: id, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryTokenCache) Get(_ context.Context, token string) (domain.ExportID, error) {
	c.mu.RLock()
	entry, ok := c.entries[token]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return domain.ExportID{}, sentinel.ErrNotFound
	}
	return entry.id, nil
}

func (c *MemoryTokenCache) Invalidate(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, token)
	return nil
}
