package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trading-arena/internal/cache"
)

// CacheService is the Redis-backed cache.Cache used for constraints, prices and portfolio values
type CacheService struct {
	redis  *RedisCache
	prefix string
}

var _ cache.Cache = (*CacheService)(nil)

// NewCacheService creates a new cache service; prefix namespaces every key
func NewCacheService(redis *RedisCache, prefix string) *CacheService {
	return &CacheService{
		redis:  redis,
		prefix: prefix,
	}
}

func (c *CacheService) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Set stores a value JSON-encoded with the given TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, c.key(key), data, ttl)
}

// Get retrieves a value from cache and deserializes it
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, c.key(key))
	if err != nil {
		// Key not found is not an error, just a cache miss
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}
	return c.redis.Del(ctx, prefixed...)
}

// InvalidatePrefix removes all keys starting with prefix
func (c *CacheService) InvalidatePrefix(ctx context.Context, prefix string) error {
	keys, err := c.redis.ScanKeys(ctx, c.key(prefix)+"*")
	if err != nil {
		return fmt.Errorf("failed to find keys matching prefix: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}
