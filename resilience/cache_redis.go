package resilience

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/bloxgate/core"
)

// RedisCache stores tool responses in Redis so multiple gateway replicas
// share one cache. Redis handles TTL expiry; the per-tool entry cap is left
// to Redis eviction policy. Errors degrade to cache misses.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger core.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache connects to the given Redis URL and verifies the connection.
func NewRedisCache(redisURL, prefix string, logger core.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, tool, key string) (json.RawMessage, bool) {
	data, err := c.client.Get(ctx, redisKeyFor(c.prefix, tool, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache_redis_get_failed", map[string]interface{}{
				"tool":  tool,
				"error": err.Error(),
			})
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return json.RawMessage(data), true
}

func (c *RedisCache) Set(ctx context.Context, tool, key string, value json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, redisKeyFor(c.prefix, tool, key), []byte(value), ttl).Err(); err != nil {
		c.logger.Warn("cache_redis_set_failed", map[string]interface{}{
			"tool":  tool,
			"error": err.Error(),
		})
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, tool string) {
	pattern := redisKeyFor(c.prefix, tool, "*")
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		c.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache_redis_invalidate_failed", map[string]interface{}{
			"tool":  tool,
			"error": err.Error(),
		})
	}
}

func (c *RedisCache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
