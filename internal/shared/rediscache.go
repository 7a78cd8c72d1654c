package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache backed by a Redis instance, for sharing resolved
// content across processes. Objects are stored as JSON under a key
// prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache. A zero ttl stores entries
// without expiry.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, id string) (map[string]interface{}, bool, error) {
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", id, err)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false, fmt.Errorf("redis get %s: decode: %w", id, err)
	}
	return obj, true, nil
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, id string, obj map[string]interface{}) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("redis put %s: encode: %w", id, err)
	}
	if err := c.client.Set(ctx, c.key(id), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis put %s: %w", id, err)
	}
	return nil
}

func (c *RedisCache) key(id string) string {
	return c.prefix + id
}
