package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores dashboards as JSON with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache returns a cache writing to client with the given TTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached dashboard. Misses and decode failures both report
// false so the caller rebuilds.
func (c *RedisCache) Get(ctx context.Context, key string) (*Dashboard, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var d Dashboard
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, false
	}
	return &d, true
}

// Set stores d under key.
func (c *RedisCache) Set(ctx context.Context, key string, d *Dashboard) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "marshal dashboard")
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}
