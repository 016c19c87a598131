package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"poi-server/models"
)

func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}
	return client, nil
}

// RedisCache stores feature query results as JSON. Errors never reach the caller; a failing
// cache behaves like an empty one.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]models.Feature, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		sigolo.Warnf("Feature cache read %s failed: %v", key, err)
		return nil, false
	}

	var features []models.Feature
	if err := json.Unmarshal(raw, &features); err != nil {
		sigolo.Warnf("Feature cache entry %s is corrupt: %v", key, err)
		return nil, false
	}
	if features == nil {
		features = []models.Feature{}
	}
	return features, true
}

func (c *RedisCache) Set(ctx context.Context, key string, features []models.Feature) {
	raw, err := json.Marshal(features)
	if err != nil {
		sigolo.Warnf("Feature cache encode %s failed: %v", key, err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		sigolo.Warnf("Feature cache write %s failed: %v", key, err)
	}
}
