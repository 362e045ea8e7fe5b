package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

type RedisDocumentCache struct {
	client *redis.Client
}

func NewRedisDocumentCache(client *redis.Client) *RedisDocumentCache {
	return &RedisDocumentCache{client: client}
}

func (c *RedisDocumentCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisDocumentCache) Get(ctx context.Context, key string) (*domain.TenantDocument, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	doc, err := store.DecodeTenant(val)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (c *RedisDocumentCache) Set(ctx context.Context, key string, value *domain.TenantDocument, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := store.EncodeTenant(*value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisDocumentCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
