package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tanglemarket/trade-engine/internal/domain"
	"github.com/tanglemarket/trade-engine/internal/port"
)

var _ port.Cache = (*RedisCache)(nil)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr string, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{
		client: rdb,
		ttl:    ttl,
	}
}

// NewRedisCacheWithClient shares an existing client, e.g. with the wallet
// outbox.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func key(token string) string { return "book:" + token }

func (c *RedisCache) SetBook(ctx context.Context, token string, book *domain.BookSnapshot) error {
	b, err := json.Marshal(book)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(token), b, c.ttl).Err()
}

func (c *RedisCache) GetBook(ctx context.Context, token string) (*domain.BookSnapshot, error) {
	b, err := c.client.Get(ctx, key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var book domain.BookSnapshot
	if err := json.Unmarshal(b, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, token string) error {
	return c.client.Del(ctx, key(token)).Err()
}
