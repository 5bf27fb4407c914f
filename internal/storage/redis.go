package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps content bytes as plain string values under prefix+key.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (r *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store content %s in redis: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load content %s from redis: %w", key, err)
	}
	return data, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	n, err := r.rdb.Del(ctx, r.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete content %s from redis: %w", key, err)
	}
	if n == 0 {
		return notFound(key)
	}
	return nil
}
