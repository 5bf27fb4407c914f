package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenSignageCore/internal/config"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ByteStore holds raw content bytes keyed by content id. Get and Delete
// return an error wrapping types.ErrNotFound for unknown keys.
type ByteStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

func notFound(key string) error {
	return fmt.Errorf("content bytes %s: %w", key, types.ErrNotFound)
}

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("%w: invalid storage key %q", types.ErrInvalidInput, key)
	}
	return nil
}

// Open builds the backend named in cfg.Storage. The returned close func
// releases any pool or connection the backend opened.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ByteStore, func(), error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		logger.Info("Using in-memory content store")
		return NewMemoryStore(), func() {}, nil

	case "filesystem":
		store, err := NewFileStore(afero.NewOsFs(), cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using filesystem content store", zap.String("path", cfg.Storage.Path))
		return store, func() {}, nil

	case "postgres":
		client, err := NewPostgresClient(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		store, err := NewPostgresStore(ctx, client, cfg.Storage.Table)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		logger.Info("Using PostgreSQL content store",
			zap.String("host", cfg.Database.Host),
			zap.String("table", cfg.Storage.Table))
		return store, client.Close, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info("Using Redis content store", zap.String("addr", cfg.Redis.Addr))
		return NewRedisStore(rdb, cfg.Storage.KeyPrefix), func() { rdb.Close() }, nil
	}

	return nil, nil, fmt.Errorf("%w: unknown storage backend %q", types.ErrInvalidInput, cfg.Storage.Backend)
}
