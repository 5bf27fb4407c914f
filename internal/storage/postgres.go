package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenSignageCore/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

// PostgresStore keeps content bytes in a bytea column.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore creates the blob table if it does not exist.
func NewPostgresStore(ctx context.Context, client *PostgresClient, table string) (*PostgresStore, error) {
	if table == "" {
		table = "content_blobs"
	}
	s := &PostgresStore{
		pool:  client.Pool(),
		table: pgx.Identifier{table}.Sanitize(),
	}

	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			content_id TEXT PRIMARY KEY,
			data       BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	return s, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (content_id, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (content_id) DO UPDATE
		SET data = EXCLUDED.data, updated_at = NOW()
	`, key, data)
	if err != nil {
		return fmt.Errorf("failed to store content %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM `+s.table+` WHERE content_id = $1
	`, key).Scan(&data)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load content %s: %w", key, err)
	}
	return data, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE content_id = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete content %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(key)
	}
	return nil
}
