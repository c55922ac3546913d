package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Config controls the Postgres pool backing indexer state and pgvector entries.
type Config struct {
	URL      string
	MaxConns int32
	MinConns int32
	// ConnectTimeout bounds the initial ping, retried with backoff so that
	// the daemon can start alongside a database that is still booting.
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

// NewPool opens a pgx pool and waits until the database answers a ping.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := waitForPing(ctx, pool, cfg); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func waitForPing(ctx context.Context, pool *pgxpool.Pool, cfg Config) error {
	if cfg.ConnectTimeout <= 0 {
		return pool.Ping(ctx)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = cfg.ConnectTimeout

	return backoff.RetryNotify(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		logger.Warn("database not ready, retrying",
			zap.Error(err),
			zap.Duration("backoff", wait),
		)
	})
}
