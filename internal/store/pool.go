package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig mirrors the pool-sizing knobs the teacher service read from
// the environment in cmd/server/main.go.
type PoolConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	HealthCheckPeriod time.Duration
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
}

// NewPool parses cfg.DSN, applies the sizing knobs, and pings the resulting
// pool before returning it.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	parsed, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	parsed.MaxConns = cfg.MaxConns
	parsed.MinConns = cfg.MinConns
	parsed.HealthCheckPeriod = cfg.HealthCheckPeriod
	parsed.MaxConnLifetime = cfg.MaxConnLifetime
	parsed.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, parsed)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return pool, nil
}
