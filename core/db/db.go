package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
)

// DBTX is satisfied by both the pool and a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
	// ConnectAttempts bounds the startup pings; Postgres often comes up after us.
	ConnectAttempts int
}

type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = orDefault(cfg.MaxConns, 10)
	poolCfg.MinConns = orDefault(cfg.MinConns, 2)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := ping(ctx, pool, orDefault(cfg.ConnectAttempts, 5)); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{pool: pool}, nil
}

func ping(ctx context.Context, pool *pgxpool.Pool, attempts int) error {
	attempts = max(attempts, 1)
	backoff := retry.WithMaxRetries(uint64(attempts-1),
		retry.WithCappedDuration(8*time.Second, retry.NewExponential(500*time.Millisecond)))

	tried := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tried++
		if err := pool.Ping(ctx); err != nil {
			if tried < attempts {
				slog.WarnContext(ctx, "database not ready, retrying", "attempt", tried, "error", err)
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pinging database after %d attempt(s): %w", tried, err)
	}
	return nil
}

func orDefault[T int | int32](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

func (db *DB) Close() { db.pool.Close() }

// Conn returns the pool for statements outside a transaction.
func (db *DB) Conn() DBTX { return db.pool }

// WithTx runs fn in a transaction, committing only when fn returns nil.
func (db *DB) WithTx(ctx context.Context, fn func(tx DBTX) error) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		return fn(tx)
	})
}
