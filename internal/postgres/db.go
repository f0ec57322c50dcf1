// Package postgres — бэкенд общего хранилища и профили слушателей поверх pgxpool.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
)

type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ApplicationName string

	// QueryLog пишет каждый запрос в slog на уровне debug.
	QueryLog *slog.Logger
}

// NewPool: пул под хранилище. Один коннект всегда занят LISTEN, поэтому
// меньше двух соединений пул не держит.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if pc.MaxConns < 2 {
		pc.MaxConns = 2
	}
	if cfg.MinConns > 0 {
		pc.MinConns = min(cfg.MinConns, pc.MaxConns)
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ApplicationName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	if cfg.QueryLog != nil {
		pc.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   slogTracer(cfg.QueryLog),
			LogLevel: tracelog.LogLevelDebug,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func slogTracer(l *slog.Logger) tracelog.LoggerFunc {
	return func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
		lvl := slog.LevelDebug
		if level <= tracelog.LogLevelError {
			lvl = slog.LevelError
		}
		attrs := make([]any, 0, len(data)*2)
		for k, v := range data {
			attrs = append(attrs, k, v)
		}
		l.Log(ctx, lvl, "pg: "+msg, attrs...)
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS store_docs (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       JSONB,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	display_name TEXT,
	avatar_url   TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate создаёт таблицы хранилища и профилей, если их нет.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
