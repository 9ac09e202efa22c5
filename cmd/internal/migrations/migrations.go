// Package migrations embeds the sessiond schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var files embed.FS

// goose keeps its base FS and dialect in package globals.
var mu sync.Mutex

// Up applies all pending migrations and returns the resulting version.
func Up(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) (int64, error) {
	return run(ctx, pool, log, func(db *sql.DB) error { return goose.UpContext(ctx, db, "sql") })
}

// Down rolls back the last applied migration.
func Down(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) (int64, error) {
	return run(ctx, pool, log, func(db *sql.DB) error { return goose.DownContext(ctx, db, "sql") })
}

// Version reports the current schema version.
func Version(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	return run(ctx, pool, nil, func(*sql.DB) error { return nil })
}

func run(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger, step func(*sql.DB) error) (int64, error) {
	if pool == nil {
		return 0, fmt.Errorf("migrations: nil pool")
	}
	if log == nil {
		log = slog.Default()
	}

	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(files)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("migrations: set dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	from, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("migrations: current version: %w", err)
	}

	if err := step(db); err != nil {
		return from, fmt.Errorf("migrations: %w", err)
	}

	to, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return from, fmt.Errorf("migrations: final version: %w", err)
	}
	if to != from {
		log.Info("db.migrate.ok", "from_version", from, "to_version", to)
	}
	return to, nil
}
