// Package pgtest opens a migrated Postgres pool for integration tests.
//
// Tests are enabled when SESSIOND_DATABASE_URL is set. Outside CI an
// unreachable database skips instead of failing to keep local runs fast.
package pgtest

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sessiond/cmd/internal/migrations"
)

// EnvDatabaseURL names the variable that enables integration tests.
const EnvDatabaseURL = "SESSIOND_DATABASE_URL"

// Pool returns a migrated pool, closed on test cleanup, or skips the test.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv(EnvDatabaseURL)
	if dbURL == "" {
		t.Skipf("%s is not set; skipping Postgres integration test", EnvDatabaseURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("pgxpool.ParseConfig: %v", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pgxpool.NewWithConfig: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if shouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable (%s set): %v", EnvDatabaseURL, err)
		}
		t.Fatalf("pool.Ping: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := migrations.Up(ctx, pool, nil); err != nil {
		t.Fatalf("migrations.Up: %v", err)
	}
	return pool
}

// CreateUser inserts a bare user row and removes it with its dependents on cleanup.
func CreateUser(t *testing.T, pool *pgxpool.Pool, id, email string) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO sessiond.users (id, email, email_norm, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF(lower($2), ''), now())
	`, id, email)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}

	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM sessiond.refresh_tokens WHERE user_id = $1`, id)
		_, _ = pool.Exec(ctx, `DELETE FROM sessiond.failed_logins WHERE user_id = $1`, id)
		_, _ = pool.Exec(ctx, `DELETE FROM sessiond.users WHERE id = $1`, id)
	})
}

func shouldSkip(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
