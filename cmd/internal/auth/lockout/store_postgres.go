package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists attempts in sessiond.failed_logins.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Postgres-backed AttemptStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Record appends an attempt. Rows are keyed by an identity column, so
// attempts sharing a timestamp are all kept.
func (s *PostgresStore) Record(ctx context.Context, a Attempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessiond.failed_logins (user_id, attempted_at, ip, user_agent)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
	`, a.UserID, a.At, a.IP, a.UserAgent)
	if err != nil {
		return fmt.Errorf("lockout: record attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM sessiond.failed_logins
		WHERE user_id = $1 AND attempted_at > $2
	`, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("lockout: count attempts: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessiond.failed_logins WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("lockout: delete attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessiond.failed_logins WHERE attempted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("lockout: prune attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}
