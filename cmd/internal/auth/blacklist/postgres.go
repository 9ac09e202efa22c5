package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores entries in sessiond.access_blacklist.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Postgres-backed Store. The pool is owned by the caller.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	jti, err := normalizeJTI(jti)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO sessiond.access_blacklist (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO UPDATE
		SET expires_at = GREATEST(sessiond.access_blacklist.expires_at, EXCLUDED.expires_at)
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("blacklist: add: %w", err)
	}
	return nil
}

func (p *Postgres) Contains(ctx context.Context, jti string, now time.Time) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sessiond.access_blacklist
			WHERE jti = $1 AND expires_at > $2
		)
	`, jti, now).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("blacklist: contains: %w", err)
	}
	return ok, nil
}

func (p *Postgres) Reap(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM sessiond.access_blacklist WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("blacklist: reap: %w", err)
	}
	return tag.RowsAffected(), nil
}
