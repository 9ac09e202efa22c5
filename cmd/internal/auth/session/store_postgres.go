package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names from the refresh_tokens migration.
const (
	constraintHashUnique    = "refresh_tokens_hashed_secret_key"
	constraintActiveSession = "refresh_tokens_one_active_per_session"
)

const rowColumns = `
	token_id, user_id, session_id, hashed_secret, access_jti,
	expires_rolling_at, expires_absolute_at, revoked_at, status,
	is_persistent, device_id, user_agent, created_at`

// PostgresStore implements Store using PostgreSQL (sessiond.refresh_tokens).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed refresh token store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert adds a new Active row.
func (s *PostgresStore) Insert(ctx context.Context, row Row) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessiond.refresh_tokens (
			token_id, user_id, session_id, hashed_secret, access_jti,
			expires_rolling_at, expires_absolute_at, revoked_at, status,
			is_persistent, device_id, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, NULL, 'active',
			$8, $9, $10, $11
		)
	`, row.TokenID, row.UserID, row.SessionID, row.HashedSecret, row.AccessJTI,
		row.ExpiresRollingAt, row.ExpiresAbsoluteAt,
		row.IsPersistent, nullIfEmpty(row.DeviceID), nullIfEmpty(row.UserAgent), row.CreatedAt)
	if err != nil {
		return mapInsertErr(err)
	}
	return nil
}

// WithinTx runs fn inside a pgx transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(postgresTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type postgresTx struct{ tx pgx.Tx }

func (t postgresTx) GetActiveForUpdate(ctx context.Context, sessionID, hash string, now time.Time) (Row, error) {
	row, err := scanRow(t.tx.QueryRow(ctx, `
		SELECT `+rowColumns+`
		FROM sessiond.refresh_tokens
		WHERE session_id = $1
		  AND hashed_secret = $2
		  AND status = 'active'
		  AND revoked_at IS NULL
		  AND expires_rolling_at > $3
		  AND expires_absolute_at > $3
		FOR UPDATE
	`, sessionID, hash, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// SwapSecret runs inside a savepoint so a unique violation does not poison the
// outer transaction and the caller can retry with a fresh secret.
func (t postgresTx) SwapSecret(ctx context.Context, sw Swap) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sp.Rollback(ctx) }()

	tag, err := sp.Exec(ctx, `
		UPDATE sessiond.refresh_tokens
		SET hashed_secret = $3,
		    access_jti = $4,
		    expires_rolling_at = $5
		WHERE token_id = $1
		  AND hashed_secret = $2
		  AND status = 'active'
	`, sw.TokenID, sw.OldHash, sw.NewHash, sw.AccessJTI, sw.RollingAt)
	if err != nil {
		if isConstraintViolation(err, constraintHashUnique) {
			return ErrSecretCollision
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRotationConflict
	}
	return sp.Commit(ctx)
}

// RevokeSession revokes the user's Active row for sessionID (idempotent).
func (s *PostgresStore) RevokeSession(ctx context.Context, now time.Time, userID, sessionID string) ([]Revoked, error) {
	return s.revoke(ctx, `user_id = $2 AND session_id = $3`, now, userID, sessionID)
}

// RevokeSessionByID revokes the Active row for sessionID (idempotent).
func (s *PostgresStore) RevokeSessionByID(ctx context.Context, now time.Time, sessionID string) ([]Revoked, error) {
	return s.revoke(ctx, `session_id = $2`, now, sessionID)
}

// RevokeAll revokes all Active rows for a user (idempotent).
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID string) ([]Revoked, error) {
	return s.revoke(ctx, `user_id = $2`, now, userID)
}

// ExpireStale revokes Active rows past either horizon.
func (s *PostgresStore) ExpireStale(ctx context.Context, now time.Time) ([]Revoked, error) {
	return s.revoke(ctx, `(expires_rolling_at <= $1 OR expires_absolute_at <= $1)`, now)
}

func (s *PostgresStore) revoke(ctx context.Context, where string, now time.Time, args ...any) ([]Revoked, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE sessiond.refresh_tokens
		SET status = 'revoked',
		    revoked_at = $1
		WHERE status = 'active'
		  AND `+where+`
		RETURNING token_id, user_id, session_id, COALESCE(access_jti, '')
	`, append([]any{now}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Revoked
	for rows.Next() {
		var r Revoked
		if err := rows.Scan(&r.TokenID, &r.UserID, &r.SessionID, &r.AccessJTI); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetBySession loads the Active row for a session, or the latest row when none is Active.
func (s *PostgresStore) GetBySession(ctx context.Context, sessionID string) (Row, error) {
	row, err := scanRow(s.pool.QueryRow(ctx, `
		SELECT `+rowColumns+`
		FROM sessiond.refresh_tokens
		WHERE session_id = $1
		ORDER BY (status = 'active') DESC, created_at DESC
		LIMIT 1
	`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrInvalidRefreshToken
	}
	return row, err
}

func scanRow(r pgx.Row) (Row, error) {
	var (
		row       Row
		jti       *string
		deviceID  *string
		userAgent *string
		status    string
	)
	err := r.Scan(
		&row.TokenID,
		&row.UserID,
		&row.SessionID,
		&row.HashedSecret,
		&jti,
		&row.ExpiresRollingAt,
		&row.ExpiresAbsoluteAt,
		&row.RevokedAt,
		&status,
		&row.IsPersistent,
		&deviceID,
		&userAgent,
		&row.CreatedAt,
	)
	if err != nil {
		return Row{}, err
	}
	row.Status = Status(status)
	if jti != nil {
		row.AccessJTI = *jti
	}
	if deviceID != nil {
		row.DeviceID = *deviceID
	}
	if userAgent != nil {
		row.UserAgent = *userAgent
	}
	return row, nil
}

func mapInsertErr(err error) error {
	switch {
	case isConstraintViolation(err, constraintHashUnique):
		return ErrSecretCollision
	case isConstraintViolation(err, constraintActiveSession):
		return ErrSessionActive
	default:
		return fmt.Errorf("session: insert refresh token: %w", err)
	}
}

func isConstraintViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return pgErr.ConstraintName == constraint
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
