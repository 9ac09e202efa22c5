package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads and updates <schema>.users.
//
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "sessiond").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "sessiond"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) users() string {
	return pgx.Identifier{s.schema, "users"}.Sanitize()
}

// GetUserByID loads a user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetUserByID"
	if strings.TrimSpace(userID) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty user id"}
	}
	return s.getOne(ctx, op, `WHERE id = $1`, userID)
}

// GetUserByEmail loads a user by normalized email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"
	norm := NormalizeEmail(email)
	if norm == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty email"}
	}
	return s.getOne(ctx, op, `WHERE email_norm = $1`, norm)
}

func (s *PostgresStore) getOne(ctx context.Context, op, where string, arg any) (User, error) {
	var (
		u     User
		email *string
		hash  *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, roles, lockout_until, created_at
		FROM `+s.users()+`
		`+where, arg).Scan(&u.ID, &email, &hash, &u.Roles, &u.LockoutUntil, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound(op)
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	if email != nil {
		u.Email = *email
	}
	if hash != nil {
		u.PasswordHash = *hash
	}
	return u, nil
}

// SetLockoutUntil sets or clears users.lockout_until.
func (s *PostgresStore) SetLockoutUntil(ctx context.Context, userID string, until *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.users()+`
		SET lockout_until = $2
		WHERE id = $1
	`, userID, until)
	if err != nil {
		return fmt.Errorf("identity.SetLockoutUntil: %w", err)
	}
	return nil
}

// CreateUserInput seeds a user row. Registration proper is owned by another service;
// this exists for bootstrap tooling and integration tests.
type CreateUserInput struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string
	Now          time.Time
}

// CreateUser inserts a user row.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) error {
	const op = "identity.CreateUser"
	if strings.TrimSpace(in.ID) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty id"}
	}
	roles := in.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.users()+` (id, email, email_norm, password_hash, roles, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, in.ID, nullIfEmpty(in.Email), nullIfEmpty(NormalizeEmail(in.Email)), nullIfEmpty(in.PasswordHash), roles, in.Now)
	if isUniqueViolation(err) {
		return OpError{Op: op, Kind: ErrConflict, Msg: "email"}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
