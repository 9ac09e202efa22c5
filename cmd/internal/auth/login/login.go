// Package login authenticates email/password credentials and opens a session.
package login

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"sessiond/cmd/identity"
	"sessiond/cmd/internal/auth/session"
	"sessiond/cmd/internal/telemetry"
)

var (
	// ErrAccountLocked is returned while the account is locked out, even for correct credentials.
	ErrAccountLocked = errors.New("account locked")

	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// maxPasswordLen bounds the work a single attempt can request.
const maxPasswordLen = 1024

// Credentials is a login attempt.
type Credentials struct {
	Email      string
	Password   string
	RememberMe bool
	DeviceID   string
	UserAgent  string
	IP         string
}

// Lockout is the lockout tracker surface used by the login flow.
type Lockout interface {
	CheckLocked(ctx context.Context, email string) (bool, error)
	RecordFailure(ctx context.Context, email, ip, userAgent string) error
	ResetOnSuccess(ctx context.Context, userID string) error
}

// Users looks up accounts by email.
type Users interface {
	GetUserByEmail(ctx context.Context, email string) (identity.User, error)
}

// Sessions opens sessions.
type Sessions interface {
	IssueSession(ctx context.Context, user identity.User, dev session.DeviceContext) (session.Issued, error)
}

type hasher interface {
	Hash(password string) (string, error)
}

// Authenticator runs the login flow.
type Authenticator struct {
	users     Users
	passwords identity.PasswordVerifier
	lockout   Lockout
	sessions  Sessions
	log       *slog.Logger
	metrics   *telemetry.Metrics

	// dummyHash is verified against when the email is unknown so both paths cost the same.
	dummyHash string
}

// NewAuthenticator constructs an Authenticator. When passwords can also hash,
// a dummy hash is derived for the unknown-email path.
func NewAuthenticator(users Users, passwords identity.PasswordVerifier, lockout Lockout, sessions Sessions, log *slog.Logger, metrics *telemetry.Metrics) (*Authenticator, error) {
	if users == nil || passwords == nil || lockout == nil || sessions == nil {
		return nil, errors.New("login: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &Authenticator{
		users:     users,
		passwords: passwords,
		lockout:   lockout,
		sessions:  sessions,
		log:       log,
		metrics:   metrics,
	}
	if h, ok := passwords.(hasher); ok {
		dummy, err := h.Hash("sessiond-dummy-password")
		if err != nil {
			return nil, err
		}
		a.dummyHash = dummy
	}
	return a, nil
}

// Login checks the lockout state, verifies the password and issues a session.
func (a *Authenticator) Login(ctx context.Context, c Credentials) (session.Issued, error) {
	email := identity.NormalizeEmail(c.Email)
	if email == "" || c.Password == "" || len(c.Password) > maxPasswordLen {
		a.metrics.LoginAttempt("invalid")
		return session.Issued{}, ErrInvalidCredentials
	}

	locked, err := a.lockout.CheckLocked(ctx, email)
	if err != nil {
		return session.Issued{}, err
	}
	if locked {
		a.metrics.LoginAttempt("locked")
		a.log.Info("auth.login.locked", "ip", c.IP)
		return session.Issued{}, ErrAccountLocked
	}

	user, err := a.users.GetUserByEmail(ctx, email)
	if identity.IsNotFound(err) {
		if a.dummyHash != "" {
			_, _ = a.passwords.Verify(a.dummyHash, c.Password)
		}
		a.fail(ctx, email, c)
		return session.Issued{}, ErrInvalidCredentials
	}
	if err != nil {
		return session.Issued{}, err
	}

	ok := false
	if strings.TrimSpace(user.PasswordHash) != "" {
		ok, err = a.passwords.Verify(user.PasswordHash, c.Password)
		if err != nil && !errors.Is(err, identity.ErrInvalidHash) {
			return session.Issued{}, err
		}
	}
	if !ok {
		a.fail(ctx, email, c)
		return session.Issued{}, ErrInvalidCredentials
	}

	if err := a.lockout.ResetOnSuccess(ctx, user.ID); err != nil {
		a.log.Error("auth.login.reset_failures.fail", "user_id", user.ID, "err", err)
	}

	issued, err := a.sessions.IssueSession(ctx, user, session.DeviceContext{
		DeviceID:   strings.TrimSpace(c.DeviceID),
		UserAgent:  c.UserAgent,
		Persistent: c.RememberMe,
	})
	if err != nil {
		return session.Issued{}, err
	}

	a.metrics.LoginAttempt("ok")
	a.log.Info("auth.login.ok", "user_id", user.ID, "session_id", issued.SessionID, "persistent", issued.Persistent)
	return issued, nil
}

func (a *Authenticator) fail(ctx context.Context, email string, c Credentials) {
	a.metrics.LoginAttempt("invalid")
	if err := a.lockout.RecordFailure(ctx, email, c.IP, c.UserAgent); err != nil {
		a.log.Error("auth.login.record_failure.fail", "err", err)
	}
}
