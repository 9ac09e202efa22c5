package login

import (
	"context"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/stretchr/testify/require"

	"sessiond/cmd/identity"
	"sessiond/cmd/internal/auth/lockout"
	"sessiond/cmd/internal/auth/session"
	"sessiond/cmd/internal/clock"
)

const (
	userID   = "01HLOGINLOGINLOGINLOGINLOG"
	email    = "lin@example.com"
	password = "correct horse battery staple"
)

type harness struct {
	auth     *Authenticator
	attempts *lockout.MemoryStore
	sessions *session.MemoryStore
	clk      *clock.Manual
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	argon := identity.NewArgon2id(identity.Argon2idParams{MemoryKiB: 1024, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32})
	hash, err := argon.Hash(password)
	require.NoError(t, err)

	users := identity.NewMemoryStore()
	require.NoError(t, users.Put(identity.User{ID: userID, Email: email, PasswordHash: hash}))

	clk := clock.NewManual(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	attempts := lockout.NewMemoryStore()
	tracker := lockout.NewTracker(lockout.DefaultConfig(), users, attempts, lockout.WithClock(clk))

	cfg := session.DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	iss, err := session.NewIssuer(cfg)
	require.NoError(t, err)
	store := session.NewMemoryStore()
	svc, err := session.NewService(cfg, session.Deps{Store: store, Issuer: iss, Users: users, Clock: clk})
	require.NoError(t, err)

	auth, err := NewAuthenticator(users, argon, tracker, svc, nil, nil)
	require.NoError(t, err)
	return &harness{auth: auth, attempts: attempts, sessions: store, clk: clk}
}

func TestLogin_Success(t *testing.T) {
	h := newHarness(t)

	issued, err := h.auth.Login(context.Background(), Credentials{Email: " LIN@example.com", Password: password, RememberMe: true, DeviceID: "d1"})
	require.NoError(t, err)
	require.Equal(t, userID, issued.UserID)
	require.True(t, issued.Persistent)
	require.NotEmpty(t, issued.RefreshToken)
	require.Equal(t, 1, h.sessions.ActiveCount(issued.SessionID))
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.auth.Login(ctx, Credentials{Email: email, Password: "nope"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, 1, h.attempts.Count(userID))

	_, err = h.auth.Login(ctx, Credentials{Email: "ghost@example.com", Password: password})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.auth.Login(ctx, Credentials{Email: email, Password: ""})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_LockoutThresholdAndRecovery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.auth.Login(ctx, Credentials{Email: email, Password: "wrong", IP: "203.0.113.9"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
		h.clk.Advance(10 * time.Second)
	}

	// Sixth attempt is rejected as locked even with the right password.
	_, err := h.auth.Login(ctx, Credentials{Email: email, Password: password})
	require.ErrorIs(t, err, ErrAccountLocked)

	h.clk.Advance(16 * time.Minute)
	issued, err := h.auth.Login(ctx, Credentials{Email: email, Password: password})
	require.NoError(t, err)
	require.Equal(t, userID, issued.UserID)
	require.Zero(t, h.attempts.Count(userID), "successful login clears the failure count")
}
