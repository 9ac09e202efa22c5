// Package lockout locks accounts after repeated failed logins.
//
// The lock is a lockout_until timestamp on the user record. It is cleared
// lazily by the next CheckLocked once it has passed.
package lockout

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"sessiond/cmd/identity"
	"sessiond/cmd/internal/clock"
	"sessiond/cmd/internal/telemetry"
)

// Users is the slice of the identity store the tracker needs.
type Users interface {
	GetUserByEmail(ctx context.Context, email string) (identity.User, error)
	SetLockoutUntil(ctx context.Context, userID string, until *time.Time) error
}

// Tracker implements lockout checks and failure bookkeeping.
type Tracker struct {
	cfg      Config
	users    Users
	attempts AttemptStore
	clock    clock.Clock
	log      *slog.Logger
	metrics  *telemetry.Metrics
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the system clock.
func WithClock(c clock.Clock) Option { return func(t *Tracker) { t.clock = clock.OrSystem(c) } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.Metrics) Option { return func(t *Tracker) { t.metrics = m } }

// NewTracker constructs a Tracker.
func NewTracker(cfg Config, users Users, attempts AttemptStore, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:      cfg,
		users:    users,
		attempts: attempts,
		clock:    clock.System{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// CheckLocked reports whether the account for email is locked.
//
// A passed lockout_until is cleared and the check falls through to counting
// failures in the trailing window; reaching the threshold locks the account
// for cfg.Duration. Unknown emails are never locked.
func (t *Tracker) CheckLocked(ctx context.Context, email string) (bool, error) {
	u, err := t.users.GetUserByEmail(ctx, email)
	if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := t.clock.Now()
	if u.LockoutUntil != nil {
		if u.LockoutUntil.After(now) {
			return true, nil
		}
		if err := t.users.SetLockoutUntil(ctx, u.ID, nil); err != nil {
			return false, err
		}
		t.log.Info("auth.lockout.expired", "user_id", u.ID)
	}

	n, err := t.attempts.CountSince(ctx, u.ID, now.Add(-t.cfg.Window))
	if err != nil {
		return false, err
	}
	if n < t.cfg.Threshold {
		return false, nil
	}

	until := now.Add(t.cfg.Duration)
	if err := t.users.SetLockoutUntil(ctx, u.ID, &until); err != nil {
		return false, err
	}
	t.metrics.Locked()
	t.log.Warn("auth.lockout.locked", "user_id", u.ID, "failures", n, "until", until)
	return true, nil
}

// RecordFailure appends a failed attempt for the account behind email.
// Emails that match no account have nothing to attach the record to and are skipped.
func (t *Tracker) RecordFailure(ctx context.Context, email, ip, userAgent string) error {
	u, err := t.users.GetUserByEmail(ctx, email)
	if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
		t.log.Debug("auth.lockout.unknown_email")
		return nil
	}
	if err != nil {
		return err
	}

	return t.attempts.Record(ctx, Attempt{
		UserID:    u.ID,
		IP:        strings.TrimSpace(ip),
		UserAgent: userAgent,
		At:        t.clock.Now(),
	})
}

// ResetOnSuccess deletes the user's failure records after a successful login.
func (t *Tracker) ResetOnSuccess(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	_, err := t.attempts.DeleteForUser(ctx, userID)
	return err
}

// Prune drops attempts older than the counting window.
func (t *Tracker) Prune(ctx context.Context) (int64, error) {
	return t.attempts.PruneBefore(ctx, t.clock.Now().Add(-t.cfg.Window))
}
