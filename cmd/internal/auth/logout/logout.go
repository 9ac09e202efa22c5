// Package logout ends sessions consistently: token rows, blacklist and the
// live realtime channel move together.
package logout

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"sessiond/cmd/internal/auth/session"
	"sessiond/cmd/internal/clock"
	"sessiond/cmd/internal/realtime"
	"sessiond/cmd/internal/telemetry"
	v1 "sessiond/shared/contracts/realtime/v1"
)

// Sessions is the slice of session.Service the orchestrator drives.
type Sessions interface {
	Inspect(accessToken string) (session.AccessClaims, error)
	RevokeSession(ctx context.Context, userID, sessionID string) ([]session.Revoked, error)
	RevokeAll(ctx context.Context, userID string) ([]session.Revoked, error)
	ExpireStale(ctx context.Context) ([]session.Revoked, error)
	AccessTTL() time.Duration
}

// Notifier closes live channels. Calls must not block on the channel itself.
type Notifier interface {
	CloseUser(userID, frame, reason string) int
	CloseSession(key realtime.IdentityKey, frame, reason string) int
}

// Orchestrator composes revoke, blacklist and channel teardown.
type Orchestrator struct {
	sessions  Sessions
	blacklist session.Blacklist
	notifier  Notifier
	clock     clock.Clock
	log       *slog.Logger
	metrics   *telemetry.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option { return func(o *Orchestrator) { o.clock = clock.OrSystem(c) } }

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// New constructs an Orchestrator. blacklist and notifier may be nil.
func New(sessions Sessions, blacklist session.Blacklist, notifier Notifier, opts ...Option) (*Orchestrator, error) {
	if sessions == nil {
		return nil, errors.New("logout: sessions is required")
	}
	o := &Orchestrator{
		sessions:  sessions,
		blacklist: blacklist,
		notifier:  notifier,
		clock:     clock.System{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Request identifies what to end.
type Request struct {
	AccessToken string
	// SessionID defaults to the session carried by the access credential.
	SessionID string
	// All ends every session of the user.
	All bool
}

// Result summarizes a logout.
type Result struct {
	UserID  string
	Revoked int
	Closed  int
}

// Logout revokes the session (or all sessions) behind the access credential,
// blacklists the affected access jtis and closes the live channels with a
// LOGOUT notice.
//
// It is idempotent. An access credential that cannot be parsed makes it a
// no-op rather than an error; an expired one still works.
func (o *Orchestrator) Logout(ctx context.Context, req Request) (Result, error) {
	claims, err := o.sessions.Inspect(strings.TrimSpace(req.AccessToken))
	if err != nil {
		o.log.Debug("auth.logout.unparseable", "err", err)
		return Result{}, nil
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = claims.SessionID
	}

	var revoked []session.Revoked
	if req.All {
		revoked, err = o.sessions.RevokeAll(ctx, claims.UserID)
	} else {
		revoked, err = o.sessions.RevokeSession(ctx, claims.UserID, sessionID)
	}
	if err != nil {
		return Result{}, err
	}

	now := o.clock.Now()
	if req.All || sessionID == claims.SessionID {
		o.blacklistBestEffort(ctx, claims.JTI, claims.ExpiresAt, now)
	}
	for _, r := range revoked {
		if r.AccessJTI != claims.JTI {
			o.blacklistBestEffort(ctx, r.AccessJTI, now.Add(o.sessions.AccessTTL()), now)
		}
	}

	res := Result{UserID: claims.UserID, Revoked: len(revoked)}
	if o.notifier != nil {
		if req.All {
			res.Closed = o.notifier.CloseUser(claims.UserID, v1.FrameLogout, v1.ReasonLogout)
		} else {
			res.Closed = o.notifier.CloseSession(realtime.IdentityKey{UserID: claims.UserID, SessionID: sessionID}, v1.FrameLogout, v1.ReasonLogout)
		}
	}

	o.log.Info("auth.logout",
		"user_id", claims.UserID,
		"session_id", sessionID,
		"all", req.All,
		"revoked", res.Revoked,
		"closed", res.Closed,
	)
	return res, nil
}

// SessionsRevoked closes the live channels of sessions the session service
// ended on its own, such as a replay revocation. Token state is already
// settled by the caller.
func (o *Orchestrator) SessionsRevoked(_ context.Context, reason string, revoked []session.Revoked) int {
	if o.notifier == nil {
		return 0
	}
	closed := 0
	for _, r := range revoked {
		closed += o.notifier.CloseSession(realtime.IdentityKey{UserID: r.UserID, SessionID: r.SessionID}, v1.FrameLogout, v1.ReasonRevoked)
	}
	o.log.Info("auth.sessions.revoked", "reason", reason, "revoked", len(revoked), "closed", closed)
	return closed
}

// ExpireStale revokes every row past either horizon and pushes
// SESSION_EXPIRED to the matching live channels.
func (o *Orchestrator) ExpireStale(ctx context.Context) (int, error) {
	revoked, err := o.sessions.ExpireStale(ctx)
	if err != nil {
		return 0, err
	}

	now := o.clock.Now()
	for _, r := range revoked {
		o.blacklistBestEffort(ctx, r.AccessJTI, now.Add(o.sessions.AccessTTL()), now)
		if o.notifier != nil {
			o.notifier.CloseSession(realtime.IdentityKey{UserID: r.UserID, SessionID: r.SessionID}, v1.FrameSessionExpired, v1.ReasonExpired)
		}
	}

	if len(revoked) > 0 {
		o.log.Info("auth.sessions.expired", "count", len(revoked))
	}
	o.metrics.Swept("sessions", int64(len(revoked)))
	return len(revoked), nil
}

func (o *Orchestrator) blacklistBestEffort(ctx context.Context, jti string, expiresAt, now time.Time) {
	if o.blacklist == nil || strings.TrimSpace(jti) == "" || !expiresAt.After(now) {
		return
	}
	if err := o.blacklist.Add(ctx, jti, expiresAt); err != nil {
		o.metrics.BlacklistWrite("error")
		o.log.Error("auth.blacklist.fail", "reason", "logout", "jti", jti, "err", err)
		return
	}
	o.metrics.BlacklistWrite("ok")
}
