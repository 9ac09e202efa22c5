package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"sessiond/cmd/identity"
	"sessiond/cmd/identity/ids"
	"sessiond/cmd/internal/clock"
	"sessiond/cmd/internal/telemetry"
	"sessiond/cmd/security/token"
)

// maxSecretLen bounds presented secrets to avoid pathological inputs.
const maxSecretLen = 4096

// UserLookup resolves the owner of a session.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (identity.User, error)
}

// Blacklist records revoked access credential ids.
type Blacklist interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	Contains(ctx context.Context, jti string, now time.Time) (bool, error)
}

// RevokeHook is told about sessions the service ended on its own, outside an
// explicit logout. It must not block.
type RevokeHook func(ctx context.Context, reason string, revoked []Revoked)

// Deps are the collaborators of a Service. Store, Issuer and Users are required.
type Deps struct {
	Store     Store
	Issuer    Issuer
	Users     UserLookup
	Blacklist Blacklist
	Hasher    token.Hasher
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
	OnRevoked RevokeHook
}

// Service issues, rotates and revokes sessions.
type Service struct {
	cfg       Config
	store     Store
	issuer    Issuer
	users     UserLookup
	blacklist Blacklist
	hasher    token.Hasher
	clock     clock.Clock
	log       *slog.Logger
	metrics   *telemetry.Metrics
	onRevoked RevokeHook
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	UserID    string
	SessionID string

	Access AccessCredential

	RefreshToken      string
	RefreshExpiresAt  time.Time
	AbsoluteExpiresAt time.Time
	Persistent        bool
}

// RotateRequest is the input of Rotate.
//
// OldAccessJTI is optional and advisory: the jti blacklisted on rotation is
// always the one paired with the row. A value that does not match it is ignored.
type RotateRequest struct {
	SessionID    string
	RefreshToken string
	OldAccessJTI string
}

// NewService constructs a Service.
func NewService(cfg Config, d Deps) (*Service, error) {
	if d.Store == nil || d.Issuer == nil || d.Users == nil {
		return nil, ErrConfig
	}
	if cfg.MaxSecretAttempts < 1 {
		cfg.MaxSecretAttempts = 1
	}
	if cfg.RefreshTokenBytes < 32 {
		cfg.RefreshTokenBytes = 32
	}

	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:       cfg,
		store:     d.Store,
		issuer:    d.Issuer,
		users:     d.Users,
		blacklist: d.Blacklist,
		hasher:    d.Hasher,
		clock:     clock.OrSystem(d.Clock),
		log:       log,
		metrics:   d.Metrics,
		onRevoked: d.OnRevoked,
	}, nil
}

// AccessTTL is the lifetime of minted access credentials.
func (s *Service) AccessTTL() time.Duration { return s.cfg.AccessTokenTTL }

// IssueSession creates the first Active row of a new session and mints its first
// access credential. The rolling horizon starts clamped to the absolute one.
func (s *Service) IssueSession(ctx context.Context, user identity.User, dev DeviceContext) (Issued, error) {
	if strings.TrimSpace(user.ID) == "" {
		return Issued{}, ErrRefreshUserNotFound
	}

	now := s.clock.Now()
	sessionID, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}

	absolute := now.Add(s.cfg.AbsoluteFor(dev.Persistent))
	rolling := clampRolling(now.Add(s.cfg.RollingWindow), absolute)

	access, err := s.issuer.Issue(Subject{
		UserID:    user.ID,
		SessionID: sessionID,
		Roles:     user.Roles,
		DeviceID:  dev.DeviceID,
		UserAgent: dev.UserAgent,
	}, now)
	if err != nil {
		return Issued{}, err
	}

	for attempt := 1; attempt <= s.cfg.MaxSecretAttempts; attempt++ {
		secret, err := token.NewOpaque(s.cfg.RefreshTokenBytes)
		if err != nil {
			return Issued{}, err
		}
		tokenID, err := ids.NewULID(now)
		if err != nil {
			return Issued{}, err
		}

		err = s.store.Insert(ctx, Row{
			TokenID:           tokenID,
			UserID:            user.ID,
			SessionID:         sessionID,
			HashedSecret:      s.hasher.Hash(secret),
			AccessJTI:         access.JTI,
			ExpiresRollingAt:  rolling,
			ExpiresAbsoluteAt: absolute,
			Status:            StatusActive,
			IsPersistent:      dev.Persistent,
			DeviceID:          dev.DeviceID,
			UserAgent:         dev.UserAgent,
			CreatedAt:         now,
		})
		if errors.Is(err, ErrSecretCollision) {
			s.log.Warn("auth.session.secret_collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return Issued{}, err
		}

		s.metrics.SessionIssued()
		return Issued{
			UserID:            user.ID,
			SessionID:         sessionID,
			Access:            access,
			RefreshToken:      secret,
			RefreshExpiresAt:  rolling,
			AbsoluteExpiresAt: absolute,
			Persistent:        dev.Persistent,
		}, nil
	}

	return Issued{}, CollisionError{Attempts: s.cfg.MaxSecretAttempts}
}

// Rotate exchanges a valid (session, secret) pair for a new access credential and a
// new secret. The stored hash is swapped in place; the presented secret is dead afterwards.
//
// Errors:
//   - ErrInvalidRefreshToken for any non-matching, expired, revoked or replayed input
//   - ErrRefreshUserNotFound when the owner is gone or has no usable email
//   - ErrRotationConflict when the conditional swap lost a race
//   - CollisionError when every fresh secret collided
func (s *Service) Rotate(ctx context.Context, req RotateRequest) (Issued, error) {
	// Only blank input is rejected here; the secret itself is hashed verbatim.
	secret := req.RefreshToken
	sessionID := strings.TrimSpace(req.SessionID)
	if strings.TrimSpace(secret) == "" || sessionID == "" || len(secret) > maxSecretLen {
		s.metrics.Rotation("invalid")
		return Issued{}, ErrInvalidRefreshToken
	}

	now := s.clock.Now()
	presented := s.hasher.Hash(secret)

	var (
		out       Issued
		pairedJTI string
	)
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		row, err := tx.GetActiveForUpdate(ctx, sessionID, presented, now)
		if err != nil {
			return err
		}

		user, err := s.users.GetUserByID(ctx, row.UserID)
		if identity.IsNotFound(err) || (err == nil && !user.HasUsableEmail()) {
			return ErrRefreshUserNotFound
		}
		if err != nil {
			return err
		}

		access, err := s.issuer.Issue(Subject{
			UserID:    row.UserID,
			SessionID: row.SessionID,
			Roles:     user.Roles,
			DeviceID:  row.DeviceID,
			UserAgent: row.UserAgent,
		}, now)
		if err != nil {
			return err
		}

		rolling := clampRolling(now.Add(s.cfg.RollingWindow), row.ExpiresAbsoluteAt)

		newSecret, err := s.swapWithRetry(ctx, tx, row, presented, access.JTI, rolling)
		if err != nil {
			return err
		}

		pairedJTI = row.AccessJTI
		out = Issued{
			UserID:            row.UserID,
			SessionID:         row.SessionID,
			Access:            access,
			RefreshToken:      newSecret,
			RefreshExpiresAt:  rolling,
			AbsoluteExpiresAt: row.ExpiresAbsoluteAt,
			Persistent:        row.IsPersistent,
		}
		return nil
	})
	if err != nil {
		s.rotationFailed(ctx, now, sessionID, err)
		return Issued{}, err
	}

	s.metrics.Rotation("ok")

	if claimed := strings.TrimSpace(req.OldAccessJTI); claimed != "" && claimed != pairedJTI {
		s.log.Warn("auth.refresh.access_jti_mismatch", "session_id", out.SessionID)
	}
	if pairedJTI != "" {
		s.blacklistBestEffort(ctx, pairedJTI, now.Add(s.cfg.AccessTokenTTL), "rotation")
	}
	return out, nil
}

func (s *Service) swapWithRetry(ctx context.Context, tx Tx, row Row, oldHash, jti string, rolling time.Time) (string, error) {
	for attempt := 1; attempt <= s.cfg.MaxSecretAttempts; attempt++ {
		secret, err := token.NewOpaque(s.cfg.RefreshTokenBytes)
		if err != nil {
			return "", err
		}

		err = tx.SwapSecret(ctx, Swap{
			TokenID:   row.TokenID,
			OldHash:   oldHash,
			NewHash:   s.hasher.Hash(secret),
			AccessJTI: jti,
			RollingAt: rolling,
		})
		if errors.Is(err, ErrSecretCollision) {
			s.log.Warn("auth.refresh.secret_collision", "session_id", row.SessionID, "attempt", attempt)
			continue
		}
		if err != nil {
			return "", err
		}
		return secret, nil
	}
	return "", CollisionError{Attempts: s.cfg.MaxSecretAttempts}
}

func (s *Service) rotationFailed(ctx context.Context, now time.Time, sessionID string, err error) {
	switch {
	case errors.Is(err, ErrInvalidRefreshToken):
		s.metrics.Rotation("invalid")
		if s.cfg.RevokeOnReplay {
			s.revokeOnReplay(ctx, now, sessionID)
		}
	case errors.Is(err, ErrRefreshUserNotFound):
		s.metrics.Rotation("user_not_found")
	case errors.Is(err, ErrRotationConflict):
		s.metrics.Rotation("conflict")
		s.log.Error("auth.refresh.conflict", "session_id", sessionID)
	default:
		s.metrics.Rotation("error")
	}
}

// revokeOnReplay ends a live session after a stale secret was presented for it.
func (s *Service) revokeOnReplay(ctx context.Context, now time.Time, sessionID string) {
	revoked, err := s.store.RevokeSessionByID(ctx, now, sessionID)
	if err != nil {
		s.log.Error("auth.refresh.replay_revoke.fail", "session_id", sessionID, "err", err)
		return
	}
	if len(revoked) == 0 {
		return
	}
	s.metrics.Revoked("replay", len(revoked))
	s.log.Warn("auth.refresh.replay_revoked", "session_id", sessionID, "user_id", revoked[0].UserID)
	for _, r := range revoked {
		if r.AccessJTI != "" {
			s.blacklistBestEffort(ctx, r.AccessJTI, now.Add(s.cfg.AccessTokenTTL), "replay")
		}
	}
	if s.onRevoked != nil {
		s.onRevoked(ctx, "replay", revoked)
	}
}

// RevokeSession revokes one session of a user. Already revoked or unknown sessions
// are not an error. The returned rows carry their paired access jtis.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) ([]Revoked, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return nil, nil
	}
	revoked, err := s.store.RevokeSession(ctx, s.clock.Now(), userID, sessionID)
	if err != nil {
		return nil, err
	}
	s.metrics.Revoked("logout", len(revoked))
	return revoked, nil
}

// RevokeAll revokes every Active session of a user.
func (s *Service) RevokeAll(ctx context.Context, userID string) ([]Revoked, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	revoked, err := s.store.RevokeAll(ctx, s.clock.Now(), userID)
	if err != nil {
		return nil, err
	}
	s.metrics.Revoked("logout_all", len(revoked))
	return revoked, nil
}

// ExpireStale revokes rows whose rolling or absolute horizon has passed.
func (s *Service) ExpireStale(ctx context.Context) ([]Revoked, error) {
	revoked, err := s.store.ExpireStale(ctx, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.metrics.Revoked("expired", len(revoked))
	return revoked, nil
}

// ValidateAccess verifies an access credential and rejects blacklisted jtis.
// A blacklist lookup error fails closed.
func (s *Service) ValidateAccess(ctx context.Context, accessToken string) (AccessClaims, error) {
	now := s.clock.Now()
	claims, err := s.issuer.Verify(accessToken, now)
	if err != nil {
		return AccessClaims{}, err
	}
	if s.blacklist == nil {
		return claims, nil
	}

	revoked, err := s.blacklist.Contains(ctx, claims.JTI, now)
	if err != nil {
		return AccessClaims{}, err
	}
	if revoked {
		return AccessClaims{}, ErrTokenRevoked
	}
	return claims, nil
}

// Inspect verifies the signature of an access credential, ignoring expiry.
func (s *Service) Inspect(accessToken string) (AccessClaims, error) {
	return s.issuer.Inspect(accessToken)
}

func (s *Service) blacklistBestEffort(ctx context.Context, jti string, expiresAt time.Time, reason string) {
	if s.blacklist == nil {
		return
	}
	if err := s.blacklist.Add(ctx, jti, expiresAt); err != nil {
		s.metrics.BlacklistWrite("error")
		s.log.Error("auth.blacklist.fail", "reason", reason, "jti", jti, "err", err)
		return
	}
	s.metrics.BlacklistWrite("ok")
}

// clampRolling caps the rolling horizon at the absolute one.
func clampRolling(rolling, absolute time.Time) time.Time {
	if absolute.Before(rolling) {
		return absolute
	}
	return rolling
}
