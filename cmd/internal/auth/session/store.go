package session

import (
	"context"
	"time"
)

// Status is the lifecycle state of a refresh token row.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// DeviceContext describes the client that owns a session.
type DeviceContext struct {
	DeviceID   string
	UserAgent  string
	Persistent bool
}

// Row mirrors a sessiond.refresh_tokens row.
//
// TokenID, UserID, SessionID and ExpiresAbsoluteAt never change after insert.
// Rotation rewrites HashedSecret, AccessJTI and ExpiresRollingAt in place.
type Row struct {
	TokenID           string
	UserID            string
	SessionID         string
	HashedSecret      string
	AccessJTI         string
	ExpiresRollingAt  time.Time
	ExpiresAbsoluteAt time.Time
	RevokedAt         *time.Time
	Status            Status
	IsPersistent      bool
	DeviceID          string
	UserAgent         string
	CreatedAt         time.Time
}

// UsableAt reports whether the row can still be rotated at now.
func (r Row) UsableAt(now time.Time) bool {
	return r.Status == StatusActive &&
		r.RevokedAt == nil &&
		r.ExpiresRollingAt.After(now) &&
		r.ExpiresAbsoluteAt.After(now)
}

// Revoked identifies a row moved to StatusRevoked, with the access jti it was paired with.
type Revoked struct {
	TokenID   string
	UserID    string
	SessionID string
	AccessJTI string
}

// Swap is the compare-and-swap applied by a rotation.
type Swap struct {
	TokenID   string
	OldHash   string
	NewHash   string
	AccessJTI string
	RollingAt time.Time
}

// Store persists refresh token rows.
type Store interface {
	// Insert adds a new Active row. A duplicate HashedSecret returns ErrSecretCollision.
	Insert(ctx context.Context, row Row) error

	// WithinTx runs fn in a transaction; fn's error rolls it back.
	WithinTx(ctx context.Context, fn func(Tx) error) error

	// RevokeSession moves the user's Active row for sessionID to Revoked.
	// Zero affected rows is not an error.
	RevokeSession(ctx context.Context, now time.Time, userID, sessionID string) ([]Revoked, error)

	// RevokeSessionByID is RevokeSession without the owner check, for replay response.
	RevokeSessionByID(ctx context.Context, now time.Time, sessionID string) ([]Revoked, error)

	// RevokeAll moves every Active row owned by userID to Revoked.
	RevokeAll(ctx context.Context, now time.Time, userID string) ([]Revoked, error)

	// ExpireStale revokes Active rows whose rolling or absolute horizon has passed.
	ExpireStale(ctx context.Context, now time.Time) ([]Revoked, error)
}

// Tx is the rotation view of a Store transaction.
type Tx interface {
	// GetActiveForUpdate loads and locks the row matching sessionID and hash that is
	// Active, unrevoked and inside both horizons at now. No match is ErrInvalidRefreshToken.
	GetActiveForUpdate(ctx context.Context, sessionID, hash string, now time.Time) (Row, error)

	// SwapSecret applies sw only while the row still holds sw.OldHash and is Active.
	// Zero affected rows is ErrRotationConflict; a duplicate NewHash is ErrSecretCollision
	// and leaves the transaction usable for another attempt.
	SwapSecret(ctx context.Context, sw Swap) error
}
