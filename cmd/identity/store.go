package identity

import (
	"context"
	"time"
)

// User is the slice of the user record the session subsystem reads.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string

	// LockoutUntil is set while the account is locked out after repeated failed logins.
	LockoutUntil *time.Time

	CreatedAt time.Time
}

// LockedAt reports whether the lockout marker is still in force at now.
func (u User) LockedAt(now time.Time) bool {
	return u.LockoutUntil != nil && u.LockoutUntil.After(now)
}

// Store is the user-record persistence boundary.
type Store interface {
	// GetUserByID returns ErrNotFound when the user does not exist.
	GetUserByID(ctx context.Context, userID string) (User, error)

	// GetUserByEmail looks up by normalized email; ErrNotFound when absent.
	GetUserByEmail(ctx context.Context, email string) (User, error)

	// SetLockoutUntil sets (until != nil) or clears (until == nil) the lockout marker.
	// Missing users are not an error.
	SetLockoutUntil(ctx context.Context, userID string, until *time.Time) error
}
