package lockout

import (
	"context"
	"time"
)

// Attempt is one failed login.
type Attempt struct {
	UserID    string
	IP        string
	UserAgent string
	At        time.Time
}

// AttemptStore persists failed login attempts.
type AttemptStore interface {
	Record(ctx context.Context, a Attempt) error
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	DeleteForUser(ctx context.Context, userID string) (int64, error)
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}
