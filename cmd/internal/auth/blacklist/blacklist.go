// Package blacklist records revoked access credential ids (jti) until they expire.
//
// Entries merge idempotently: re-adding a jti keeps the later expiry. An entry is
// irrelevant once its expiry passes, because the credential itself no longer
// verifies; Reap removes such entries physically where the backend needs it.
package blacklist

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrInvalidJTI is returned when adding an empty jti.
var ErrInvalidJTI = errors.New("blacklist: empty jti")

// Store is a revoked-jti set with per-entry expiry.
type Store interface {
	// Add records jti until expiresAt, keeping the later expiry on conflict.
	Add(ctx context.Context, jti string, expiresAt time.Time) error

	// Contains reports whether jti is blacklisted with an expiry after now.
	Contains(ctx context.Context, jti string, now time.Time) (bool, error)

	// Reap deletes entries that expired at or before now and returns how many.
	Reap(ctx context.Context, now time.Time) (int64, error)
}

func normalizeJTI(jti string) (string, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return "", ErrInvalidJTI
	}
	return jti, nil
}
