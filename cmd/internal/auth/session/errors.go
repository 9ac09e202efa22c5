package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRefreshToken covers every reason a presented (session, secret) pair
	// does not rotate: empty input, wrong secret, wrong session, expired, revoked or
	// replayed. Callers cannot tell these apart.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrRefreshUserNotFound is returned when the owning user is gone or has no usable email.
	// Transport layers must map it to the same response as ErrInvalidRefreshToken.
	ErrRefreshUserNotFound = errors.New("refresh user not found")

	// ErrRotationConflict means the conditional hash swap affected zero rows:
	// a concurrent rotation won, or a superseded secret was replayed mid-flight.
	ErrRotationConflict = errors.New("refresh rotation conflict")

	// ErrSecretCollision is returned by stores when a new secret hash already exists.
	ErrSecretCollision = errors.New("refresh secret hash collision")

	// ErrSessionActive is returned by Insert when the session already has an Active row.
	ErrSessionActive = errors.New("session already active")

	// ErrInvalidToken is returned when an access credential fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRevoked is returned when a verified access credential is blacklisted.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// CollisionError reports that every attempt to store a fresh secret collided.
type CollisionError struct {
	Attempts int
}

func (e CollisionError) Error() string {
	return fmt.Sprintf("%s after %d attempts", ErrSecretCollision.Error(), e.Attempts)
}

func (e CollisionError) Unwrap() error { return ErrSecretCollision }
