package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// AccessFormat selects the access credential encoding.
type AccessFormat string

const (
	// FormatPaseto issues PASETO v4.public tokens signed with Ed25519.
	FormatPaseto AccessFormat = "paseto"
	// FormatJWT issues HS256 JWTs.
	FormatJWT AccessFormat = "jwt"
)

// Config defines runtime configuration for the session subsystem.
//
// The rolling window is the inactivity deadline extended by each rotation.
// The absolute TTLs set the hard ceiling at login, depending on remember-me.
type Config struct {
	// Issuer is the value set in the "iss" claim of access credentials.
	Issuer string

	AccessTokenTTL time.Duration

	RollingWindow         time.Duration
	AbsoluteTTL           time.Duration
	AbsoluteTTLPersistent time.Duration

	// ClockSkew is tolerated when verifying access credentials.
	ClockSkew time.Duration

	// RefreshTokenBytes is the entropy of opaque refresh secrets.
	RefreshTokenBytes int

	// MaxSecretAttempts bounds retries after a hash collision.
	MaxSecretAttempts int

	// RevokeOnReplay revokes a live session when a stale secret for it is presented.
	RevokeOnReplay bool

	AccessFormat AccessFormat

	// PasetoV4SecretKeyHex is the hex Ed25519 secret key for FormatPaseto.
	PasetoV4SecretKeyHex string

	// JWTSecret is the HS256 key for FormatJWT.
	JWTSecret string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:                "sessiond",
		AccessTokenTTL:        15 * time.Minute,
		RollingWindow:         7 * 24 * time.Hour,
		AbsoluteTTL:           24 * time.Hour,
		AbsoluteTTLPersistent: 30 * 24 * time.Hour,
		ClockSkew:             30 * time.Second,
		RefreshTokenBytes:     32,
		MaxSecretAttempts:     3,
		AccessFormat:          FormatPaseto,
	}
}

// AbsoluteFor returns the absolute session lifetime for the remember-me flag.
func (c Config) AbsoluteFor(persistent bool) time.Duration {
	if persistent {
		return c.AbsoluteTTLPersistent
	}
	return c.AbsoluteTTL
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - SESSIOND_PASETO_V4_SECRET_KEY_HEX (paseto format)
//   - SESSIOND_JWT_SECRET, at least 32 bytes (jwt format)
//
// Optional:
//   - SESSIOND_AUTH_ISSUER
//   - SESSIOND_ACCESS_TOKEN_FORMAT (paseto|jwt)
//   - SESSIOND_AUTH_ACCESS_TTL
//   - SESSIOND_AUTH_ROLLING_WINDOW
//   - SESSIOND_AUTH_ABSOLUTE_TTL
//   - SESSIOND_AUTH_ABSOLUTE_TTL_PERSISTENT
//   - SESSIOND_AUTH_CLOCK_SKEW
//   - SESSIOND_AUTH_REFRESH_TOKEN_BYTES (32..64)
//   - SESSIOND_AUTH_SECRET_ATTEMPTS (1..10)
//   - SESSIOND_REVOKE_ON_REPLAY
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("SESSIOND_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key string
		dst *time.Duration
		min time.Duration
	}{
		{"SESSIOND_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL, time.Second},
		{"SESSIOND_AUTH_ROLLING_WINDOW", &cfg.RollingWindow, time.Second},
		{"SESSIOND_AUTH_ABSOLUTE_TTL", &cfg.AbsoluteTTL, time.Second},
		{"SESSIOND_AUTH_ABSOLUTE_TTL_PERSISTENT", &cfg.AbsoluteTTLPersistent, time.Second},
		{"SESSIOND_AUTH_CLOCK_SKEW", &cfg.ClockSkew, 0},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < d.min {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("SESSIOND_AUTH_REFRESH_TOKEN_BYTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	if v := strings.TrimSpace(os.Getenv("SESSIOND_AUTH_SECRET_ATTEMPTS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10 {
			return Config{}, ErrConfig
		}
		cfg.MaxSecretAttempts = n
	}

	if v := strings.TrimSpace(os.Getenv("SESSIOND_REVOKE_ON_REPLAY")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.RevokeOnReplay = b
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("SESSIOND_ACCESS_TOKEN_FORMAT"))); v != "" {
		cfg.AccessFormat = AccessFormat(v)
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("SESSIOND_PASETO_V4_SECRET_KEY_HEX"))
	cfg.JWTSecret = os.Getenv("SESSIOND_JWT_SECRET")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c Config) Validate() error {
	switch c.AccessFormat {
	case FormatPaseto:
		if c.PasetoV4SecretKeyHex == "" {
			return ErrConfig
		}
	case FormatJWT:
		if len(c.JWTSecret) < 32 {
			return ErrConfig
		}
	default:
		return ErrConfig
	}

	if c.AccessTokenTTL <= 0 || c.RollingWindow <= 0 {
		return ErrConfig
	}
	// A non-persistent session must not outlive a persistent one.
	if c.AbsoluteTTL <= 0 || c.AbsoluteTTLPersistent < c.AbsoluteTTL {
		return ErrConfig
	}
	if c.RefreshTokenBytes < 32 || c.MaxSecretAttempts < 1 {
		return ErrConfig
	}
	return nil
}
