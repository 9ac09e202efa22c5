package session

import (
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestLoadConfigFromEnv_MissingSecretKey(t *testing.T) {
	t.Setenv("SESSIOND_PASETO_V4_SECRET_KEY_HEX", "")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("SESSIOND_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("SESSIOND_AUTH_ACCESS_TTL", "-5m")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidRefreshTokenBytes(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("SESSIOND_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("SESSIOND_AUTH_REFRESH_TOKEN_BYTES", "16")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for small refresh bytes, got %v", err)
	}
}

func TestLoadConfigFromEnv_AbsoluteOrder(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("SESSIOND_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("SESSIOND_AUTH_ABSOLUTE_TTL", "72h")
	t.Setenv("SESSIOND_AUTH_ABSOLUTE_TTL_PERSISTENT", "24h")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig when persistent < non-persistent, got %v", err)
	}
}

func TestLoadConfigFromEnv_JWTNeedsLongSecret(t *testing.T) {
	t.Setenv("SESSIOND_ACCESS_TOKEN_FORMAT", "jwt")
	t.Setenv("SESSIOND_JWT_SECRET", "short")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for short jwt secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_UnknownFormat(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("SESSIOND_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("SESSIOND_ACCESS_TOKEN_FORMAT", "saml")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unknown format, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("SESSIOND_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("SESSIOND_AUTH_ISSUER", "sessiond-test")
	t.Setenv("SESSIOND_AUTH_ACCESS_TTL", "10m")
	t.Setenv("SESSIOND_AUTH_ROLLING_WINDOW", "48h")
	t.Setenv("SESSIOND_AUTH_ABSOLUTE_TTL", "24h")
	t.Setenv("SESSIOND_AUTH_ABSOLUTE_TTL_PERSISTENT", "720h")
	t.Setenv("SESSIOND_AUTH_CLOCK_SKEW", "20s")
	t.Setenv("SESSIOND_AUTH_REFRESH_TOKEN_BYTES", "48")
	t.Setenv("SESSIOND_AUTH_SECRET_ATTEMPTS", "5")
	t.Setenv("SESSIOND_REVOKE_ON_REPLAY", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Issuer != "sessiond-test" {
		t.Fatalf("issuer=%q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 10*time.Minute || cfg.RollingWindow != 48*time.Hour {
		t.Fatalf("unexpected ttl: access=%s rolling=%s", cfg.AccessTokenTTL, cfg.RollingWindow)
	}
	if cfg.AbsoluteFor(true) != 720*time.Hour || cfg.AbsoluteFor(false) != 24*time.Hour {
		t.Fatalf("unexpected absolute ttl")
	}
	if cfg.RefreshTokenBytes != 48 || cfg.MaxSecretAttempts != 5 || !cfg.RevokeOnReplay {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.AccessFormat != FormatPaseto {
		t.Fatalf("format=%q", cfg.AccessFormat)
	}
}
