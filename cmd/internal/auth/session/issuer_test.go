package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func testIssuers(t *testing.T) map[string]Issuer {
	t.Helper()

	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	cfg.JWTSecret = strings.Repeat("k", 32)

	p, err := NewPasetoV4PublicIssuer(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicIssuer: %v", err)
	}
	j, err := NewJWTIssuer(cfg)
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}
	return map[string]Issuer{"paseto": p, "jwt": j}
}

func TestIssuer_IssueVerifyInspect(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := Subject{
		UserID:    "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		SessionID: "01HYYYYYYYYYYYYYYYYYYYYYYY",
		Roles:     []string{"member"},
		DeviceID:  "dev-1",
		UserAgent: strings.Repeat("a", 400),
	}

	for name, iss := range testIssuers(t) {
		t.Run(name, func(t *testing.T) {
			cred, err := iss.Issue(sub, now)
			if err != nil {
				t.Fatalf("Issue: %v", err)
			}
			if cred.JTI == "" || cred.Token == "" || !cred.ExpiresAt.After(now) {
				t.Fatalf("bad credential: %+v", cred)
			}

			claims, err := iss.Verify(cred.Token, now.Add(time.Second))
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if claims.UserID != sub.UserID || claims.SessionID != sub.SessionID || claims.JTI != cred.JTI {
				t.Fatalf("claims mismatch: %+v", claims)
			}
			if claims.DeviceID != "dev-1" || len(claims.Roles) != 1 || claims.Roles[0] != "member" {
				t.Fatalf("claims mismatch: %+v", claims)
			}
			if len(claims.UserAgent) != maxUserAgentClaim {
				t.Fatalf("user agent not clipped: %d", len(claims.UserAgent))
			}

			// Past expiry: Verify rejects, Inspect still reads the claims.
			later := cred.ExpiresAt.Add(time.Hour)
			if _, err := iss.Verify(cred.Token, later); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
			}
			inspected, err := iss.Inspect(cred.Token)
			if err != nil {
				t.Fatalf("Inspect: %v", err)
			}
			if inspected.JTI != cred.JTI || inspected.UserID != sub.UserID {
				t.Fatalf("inspect mismatch: %+v", inspected)
			}

			if _, err := iss.Inspect(cred.Token + "x"); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected tampered token to fail inspect, got %v", err)
			}
		})
	}
}

func TestIssuer_DistinctJTIs(t *testing.T) {
	now := time.Now().UTC()
	for name, iss := range testIssuers(t) {
		a, _ := iss.Issue(Subject{UserID: "u", SessionID: "s"}, now)
		b, _ := iss.Issue(Subject{UserID: "u", SessionID: "s"}, now)
		if a.JTI == b.JTI {
			t.Fatalf("%s: jti reused", name)
		}
	}
}

func TestNewIssuer_RejectsBadKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = "not-hex"
	if _, err := NewIssuer(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}

	cfg.AccessFormat = FormatJWT
	cfg.JWTSecret = "short"
	if _, err := NewIssuer(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
