package session

import (
	"time"

	"github.com/google/uuid"
)

// maxUserAgentClaim bounds the user agent copied into access credentials.
const maxUserAgentClaim = 256

// Subject is what an access credential is bound to.
type Subject struct {
	UserID    string
	SessionID string
	Roles     []string
	DeviceID  string
	UserAgent string
}

// AccessClaims is the identity envelope carried by an access credential.
type AccessClaims struct {
	Subject

	JTI       string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AccessCredential is a freshly minted access credential.
type AccessCredential struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Issuer mints and verifies short-lived access credentials.
type Issuer interface {
	// Issue mints a credential for sub with a fresh jti.
	Issue(sub Subject, now time.Time) (AccessCredential, error)

	// Verify checks signature, issuer and validity window at now.
	Verify(token string, now time.Time) (AccessClaims, error)

	// Inspect checks signature and issuer but ignores expiry. Logout uses it so an
	// expired credential can still end its session.
	Inspect(token string) (AccessClaims, error)
}

// NewIssuer builds the Issuer selected by cfg.AccessFormat.
func NewIssuer(cfg Config) (Issuer, error) {
	switch cfg.AccessFormat {
	case FormatPaseto, "":
		return NewPasetoV4PublicIssuer(cfg)
	case FormatJWT:
		return NewJWTIssuer(cfg)
	default:
		return nil, ErrConfig
	}
}

func newJTI() string { return uuid.NewString() }

func clipUserAgent(ua string) string {
	if len(ua) > maxUserAgentClaim {
		return ua[:maxUserAgentClaim]
	}
	return ua
}
