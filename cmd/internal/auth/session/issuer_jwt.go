package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	SessionID string   `json:"sid"`
	Roles     []string `json:"roles,omitempty"`
	DeviceID  string   `json:"dev,omitempty"`
	UserAgent string   `json:"ua,omitempty"`
	jwt.RegisteredClaims
}

type jwtIssuer struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	secret    []byte
}

// NewJWTIssuer builds an HS256 JWT Issuer.
func NewJWTIssuer(cfg Config) (Issuer, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, ErrConfig
	}
	return &jwtIssuer{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    []byte(cfg.JWTSecret),
	}, nil
}

func (m *jwtIssuer) Issue(sub Subject, now time.Time) (AccessCredential, error) {
	exp := now.Add(m.ttl)
	jti := newJTI()

	claims := &jwtClaims{
		SessionID: sub.SessionID,
		Roles:     sub.Roles,
		DeviceID:  sub.DeviceID,
		UserAgent: clipUserAgent(sub.UserAgent),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   sub.UserID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return AccessCredential{}, fmt.Errorf("session: sign access token: %w", err)
	}

	// NumericDate truncates to seconds; report what the token actually carries.
	return AccessCredential{Token: signed, JTI: jti, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (m *jwtIssuer) Verify(token string, now time.Time) (AccessClaims, error) {
	return m.parse(token,
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
}

func (m *jwtIssuer) Inspect(token string) (AccessClaims, error) {
	return m.parse(token, jwt.WithoutClaimsValidation())
}

func (m *jwtIssuer) parse(token string, opts ...jwt.ParserOption) (AccessClaims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	var claims jwtClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return AccessClaims{}, ErrInvalidToken
	}
	// Checked here rather than with jwt.WithIssuer, which WithoutClaimsValidation would skip.
	if claims.Issuer != m.issuer {
		return AccessClaims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.SessionID == "" || claims.ID == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	out := AccessClaims{
		Subject: Subject{
			UserID:    claims.Subject,
			SessionID: claims.SessionID,
			Roles:     claims.Roles,
			DeviceID:  claims.DeviceID,
			UserAgent: claims.UserAgent,
		},
		JTI:    claims.ID,
		Issuer: claims.Issuer,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
