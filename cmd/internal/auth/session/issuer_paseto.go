package session

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoV4PublicIssuer struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicIssuer builds an Issuer based on PASETO v4.public (Ed25519).
func NewPasetoV4PublicIssuer(cfg Config) (Issuer, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	return &pasetoV4PublicIssuer{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *pasetoV4PublicIssuer) Issue(sub Subject, now time.Time) (AccessCredential, error) {
	exp := now.Add(m.ttl)
	jti := newJTI()

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetJti(jti)
	tok.SetSubject(sub.UserID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("sid", sub.SessionID)
	if len(sub.Roles) > 0 {
		_ = tok.Set("roles", sub.Roles)
	}
	if sub.DeviceID != "" {
		_ = tok.Set("dev", sub.DeviceID)
	}
	if sub.UserAgent != "" {
		_ = tok.Set("ua", clipUserAgent(sub.UserAgent))
	}

	return AccessCredential{
		Token:     tok.V4Sign(m.secret, nil),
		JTI:       jti,
		ExpiresAt: exp,
	}, nil
}

func (m *pasetoV4PublicIssuer) Verify(token string, now time.Time) (AccessClaims, error) {
	// Validate slightly in the future so "nbf" tolerates skew between nodes.
	// The default NotExpired rule reads the wall clock, so expiry is checked
	// against the injected now instead.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(now.Add(m.clockSkew)))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if exp, err := parsed.GetExpiration(); err != nil || !exp.After(now) {
		return AccessClaims{}, ErrInvalidToken
	}
	return pasetoClaims(parsed)
}

func (m *pasetoV4PublicIssuer) Inspect(token string) (AccessClaims, error) {
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	return pasetoClaims(parsed)
}

func pasetoClaims(parsed *paseto.Token) (AccessClaims, error) {
	var c AccessClaims

	c.Issuer, _ = parsed.GetIssuer()
	c.ExpiresAt, _ = parsed.GetExpiration()
	c.IssuedAt, _ = parsed.GetIssuedAt()

	var err error
	if c.JTI, err = parsed.GetJti(); err != nil || c.JTI == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	if c.UserID, err = parsed.GetSubject(); err != nil || c.UserID == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	if c.SessionID, err = parsed.GetString("sid"); err != nil || c.SessionID == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	_ = parsed.Get("roles", &c.Roles)
	c.DeviceID, _ = parsed.GetString("dev")
	c.UserAgent, _ = parsed.GetString("ua")

	return c, nil
}
