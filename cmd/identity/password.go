package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash is returned for malformed or unsupported encoded password hashes.
var ErrInvalidHash = errors.New("invalid password hash")

// Argon2idParams controls Argon2id cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB uint32
	Time      uint32
	Threads   uint8
	SaltLen   uint32
	KeyLen    uint32
}

// DefaultArgon2idParams is the interactive-login baseline.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{MemoryKiB: 64 * 1024, Time: 3, Threads: 2, SaltLen: 16, KeyLen: 32}
}

// PasswordVerifier checks a plaintext password against a stored encoded hash.
type PasswordVerifier interface {
	Verify(encodedHash, password string) (bool, error)
}

// Argon2id hashes and verifies PHC-formatted Argon2id strings:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
type Argon2id struct {
	Params Argon2idParams
}

// NewArgon2id returns an Argon2id verifier with p (zero value ⇒ defaults).
func NewArgon2id(p Argon2idParams) Argon2id {
	if p == (Argon2idParams{}) {
		p = DefaultArgon2idParams()
	}
	return Argon2id{Params: p}
}

// Hash encodes password with a fresh salt.
func (a Argon2id) Hash(password string) (string, error) {
	p := a.Params
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLen)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Time, p.Threads,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify reports whether password matches encodedHash in constant time.
// Hashes whose cost exceeds twice the configured params are refused with ErrInvalidHash.
func (a Argon2id) Verify(encodedHash, password string) (bool, error) {
	got, salt, want, err := decodeArgon2id(encodedHash)
	if err != nil {
		return false, err
	}
	lim := a.Params
	if got.MemoryKiB > lim.MemoryKiB*2 || got.Time > lim.Time*2 || got.Threads > lim.Threads*2 {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, got.Time, got.MemoryKiB, got.Threads, uint32(len(want))) // #nosec G115 -- bounded by decode
	return subtle.ConstantTimeCompare(key, want) == 1, nil
}

func decodeArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) < 8 || len(salt) > 64 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > 128 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB: mem,
		Time:      it,
		Threads:   uint8(par), // #nosec G115 -- checked <= 255 above
		SaltLen:   uint32(len(salt)),
		KeyLen:    uint32(len(key)),
	}, salt, key, nil
}
