// Package token provides refresh-secret hashing primitives.
//
// It is the single source of truth for how refresh secrets are turned into the
// value persisted in refresh_tokens.hashed_secret.
//
// Modes:
// - HMAC-SHA256(secret, key) when a key is configured (production).
// - SHA-256(secret) otherwise (dev only; rejected when SESSIOND_REQUIRE_TOKEN_HMAC=true).
//
// Output is always 64 lowercase hex chars.
package token
