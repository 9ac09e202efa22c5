// Package session implements the refresh-token rotation engine.
//
// A login creates one Active refresh_tokens row per session. Every refresh
// exchanges the presented secret for a new access credential and a new secret,
// swapping the stored hash in place under a row lock with a compare-and-swap
// guard. Once a secret is rotated away it never matches again, which is the
// replay defence: there is no counter or history table to consult.
//
// Each row carries two horizons. The rolling horizon slides forward on every
// rotation and is clamped to the absolute horizon, which is fixed at login.
//
// Access credentials are PASETO v4.public by default, or HS256 JWTs.
// Refresh secrets are stored hashed (HMAC-SHA256 when SESSIOND_TOKEN_HMAC_KEY
// is set, SHA-256 otherwise).
package session
