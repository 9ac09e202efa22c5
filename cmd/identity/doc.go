// Package identity is the user-record boundary of the session subsystem.
//
// User registration and profile storage live elsewhere; this package only exposes
// what login, lockout, and rotation need: lookup by id/email, the lockout_until
// marker, and password verification.
package identity
