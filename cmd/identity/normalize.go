package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// HasUsableEmail reports whether u carries a non-blank email address.
func (u User) HasUsableEmail() bool {
	return strings.Contains(NormalizeEmail(u.Email), "@")
}
