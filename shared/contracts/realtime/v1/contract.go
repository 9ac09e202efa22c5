// Package v1 defines the sessiond realtime channel contract.
//
// Control frames are bare text tokens. Application frames are JSON envelopes.
// This package is dependency-light and wire-stable; clients may vendor it.
package v1

import "strings"

// Control frames (wire-stable).
const (
	// FrameReady is sent by the server as soon as a channel is Open.
	FrameReady = "ready"

	// FrameLogout is pushed when the session behind the channel is logged out.
	FrameLogout = "LOGOUT"

	// FrameSessionExpired is pushed when the sweeper expires the session.
	FrameSessionExpired = "SESSION_EXPIRED"

	// FramePing is an application-level keepalive (client -> server).
	FramePing = "ping"
	// FramePong answers FramePing (server -> client).
	FramePong = "pong"
)

// Close reasons carried in close frames.
const (
	ReasonUnauthorized = "unauthorized"
	ReasonSuperseded   = "superseded"
	ReasonLogout       = "logout"
	ReasonExpired      = "session expired"
	ReasonRevoked      = "session revoked"
	ReasonShutdown     = "server shutdown"
	ReasonBinary       = "binary frames not supported"
	ReasonRateLimited  = "rate limited"
)

// FrameKind classifies an inbound text frame.
type FrameKind int

const (
	KindApplication FrameKind = iota
	KindPing
	KindEnvelope
)

// Classify reports how an inbound text frame should be handled.
func Classify(text string) FrameKind {
	t := strings.TrimSpace(text)
	switch {
	case t == FramePing:
		return KindPing
	case strings.HasPrefix(t, "{"):
		return KindEnvelope
	default:
		return KindApplication
	}
}
