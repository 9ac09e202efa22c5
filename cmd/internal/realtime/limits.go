package realtime

import "time"

// Channel hygiene limits. Each can be overridden through SESSIOND_WS_* (see config.go).
const (
	// Max bytes per inbound websocket frame. Larger frames abort the channel.
	maxFrameBytes = 64 << 10 // 64 KiB

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound budget (frames per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// How long Shutdown waits for peers to acknowledge the close handshake.
	shutdownGrace = 5 * time.Second
)
