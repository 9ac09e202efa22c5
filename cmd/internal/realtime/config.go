package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Config tunes the gateway and the registry.
type Config struct {
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	MaxFrameBytes   int64
	SendQueueSize   int
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	ShutdownGrace time.Duration
}

// DefaultConfig returns the secure defaults.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   wsDefaultOriginRequired,
		AllowedOrigins:   splitCSV(wsDefaultAllowedOrigins),
		MaxFrameBytes:    maxFrameBytes,
		SendQueueSize:    wsDefaultSendQueueSize,
		WriteTimeout:     wsDefaultWriteTimeout,
		ReadIdleTimeout:  wsDefaultReadIdle,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
		ShutdownGrace:    shutdownGrace,
	}
}

// LoadConfigFromEnv reads SESSIOND_WS_* on top of DefaultConfig.
// Invalid or non-positive values fall back to the default.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	// InsecureSkipVerify on Accept; dev only.
	cfg.DevInsecure = envBoolWS("SESSIOND_WS_DEV_INSECURE", false)

	cfg.OriginRequired = envBoolWS("SESSIOND_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	cfg.AllowedOrigins = envCSVWS("SESSIOND_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	cfg.MaxFrameBytes = int64(envIntWS("SESSIOND_WS_MAX_FRAME_BYTES", maxFrameBytes))
	cfg.SendQueueSize = envIntWS("SESSIOND_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	cfg.WriteTimeout = envDurationWS("SESSIOND_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	cfg.ReadIdleTimeout = envDurationWS("SESSIOND_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	cfg.HeartbeatEvery = envDurationWS("SESSIOND_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	cfg.HeartbeatTimeout = envDurationWS("SESSIOND_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	cfg.RateEvents = envIntWS("SESSIOND_WS_RATE_EVENTS", rateLimitEvents)
	cfg.RateWindow = envDurationWS("SESSIOND_WS_RATE_WINDOW", rateLimitWindow)

	cfg.ShutdownGrace = envDurationWS("SESSIOND_WS_SHUTDOWN_GRACE", shutdownGrace)
	return cfg.normalize()
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	return c
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	return splitCSV(raw)
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
