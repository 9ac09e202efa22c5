package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Blacklist backends selectable with SESSIOND_BLACKLIST_BACKEND.
const (
	BlacklistAuto     = "auto"
	BlacklistMemory   = "memory"
	BlacklistPostgres = "postgres"
	BlacklistRedis    = "redis"
)

// ErrConfig is returned when runtime configuration is inconsistent.
var ErrConfig = errors.New("app: invalid config")

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// AutoMigrate applies the embedded schema before serving.
	AutoMigrate bool

	RedisURL string

	// BlacklistBackend is one of auto, memory, postgres or redis.
	// auto prefers redis, then postgres, then memory.
	BlacklistBackend string

	// SweepInterval is the period of the background expiry sweep. Zero disables it.
	SweepInterval time.Duration

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, SESSIOND_TOKEN_HMAC_KEY must be set and refresh secrets are stored HMAC'd.
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("SESSIOND_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("SESSIOND_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("SESSIOND_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("SESSIOND_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SESSIOND_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("SESSIOND_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("SESSIOND_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("SESSIOND_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("SESSIOND_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("SESSIOND_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("SESSIOND_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("SESSIOND_DB_MIN_CONNS", 0),
		AutoMigrate: EnvBool("SESSIOND_AUTO_MIGRATE", false),

		RedisURL:         EnvString("SESSIOND_REDIS_URL", ""),
		BlacklistBackend: strings.ToLower(EnvString("SESSIOND_BLACKLIST_BACKEND", BlacklistAuto)),

		SweepInterval: EnvDuration("SESSIOND_SWEEP_INTERVAL", 5*time.Minute),

		ReadinessRequireDB: EnvBool("SESSIOND_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("SESSIOND_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvCSV("SESSIOND_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("SESSIOND_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("SESSIOND_CORS_MAX_AGE_SECONDS", 600),
	}
}

// Validate checks that the selected backends have what they need.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: log format %q", ErrConfig, c.LogFormat)
	}

	switch c.BlacklistBackend {
	case "", BlacklistAuto, BlacklistMemory:
	case BlacklistPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: postgres blacklist needs SESSIOND_DATABASE_URL", ErrConfig)
		}
	case BlacklistRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis blacklist needs SESSIOND_REDIS_URL", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: blacklist backend %q", ErrConfig, c.BlacklistBackend)
	}

	if c.AutoMigrate && c.DatabaseURL == "" {
		return fmt.Errorf("%w: SESSIOND_AUTO_MIGRATE needs SESSIOND_DATABASE_URL", ErrConfig)
	}
	return nil
}

// blacklistBackend resolves auto to a concrete backend.
func (c Config) blacklistBackend() string {
	switch c.BlacklistBackend {
	case "", BlacklistAuto:
		switch {
		case c.RedisURL != "":
			return BlacklistRedis
		case c.DatabaseURL != "":
			return BlacklistPostgres
		default:
			return BlacklistMemory
		}
	}
	return c.BlacklistBackend
}
