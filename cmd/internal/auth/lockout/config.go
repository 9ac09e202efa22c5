package lockout

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig is returned for invalid lockout configuration.
var ErrConfig = errors.New("lockout: invalid config")

// Config controls when repeated failures lock an account.
type Config struct {
	// Threshold is the number of failures inside Window that triggers a lock.
	Threshold int

	// Window is the trailing period in which failures are counted.
	Window time.Duration

	// Duration is how long a triggered lock lasts.
	Duration time.Duration
}

// DefaultConfig returns 5 failures in 15 minutes locking for 15 minutes.
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Window:    15 * time.Minute,
		Duration:  15 * time.Minute,
	}
}

// LoadConfigFromEnv reads SESSIOND_LOCKOUT_THRESHOLD, SESSIOND_LOCKOUT_WINDOW and
// SESSIOND_LOCKOUT_DURATION on top of DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("SESSIOND_LOCKOUT_THRESHOLD")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return Config{}, ErrConfig
		}
		cfg.Threshold = n
	}
	if v := strings.TrimSpace(os.Getenv("SESSIOND_LOCKOUT_WINDOW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute {
			return Config{}, ErrConfig
		}
		cfg.Window = d
	}
	if v := strings.TrimSpace(os.Getenv("SESSIOND_LOCKOUT_DURATION")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute {
			return Config{}, ErrConfig
		}
		cfg.Duration = d
	}
	return cfg, nil
}
