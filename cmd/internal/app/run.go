package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the entrypoint behind `sessiond serve`. A non-empty addr overrides
// SESSIOND_HTTP_ADDR.
func Run(addr string) error {
	cfg := LoadConfig()
	if addr != "" {
		cfg.HTTPAddr = addr
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// SweepOnce builds the runtime and runs a single expiry pass, for `sessiond sweep`.
func SweepOnce(ctx context.Context) (SweepResult, error) {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, nil)

	a, err := New(ctx, cfg, log)
	if err != nil {
		return SweepResult{}, err
	}
	defer a.Close()

	return a.sweeper.Once(ctx)
}
