package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sessiond/cmd/internal/clock"
	"sessiond/cmd/internal/telemetry"
)

type staleExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

type blacklistReaper interface {
	Reap(ctx context.Context, now time.Time) (int64, error)
}

type attemptPruner interface {
	Prune(ctx context.Context) (int64, error)
}

// SweepResult counts what one sweep pass removed.
type SweepResult struct {
	Sessions  int
	Blacklist int64
	Attempts  int64
}

// Sweeper runs the periodic expiry pass: stale session rows, expired
// blacklist entries and failed attempts older than the lockout window.
type Sweeper struct {
	sessions  staleExpirer
	blacklist blacklistReaper
	attempts  attemptPruner
	clock     clock.Clock
	log       *slog.Logger
	metrics   *telemetry.Metrics
}

// NewSweeper constructs a Sweeper. Any collaborator may be nil to skip that step.
func NewSweeper(sessions staleExpirer, blacklist blacklistReaper, attempts attemptPruner, c clock.Clock, log *slog.Logger, metrics *telemetry.Metrics) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		sessions:  sessions,
		blacklist: blacklist,
		attempts:  attempts,
		clock:     clock.OrSystem(c),
		log:       log,
		metrics:   metrics,
	}
}

// Once runs every step. A failing step does not stop the others; the
// returned error joins all step failures.
func (s *Sweeper) Once(ctx context.Context) (SweepResult, error) {
	var (
		res  SweepResult
		errs []error
	)

	if s.sessions != nil {
		n, err := s.sessions.ExpireStale(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire sessions: %w", err))
		}
		res.Sessions = n
	}

	if s.blacklist != nil {
		n, err := s.blacklist.Reap(ctx, s.clock.Now())
		if err != nil {
			errs = append(errs, fmt.Errorf("reap blacklist: %w", err))
		}
		res.Blacklist = n
		s.metrics.Swept("blacklist", n)
	}

	if s.attempts != nil {
		n, err := s.attempts.Prune(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune attempts: %w", err))
		}
		res.Attempts = n
		s.metrics.Swept("attempts", n)
	}

	err := errors.Join(errs...)
	if err != nil {
		s.log.Error("sweep.fail", "err", err)
	} else {
		s.log.Debug("sweep.done",
			"sessions", res.Sessions,
			"blacklist", res.Blacklist,
			"attempts", res.Attempts,
		)
	}
	return res, err
}

// Run sweeps every interval until ctx is done. Step failures are logged and
// retried on the next tick. A non-positive interval disables the loop.
func (s *Sweeper) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		s.log.Info("sweep.disabled")
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = s.Once(ctx)
		}
	}
}
