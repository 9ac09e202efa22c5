// Package app wires the sessiond runtime: config, logging, stores, HTTP routes,
// the realtime gateway and the background sweeper.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"sessiond/cmd/identity"
	authapi "sessiond/cmd/internal/auth/api"
	"sessiond/cmd/internal/auth/blacklist"
	"sessiond/cmd/internal/auth/lockout"
	"sessiond/cmd/internal/auth/login"
	"sessiond/cmd/internal/auth/logout"
	"sessiond/cmd/internal/auth/session"
	"sessiond/cmd/internal/clock"
	"sessiond/cmd/internal/migrations"
	"sessiond/cmd/internal/realtime"
	"sessiond/cmd/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App is the sessiond runtime. It owns the DB pool, the Redis client and
// every component built on them.
type App struct {
	cfg     Config
	log     *slog.Logger
	clock   clock.Clock
	metrics *telemetry.Metrics

	pool *pgxpool.Pool
	rdb  *redis.Client

	users     identity.Store
	sessions  *session.Service
	blacklist blacklist.Store
	lockout   *lockout.Tracker
	logins    *login.Authenticator
	logouts   *logout.Orchestrator
	registry  *realtime.Registry
	gateway   *realtime.Gateway
	auth      *authapi.Handler
	sweeper   *Sweeper

	handler http.Handler
}

// New constructs a fully wired App. Without SESSIOND_DATABASE_URL every store
// is in-memory, which is only suitable for development.
func New(ctx context.Context, cfg Config, log *slog.Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		clock:   clock.System{},
		metrics: telemetry.New(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openBackends(ctx); err != nil {
		return nil, err
	}
	if err := a.wire(); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a)
	a.handler = WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log)
	return a, nil
}

func (a *App) openBackends(ctx context.Context) error {
	if a.cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		a.pool = pool
		a.log.Info("db.enabled.postgres_store")

		if a.cfg.AutoMigrate {
			if _, err := migrations.Up(ctx, pool, a.log); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
	} else {
		a.log.Info("db.disabled.inmemory_store")
	}

	if a.cfg.RedisURL != "" {
		rdb, err := NewRedisClient(ctx, a.cfg.RedisURL)
		if err != nil {
			return err
		}
		a.rdb = rdb
		a.log.Info("redis.enabled")
	}
	return nil
}

func (a *App) wire() error {
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	lockCfg, err := lockout.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	hasher, err := tokenHasher(a.cfg)
	if err != nil {
		return err
	}
	issuer, err := session.NewIssuer(sessCfg)
	if err != nil {
		return err
	}

	var (
		sessStore session.Store
		attempts  lockout.AttemptStore
	)
	if a.pool != nil {
		users, err := identity.NewPostgresStore(a.pool)
		if err != nil {
			return err
		}
		a.users = users
		sessStore = session.NewPostgresStore(a.pool)
		attempts = lockout.NewPostgresStore(a.pool)
	} else {
		a.users = identity.NewMemoryStore()
		sessStore = session.NewMemoryStore()
		attempts = lockout.NewMemoryStore()
	}

	switch a.cfg.blacklistBackend() {
	case BlacklistRedis:
		a.blacklist = blacklist.NewRedis(a.rdb, "", blacklist.WithRedisClock(a.clock))
	case BlacklistPostgres:
		a.blacklist = blacklist.NewPostgres(a.pool)
	default:
		a.blacklist = blacklist.NewMemory()
	}
	a.log.Info("blacklist.backend", "backend", a.cfg.blacklistBackend())

	a.sessions, err = session.NewService(sessCfg, session.Deps{
		Store:     sessStore,
		Issuer:    issuer,
		Users:     a.users,
		Blacklist: a.blacklist,
		Hasher:    hasher,
		Clock:     a.clock,
		Logger:    a.log,
		Metrics:   a.metrics,
		// a.logouts is assigned below; the hook only fires on a rotation.
		OnRevoked: func(ctx context.Context, reason string, revoked []session.Revoked) {
			a.logouts.SessionsRevoked(ctx, reason, revoked)
		},
	})
	if err != nil {
		return err
	}

	a.lockout = lockout.NewTracker(lockCfg, a.users, attempts,
		lockout.WithClock(a.clock),
		lockout.WithLogger(a.log),
		lockout.WithMetrics(a.metrics),
	)

	a.logins, err = login.NewAuthenticator(a.users, identity.NewArgon2id(identity.DefaultArgon2idParams()), a.lockout, a.sessions, a.log, a.metrics)
	if err != nil {
		return err
	}

	rtCfg := realtime.LoadConfigFromEnv()
	a.registry = realtime.NewRegistry(a.log, a.metrics, rtCfg.ShutdownGrace)

	a.logouts, err = logout.New(a.sessions, a.blacklist, a.registry,
		logout.WithClock(a.clock),
		logout.WithLogger(a.log),
		logout.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	a.gateway, err = realtime.NewGateway(rtCfg, a.log, a.sessions, a.registry, realtime.Echo, a.metrics)
	if err != nil {
		return err
	}

	a.auth, err = authapi.NewHandler(a.log, authapi.LoadConfigFromEnv(), a.logins, a.sessions, a.logouts)
	if err != nil {
		return err
	}

	a.sweeper = NewSweeper(a.logouts, a.blacklist, a.lockout, a.clock, a.log, a.metrics)
	return nil
}

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler { return a.handler }

// Sweeper returns the expiry sweeper.
func (a *App) Sweeper() *Sweeper { return a.sweeper }

// Run listens on cfg.HTTPAddr and serves until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln alongside the sweeper. On shutdown live
// realtime channels are closed first, since hijacked connections are not
// tracked by http.Server.Shutdown.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.pool != nil,
		"redis_enabled", a.rdb != nil,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.sweeper.Run(gctx, a.cfg.SweepInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := a.registry.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("realtime.shutdown.incomplete", "err", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	a.Close()
	a.log.Info("server.stopped")
	return err
}

// Close releases the DB pool and the Redis client. It is safe to call twice.
func (a *App) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
