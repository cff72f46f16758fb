// Package app wires the Vigil server runtime: config, logging, stores, the session
// manager, the security monitor, HTTP routes, the alert stream, and periodic sweeps.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	authapi "vigil/cmd/internal/auth/api"
	"vigil/cmd/internal/auth/session"
	"vigil/cmd/internal/secmon"
	"vigil/cmd/internal/secmon/stream"
	"vigil/cmd/internal/sweep"
)

// Sweep job names.
const (
	SweepSessionCleanup  = "session_cleanup"
	SweepSecurityCleanup = "security_event_cleanup"
	SweepRateLimitPrune  = "rate_limit_prune"
)

// closers releases store resources in reverse acquisition order.
type closers []func() error

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// App is the Vigil server runtime.
type App struct {
	cfg Config
	log Logger
	reg *prometheus.Registry

	dbPool    *pgxpool.Pool
	closers   closers
	closeOnce sync.Once
	closeErr  error

	sessions *session.Manager
	monitor  *secmon.Monitor
	hub      *stream.Hub
	auth     *authapi.Handler
	sweeps   *sweep.Scheduler
}

// New constructs a fully wired App. Store backends are chosen from cfg:
// Postgres, else bbolt, else memory for sessions; Redis, else memory for security events.
func New(ctx context.Context, cfg Config, log Logger) (a *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a = &App{cfg: cfg, log: log, reg: prometheus.NewRegistry()}
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	defer func() {
		if err != nil {
			_ = a.closers.Close()
		}
	}()

	sessStore, err := a.openSessionStore(ctx)
	if err != nil {
		return nil, err
	}
	secStore, err := a.openSecurityStore(ctx)
	if err != nil {
		return nil, err
	}

	a.sessions, err = session.NewManager(cfg.Session, sessStore,
		session.WithLogger(log),
		session.WithMetrics(session.NewMetrics(a.reg)),
	)
	if err != nil {
		return nil, err
	}

	a.hub = stream.NewHub(log, a.reg)
	a.monitor, err = secmon.NewMonitor(cfg.Security, secStore,
		secmon.WithLogger(log),
		secmon.WithMetrics(secmon.NewMetrics(a.reg)),
		secmon.WithAlertSink(a.hub),
	)
	if err != nil {
		return nil, err
	}

	a.auth, err = authapi.NewHandler(log, cfg.Auth, a.sessions,
		authapi.WithMonitor(a.monitor),
		authapi.WithAlertStream(stream.NewGateway(log, a.hub, cfg.Stream)),
	)
	if err != nil {
		return nil, err
	}

	a.sweeps = sweep.New(sweep.WithLogger(log), sweep.WithMetrics(sweep.NewMetrics(a.reg)))
	jobs := []struct {
		name     string
		interval time.Duration
		fn       sweep.Func
	}{
		{SweepSessionCleanup, cfg.Session.CleanupInterval, a.sessions.CleanupExpiredSessions},
		{SweepSecurityCleanup, cfg.Security.CleanupInterval, func(ctx context.Context) (int64, error) {
			n, err := a.monitor.CleanupOldEvents(ctx)
			return int64(n), err
		}},
		{SweepRateLimitPrune, cfg.Auth.BlockWindow, a.auth.Limiter().Prune},
	}
	for _, j := range jobs {
		if err := a.sweeps.Add(j.name, j.interval, j.fn); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *App) openSessionStore(ctx context.Context) (session.Store, error) {
	switch {
	case a.cfg.DatabaseURL != "":
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		a.dbPool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		a.log.Info("session.store.postgres")
		return session.NewPostgresStore(pool), nil

	case a.cfg.BoltPath != "":
		st, err := session.NewBoltStoreFromFile(a.cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("app: bolt: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		a.log.Info("session.store.bolt", "path", a.cfg.BoltPath)
		return st, nil

	default:
		a.log.Warn("session.store.memory", "note", "sessions are lost on restart")
		return session.NewMemoryStore(), nil
	}
}

func (a *App) openSecurityStore(ctx context.Context) (secmon.Store, error) {
	var st secmon.Store
	if a.cfg.Security.RedisURL != "" {
		rs, err := secmon.OpenRedisStore(a.cfg.Security.RedisURL, a.cfg.Security.RedisPrefix, a.cfg.Security.Retention)
		if err != nil {
			return nil, err
		}
		a.log.Info("secmon.store.redis", "prefix", a.cfg.Security.RedisPrefix)
		st = rs
	} else {
		a.log.Info("secmon.store.memory")
		st = secmon.NewMemoryStore()
	}
	a.closers = append(a.closers, st.Close)

	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("app: security store: %w", err)
	}
	return st, nil
}

// Sessions exposes the session manager to embedders that implement their own login.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Monitor exposes the security monitor.
func (a *App) Monitor() *secmon.Monitor { return a.monitor }

// Handler returns the complete HTTP handler. Request contexts end when base does.
func (a *App) Handler(base context.Context) http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log)
	return withShutdownContext(h, base)
}

// Run starts the sweeps and the HTTP server and blocks until ctx is cancelled
// or the server fails. Shutdown is bounded by cfg.ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	a.sweeps.Start(sweepCtx)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(ctx),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	attrs := []any{"addr", a.cfg.HTTPAddr, "db_enabled", a.dbPool != nil}
	if a.cfg.Auth.AdminToken != "" {
		attrs = append(attrs, "alert_stream", wsBaseURL(runtimeBaseURL(a.cfg.HTTPAddr))+"/admin/security-events/stream")
	}
	a.log.Info("server.start", attrs...)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	stopSweeps()
	a.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	a.sweeps.Wait()

	if err := a.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close releases store resources. Run calls it on the way out; repeated calls are no-ops.
func (a *App) Close() error {
	a.closeOnce.Do(func() { a.closeErr = a.closers.Close() })
	return a.closeErr
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
