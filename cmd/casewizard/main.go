// Package main is the entry point for the casewizard server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/casewizard/internal/clock"
	"github.com/pitabwire/casewizard/internal/config"
	"github.com/pitabwire/casewizard/internal/events"
	"github.com/pitabwire/casewizard/internal/fixture"
	"github.com/pitabwire/casewizard/internal/observability"
	"github.com/pitabwire/casewizard/internal/progress"
	"github.com/pitabwire/casewizard/internal/remote"
	"github.com/pitabwire/casewizard/internal/schema"
	"github.com/pitabwire/casewizard/internal/transport"
	"github.com/pitabwire/casewizard/internal/wizard"
	"github.com/pitabwire/casewizard/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "casewizard", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	// Case service: the remote API or the fixture backend.
	api, backendLoaded, backendHealth, backendCloser, err := buildBackend(bgCtx, cfg, metrics, logger)
	if err != nil {
		logger.Error("case backend initialization failed", zap.Error(err))
		return 1
	}

	store, storeHealth, storeCloser, err := buildProgressStore(ctx, cfg.Progress, logger)
	if err != nil {
		logger.Error("progress store initialization failed", zap.Error(err))
		return 1
	}

	publisher, busHealth, busCloser, err := buildPublisher(cfg.Events, logger)
	if err != nil {
		logger.Error("event bus initialization failed", zap.Error(err))
		return 1
	}

	catalogue := schema.NewCache(api, cfg.SchemaCache.TTL, cfg.SchemaCache.MaxEntries, schema.WithObserver(metrics))

	manager := wizard.NewManager(wizard.Deps{
		API:       api,
		Catalogue: catalogue,
		Clock:     clock.Real{},
		Progress:  store,
		Events:    publisher,
		Observer:  metrics,
		Logger:    logger,
		Timing: wizard.Timing{
			FieldDebounce: cfg.Autosave.FieldDebounce,
			NotesDebounce: cfg.Autosave.NotesDebounce,
			SavedDisplay:  cfg.Autosave.SavedDisplay,
		},
	}, wizard.ManagerConfig{
		IdleTTL:     cfg.Sessions.IdleTTL,
		MaxSessions: cfg.Sessions.MaxSessions,
	})

	readinessChecks := observability.ReadinessChecks{
		BackendLoaded: backendLoaded,
		CaseService:   backendHealth,
		ProgressStore: storeHealth,
		EventBus:      busHealth,
	}

	deps := transport.Dependencies{
		Config:        cfg,
		Manager:       manager,
		Catalogue:     catalogue,
		Logger:        logger,
		HealthHandler: observability.HandleHealth(manager.Len),
		ReadyHandler:  observability.HandleReady(readinessChecks),
	}
	if cfg.Observability.Metrics.Enabled {
		deps.MetricsHandler = observability.Handler()
	}
	router := transport.NewRouter(deps)

	handler := metrics.MetricsMiddleware(observability.TracingMiddleware(router))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go manager.Run(bgCtx, cfg.Sessions.SweepInterval)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("backend", cfg.Backend.Driver),
		zap.String("progress", cfg.Progress.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// WebSocket connections are hijacked and not drained by Shutdown; closing
	// the sessions ends their loops.
	srv.RegisterOnShutdown(manager.Shutdown)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	manager.Shutdown()
	bgCancel()

	for _, closer := range []func(){backendCloser, storeCloser, busCloser} {
		if closer != nil {
			closer()
		}
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildBackend creates the case service client selected by backend.driver.
func buildBackend(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (model.CaseAPI, func() bool, observability.HealthChecker, func(), error) {
	switch cfg.Backend.Driver {
	case config.BackendFixture:
		set, err := fixture.LoadDir(cfg.Fixtures.Directory)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		backend := fixture.NewBackend(set)
		logger.Warn("serving cases from fixtures",
			zap.String("dir", cfg.Fixtures.Directory),
			zap.Int("procedures", len(set.Procedures)),
			zap.Int("cases", len(set.Cases)),
		)
		if !cfg.Fixtures.HotReload {
			return backend, backend.Loaded, backend, nil, nil
		}

		watcher, err := fixture.NewWatcher(cfg.Fixtures.Directory, backend, metrics, logger)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("watch fixtures: %w", err)
		}
		go watcher.Run(ctx)
		return backend, backend.Loaded, backend, func() { watcher.Close() }, nil

	default:
		client, err := remote.New(remote.Options{
			Config:   cfg.Remote,
			Observer: metrics,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return client, func() bool { return true }, client, nil, nil
	}
}

// buildProgressStore creates the resume-position store based on config.
func buildProgressStore(ctx context.Context, cfg config.ProgressConfig, logger *zap.Logger) (progress.Store, observability.HealthChecker, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory progress store")
		return progress.NewMemoryStore(cfg.TTL), nil, nil, nil

	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, nil, fmt.Errorf("progress store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("progress store: ping redis: %w", err)
		}
		store := progress.NewRedisStore(client, cfg.TTL)
		return store, store, func() { client.Close() }, nil

	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, nil, fmt.Errorf("progress store: %s environment variable not set", cfg.DSNEnv)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("progress store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("progress store: ping: %w", err)
		}
		store := progress.NewPgStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return store, store, pool.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported progress store driver: %q", cfg.Driver)
	}
}

// buildPublisher creates the domain event publisher based on config.
func buildPublisher(cfg config.EventsConfig, logger *zap.Logger) (events.Publisher, observability.HealthChecker, func(), error) {
	if cfg.Driver != "nats" {
		return events.Nop{}, nil, nil, nil
	}
	conn, err := events.Connect(cfg.URL, "casewizard")
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("publishing events to nats",
		zap.String("url", conn.ConnectedUrlRedacted()),
		zap.String("prefix", cfg.SubjectPrefix),
	)
	closer := func() {
		if err := conn.Drain(); err != nil {
			logger.Warn("nats drain failed", zap.Error(err))
		}
	}
	return events.NewNATSPublisher(conn, cfg.SubjectPrefix), events.ConnHealth{Conn: conn}, closer, nil
}
