// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inkwell-notes/inkwell-sync/internal/config"
	"github.com/inkwell-notes/inkwell-sync/internal/outbox"
	outboxsqlite "github.com/inkwell-notes/inkwell-sync/internal/outbox/sqlite"
	"github.com/inkwell-notes/inkwell-sync/internal/pkg/ctxlog"
	"github.com/inkwell-notes/inkwell-sync/internal/pkg/httputil"
	"github.com/inkwell-notes/inkwell-sync/internal/pkg/metrics"
	"github.com/inkwell-notes/inkwell-sync/internal/pkg/sqlitedb"
	"github.com/inkwell-notes/inkwell-sync/internal/remote"
	syncer "github.com/inkwell-notes/inkwell-sync/internal/sync"
	"github.com/inkwell-notes/inkwell-sync/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *sql.DB
	server        *http.Server
	metricsServer *http.Server
	bgCancel      context.CancelFunc
	coordinator   *syncer.Coordinator
	connectivity  chan bool
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer openCancel()

	db, err := sqlitedb.Open(openCtx, sqlitedb.Config{
		Path:        cfg.Store.Path,
		BusyTimeout: int(cfg.Store.BusyTimeout.Milliseconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	app := &App{
		config:       cfg,
		logger:       logger,
		db:           db,
		bgCancel:     bgCancel,
		connectivity: make(chan bool, 16),
	}

	router, err := app.setupRouter(bgCtx)
	if err != nil {
		_ = db.Close()
		bgCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting control server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.bgCancel()

	// Stop the sync coordinator first so no new drain cycle starts while
	// the servers close.
	if a.coordinator != nil {
		a.coordinator.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Coordinator returns the sync coordinator instance.
// Used in tests to access coordinator state.
func (a *App) Coordinator() *syncer.Coordinator {
	return a.coordinator
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	repo, err := outboxsqlite.NewRepository(a.db)
	if err != nil {
		return nil, fmt.Errorf("create operation repository: %w", err)
	}

	queue := outbox.NewQueue(repo)
	policy := outbox.NewPolicy(outbox.PolicyConfig{
		MaxRetryCount:  a.config.Retry.MaxRetryCount,
		BaseRetryDelay: a.config.Retry.BaseRetryDelay,
		MaxRetryDelay:  a.config.Retry.MaxRetryDelay,
	})

	remoteClient, err := remote.NewClient(remote.Config{
		BaseURL:      a.config.Remote.BaseURL,
		SessionToken: a.config.Remote.SessionToken,
		Timeout:      a.config.Remote.Timeout,
		RateLimit:    a.config.Remote.RateLimit,
		Burst:        a.config.Remote.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("create remote client: %w", err)
	}

	engine := syncer.NewEngine(repo, remoteClient, policy)

	a.coordinator = syncer.NewCoordinator(syncer.CoordinatorConfig{
		DrainInterval: a.config.Syncer.DrainInterval,
	}, engine, a.connectivity)

	if err := a.coordinator.Start(ctx); err != nil {
		return nil, fmt.Errorf("start coordinator: %w", err)
	}

	if a.config.Syncer.AssumeOnline {
		// No platform connectivity source wired in; the buffered send
		// reaches the loop as soon as it is running.
		a.connectivity <- true
	}

	go a.collectDBMetrics(ctx)
	go a.collectQueueStats(ctx, repo)
	go a.pruneCompleted(ctx, repo)

	queueHandler := outbox.NewHandler(queue)
	syncHandler := syncer.NewHandler(ctx, engine, a.coordinator, a.connectivity)

	r.Route("/api/v1", func(r chi.Router) {
		queueHandler.RegisterRoutes(r)
		syncHandler.RegisterRoutes(r)
	})

	return r, nil
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueStats(ctx context.Context, store outbox.Store) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := store.GetQueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			outbox.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// pruneCompleted periodically deletes completed operations older than the
// retention window.
func (a *App) pruneCompleted(ctx context.Context, store outbox.Store) {
	ticker := time.NewTicker(a.config.Store.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-a.config.Store.Retention)
			pruned, err := store.PruneCompleted(ctx, cutoff)
			if err != nil {
				slog.Error("failed to prune completed operations", "error", err)
				continue
			}
			if pruned > 0 {
				slog.Info("pruned completed operations", "count", pruned)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
