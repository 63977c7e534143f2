// Package app wires the durastore daemon: configuration, logging, storage,
// the persistence engine, and the fiber control plane.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lenshed/durastore/internal/config"
	"github.com/lenshed/durastore/internal/engine"
	"github.com/lenshed/durastore/internal/handlers"
	"github.com/lenshed/durastore/internal/logger"
	"github.com/lenshed/durastore/internal/metrics"
	"github.com/lenshed/durastore/internal/middleware"
	"github.com/lenshed/durastore/internal/storage"
	"github.com/lenshed/durastore/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Builder wires durastore application dependencies.
type Builder struct {
	cfg            *config.Config
	version        string
	logger         logger.Logger
	fiberApp       *fiber.App
	store          storage.Store
	engine         *engine.Engine
	tracerProvider *telemetry.TracerProvider
	closers        []func()
}

// NewBuilder creates a new application builder.
func NewBuilder(cfg *config.Config, version string) *Builder {
	return &Builder{cfg: cfg, version: version}
}

// Build assembles the application components.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	b.initLogger()
	b.recordStartupMetrics()
	b.initFiber()
	b.initTracing(ctx)
	b.initMiddleware()

	if err := b.initStorage(); err != nil {
		b.cleanupOnError()
		return nil, err
	}
	if err := b.initEngine(ctx); err != nil {
		b.cleanupOnError()
		return nil, err
	}

	b.initRoutes()

	return &App{
		cfg:      b.cfg,
		logger:   b.logger,
		fiberApp: b.fiberApp,
		engine:   b.engine,
		closers:  b.closers,
	}, nil
}

func (b *Builder) initLogger() {
	b.logger = logger.NewFromConfig(b.cfg.Log.Level, b.cfg.Log.Format)
	logger.SetDefault(b.logger)
}

func (b *Builder) recordStartupMetrics() {
	metrics.BuildInfo.WithLabelValues(b.version, runtime.Version()).Set(1)

	b.logger.Info("Starting durastore",
		logger.String("version", b.version),
		logger.String("address", b.cfg.Address()),
		logger.String("storage_type", b.cfg.Storage.Type),
		logger.String("log_level", b.cfg.Log.Level))
}

func (b *Builder) initFiber() {
	b.fiberApp = fiber.New(fiber.Config{
		AppName: "durastore " + b.version,
	})
}

func (b *Builder) initTracing(ctx context.Context) {
	provider, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled:        b.cfg.Tracing.Enabled,
		Endpoint:       b.cfg.Tracing.Endpoint,
		ServiceName:    b.cfg.Tracing.ServiceName,
		ServiceVersion: b.cfg.Tracing.ServiceVersion,
		Environment:    b.cfg.Tracing.Environment,
		SamplingRatio:  b.cfg.Tracing.SamplingRatio,
		InsecureConn:   b.cfg.Tracing.InsecureConn,
	})
	if err != nil {
		b.logger.Error("Failed to initialize tracing", logger.Error(err))
		return
	}

	if b.cfg.Tracing.Enabled {
		b.logger.Info("OpenTelemetry tracing initialized",
			logger.String("endpoint", b.cfg.Tracing.Endpoint))
		b.addCloser(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				b.logger.Error("Failed to shutdown tracer provider", logger.Error(err))
			}
		})
	}

	b.tracerProvider = provider
}

func (b *Builder) initMiddleware() {
	b.fiberApp.Use(middleware.RequestLogging(b.logger))
	b.fiberApp.Use(middleware.Metrics())
}

func (b *Builder) initStorage() error {
	store, err := storage.Open(storage.Config{
		Type:       b.cfg.Storage.Type,
		DataDir:    b.cfg.Storage.DataDir,
		SyncWrites: b.cfg.Storage.SyncWrites,
	}, b.logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	b.store = store
	b.addCloser(func() {
		if err := store.Close(); err != nil {
			b.logger.Error("Failed to close storage", logger.Error(err))
		}
	})
	return nil
}

func (b *Builder) initEngine(ctx context.Context) error {
	opts := []engine.Option{}
	if b.tracerProvider != nil {
		opts = append(opts, engine.WithTracer(b.tracerProvider.Tracer()))
	}

	eng, err := engine.New(b.cfg, b.store, b.logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	b.engine = eng
	return nil
}

func (b *Builder) initRoutes() {
	ops := handlers.NewOperationsHandler(b.engine)
	snaps := handlers.NewSnapshotsHandler(b.engine)
	healthHandler := handlers.NewHealthHandler(b.engine, b.version)
	eventsHandler := handlers.NewEventsHandler(b.engine, b.logger)

	v1 := b.fiberApp.Group("/v1")
	v1.Post("/operations", ops.Submit)
	v1.Post("/flush", ops.Flush)
	v1.Get("/deadletters", ops.DeadLetters)
	v1.Delete("/deadletters/:id", ops.AckDeadLetter)
	v1.Get("/oplog", ops.OperationLog)

	v1.Post("/snapshots", snaps.Create)
	v1.Get("/snapshots", snaps.List)
	v1.Post("/snapshots/restore", snaps.Restore)

	v1.Use("/events", eventsHandler.Upgrade)
	v1.Get("/events", eventsHandler.Stream())

	b.fiberApp.Get("/health", healthHandler.Status)
	b.fiberApp.Get("/health/live", healthHandler.Live)
	b.fiberApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (b *Builder) addCloser(fn func()) {
	b.closers = append(b.closers, fn)
}

func (b *Builder) cleanupOnError() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// App is the assembled daemon.
type App struct {
	cfg      *config.Config
	logger   logger.Logger
	fiberApp *fiber.App
	engine   *engine.Engine
	closers  []func()
}

// Run serves the control plane until a termination signal arrives. SIGHUP
// maps to the "became active" lifecycle signal; SIGINT/SIGTERM trigger the
// emergency dump and a graceful shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.fiberApp.Listen(a.cfg.Address())
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case err := <-errCh:
			a.shutdown()
			return err
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				a.engine.Activate(context.Background())
				continue
			}
			a.logger.Info("Termination signal received", logger.String("signal", sig.String()))
			a.shutdown()
			return nil
		}
	}
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.engine.Terminate(ctx); err != nil {
		a.logger.Error("Emergency dump on shutdown failed", logger.Error(err))
	}
	a.engine.Close()

	if err := a.fiberApp.ShutdownWithContext(ctx); err != nil {
		a.logger.Error("HTTP shutdown failed", logger.Error(err))
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.logger.Info("Shutdown complete")
}
