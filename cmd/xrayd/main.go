package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/ashita-ai/xray"
	"github.com/ashita-ai/xray/internal/auth"
	"github.com/ashita-ai/xray/internal/config"
	"github.com/ashita-ai/xray/internal/demo"
	"github.com/ashita-ai/xray/internal/ratelimit"
	"github.com/ashita-ai/xray/internal/server"
	"github.com/ashita-ai/xray/internal/service/executions"
	"github.com/ashita-ai/xray/internal/telemetry"
	"github.com/ashita-ai/xray/migrations"
	"github.com/ashita-ai/xray/pgstore"
	"github.com/ashita-ai/xray/sqlitestore"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("XRAY_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("xrayd starting", "version", version, "port", cfg.Port, "store", cfg.StoreBackend)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Select the store backend.
	store, pinger, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer closeStore()

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.AdminKeyHash == "" && cfg.ViewerKeyHash == "" {
		logger.Warn("no dashboard key hashes configured; /auth/token will reject all keys")
	}

	// Session metrics (no-op meter when OTEL is disabled).
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// Create SSE broker fed by session hooks.
	broker := server.NewBroker(logger, cfg.SSEBufferSize)
	defer broker.Close()

	execHooks, stepHooks := server.BroadcastHooks(broker, metrics)
	demoRunner := demo.New(store, logger,
		xray.WithExecutionHooks(execHooks),
		xray.WithStepHooks(stepHooks),
	)

	execSvc := executions.New(store, logger, cfg.MaxPageSize)

	// Create rate limiter.
	limiter := ratelimit.PerMinute(cfg.RateLimitPerMinute)
	defer func() { _ = limiter.Close() }()
	logger.Info("rate limiting: memory (in-process token bucket)", "per_minute", cfg.RateLimitPerMinute)

	// Create and start HTTP server.
	srv := server.New(server.Config{
		ExecSvc:             execSvc,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Limiter:             limiter,
		Broker:              broker,
		DemoRunner:          demoRunner,
		StorePinger:         pinger,
		AdminKeyHash:        cfg.AdminKeyHash,
		ViewerKeyHash:       cfg.ViewerKeyHash,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		StoreBackend:        cfg.StoreBackend,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxPageSize:         cfg.MaxPageSize,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("xrayd shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("xrayd stopped")
	return nil
}

// newStore builds the configured store backend, returning the store, an
// optional connectivity pinger, and a cleanup func.
func newStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (xray.Store, server.Pinger, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return xray.NewMemoryStore(), nil, func() {}, nil

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		store, err := sqlitestore.New(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		logger.Info("sqlite store ready", "path", cfg.SQLitePath)
		return store, store, func() { _ = db.Close() }, nil

	case "postgres":
		store, err := pgstore.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := store.RunMigrations(ctx, migrations.FS); err != nil {
			store.Close()
			return nil, nil, nil, fmt.Errorf("migrations: %w", err)
		}
		logger.Info("postgres store ready")
		return store, store, store.Close, nil

	default:
		// Unreachable, config.Validate rejects unknown backends.
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
