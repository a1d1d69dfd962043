/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the yield engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Seed settings defaults, and the standard catalog if empty
  5. Wire service, metrics, handler, router
  6. Start the accrual sweeper
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper (waits for a sweep in progress)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/yield.db"
  ./server -db=":memory:" -port=3000
  SWEEP_SCHEDULE="" ./server      # no scheduled sweep

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/warp/yield-engine/api"
	"github.com/warp/yield-engine/auth"
	"github.com/warp/yield-engine/config"
	"github.com/warp/yield-engine/engine"
	"github.com/warp/yield-engine/logging"
	"github.com/warp/yield-engine/metrics"
	"github.com/warp/yield-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.DBPath = *dbPath

	logger, err := logging.New(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collectorsSet := metrics.New(registry)

	// Service
	svc := engine.NewService(store, auth.NewBcryptHasher(),
		engine.Policy{MinWithdrawal: engine.AmountOf(cfg.MinWithdrawal)},
		logger, collectorsSet)

	handler := api.NewHandler(svc,
		auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		auth.AdminCredentials{Username: cfg.AdminUsername, Password: cfg.AdminPassword},
		logger)
	handler.Products.DefaultPercent = cfg.DefaultRatePercent
	handler.Resetter = store

	ctx := context.Background()
	if err := seed(ctx, cfg, svc, handler, logger); err != nil {
		return err
	}

	// Sweeper
	sweeper := api.NewAccrualSweeper(svc.Accruer, cfg.SweepSchedule, logger)
	sweeper.Recorder = collectorsSet
	if err := sweeper.Start(); err != nil {
		return err
	}

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        collectorsSet,
		Gatherer:       registry,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			sweeper.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down server")
	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// seed writes missing settings and, on an empty catalog, the standard products.
func seed(ctx context.Context, cfg *config.Config, svc *engine.Service, h *api.Handler, logger *zap.Logger) error {
	if err := svc.SeedSettings(ctx, cfg.SettingDefaults()); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	if !cfg.SeedCatalog {
		return nil
	}

	existing, err := svc.ListProducts(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	created, err := api.SeedCatalog(ctx, svc, h.Products)
	if err != nil {
		return err
	}
	logger.Info("standard catalog seeded", zap.Int("products", len(created)))
	return nil
}
