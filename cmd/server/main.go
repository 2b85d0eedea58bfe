/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave-quota server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize the configured store
  3. Wire resolver, ledger and request service
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  PORT, STORE_DRIVER (sqlite|postgres|memory), SQLITE_PATH, DATABASE_URL,
  LOG_LEVEL, LOG_FORMAT, QUOTA_ENFORCEMENT (atomic|legacy),
  QUOTA_FULL_DAY, QUOTA_HALF_DAY, QUOTA_SHORT,
  CORS_ALLOWED_ORIGINS, SHUTDOWN_TIMEOUT

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/leave.db"

  # Run against Postgres
  STORE_DRIVER=postgres DATABASE_URL=postgres://localhost/leave ./server

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/: Store implementations
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaushalicodelabs/erp-leave/api"
	"github.com/kaushalicodelabs/erp-leave/config"
	"github.com/kaushalicodelabs/erp-leave/leave"
	"github.com/kaushalicodelabs/erp-leave/logging"
	"github.com/kaushalicodelabs/erp-leave/quota"
	"github.com/kaushalicodelabs/erp-leave/store/memory"
	"github.com/kaushalicodelabs/erp-leave/store/postgres"
	"github.com/kaushalicodelabs/erp-leave/store/sqlite"
)

// store is what every backend provides.
type store interface {
	quota.Store
	leave.RequestStore
	Close() error
}

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

	// Flags override the environment
	if err := cfg.ParseFlags(flag.CommandLine, os.Args[1:]); err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize %s store: %w", cfg.StoreDriver, err)
	}
	defer st.Close()

	resolver := quota.NewResolver(st, cfg.Allotment, logger)
	ledger := quota.NewLedger(resolver)
	requests := leave.NewRequestService(ledger, st, cfg.Enforcement, logger)

	handler := api.NewHandler(ledger, st, requests, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", server.Addr),
			slog.String("store", cfg.StoreDriver),
			slog.String("enforcement", string(cfg.Enforcement)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server", slog.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return sqlite.New(cfg.SQLitePath)
	}
}
