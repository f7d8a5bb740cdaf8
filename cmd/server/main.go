/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fee engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (environment variables fill unset flags)
  2. Configure the JSON logger
  3. Initialize SQLite store
  4. Create API handler and load stored fee plans
  5. Start the reconciliation scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  --port                HTTP server port (default: 8080)
  --db                  SQLite database path (default: fees.db)
                        Use ":memory:" for in-memory database
  --reconcile-interval  Invoice reconciliation interval, 0 disables (default: 1h)
  --log-level           debug, info, warn or error (default: info)
  --currency            Default invoice currency (default: USD)

ENVIRONMENT:
  FEE_ENGINE_PORT, FEE_ENGINE_DB, FEE_ENGINE_RECONCILE_INTERVAL,
  FEE_ENGINE_LOG_LEVEL, FEE_ENGINE_CURRENCY
  Used when the matching flag is not given on the command line.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection

EXAMPLES:
  ./server --db="./data/fees.db"
  ./server --db=":memory:" --reconcile-interval=5m --log-level=debug

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Reconciliation scheduler
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/warp/fee-engine/api"
	"github.com/warp/fee-engine/store/sqlite"
)

// config is the server configuration after flags and environment.
type config struct {
	Port              int
	DBPath            string
	ReconcileInterval time.Duration
	LogLevel          string
	Currency          string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, logger)
	handler.Currency = strings.ToUpper(cfg.Currency)

	// Load existing fee plans into cache
	if err := handler.LoadPlans(context.Background()); err != nil {
		logger.Warn("failed to load fee plans", "error", err)
	}

	scheduler := api.NewReconciliationScheduler(store, handler.Reconciler, logger)
	scheduler.CheckInterval = cfg.ReconcileInterval
	scheduler.Enabled = cfg.ReconcileInterval > 0
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath, "currency", handler.Currency)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// parseConfig reads flags; a flag not set on the command line falls back
// to its FEE_ENGINE_* environment variable, then to the default.
func parseConfig(args []string) (config, error) {
	var cfg config

	flagSet := pflag.NewFlagSet("fee-engine", pflag.ContinueOnError)
	flagSet.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	flagSet.StringVar(&cfg.DBPath, "db", "fees.db", `SQLite database path (":memory:" for in-memory)`)
	flagSet.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", time.Hour, "invoice reconciliation interval (0 disables)")
	flagSet.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.StringVar(&cfg.Currency, "currency", "USD", "default invoice currency")

	if err := flagSet.Parse(args); err != nil {
		return cfg, err
	}

	var envErr error
	flagSet.VisitAll(func(f *pflag.Flag) {
		if f.Changed || envErr != nil {
			return
		}
		name := "FEE_ENGINE_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v, ok := os.LookupEnv(name); ok {
			if err := f.Value.Set(v); err != nil {
				envErr = fmt.Errorf("invalid %s %q: %w", name, v, err)
			}
		}
	})
	return cfg, envErr
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
