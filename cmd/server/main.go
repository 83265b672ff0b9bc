/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock conference server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment configuration, then command-line flags
  2. Build the zap logger
  3. Initialize SQLite store (conference store, stock ledger and catalog)
  4. Optionally connect Redis for the distributed conference lock
  5. Create engine, API handler and router
  6. Start the stale-conference janitor when enabled
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT, default: 8080)
  -db      SQLite database path (overrides DB_PATH, default: conference.db)
           Use ":memory:" for in-memory database
  -seed    Demo scenario to load at startup (e.g. corner-shop)

ENVIRONMENT:
  APP_ENV, LOGGER_LEVEL, LOGGER_ENCODING, DB_PATH, LEDGER_ALLOW_NEGATIVE,
  SEED_DEMO_DATA, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_LOCK_TTL,
  ENGINE_RETRY_ATTEMPTS, ENGINE_RETRY_BACKOFF, JANITOR_ENABLED,
  JANITOR_INTERVAL, JANITOR_MAX_AGE, CORS_ALLOWED_ORIGINS, SHUTDOWN_TIMEOUT

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the janitor
  2. Stop accepting new connections
  3. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  4. Close Redis and database connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/conference.db"

  # Run in memory with demo data
  ./server -db=":memory:" -seed=corner-shop

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/warp/stock-conference/api"
	"github.com/warp/stock-conference/conference"
	"github.com/warp/stock-conference/config"
	"github.com/warp/stock-conference/lock"
	"github.com/warp/stock-conference/logger"
	"github.com/warp/stock-conference/store/sqlite"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadEnv()

	port := flag.String("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.SQLite.Path, "SQLite database path")
	seed := flag.String("seed", "", "Demo scenario to load at startup")
	flag.Parse()

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer appLogger.Sync()

	// Store
	store, err := sqlite.New(*dbPath, sqlite.WithAllowNegative(cfg.SQLite.AllowNegative))
	if err != nil {
		appLogger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer store.Close()
	appLogger.Info("Opened SQLite database",
		zap.String("path", *dbPath),
		zap.Bool("allow_negative", cfg.SQLite.AllowNegative),
	)

	if *seed == "" && cfg.SQLite.Seed {
		*seed = "corner-shop"
	}
	if *seed != "" {
		if err := api.LoadScenario(context.Background(), store, *seed); err != nil {
			appLogger.Fatal("Failed to load demo scenario", zap.String("scenario", *seed), zap.Error(err))
		}
		appLogger.Info("Loaded demo scenario", zap.String("scenario", *seed), zap.String("partner_id", string(api.DemoPartner)))
	}

	// Engine
	opts := []conference.Option{
		conference.WithLogger(appLogger.Named("conference")),
		conference.WithRetry(cfg.Engine.RetryAttempts, cfg.Engine.RetryBackoff),
	}
	if cfg.Redis.Addr != "" {
		rdb, err := lock.Connect(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Could not connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		opts = append(opts, conference.WithLocker(lock.NewRedisLocker(rdb, lock.Options{
			TTL:    cfg.Redis.LockTTL,
			Logger: appLogger.Named("lock"),
		})))
		appLogger.Info("Using Redis conference lock", zap.String("addr", cfg.Redis.Addr))
	}
	engine := conference.NewEngine(store, store, store, opts...)

	// Janitor
	janitor := conference.NewJanitor(engine, appLogger)
	janitor.Enabled = cfg.Janitor.Enabled
	janitor.Interval = cfg.Janitor.Interval
	janitor.MaxAge = cfg.Janitor.MaxAge
	janitor.Start()

	// HTTP
	var seeder api.Seeder
	if cfg.Server.AppEnv == "development" {
		seeder = store
	}
	handler := api.NewHandler(engine, seeder, appLogger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins})

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Server.AppEnv))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	janitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	appLogger.Info("Server stopped")
}
