/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reconciliation group engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment), then apply flags
  2. Initialize logger and SQLite store
  3. Create API handler, register extra scenarios
  4. Start the idle session reaper, configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port (CONCIL_PORT, default 8080)
  -db      SQLite database path (CONCIL_DB, default concil.db)
           Use ":memory:" for in-memory database
  -env     Path of a .env file to load

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/concil-engine/api"
	"github.com/warp/concil-engine/config"
	"github.com/warp/concil-engine/scenario"
	"github.com/warp/concil-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	envPath := flag.String("env", "", "Path of a .env file")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatal(err)
	}

	logger := config.NewLogger(cfg.LogLevel)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	handler, err := api.NewHandler(store, logger, cfg.Actor, cfg.Currency)
	if err != nil {
		logger.Fatal(err)
	}
	if cfg.ScenarioDir != "" {
		extra, err := scenario.LoadDir(cfg.ScenarioDir)
		if err != nil {
			logger.Fatalf("Failed to load scenarios: %v", err)
		}
		handler.AddScenarios(extra)
	}

	reaper := api.NewSessionReaper(handler, cfg.SessionTTL)
	reaper.CheckInterval = cfg.ReapInterval
	reaper.Start()
	defer reaper.Stop()

	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":     cfg.Port,
			"db":       cfg.DBPath,
			"currency": cfg.Currency,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("server stopped")
}
