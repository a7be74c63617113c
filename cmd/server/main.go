/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the quarter dues server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (env, .env, optional YAML overlay), apply flags
  2. Initialize SQLite store and run migrations
  3. Register Prometheus metrics
  4. Create API handler with dependencies
  5. Start the monthly deduction scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides SERVER_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database
  -seed    Load demo occupants, bills and confirmations on startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running batch)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/quarter_dues.db"

  # Run in memory with demo data
  ./server -db=":memory:" -seed

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/warp/quarter-dues/api"
	"github.com/warp/quarter-dues/config"
	"github.com/warp/quarter-dues/deductions"
	"github.com/warp/quarter-dues/dues"
	"github.com/warp/quarter-dues/metrics"
	"github.com/warp/quarter-dues/seed"
	"github.com/warp/quarter-dues/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags
	port := flag.String("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.Path, "SQLite database path")
	seedData := flag.Bool("seed", false, "Seed demo data on startup")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Server.Addr = cfg.Server.Host + ":" + *port
	cfg.Database.Path = *dbPath

	logger := log.Default()
	clock := dues.SystemClock{}

	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			log.Fatalf("Failed to create database directory: %v", err)
		}
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	metrics.Init(store.DB(), logger)

	// Initialize handler
	handler := api.NewHandler(store, api.Options{
		Charge:        deductions.FixedCharge{Amount: cfg.Billing.ChargeAmount},
		ChargeLabel:   cfg.Billing.ChargeLabel,
		Publisher:     deductions.NewOutboxPublisher(cfg.Export.Dir, logger),
		LedgerTimeout: cfg.Ledger.Timeout,
		Clock:         clock,
		Logger:        logger,
	})

	if *seedData {
		result, err := seed.Run(context.Background(), seed.Stores{
			Directory: store,
			Bills:     store,
			Payments:  store,
		}, clock.Now())
		if err != nil {
			log.Fatalf("Failed to seed database: %v", err)
		}
		log.Printf("Seeded %d occupants, %d bills, %d confirmations", result.Occupants, result.Bills, result.Confirmations)
	}

	// Start scheduler
	var scheduler *api.DeductionScheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = api.NewDeductionScheduler(handler.Generator, cfg.Scheduler.Schedule, clock, logger)
		if err != nil {
			log.Fatalf("Failed to create scheduler: %v", err)
		}
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
	} else {
		log.Println("[Scheduler] Disabled, not starting")
	}

	// Create router
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://%s", cfg.Server.Addr)
		log.Printf("API available at http://%s/api", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
