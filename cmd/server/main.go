/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the points engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment config, then apply command-line flags
  2. Initialize logger and SQLite store
  3. Load the scan category table
  4. Choose the settlement publisher (Kafka when brokers are set)
  5. Create API handler, router and report scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT, default: 8080)
  -db      SQLite database path (overrides DB_PATH, default: ecosync.db)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, flush the publisher, close the database
  4. Exit

ENVIRONMENT:
  See config/config.go for every variable and its default.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ecosync/rewards-engine/api"
	"github.com/ecosync/rewards-engine/config"
	"github.com/ecosync/rewards-engine/events"
	"github.com/ecosync/rewards-engine/logger"
	"github.com/ecosync/rewards-engine/metrics"
	"github.com/ecosync/rewards-engine/points"
	"github.com/ecosync/rewards-engine/rewards"
	"github.com/ecosync/rewards-engine/store/sqlite"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DB.Path, "SQLite database path")
	flag.Parse()

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", *dbPath).Msg("failed to initialize database")
	}
	defer store.Close()

	table := rewards.DefaultTable()
	if cfg.Points.TablePath != "" {
		table, err = rewards.LoadCategoryTable(cfg.Points.TablePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Points.TablePath).Msg("failed to load category table")
		}
	}

	publisher, closePublisher := newPublisher(cfg.Kafka, log)
	defer closePublisher.Close()

	// Initialize handler
	handler := api.NewHandler(store, table, rewards.NewWeightedSelector(uint64(time.Now().UnixNano())), log)
	handler.SetObserver(metrics.Recorder{})
	handler.Coordinator.DefaultAward = cfg.Points.DefaultAward
	handler.Coordinator.Publisher = publisher

	scheduler := api.NewReportScheduler(store, log)
	scheduler.CheckInterval = cfg.Report.Interval
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", *port).Str("db", *dbPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newPublisher returns a Kafka publisher when brokers are configured and a
// log publisher otherwise.
func newPublisher(cfg config.KafkaConfig, log zerolog.Logger) (points.SettlementPublisher, io.Closer) {
	if len(cfg.Brokers) == 0 {
		log.Info().Msg("no kafka brokers configured, settlements go to the log")
		return events.LogPublisher{Log: log}, nopCloser{}
	}
	p := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Brokers, cfg.Topic))
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("publishing settlements to kafka")
	return p, p
}
