package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turnaround-service/internal/infrastructure/config"
	"turnaround-service/internal/infrastructure/persistence"
	"turnaround-service/internal/interface/httpapi"
	repo "turnaround-service/internal/interface/repository"
	syncbackend "turnaround-service/internal/interface/sync"
	"turnaround-service/internal/usecase"
	"turnaround-service/pkg/logger"
	"turnaround-service/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	// Create logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("Starting Turnaround Service", "version", cfg.AppVersion)

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up MongoDB connection (sync backend + archive)
	log.Info("Connecting to MongoDB")
	mongoClient, err := persistence.NewMongoClient(ctx, cfg.MongoURI, cfg.MongoUser, cfg.MongoPassword, cfg.MongoConnectTimeout)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", "error", err)
	}
	db := persistence.GetDatabase(mongoClient, cfg.MongoDB)

	// Set up PostgreSQL connection (airline rulesets)
	gormDB, err := gorm.Open(postgres.Open(cfg.PostgresURI), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", "error", err)
	}

	// Set up repositories
	rulesetRepository := repo.NewGormRuleSetRepository(gormDB)
	airlineRepository := repo.NewGormAirlineRepository(gormDB)
	archiveRepository := repo.NewMongoArchiveRepository(db)

	// Set up the sync path and the coordination engine
	m := metrics.NewMetrics("turnaround")
	backend := syncbackend.NewMongoBackend(db, log)
	adapter := usecase.NewSyncAdapter(backend, log, m, cfg.PublishTimeout, cfg.WatchMinBackoff, cfg.WatchMaxBackoff)
	registry := usecase.NewObserverRegistry(log, m, cfg.ObserverBuffer)
	coordinator := usecase.NewCoordinator(rulesetRepository, airlineRepository, archiveRepository, adapter, registry, log, m)

	// Consume the backend change feed in a goroutine
	go adapter.Run(ctx, coordinator)

	// Set up HTTP server
	if cfg.ControlToken == "" {
		log.Warn("CONTROL_TOKEN not set; all commands will be rejected as unauthorized")
	}
	handler := httpapi.NewHandler(coordinator, registry, cfg.ControlToken, log)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Healthy"))
	})

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     mux,
		ReadTimeout: cfg.ReadTimeout,
		// No WriteTimeout: /stream connections are long-lived SSE.
		IdleTimeout: cfg.WriteTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received signal", "signal", sig)

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}

	cancel() // Cancel the context to stop the sync feed
	registry.Close()

	// Disconnect from MongoDB
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		log.Error("MongoDB disconnect error", "error", err)
	}

	log.Info("Turnaround Service stopped")
}
