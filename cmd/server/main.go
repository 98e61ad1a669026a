package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/adapter"
	"github.com/medfusion-server/internal/api"
	"github.com/medfusion-server/internal/calibration"
	"github.com/medfusion-server/internal/config"
	"github.com/medfusion-server/internal/database"
	"github.com/medfusion-server/internal/domain"
	"github.com/medfusion-server/internal/reportstore"
	"github.com/medfusion-server/internal/repository"
	"github.com/medfusion-server/internal/service"
	"github.com/medfusion-server/pkg/scorer"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Calibration profile, immutable until an explicit recalibration
	profile, err := calibration.FromConfig(cfg.Calibration, cfg.Pipeline)
	if err != nil {
		logger.WithError(err).Fatal("Invalid calibration configuration")
	}
	registry, err := calibration.NewRegistry(profile, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize calibration registry")
	}

	// Optional scorer response cache
	var cache *scorer.Cache
	if cfg.Cache.Enabled {
		cache, err = scorer.NewCache(cfg.Cache, logger)
		if err != nil {
			logger.WithError(err).Warn("Scorer cache unavailable, continuing without it")
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	// Modality scorers behind circuit breakers, wrapped by adapters
	resilient := scorer.NewResilientClient(cfg.Scorers, cache, logger)
	adapters := adapter.NewAll(cfg.Scorers, resilient, logger)

	pipeline := service.NewPipeline(adapters, registry, logger)

	// Report store
	store, err := newReportStore(cfg, configManager, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize report store")
	}
	defer store.Close()

	// Optional patient risk profile repository (postgres deployments only)
	var profiles api.RiskProfileLookup
	if cfg.ReportStore.Driver == "postgres" {
		db, err := database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		if err := runMigrations(ctx, cfg, logger); err != nil {
			logger.WithError(err).Fatal("Failed to run database migrations")
		}

		profiles = repository.NewRiskProfileRepository(db.Pool, logger)
	}

	server := api.NewServer(configManager, pipeline, store, registry, profiles, resilient, logger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting diagnosis server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger configures the process logger from configuration.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return logger
}

// newReportStore selects the configured report store backend.
func newReportStore(cfg *domain.Config, manager *config.Manager, logger *logrus.Logger) (domain.ReportStore, error) {
	switch cfg.ReportStore.Driver {
	case "postgres":
		store, err := reportstore.NewPostgresStoreFromURL(manager.GetDatabaseConnectionString())
		if err != nil {
			return nil, err
		}
		logger.Info("Using PostgreSQL report store")
		return store, nil
	case "sqlite":
		store, err := reportstore.NewSQLiteStore(cfg.ReportStore.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.WithField("path", cfg.ReportStore.SQLitePath).Info("Using SQLite report store")
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported report store driver: %s", cfg.ReportStore.Driver)
	}
}

// runMigrations applies pending schema migrations before serving traffic.
func runMigrations(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	return runner.Up(ctx)
}
