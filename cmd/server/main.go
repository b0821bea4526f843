package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/gouthelper-server/internal/api"
	"github.com/gouthelper-server/internal/cache"
	"github.com/gouthelper-server/internal/config"
	"github.com/gouthelper-server/internal/database"
	"github.com/gouthelper-server/internal/decisionlog"
	"github.com/gouthelper-server/internal/domain"
	"github.com/gouthelper-server/internal/repository"
	"github.com/gouthelper-server/internal/service"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(&cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting gouthelper server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Patient database
	db, err := database.NewConnection(ctx, configManager.GetDatabaseConfig(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to patient database")
	}
	defer db.Close()

	// Schema migrations
	migrator, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create migration runner")
	}
	if err := migrator.Up(); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}
	if err := migrator.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close migration runner")
	}

	// Snapshot cache
	snapshots, err := cache.NewSnapshotCache(cfg.Cache, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer snapshots.Close()

	// In-process decision cache
	decisions, err := cache.NewDecisionCache(cfg.Cache.DecisionLRU)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create decision cache")
	}

	// Decision audit log
	audit, err := decisionlog.NewSQLiteLog(cfg.DecisionLog.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open decision log")
	}
	defer audit.Close()

	// Repository and services
	repo := repository.NewPatientRepository(db, configManager.DefaultGoalUrate(), logger)
	akiService := service.NewAkiService(repo, snapshots, audit, logger)
	ckdService := service.NewCkdService(logger)
	ppxService := service.NewPpxService(audit, logger)

	handlers := api.NewHandlers(repo, akiService, ckdService, ppxService, snapshots, decisions, audit, db, logger)
	server := api.NewServer(configManager, handlers, logger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger builds the process logger from the logging configuration.
func newLogger(cfg *domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.ToLower(cfg.Format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if strings.ToLower(cfg.Output) == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return logger
}
