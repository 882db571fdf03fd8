package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/api"
	"github.com/spine-review-engine/internal/bootstrap"
	"github.com/spine-review-engine/internal/config"
	"github.com/spine-review-engine/internal/database"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (default: search ./, ./config, /etc/spine-review)")
	migrate := flag.Bool("migrate", false, "apply pending schema migrations before serving")
	migrateOnly := flag.Bool("migrate-only", false, "apply pending schema migrations and exit")
	migrateDown := flag.Bool("migrate-down", false, "revert the most recent schema migration and exit")
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManagerFromFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := config.NewLogger(cfg.Logging)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dbURL := database.ConfigFrom(cfg.Database).URL()
	if *migrateDown {
		if err := database.Rollback(ctx, dbURL, cfg.Database.MigrationsPath, logger); err != nil {
			logger.WithError(err).Fatal("Schema rollback failed")
		}
		return
	}

	if *migrate || *migrateOnly {
		if err := database.Migrate(ctx, dbURL, cfg.Database.MigrationsPath, logger); err != nil {
			logger.WithError(err).Fatal("Schema migration failed")
		}
		if *migrateOnly {
			logger.Info("Schema migrations applied")
			return
		}
	}

	engine, err := bootstrap.Build(ctx, configManager, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize review engine")
	}
	defer engine.Close()

	var auditReader api.AuditReader
	if reader, ok := engine.Audit.(api.AuditReader); ok {
		auditReader = reader
	}

	server := api.NewServer(configManager, engine.Reviews, engine.Secondary, engine, auditReader, logger)

	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
	}).Info("Starting spine review engine")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		engine.Close()
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
