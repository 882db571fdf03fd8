package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spine-review-engine/internal/bootstrap"
	"github.com/spine-review-engine/internal/config"
	"github.com/spine-review-engine/internal/mcp"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (default: search ./, ./config, /etc/spine-review)")
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

	// stdout carries the protocol
	logging := cfg.Logging
	logging.Output = "stderr"
	logger := config.NewLogger(logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine, err := bootstrap.Build(ctx, configManager, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize review engine")
	}
	defer engine.Close()

	mcpServer, err := mcp.NewServer(cfg.MCP, configManager.Policy(), engine.Reviews, engine.Secondary, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create MCP server")
		engine.Close()
		os.Exit(1)
	}

	if err := mcpServer.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server stopped with error")
		engine.Close()
		os.Exit(1)
	}

	logger.Info("Spine review MCP server stopped")
}
