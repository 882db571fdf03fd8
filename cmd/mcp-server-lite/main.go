// Package main provides the lightweight entry point for the spine review MCP server.
// This version requires no database and serves the computation tools only.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spine-review-engine/internal/config"
	"github.com/spine-review-engine/internal/mcp"
)

func main() {
	// Load lightweight configuration
	cfg := config.LoadLiteConfig()
	logger := config.NewLogger(cfg.LoggingConfig())

	if err := cfg.Policy.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid policy")
	}

	server, err := mcp.NewLiteServer(cfg, mcp.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.WithField("transport", cfg.Transport).Info("Starting spine review MCP server (lite)")
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("MCP server failed")
	}

	logger.Info("Spine review MCP server (lite) stopped")
}
