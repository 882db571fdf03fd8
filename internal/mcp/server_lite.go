package mcp

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/config"
	"github.com/spine-review-engine/internal/domain"
)

// LiteServerOption is a functional option for NewLiteServer.
type LiteServerOption func(*liteOptions) error

type liteOptions struct {
	logger *logrus.Logger
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(o *liteOptions) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}

// NewLiteServer creates an MCP server that needs no database. It serves the computation
// tools only.
func NewLiteServer(cfg *config.LiteConfig, opts ...LiteServerOption) (*Server, error) {
	o := &liteOptions{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if o.logger == nil {
		o.logger = config.NewLogger(cfg.LoggingConfig())
	}

	server, err := NewServer(domain.MCPConfig{
		ServerName:    "spine-review-engine-lite",
		ServerVersion: "v0.1.0",
		TransportType: cfg.Transport,
	}, cfg.Policy, nil, nil, o.logger)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Lite server initialized successfully")
	return server, nil
}
