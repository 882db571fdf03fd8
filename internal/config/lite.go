// Package config provides configuration management for the review engine.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"strconv"

	"github.com/spine-review-engine/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and serves only the stateless tools.
type LiteConfig struct {
	// Transport settings
	Transport string // Transport type: stdio

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text

	// Policy used by the aggregate computation tools
	Policy domain.Policy
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	return &LiteConfig{
		Transport: "stdio",
		LogLevel:  "info",
		LogFormat: "json",
		Policy:    domain.DefaultPolicy(),
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("SPINE_REVIEW_TRANSPORT"); v != "" {
		cfg.Transport = v
	}

	// Logging
	if v := os.Getenv("SPINE_REVIEW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SPINE_REVIEW_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	// Policy
	envBool("SPINE_REVIEW_POLICY_TRIGGER_ON_UNCERTAIN_APPROPRIATENESS", &cfg.Policy.TriggerOnUncertainAppropriateness)
	envBool("SPINE_REVIEW_POLICY_TRIGGER_ON_INTERMEDIATE_KEY_QUESTION", &cfg.Policy.TriggerOnIntermediateKeyQuestion)
	envBool("SPINE_REVIEW_POLICY_TRIGGER_ON_INSUFFICIENT_REVIEWS", &cfg.Policy.TriggerOnInsufficientReviews)
	if v := os.Getenv("SPINE_REVIEW_POLICY_SCORING_STATISTIC"); v != "" {
		if s := domain.ScoringStatistic(v); s.IsValid() {
			cfg.Policy.ScoringStatistic = s
		}
	}

	return cfg
}

func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// LoggingConfig returns the logging section for NewLogger. The lite server speaks MCP
// over stdout, so it always logs to stderr.
func (c *LiteConfig) LoggingConfig() domain.LoggingConfig {
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"}
}
