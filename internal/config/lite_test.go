package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spine-review-engine/internal/domain"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, domain.DefaultPolicy(), cfg.Policy)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, domain.StatisticMean, cfg.Policy.ScoringStatistic)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("SPINE_REVIEW_TRANSPORT", "stdio")
	t.Setenv("SPINE_REVIEW_LOG_LEVEL", "debug")
	t.Setenv("SPINE_REVIEW_LOG_FORMAT", "text")
	t.Setenv("SPINE_REVIEW_POLICY_TRIGGER_ON_INSUFFICIENT_REVIEWS", "false")
	t.Setenv("SPINE_REVIEW_POLICY_SCORING_STATISTIC", "median")

	cfg := LoadLiteConfig()

	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.Policy.TriggerOnInsufficientReviews)
	assert.True(t, cfg.Policy.TriggerOnUncertainAppropriateness)
	assert.Equal(t, domain.StatisticMedian, cfg.Policy.ScoringStatistic)
}

func TestLoadLiteConfig_IgnoresBadValues(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("SPINE_REVIEW_POLICY_TRIGGER_ON_UNCERTAIN_APPROPRIATENESS", "sometimes")
	t.Setenv("SPINE_REVIEW_POLICY_SCORING_STATISTIC", "mode")

	cfg := LoadLiteConfig()

	assert.True(t, cfg.Policy.TriggerOnUncertainAppropriateness)
	assert.Equal(t, domain.StatisticMean, cfg.Policy.ScoringStatistic)
}

func TestLiteConfig_LoggingConfig(t *testing.T) {
	cfg := &LiteConfig{LogLevel: "warn", LogFormat: "json"}

	assert.Equal(t, "stderr", cfg.LoggingConfig().Output)
	assert.Equal(t, "warn", cfg.LoggingConfig().Level)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"SPINE_REVIEW_TRANSPORT",
		"SPINE_REVIEW_LOG_LEVEL",
		"SPINE_REVIEW_LOG_FORMAT",
		"SPINE_REVIEW_POLICY_TRIGGER_ON_UNCERTAIN_APPROPRIATENESS",
		"SPINE_REVIEW_POLICY_TRIGGER_ON_INTERMEDIATE_KEY_QUESTION",
		"SPINE_REVIEW_POLICY_TRIGGER_ON_INSUFFICIENT_REVIEWS",
		"SPINE_REVIEW_POLICY_SCORING_STATISTIC",
	}
	for _, v := range vars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}
