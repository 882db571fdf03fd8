// Package bootstrap wires the Postgres-backed review engine shared by the HTTP and MCP binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/audit"
	"github.com/spine-review-engine/internal/database"
	"github.com/spine-review-engine/internal/domain"
	"github.com/spine-review-engine/internal/notify"
	"github.com/spine-review-engine/internal/repository"
	"github.com/spine-review-engine/internal/roster"
	"github.com/spine-review-engine/internal/service"
)

// Engine holds the wired services and the resources they depend on
type Engine struct {
	DB         *database.DB
	Reviews    *service.ReviewService
	Secondary  *service.SecondaryService
	Audit      domain.AuditSink
	Dispatcher *notify.Dispatcher

	closers []func() error
	log     *logrus.Logger
}

// Build connects to the database and wires repositories, notification delivery, the audit
// sink and both services. On failure everything opened so far is closed.
func Build(ctx context.Context, configManager domain.ConfigManager, logger *logrus.Logger) (*Engine, error) {
	cfg := configManager.GetConfig()
	e := &Engine{log: logger}

	db, err := database.NewConnection(ctx, database.ConfigFrom(cfg.Database), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	e.DB = db
	e.closers = append(e.closers, func() error { db.Close(); return nil })

	cases := repository.NewCaseRepository(db.Pool, logger)
	secondaryStore := repository.NewSecondaryRepository(db.Pool, logger)
	candidates := roster.NewCachedProvider(
		repository.NewRosterRepository(db.Pool, logger),
		cfg.Roster.CacheSize, cfg.Roster.CacheTTL, logger,
	)

	notifier, err := e.openNotifier(ctx, cfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Dispatcher = notify.NewDispatcher(
		notify.NewBreakerNotifier(notifier, cfg.Notification.Breaker, logger),
		notify.DispatcherConfig{
			QueueSize:      cfg.Notification.QueueSize,
			Workers:        cfg.Notification.Workers,
			SuppressionTTL: cfg.Notification.SuppressionTTL,
		},
		logger,
	)
	// Closed before the notifier so queued notifications still drain.
	e.closers = append(e.closers, func() error { e.Dispatcher.Close(); return nil })

	sink, closeAudit, err := audit.Open(cfg.Audit, database.ConfigFrom(cfg.Database).URL(), logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to open audit sink: %w", err)
	}
	e.Audit = sink
	e.closers = append(e.closers, closeAudit)

	policy := configManager.Policy()
	e.Secondary = service.NewSecondaryService(cases, secondaryStore, candidates, e.Dispatcher, sink, policy, logger)
	e.Reviews = service.NewReviewService(cases, e.Secondary, e.Dispatcher, sink, policy, cfg.Aggregation, logger)

	logger.WithFields(logrus.Fields{
		"notification_sink": cfg.Notification.Sink,
		"audit_driver":      cfg.Audit.Driver,
		"scoring_statistic": policy.ScoringStatistic,
	}).Info("Review engine initialized")
	return e, nil
}

func (e *Engine) openNotifier(ctx context.Context, cfg *domain.Config) (domain.Notifier, error) {
	switch cfg.Notification.Sink {
	case "redis":
		n, err := notify.NewRedisNotifier(ctx, cfg.Cache, cfg.Notification.RedisList, e.log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect notification sink: %w", err)
		}
		e.closers = append(e.closers, n.Close)
		return n, nil
	default:
		return notify.NewLogNotifier(e.log), nil
	}
}

// Health reports database reachability
func (e *Engine) Health(ctx context.Context) error {
	return e.DB.Health(ctx)
}

// Close releases resources in reverse order of acquisition
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.WithError(err).Warn("Failed to close resource")
		}
	}
	e.closers = nil
}
