package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/domain"
)

// LogSink writes audit events to the structured log. It keeps no state and cannot be read back.
type LogSink struct {
	log *logrus.Logger
}

// NewLogSink creates a log-only audit sink
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{log: logger}
}

// Record logs the event
func (s *LogSink) Record(_ context.Context, event domain.AuditEvent) error {
	prepare(&event)
	s.log.WithFields(logrus.Fields{
		"audit_id":            event.ID,
		"audit_type":          event.Type,
		"case_id":             event.CaseID,
		"secondary_review_id": event.SecondaryReviewID,
		"actor_id":            event.ActorID,
		"from_state":          event.FromState,
		"to_state":            event.ToState,
		"details":             event.Details,
	}).Info("Audit event")
	return nil
}

// Open builds the sink selected by cfg.Driver. databaseURL is used by the postgres driver.
func Open(cfg domain.AuditConfig, databaseURL string, logger *logrus.Logger) (domain.AuditSink, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "", "log":
		return NewLogSink(logger), noop, nil
	case "postgres":
		store, err := NewPostgresStoreFromURL(databaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("opening postgres audit store: %w", err)
		}
		return store, store.Close, nil
	case "sqlite":
		store, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("opening sqlite audit store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, noop, domain.NewValidationError("audit.driver", "must be postgres, sqlite or log", cfg.Driver)
	}
}

func encodeExport(writer io.Writer, doc *Export) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}

var (
	_ Store            = (*PostgresStore)(nil)
	_ Store            = (*SQLiteStore)(nil)
	_ domain.AuditSink = (*LogSink)(nil)
)
