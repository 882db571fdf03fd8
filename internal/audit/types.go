// Package audit stores the append-only trail of review and escalation events.
package audit

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/spine-review-engine/internal/domain"
)

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	CaseID            string
	SecondaryReviewID string
	Limit             int
	Offset            int
}

const defaultListLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Store is an audit sink that can also be read back.
type Store interface {
	domain.AuditSink

	// List returns matching events oldest first.
	List(ctx context.Context, filter Filter) ([]domain.AuditEvent, error)

	// Count returns the total number of recorded events.
	Count(ctx context.Context) (int64, error)

	// ExportJSON writes every event as a single JSON document.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string              `json:"version"`
	ExportedAt time.Time           `json:"exported_at"`
	Count      int                 `json:"count"`
	Events     []domain.AuditEvent `json:"events"`
}

// prepare fills the ID and timestamp of an event that arrives without them.
func prepare(event *domain.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Details == nil {
		event.Details = map[string]string{}
	}
}

// maxExportLimit is the maximum number of events exported at once.
const maxExportLimit = 1000000

func export(ctx context.Context, store Store, writer io.Writer) error {
	events, err := store.List(ctx, Filter{Limit: maxExportLimit})
	if err != nil {
		return err
	}

	doc := &Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(events),
		Events:     events,
	}
	return encodeExport(writer, doc)
}
