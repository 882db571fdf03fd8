package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/spine-review-engine/internal/domain"
)

// PostgresStore implements Store on the audit_events table created by the migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle and verifies it.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a small dedicated pool for audit writes.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Record appends one event.
func (s *PostgresStore) Record(ctx context.Context, event domain.AuditEvent) error {
	prepare(&event)

	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, type, case_id, secondary_review_id, actor_id,
			from_state, to_state, details, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID,
		string(event.Type),
		event.CaseID,
		event.SecondaryReviewID,
		event.ActorID,
		event.FromState,
		event.ToState,
		details,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// List returns matching events oldest first.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]domain.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, case_id, secondary_review_id, actor_id,
			from_state, to_state, details, occurred_at
		FROM audit_events
		WHERE ($1 = '' OR case_id = $1) AND ($2 = '' OR secondary_review_id = $2)
		ORDER BY occurred_at, id
		LIMIT $3 OFFSET $4`,
		filter.CaseID, filter.SecondaryReviewID, filter.limit(), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var result []domain.AuditEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, *event)
	}

	return result, rows.Err()
}

// Count returns the total number of recorded events.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return count, nil
}

// ExportJSON writes every event as a single JSON document.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return export(ctx, s, writer)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
