package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/spine-review-engine/internal/domain"
)

// SQLiteStore implements Store on a local SQLite file for the lite binary.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens the database file, creating it and its schema if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets readers run while an event is being appended.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(s scanner) (*domain.AuditEvent, error) {
	event := &domain.AuditEvent{}
	var eventType string
	var details []byte

	err := s.Scan(
		&event.ID, &eventType, &event.CaseID, &event.SecondaryReviewID, &event.ActorID,
		&event.FromState, &event.ToState, &details, &event.OccurredAt,
	)
	if err != nil {
		return nil, err
	}

	event.Type = domain.AuditEventType(eventType)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &event.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
		}
	}
	return event, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		case_id TEXT NOT NULL DEFAULT '',
		secondary_review_id TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL DEFAULT '',
		from_state TEXT NOT NULL DEFAULT '',
		to_state TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '{}',
		occurred_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_case_id ON audit_events(case_id);
	CREATE INDEX IF NOT EXISTS idx_audit_secondary_review_id ON audit_events(secondary_review_id);
	CREATE INDEX IF NOT EXISTS idx_audit_occurred_at ON audit_events(occurred_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Record appends one event.
func (s *SQLiteStore) Record(ctx context.Context, event domain.AuditEvent) error {
	prepare(&event)

	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, type, case_id, secondary_review_id, actor_id,
			from_state, to_state, details, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		string(event.Type),
		event.CaseID,
		event.SecondaryReviewID,
		event.ActorID,
		event.FromState,
		event.ToState,
		string(details),
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// List returns matching events oldest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]domain.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, case_id, secondary_review_id, actor_id,
			from_state, to_state, details, occurred_at
		FROM audit_events
		WHERE (? = '' OR case_id = ?) AND (? = '' OR secondary_review_id = ?)
		ORDER BY occurred_at, rowid
		LIMIT ? OFFSET ?
	`,
		filter.CaseID, filter.CaseID,
		filter.SecondaryReviewID, filter.SecondaryReviewID,
		filter.limit(), filter.Offset,
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
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return count, nil
}

// ExportJSON writes every event as a single JSON document.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return export(ctx, s, writer)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}
