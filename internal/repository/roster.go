package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/domain"
)

// RosterRepository reads the peer reviewer roster
type RosterRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewRosterRepository creates a new roster repository
func NewRosterRepository(db *pgxpool.Pool, logger *logrus.Logger) *RosterRepository {
	return &RosterRepository{
		db:  db,
		log: logger,
	}
}

// UpsertCandidate adds or refreshes a roster entry
func (r *RosterRepository) UpsertCandidate(ctx context.Context, c domain.Candidate) error {
	query := `
		INSERT INTO roster_candidates (user_id, org_id, role, expert_certified, specialties, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (user_id) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			role = EXCLUDED.role,
			expert_certified = EXCLUDED.expert_certified,
			specialties = EXCLUDED.specialties,
			active = TRUE`

	_, err := r.db.Exec(ctx, query, c.UserID, c.OrgID, c.Role, c.ExpertCertified, nonNil(c.Specialties))
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"user_id": c.UserID,
			"error":   err,
		}).Error("Failed to upsert roster candidate")
		return fmt.Errorf("upserting roster candidate: %w", err)
	}
	return nil
}

// ListCandidates returns every active roster entry ordered by user ID
func (r *RosterRepository) ListCandidates(ctx context.Context) ([]domain.Candidate, error) {
	query := `
		SELECT user_id, org_id, role, expert_certified, specialties
		FROM roster_candidates
		WHERE active
		ORDER BY user_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.log.WithError(err).Error("Failed to list roster candidates")
		return nil, fmt.Errorf("listing roster candidates: %w", err)
	}
	defer rows.Close()

	var candidates []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		if err := rows.Scan(&c.UserID, &c.OrgID, &c.Role, &c.ExpertCertified, &c.Specialties); err != nil {
			return nil, fmt.Errorf("scanning roster row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roster rows: %w", err)
	}

	r.log.WithField("count", len(candidates)).Debug("Roster loaded")
	return candidates, nil
}
