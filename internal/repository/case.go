package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/domain"
)

// CaseRepository handles cases, their primary reviews and everything derived from them
type CaseRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *pgxpool.Pool, logger *logrus.Logger) *CaseRepository {
	return &CaseRepository{
		db:  db,
		log: logger,
	}
}

// CreateCase inserts a case. Cases normally arrive from the submission system; the engine
// only stores the fields it reads.
func (r *CaseRepository) CreateCase(ctx context.Context, c *domain.Case) error {
	query := `
		INSERT INTO cases (id, submitter_id, org_id, procedures, specialties, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING updated_at`

	status := c.Status
	if status == "" {
		status = domain.CaseSubmitted
	}

	err := r.db.QueryRow(ctx, query,
		c.ID,
		c.SubmitterID,
		c.OrgID,
		procedureStrings(c.Procedures),
		nonNil(c.Specialties),
		status,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("case %s: %w", c.ID, domain.ErrAlreadyExists)
		}
		r.log.WithFields(logrus.Fields{
			"case_id": c.ID,
			"error":   err,
		}).Error("Failed to create case")
		return fmt.Errorf("creating case: %w", err)
	}
	c.Status = status

	r.log.WithFields(logrus.Fields{
		"case_id":    c.ID,
		"procedures": c.Procedures,
	}).Info("Case created")
	return nil
}

// GetCase retrieves a case by ID
func (r *CaseRepository) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	query := `
		SELECT id, submitter_id, org_id, procedures, specialties, status, updated_at
		FROM cases
		WHERE id = $1`

	var c domain.Case
	var procedures []string
	err := r.db.QueryRow(ctx, query, caseID).Scan(
		&c.ID,
		&c.SubmitterID,
		&c.OrgID,
		&procedures,
		&c.Specialties,
		&c.Status,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("case not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"case_id": caseID,
			"error":   err,
		}).Error("Failed to get case")
		return nil, fmt.Errorf("getting case: %w", err)
	}
	c.Procedures = procedureTypes(procedures)

	return &c, nil
}

// UpdateCaseStatus sets the externally visible case status
func (r *CaseRepository) UpdateCaseStatus(ctx context.Context, caseID string, status domain.CaseStatus) error {
	query := `UPDATE cases SET status = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, caseID, status)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"case_id": caseID,
			"status":  status,
			"error":   err,
		}).Error("Failed to update case status")
		return fmt.Errorf("updating case status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("case not found: %w", domain.ErrNotFound)
	}

	r.log.WithFields(logrus.Fields{
		"case_id": caseID,
		"status":  status,
	}).Info("Case status updated")
	return nil
}

// CreateReview inserts a new review assignment
func (r *CaseRepository) CreateReview(ctx context.Context, review *domain.Review) error {
	answers, err := json.Marshal(answersOrEmpty(review.Answers))
	if err != nil {
		return fmt.Errorf("marshaling answers: %w", err)
	}

	query := `
		INSERT INTO reviews (
			id, case_id, reviewer_id, status, answers, appropriateness, necessity,
			deficiency, comments, assigned_at, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		review.ID,
		review.CaseID,
		review.ReviewerID,
		review.Status,
		answers,
		review.Appropriateness,
		review.Necessity,
		review.Deficiency,
		review.Comments,
		review.AssignedAt,
		review.SubmittedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("reviewer %s on case %s: %w", review.ReviewerID, review.CaseID, domain.ErrAlreadyExists)
		}
		r.log.WithFields(logrus.Fields{
			"review_id":   review.ID,
			"case_id":     review.CaseID,
			"reviewer_id": review.ReviewerID,
			"error":       err,
		}).Error("Failed to create review")
		return fmt.Errorf("creating review: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"review_id":   review.ID,
		"case_id":     review.CaseID,
		"reviewer_id": review.ReviewerID,
	}).Info("Review assigned")
	return nil
}

const reviewColumns = `id, case_id, reviewer_id, status, answers, appropriateness, necessity,
			deficiency, comments, assigned_at, submitted_at`

func scanReview(row pgx.Row) (*domain.Review, error) {
	var review domain.Review
	var answers []byte
	var appropriateness, necessity *int16

	err := row.Scan(
		&review.ID,
		&review.CaseID,
		&review.ReviewerID,
		&review.Status,
		&answers,
		&appropriateness,
		&necessity,
		&review.Deficiency,
		&review.Comments,
		&review.AssignedAt,
		&review.SubmittedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &review.Answers); err != nil {
			return nil, fmt.Errorf("unmarshaling answers: %w", err)
		}
		if len(review.Answers) == 0 {
			review.Answers = nil
		}
	}
	review.Appropriateness = intPtr(appropriateness)
	review.Necessity = intPtr(necessity)

	return &review, nil
}

// GetReview retrieves a review by ID
func (r *CaseRepository) GetReview(ctx context.Context, reviewID string) (*domain.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`

	review, err := scanReview(r.db.QueryRow(ctx, query, reviewID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("review not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"review_id": reviewID,
			"error":     err,
		}).Error("Failed to get review")
		return nil, fmt.Errorf("getting review: %w", err)
	}
	return review, nil
}

// UpdateReview writes the mutable review fields if the stored status still equals expected
func (r *CaseRepository) UpdateReview(ctx context.Context, review *domain.Review, expected domain.ReviewStatus) error {
	answers, err := json.Marshal(answersOrEmpty(review.Answers))
	if err != nil {
		return fmt.Errorf("marshaling answers: %w", err)
	}

	query := `
		UPDATE reviews
		SET status = $3, answers = $4, appropriateness = $5, necessity = $6,
			deficiency = $7, comments = $8, submitted_at = $9
		WHERE id = $1 AND status = $2`

	tag, err := r.db.Exec(ctx, query,
		review.ID,
		expected,
		review.Status,
		answers,
		review.Appropriateness,
		review.Necessity,
		review.Deficiency,
		review.Comments,
		review.SubmittedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"review_id": review.ID,
			"status":    review.Status,
			"error":     err,
		}).Error("Failed to update review")
		return fmt.Errorf("updating review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetReview(ctx, review.ID); err != nil {
			return err
		}
		return fmt.Errorf("review %s is no longer %s: %w", review.ID, expected, domain.ErrVersionConflict)
	}

	r.log.WithFields(logrus.Fields{
		"review_id": review.ID,
		"case_id":   review.CaseID,
		"from":      expected,
		"to":        review.Status,
	}).Info("Review updated")
	return nil
}

// ListReviews returns every review of a case in canonical reviewer order
func (r *CaseRepository) ListReviews(ctx context.Context, caseID string) ([]domain.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE case_id = $1 ORDER BY reviewer_id, id`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"case_id": caseID,
			"error":   err,
		}).Error("Failed to list reviews")
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	var reviews []domain.Review
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"case_id": caseID,
				"error":   err,
			}).Error("Failed to scan review row")
			return nil, fmt.Errorf("scanning review row: %w", err)
		}
		reviews = append(reviews, *review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating review rows: %w", err)
	}

	return reviews, nil
}

// GetAggregate retrieves the stored aggregate of a case
func (r *CaseRepository) GetAggregate(ctx context.Context, caseID string) (*domain.CaseAggregate, error) {
	query := `SELECT data, version, updated_at FROM case_aggregates WHERE case_id = $1`

	var data []byte
	var version int64
	var updatedAt time.Time
	err := r.db.QueryRow(ctx, query, caseID).Scan(&data, &version, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("aggregate not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"case_id": caseID,
			"error":   err,
		}).Error("Failed to get aggregate")
		return nil, fmt.Errorf("getting aggregate: %w", err)
	}

	var agg domain.CaseAggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		return nil, fmt.Errorf("unmarshaling aggregate: %w", err)
	}
	agg.Version = version
	agg.UpdatedAt = updatedAt

	return &agg, nil
}

// SaveAggregate inserts the first aggregate of a case or replaces it under a version check
func (r *CaseRepository) SaveAggregate(ctx context.Context, agg *domain.CaseAggregate) error {
	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshaling aggregate: %w", err)
	}

	var query string
	if agg.Version == 0 {
		query = `
			INSERT INTO case_aggregates (case_id, status, data, version, updated_at)
			VALUES ($1, $2, $3, 1, NOW())
			ON CONFLICT (case_id) DO NOTHING
			RETURNING version, updated_at`
	} else {
		query = `
			UPDATE case_aggregates
			SET status = $2, data = $3, version = version + 1, updated_at = NOW()
			WHERE case_id = $1 AND version = $4
			RETURNING version, updated_at`
	}

	args := []interface{}{agg.CaseID, agg.Status, data}
	if agg.Version != 0 {
		args = append(args, agg.Version)
	}

	var version int64
	var updatedAt time.Time
	err = r.db.QueryRow(ctx, query, args...).Scan(&version, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.log.WithFields(logrus.Fields{
				"case_id": agg.CaseID,
				"version": agg.Version,
			}).Debug("Aggregate version conflict")
			return fmt.Errorf("aggregate for case %s at version %d: %w", agg.CaseID, agg.Version, domain.ErrVersionConflict)
		}
		r.log.WithFields(logrus.Fields{
			"case_id": agg.CaseID,
			"error":   err,
		}).Error("Failed to save aggregate")
		return fmt.Errorf("saving aggregate: %w", err)
	}
	agg.Version = version
	agg.UpdatedAt = updatedAt

	r.log.WithFields(logrus.Fields{
		"case_id": agg.CaseID,
		"status":  agg.Status,
		"version": version,
	}).Info("Aggregate saved")
	return nil
}

// SaveResult records the result of a pass, replacing an earlier result from the same source
func (r *CaseRepository) SaveResult(ctx context.Context, result *domain.CaseResult) error {
	query := `
		INSERT INTO case_results (
			case_id, source, final_class, appropriateness_mean, appropriateness_class,
			necessity_mean, necessity_class, percent_agreed_with_proposed,
			percent_recommended_alternative, review_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (case_id, source) DO UPDATE SET
			final_class = EXCLUDED.final_class,
			appropriateness_mean = EXCLUDED.appropriateness_mean,
			appropriateness_class = EXCLUDED.appropriateness_class,
			necessity_mean = EXCLUDED.necessity_mean,
			necessity_class = EXCLUDED.necessity_class,
			percent_agreed_with_proposed = EXCLUDED.percent_agreed_with_proposed,
			percent_recommended_alternative = EXCLUDED.percent_recommended_alternative,
			review_count = EXCLUDED.review_count,
			created_at = EXCLUDED.created_at`

	_, err := r.db.Exec(ctx, query,
		result.CaseID,
		result.Source,
		result.FinalClass,
		result.AppropriatenessMean,
		result.AppropriatenessClass,
		result.NecessityMean,
		result.NecessityClass,
		result.PercentAgreedWithProposed,
		result.PercentRecommendedAlternative,
		result.ReviewCount,
		result.CreatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"case_id": result.CaseID,
			"source":  result.Source,
			"error":   err,
		}).Error("Failed to save case result")
		return fmt.Errorf("saving case result: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"case_id":     result.CaseID,
		"source":      result.Source,
		"final_class": result.FinalClass,
	}).Info("Case result saved")
	return nil
}

// GetResult returns the current result of a case. A secondary result supersedes the primary one.
func (r *CaseRepository) GetResult(ctx context.Context, caseID string) (*domain.CaseResult, error) {
	query := `
		SELECT case_id, source, final_class, appropriateness_mean, appropriateness_class,
			   necessity_mean, necessity_class, percent_agreed_with_proposed,
			   percent_recommended_alternative, review_count, created_at
		FROM case_results
		WHERE case_id = $1
		ORDER BY (source = 'SECONDARY') DESC, created_at DESC
		LIMIT 1`

	var result domain.CaseResult
	err := r.db.QueryRow(ctx, query, caseID).Scan(
		&result.CaseID,
		&result.Source,
		&result.FinalClass,
		&result.AppropriatenessMean,
		&result.AppropriatenessClass,
		&result.NecessityMean,
		&result.NecessityClass,
		&result.PercentAgreedWithProposed,
		&result.PercentRecommendedAlternative,
		&result.ReviewCount,
		&result.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("case result not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"case_id": caseID,
			"error":   err,
		}).Error("Failed to get case result")
		return nil, fmt.Errorf("getting case result: %w", err)
	}

	return &result, nil
}

func answersOrEmpty(answers map[domain.QuestionID]bool) map[domain.QuestionID]bool {
	if answers == nil {
		return map[domain.QuestionID]bool{}
	}
	return answers
}

func intPtr(v *int16) *int {
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}
