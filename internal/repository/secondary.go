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

	"github.com/spine-review-engine/internal/database"
	"github.com/spine-review-engine/internal/domain"
)

const activeSecondaryIndex = "idx_secondary_reviews_active_case"

// stateTimestampColumns maps a target state to the column stamped when it is entered.
var stateTimestampColumns = map[domain.SecondaryState]string{
	domain.SecondaryForumOpen:     "forum_opened_at",
	domain.SecondaryReratingOpen:  "rerating_opened_at",
	domain.SecondaryLockedScoring: "locked_at",
	domain.SecondaryCompleted:     "completed_at",
	domain.SecondaryCancelled:     "cancelled_at",
}

// SecondaryRepository persists secondary reviews with their participants, forum, re-ratings and outcome
type SecondaryRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewSecondaryRepository creates a new secondary review repository
func NewSecondaryRepository(db *pgxpool.Pool, logger *logrus.Logger) *SecondaryRepository {
	return &SecondaryRepository{
		db:  db,
		log: logger,
	}
}

// CreateSecondary stores the review, its thread and the initial participants in one transaction
func (r *SecondaryRepository) CreateSecondary(ctx context.Context, sr *domain.SecondaryReview, thread *domain.ForumThread, participants []domain.SecondaryParticipant) error {
	reasons, err := json.Marshal(sr.TriggerReasons)
	if err != nil {
		return fmt.Errorf("marshaling trigger reasons: %w", err)
	}
	policy, err := sr.Policy.MarshalSnapshot()
	if err != nil {
		return fmt.Errorf("marshaling policy snapshot: %w", err)
	}
	primary, err := json.Marshal(sr.PrimaryAggregate)
	if err != nil {
		return fmt.Errorf("marshaling primary aggregate: %w", err)
	}
	pinned, err := json.Marshal(thread.Pinned)
	if err != nil {
		return fmt.Errorf("marshaling pinned context: %w", err)
	}

	err = database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO secondary_reviews (
				id, case_id, state, trigger_reasons, policy, primary_aggregate, created_at, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, 1)`,
			sr.ID, sr.CaseID, sr.State, reasons, policy, primary, sr.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) && constraintName(err) == activeSecondaryIndex {
				return fmt.Errorf("case %s: %w", sr.CaseID, domain.ErrActiveSecondaryExists)
			}
			return fmt.Errorf("inserting secondary review: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO forum_threads (id, secondary_review_id, pinned, created_at)
			VALUES ($1, $2, $3, $4)`,
			thread.ID, sr.ID, pinned, thread.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting forum thread: %w", err)
		}

		return insertParticipants(ctx, tx, participants)
	})
	if err != nil {
		if errors.Is(err, domain.ErrActiveSecondaryExists) {
			return err
		}
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": sr.ID,
			"case_id":             sr.CaseID,
			"error":               err,
		}).Error("Failed to create secondary review")
		return fmt.Errorf("creating secondary review: %w", err)
	}
	sr.Version = 1

	r.log.WithFields(logrus.Fields{
		"secondary_review_id": sr.ID,
		"case_id":             sr.CaseID,
		"participants":        len(participants),
	}).Info("Secondary review created")
	return nil
}

func insertParticipants(ctx context.Context, tx pgx.Tx, participants []domain.SecondaryParticipant) error {
	for _, p := range participants {
		_, err := tx.Exec(ctx, `
			INSERT INTO secondary_participants (secondary_review_id, user_id, role, active, joined_at, deactivated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (secondary_review_id, user_id) DO NOTHING`,
			p.SecondaryReviewID, p.UserID, p.Role, p.Active, p.JoinedAt, p.DeactivatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting participant %s: %w", p.UserID, err)
		}
	}
	return nil
}

const secondaryColumns = `id, case_id, state, trigger_reasons, policy, primary_aggregate, created_at,
			forum_opened_at, forum_closed_at, rerating_opened_at, locked_at, completed_at,
			cancelled_at, cancellation_note, version`

func scanSecondary(row pgx.Row) (*domain.SecondaryReview, error) {
	var sr domain.SecondaryReview
	var reasons, policy, primary []byte

	err := row.Scan(
		&sr.ID,
		&sr.CaseID,
		&sr.State,
		&reasons,
		&policy,
		&primary,
		&sr.CreatedAt,
		&sr.ForumOpenedAt,
		&sr.ForumClosedAt,
		&sr.ReratingOpenedAt,
		&sr.LockedAt,
		&sr.CompletedAt,
		&sr.CancelledAt,
		&sr.CancellationNote,
		&sr.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(reasons, &sr.TriggerReasons); err != nil {
		return nil, fmt.Errorf("unmarshaling trigger reasons: %w", err)
	}
	if sr.Policy, err = domain.UnmarshalPolicySnapshot(policy); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(primary, &sr.PrimaryAggregate); err != nil {
		return nil, fmt.Errorf("unmarshaling primary aggregate: %w", err)
	}

	return &sr, nil
}

// GetSecondary retrieves a secondary review by ID
func (r *SecondaryRepository) GetSecondary(ctx context.Context, id string) (*domain.SecondaryReview, error) {
	query := `SELECT ` + secondaryColumns + ` FROM secondary_reviews WHERE id = $1`

	sr, err := scanSecondary(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("secondary review not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": id,
			"error":               err,
		}).Error("Failed to get secondary review")
		return nil, fmt.Errorf("getting secondary review: %w", err)
	}
	return sr, nil
}

// GetActiveSecondaryForCase returns the non-cancelled secondary review of a case, if any
func (r *SecondaryRepository) GetActiveSecondaryForCase(ctx context.Context, caseID string) (*domain.SecondaryReview, error) {
	query := `SELECT ` + secondaryColumns + ` FROM secondary_reviews WHERE case_id = $1 AND state <> 'CANCELLED'`

	sr, err := scanSecondary(r.db.QueryRow(ctx, query, caseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("active secondary review not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"case_id": caseID,
			"error":   err,
		}).Error("Failed to get active secondary review")
		return nil, fmt.Errorf("getting active secondary review: %w", err)
	}
	return sr, nil
}

// TransitionSecondary moves the review to change.To only if it is still in change.From
func (r *SecondaryRepository) TransitionSecondary(ctx context.Context, change domain.StateChange) error {
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return transitionTx(ctx, tx, change)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": change.SecondaryReviewID,
			"from":                change.From,
			"to":                  change.To,
			"error":               err,
		}).Error("Failed to transition secondary review")
		return fmt.Errorf("transitioning secondary review: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"secondary_review_id": change.SecondaryReviewID,
		"from":                change.From,
		"to":                  change.To,
	}).Info("Secondary review transitioned")
	return nil
}

// transitionTx applies a compare-and-set state change inside tx.
func transitionTx(ctx context.Context, tx pgx.Tx, change domain.StateChange) error {
	column, ok := stateTimestampColumns[change.To]
	if !ok {
		return domain.NewStateError(domain.StateInvalidTransition, "cannot enter state %s", change.To)
	}

	set := "state = $3, " + column + " = $4, version = version + 1"
	if change.To == domain.SecondaryReratingOpen {
		set += ", forum_closed_at = $4"
	}
	if change.To == domain.SecondaryCancelled {
		set += ", cancellation_note = $5"
	}
	query := `UPDATE secondary_reviews SET ` + set + ` WHERE id = $1 AND state = $2`

	args := []interface{}{change.SecondaryReviewID, change.From, change.To, change.At}
	if change.To == domain.SecondaryCancelled {
		args = append(args, change.Note)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating secondary review state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM secondary_reviews WHERE id = $1)`,
			change.SecondaryReviewID).Scan(&exists); err != nil {
			return fmt.Errorf("checking secondary review: %w", err)
		}
		if !exists {
			return fmt.Errorf("secondary review not found: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("secondary review %s is no longer %s: %w",
			change.SecondaryReviewID, change.From, domain.ErrVersionConflict)
	}

	if change.To == domain.SecondaryReratingOpen || change.To == domain.SecondaryCancelled {
		_, err = tx.Exec(ctx, `
			UPDATE forum_threads SET closed_at = $2
			WHERE secondary_review_id = $1 AND closed_at IS NULL`,
			change.SecondaryReviewID, change.At,
		)
		if err != nil {
			return fmt.Errorf("closing forum thread: %w", err)
		}
	}
	return nil
}

// AddParticipants attaches users to a secondary review, skipping existing participants
func (r *SecondaryRepository) AddParticipants(ctx context.Context, participants []domain.SecondaryParticipant) error {
	if len(participants) == 0 {
		return nil
	}
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return insertParticipants(ctx, tx, participants)
	})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": participants[0].SecondaryReviewID,
			"error":               err,
		}).Error("Failed to add participants")
		return fmt.Errorf("adding participants: %w", err)
	}
	return nil
}

// TransitionWithParticipants applies change and enrolls participants in one transaction, so a
// failed enrollment leaves the review in change.From.
func (r *SecondaryRepository) TransitionWithParticipants(ctx context.Context, change domain.StateChange, participants []domain.SecondaryParticipant) error {
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := transitionTx(ctx, tx, change); err != nil {
			return err
		}
		return insertParticipants(ctx, tx, participants)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": change.SecondaryReviewID,
			"to":                  change.To,
			"participants":        len(participants),
			"error":               err,
		}).Error("Failed to transition secondary review with participants")
		return fmt.Errorf("transitioning secondary review with participants: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"secondary_review_id": change.SecondaryReviewID,
		"from":                change.From,
		"to":                  change.To,
		"participants":        len(participants),
	}).Info("Secondary review transitioned")
	return nil
}

// ListParticipants returns all participants, active or not, in join order
func (r *SecondaryRepository) ListParticipants(ctx context.Context, secondaryReviewID string) ([]domain.SecondaryParticipant, error) {
	query := `
		SELECT secondary_review_id, user_id, role, active, joined_at, deactivated_at
		FROM secondary_participants
		WHERE secondary_review_id = $1
		ORDER BY joined_at, user_id`

	rows, err := r.db.Query(ctx, query, secondaryReviewID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": secondaryReviewID,
			"error":               err,
		}).Error("Failed to list participants")
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.SecondaryParticipant
	for rows.Next() {
		var p domain.SecondaryParticipant
		if err := rows.Scan(&p.SecondaryReviewID, &p.UserID, &p.Role, &p.Active, &p.JoinedAt, &p.DeactivatedAt); err != nil {
			return nil, fmt.Errorf("scanning participant row: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating participant rows: %w", err)
	}
	return participants, nil
}

// DeactivateParticipant marks a participant inactive. Deactivating twice is a no-op.
func (r *SecondaryRepository) DeactivateParticipant(ctx context.Context, secondaryReviewID, userID string, at time.Time) error {
	query := `
		UPDATE secondary_participants
		SET active = FALSE, deactivated_at = COALESCE(deactivated_at, $3)
		WHERE secondary_review_id = $1 AND user_id = $2`

	tag, err := r.db.Exec(ctx, query, secondaryReviewID, userID, at)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": secondaryReviewID,
			"user_id":             userID,
			"error":               err,
		}).Error("Failed to deactivate participant")
		return fmt.Errorf("deactivating participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant not found: %w", domain.ErrNotFound)
	}
	return nil
}

// GetThread returns the forum thread of a secondary review
func (r *SecondaryRepository) GetThread(ctx context.Context, secondaryReviewID string) (*domain.ForumThread, error) {
	query := `
		SELECT id, secondary_review_id, pinned, created_at, closed_at
		FROM forum_threads
		WHERE secondary_review_id = $1`

	var thread domain.ForumThread
	var pinned []byte
	err := r.db.QueryRow(ctx, query, secondaryReviewID).Scan(
		&thread.ID, &thread.SecondaryReviewID, &pinned, &thread.CreatedAt, &thread.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("forum thread not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": secondaryReviewID,
			"error":               err,
		}).Error("Failed to get forum thread")
		return nil, fmt.Errorf("getting forum thread: %w", err)
	}
	if err := json.Unmarshal(pinned, &thread.Pinned); err != nil {
		return nil, fmt.Errorf("unmarshaling pinned context: %w", err)
	}
	return &thread, nil
}

// AppendPost stores a post with the next sequence number of its thread
func (r *SecondaryRepository) AppendPost(ctx context.Context, post *domain.ForumPost) error {
	var replyTo *string
	if post.ReplyToID != "" {
		replyTo = &post.ReplyToID
	}

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var threadID string
		err := tx.QueryRow(ctx, `SELECT id FROM forum_threads WHERE id = $1 FOR UPDATE`, post.ThreadID).Scan(&threadID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("forum thread not found: %w", domain.ErrNotFound)
			}
			return fmt.Errorf("locking forum thread: %w", err)
		}

		return tx.QueryRow(ctx, `
			INSERT INTO forum_posts (id, thread_id, author_id, type, body, reply_to_id, seq, created_at)
			SELECT $1, $2, $3, $4, $5, $6, COALESCE(MAX(seq), 0) + 1, $7
			FROM forum_posts WHERE thread_id = $2
			RETURNING seq`,
			post.ID, post.ThreadID, post.AuthorID, post.Type, post.Body, replyTo, post.CreatedAt,
		).Scan(&post.Seq)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		r.log.WithFields(logrus.Fields{
			"thread_id": post.ThreadID,
			"author_id": post.AuthorID,
			"error":     err,
		}).Error("Failed to append forum post")
		return fmt.Errorf("appending forum post: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"thread_id": post.ThreadID,
		"post_id":   post.ID,
		"type":      post.Type,
		"seq":       post.Seq,
	}).Info("Forum post appended")
	return nil
}

const postColumns = `id, thread_id, author_id, type, body, COALESCE(reply_to_id, ''), seq, created_at`

func scanPost(row pgx.Row) (*domain.ForumPost, error) {
	var post domain.ForumPost
	err := row.Scan(&post.ID, &post.ThreadID, &post.AuthorID, &post.Type, &post.Body,
		&post.ReplyToID, &post.Seq, &post.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// GetPost retrieves one post of a thread
func (r *SecondaryRepository) GetPost(ctx context.Context, threadID, postID string) (*domain.ForumPost, error) {
	query := `SELECT ` + postColumns + ` FROM forum_posts WHERE thread_id = $1 AND id = $2`

	post, err := scanPost(r.db.QueryRow(ctx, query, threadID, postID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("forum post not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"thread_id": threadID,
			"post_id":   postID,
			"error":     err,
		}).Error("Failed to get forum post")
		return nil, fmt.Errorf("getting forum post: %w", err)
	}
	return post, nil
}

// ListPosts returns a thread's posts in sequence order
func (r *SecondaryRepository) ListPosts(ctx context.Context, threadID string) ([]domain.ForumPost, error) {
	query := `SELECT ` + postColumns + ` FROM forum_posts WHERE thread_id = $1 ORDER BY seq`

	rows, err := r.db.Query(ctx, query, threadID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"thread_id": threadID,
			"error":     err,
		}).Error("Failed to list forum posts")
		return nil, fmt.Errorf("listing forum posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.ForumPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning forum post row: %w", err)
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating forum post rows: %w", err)
	}
	return posts, nil
}

// UpsertRerating writes a participant's re-rating while the review is RERATING_OPEN
func (r *SecondaryRepository) UpsertRerating(ctx context.Context, rerating *domain.SecondaryRerating) error {
	votes, err := json.Marshal(answersOrEmpty(rerating.BinaryVotes))
	if err != nil {
		return fmt.Errorf("marshaling binary votes: %w", err)
	}

	err = database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var state domain.SecondaryState
		err := tx.QueryRow(ctx, `SELECT state FROM secondary_reviews WHERE id = $1 FOR SHARE`,
			rerating.SecondaryReviewID).Scan(&state)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("secondary review not found: %w", domain.ErrNotFound)
			}
			return fmt.Errorf("reading secondary review state: %w", err)
		}
		if state != domain.SecondaryReratingOpen {
			return fmt.Errorf("secondary review %s is %s: %w", rerating.SecondaryReviewID, state, domain.ErrVersionConflict)
		}

		return tx.QueryRow(ctx, `
			INSERT INTO secondary_reratings (
				secondary_review_id, participant_id, role, appropriateness, necessity,
				binary_votes, rationale, changed_from_primary, submitted_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			ON CONFLICT (secondary_review_id, participant_id) DO UPDATE SET
				role = EXCLUDED.role,
				appropriateness = EXCLUDED.appropriateness,
				necessity = EXCLUDED.necessity,
				binary_votes = EXCLUDED.binary_votes,
				rationale = EXCLUDED.rationale,
				changed_from_primary = EXCLUDED.changed_from_primary,
				updated_at = EXCLUDED.updated_at
			RETURNING submitted_at, updated_at`,
			rerating.SecondaryReviewID,
			rerating.ParticipantID,
			rerating.Role,
			rerating.Appropriateness,
			rerating.Necessity,
			votes,
			rerating.Rationale,
			rerating.ChangedFromPrimary,
			rerating.UpdatedAt,
		).Scan(&rerating.SubmittedAt, &rerating.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": rerating.SecondaryReviewID,
			"participant_id":      rerating.ParticipantID,
			"error":               err,
		}).Error("Failed to upsert re-rating")
		return fmt.Errorf("upserting re-rating: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"secondary_review_id": rerating.SecondaryReviewID,
		"participant_id":      rerating.ParticipantID,
		"appropriateness":     rerating.Appropriateness,
	}).Info("Re-rating recorded")
	return nil
}

// ListReratings returns all re-ratings of a secondary review ordered by participant
func (r *SecondaryRepository) ListReratings(ctx context.Context, secondaryReviewID string) ([]domain.SecondaryRerating, error) {
	query := `
		SELECT secondary_review_id, participant_id, role, appropriateness, necessity,
			   binary_votes, rationale, changed_from_primary, submitted_at, updated_at
		FROM secondary_reratings
		WHERE secondary_review_id = $1
		ORDER BY participant_id`

	rows, err := r.db.Query(ctx, query, secondaryReviewID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": secondaryReviewID,
			"error":               err,
		}).Error("Failed to list re-ratings")
		return nil, fmt.Errorf("listing re-ratings: %w", err)
	}
	defer rows.Close()

	var reratings []domain.SecondaryRerating
	for rows.Next() {
		var rr domain.SecondaryRerating
		var appropriateness int16
		var necessity *int16
		var votes []byte
		err := rows.Scan(
			&rr.SecondaryReviewID,
			&rr.ParticipantID,
			&rr.Role,
			&appropriateness,
			&necessity,
			&votes,
			&rr.Rationale,
			&rr.ChangedFromPrimary,
			&rr.SubmittedAt,
			&rr.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning re-rating row: %w", err)
		}
		rr.Appropriateness = int(appropriateness)
		rr.Necessity = intPtr(necessity)
		if err := json.Unmarshal(votes, &rr.BinaryVotes); err != nil {
			return nil, fmt.Errorf("unmarshaling binary votes: %w", err)
		}
		if len(rr.BinaryVotes) == 0 {
			rr.BinaryVotes = nil
		}
		reratings = append(reratings, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating re-rating rows: %w", err)
	}
	return reratings, nil
}

// CompleteSecondary applies the completing state change and records the outcome in one
// transaction. A review that has left change.From gets neither.
func (r *SecondaryRepository) CompleteSecondary(ctx context.Context, change domain.StateChange, outcome *domain.SecondaryOutcome) error {
	query := `
		INSERT INTO secondary_outcomes (
			id, secondary_review_id, case_id, appropriateness_mean, appropriateness_class,
			necessity_mean, necessity_class, statistic, summary, participant_count,
			rerating_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (secondary_review_id) DO NOTHING`

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := transitionTx(ctx, tx, change); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, query,
			outcome.ID,
			outcome.SecondaryReviewID,
			outcome.CaseID,
			outcome.Adjusted.AppropriatenessMean,
			outcome.Adjusted.AppropriatenessClass,
			outcome.Adjusted.NecessityMean,
			outcome.Adjusted.NecessityClass,
			outcome.Statistic,
			outcome.Summary,
			outcome.ParticipantCount,
			outcome.ReratingCount,
			outcome.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting secondary outcome: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("secondary review %s: %w", outcome.SecondaryReviewID, domain.ErrOutcomeExists)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrOutcomeExists) {
			return err
		}
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": outcome.SecondaryReviewID,
			"error":               err,
		}).Error("Failed to complete secondary review")
		return fmt.Errorf("completing secondary review: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"secondary_review_id": outcome.SecondaryReviewID,
		"case_id":             outcome.CaseID,
		"class":               outcome.Adjusted.AppropriatenessClass,
	}).Info("Secondary review completed with outcome")
	return nil
}

// GetOutcome retrieves the outcome of a secondary review
func (r *SecondaryRepository) GetOutcome(ctx context.Context, secondaryReviewID string) (*domain.SecondaryOutcome, error) {
	query := `
		SELECT id, secondary_review_id, case_id, appropriateness_mean, appropriateness_class,
			   necessity_mean, necessity_class, statistic, summary, participant_count,
			   rerating_count, created_at, summary_edited_by, summary_edited_at
		FROM secondary_outcomes
		WHERE secondary_review_id = $1`

	var o domain.SecondaryOutcome
	var necessityClass *string
	err := r.db.QueryRow(ctx, query, secondaryReviewID).Scan(
		&o.ID,
		&o.SecondaryReviewID,
		&o.CaseID,
		&o.Adjusted.AppropriatenessMean,
		&o.Adjusted.AppropriatenessClass,
		&o.Adjusted.NecessityMean,
		&necessityClass,
		&o.Statistic,
		&o.Summary,
		&o.ParticipantCount,
		&o.ReratingCount,
		&o.CreatedAt,
		&o.SummaryEditedBy,
		&o.SummaryEditedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("secondary outcome not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": secondaryReviewID,
			"error":               err,
		}).Error("Failed to get secondary outcome")
		return nil, fmt.Errorf("getting secondary outcome: %w", err)
	}
	if necessityClass != nil {
		class := domain.LikertClass(*necessityClass)
		o.Adjusted.NecessityClass = &class
	}

	return &o, nil
}

// UpdateOutcomeSummary replaces the summary text and records who edited it
func (r *SecondaryRepository) UpdateOutcomeSummary(ctx context.Context, secondaryReviewID, summary, editorID string, at time.Time) error {
	query := `
		UPDATE secondary_outcomes
		SET summary = $2, summary_edited_by = $3, summary_edited_at = $4
		WHERE secondary_review_id = $1`

	tag, err := r.db.Exec(ctx, query, secondaryReviewID, summary, editorID, at)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"secondary_review_id": secondaryReviewID,
			"editor_id":           editorID,
			"error":               err,
		}).Error("Failed to update outcome summary")
		return fmt.Errorf("updating outcome summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("secondary outcome not found: %w", domain.ErrNotFound)
	}

	r.log.WithFields(logrus.Fields{
		"secondary_review_id": secondaryReviewID,
		"editor_id":           editorID,
	}).Info("Outcome summary edited")
	return nil
}
