// Package service holds the action layer: it loads records, calls the pure aggregation and
// secondary review functions, persists the results and raises audit events and notifications.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/aggregation"
	"github.com/spine-review-engine/internal/domain"
)

// SubmitReviewInput is the reviewer's completed form.
type SubmitReviewInput struct {
	Answers         map[domain.QuestionID]bool
	Appropriateness *int
	Necessity       *int
	Comments        string
}

// StopReviewInput records why a reviewer could not rate the case.
type StopReviewInput struct {
	Deficiency string
	Comments   string
}

// ReviewOutcome is a finalized review together with the aggregate it produced.
type ReviewOutcome struct {
	Review    *domain.Review        `json:"review"`
	Aggregate *domain.CaseAggregate `json:"aggregate"`
}

// ReviewService runs the primary review lifecycle and keeps the case aggregate current
type ReviewService struct {
	cases     domain.CaseStore
	secondary *SecondaryService
	notifier  domain.NotificationDispatcher
	audit     domain.AuditSink
	policy    domain.Policy
	retry     domain.AggregationConfig
	now       func() time.Time
	log       *logrus.Logger
}

// NewReviewService creates the review service. secondary may be nil, in which case a fired
// trigger is recorded on the aggregate but no secondary review is created.
func NewReviewService(
	cases domain.CaseStore,
	secondary *SecondaryService,
	notifier domain.NotificationDispatcher,
	auditSink domain.AuditSink,
	policy domain.Policy,
	retry domain.AggregationConfig,
	logger *logrus.Logger,
) *ReviewService {
	return &ReviewService{
		cases:     cases,
		secondary: secondary,
		notifier:  notifier,
		audit:     auditSink,
		policy:    policy.Snapshot(),
		retry:     retry,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger,
	}
}

// WithClock replaces the time source.
func (s *ReviewService) WithClock(now func() time.Time) *ReviewService {
	s.now = now
	return s
}

// Policy returns the policy the service evaluates triggers with.
func (s *ReviewService) Policy() domain.Policy {
	return s.policy
}

// AssignReview creates an ASSIGNED review of caseID for reviewerID on behalf of actorID
func (s *ReviewService) AssignReview(ctx context.Context, caseID, reviewerID, actorID string) (*domain.Review, error) {
	if reviewerID == "" {
		return nil, domain.NewValidationError("reviewer_id", "is required", reviewerID)
	}
	c, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.SubmitterID == reviewerID {
		return nil, domain.NewStateError(domain.StateForbidden, "the submitting surgeon cannot review their own case")
	}

	review := &domain.Review{
		ID:         uuid.NewString(),
		CaseID:     caseID,
		ReviewerID: reviewerID,
		Status:     domain.ReviewAssigned,
		AssignedAt: s.now(),
	}
	if err := s.cases.CreateReview(ctx, review); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.NewStateError(domain.StateWrongState, "reviewer %s is already assigned to case %s", reviewerID, caseID)
		}
		return nil, fmt.Errorf("assigning review: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"case_id":     caseID,
		"review_id":   review.ID,
		"reviewer_id": reviewerID,
		"assigned_by": actorID,
	}).Info("Review assigned")
	s.record(ctx, domain.AuditEvent{
		Type:       domain.AuditReviewAssigned,
		CaseID:     caseID,
		ActorID:    actorID,
		ToState:    string(review.Status),
		Details:    map[string]string{"review_id": review.ID, "reviewer_id": reviewerID},
		OccurredAt: review.AssignedAt,
	})
	return review, nil
}

// loadOwnReview returns the review if reviewerID owns it and it can still change.
func (s *ReviewService) loadOwnReview(ctx context.Context, reviewID, reviewerID string) (*domain.Review, error) {
	review, err := s.cases.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if review.ReviewerID != reviewerID {
		return nil, domain.NewStateError(domain.StateForbidden, "review %s belongs to another reviewer", reviewID)
	}
	if review.Status.IsFinal() {
		return nil, domain.NewStateError(domain.StateReviewImmutable, "review %s is %s", reviewID, review.Status)
	}
	return review, nil
}

// writeReview stores a status change, mapping a lost race onto the immutability error.
func (s *ReviewService) writeReview(ctx context.Context, review *domain.Review, expected domain.ReviewStatus) error {
	if err := s.cases.UpdateReview(ctx, review, expected); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return domain.NewStateError(domain.StateReviewImmutable, "review %s changed concurrently", review.ID)
		}
		return fmt.Errorf("updating review: %w", err)
	}
	return nil
}

// StartReview moves an ASSIGNED review to IN_PROGRESS. Starting twice is a no-op.
func (s *ReviewService) StartReview(ctx context.Context, reviewID, reviewerID string) (*domain.Review, error) {
	review, err := s.loadOwnReview(ctx, reviewID, reviewerID)
	if err != nil {
		return nil, err
	}
	if review.Status == domain.ReviewInProgress {
		return review, nil
	}

	review.Status = domain.ReviewInProgress
	if err := s.writeReview(ctx, review, domain.ReviewAssigned); err != nil {
		return nil, err
	}
	return review, nil
}

// SubmitReview validates and finalizes a review, then recomputes the case aggregate
func (s *ReviewService) SubmitReview(ctx context.Context, reviewID, reviewerID string, in SubmitReviewInput) (*ReviewOutcome, error) {
	review, err := s.loadOwnReview(ctx, reviewID, reviewerID)
	if err != nil {
		return nil, err
	}
	expected := review.Status

	now := s.now()
	review.Status = domain.ReviewSubmitted
	review.Answers = in.Answers
	review.Appropriateness = in.Appropriateness
	review.Necessity = in.Necessity
	review.Comments = in.Comments
	review.Deficiency = ""
	review.SubmittedAt = &now
	if err := review.ValidateSubmission(); err != nil {
		return nil, err
	}

	if err := s.writeReview(ctx, review, expected); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"case_id":         review.CaseID,
		"review_id":       review.ID,
		"appropriateness": *review.Appropriateness,
	}).Info("Review submitted")
	s.record(ctx, domain.AuditEvent{
		Type:       domain.AuditReviewSubmitted,
		CaseID:     review.CaseID,
		ActorID:    reviewerID,
		FromState:  string(expected),
		ToState:    string(review.Status),
		Details:    map[string]string{"review_id": review.ID},
		OccurredAt: now,
	})

	agg, err := s.RecomputeAggregate(ctx, review.CaseID)
	if err != nil {
		return nil, err
	}
	return &ReviewOutcome{Review: review, Aggregate: agg}, nil
}

// StopReview finalizes a review as STOPPED_INSUFFICIENT_DATA, then recomputes the case aggregate
func (s *ReviewService) StopReview(ctx context.Context, reviewID, reviewerID string, in StopReviewInput) (*ReviewOutcome, error) {
	review, err := s.loadOwnReview(ctx, reviewID, reviewerID)
	if err != nil {
		return nil, err
	}
	expected := review.Status

	now := s.now()
	review.Status = domain.ReviewStoppedInsufficientData
	review.Deficiency = in.Deficiency
	review.Comments = in.Comments
	review.Answers = nil
	review.Appropriateness = nil
	review.Necessity = nil
	review.SubmittedAt = &now
	if err := review.ValidateStop(); err != nil {
		return nil, err
	}

	if err := s.writeReview(ctx, review, expected); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"case_id":   review.CaseID,
		"review_id": review.ID,
	}).Info("Review stopped for insufficient data")
	s.record(ctx, domain.AuditEvent{
		Type:       domain.AuditReviewStopped,
		CaseID:     review.CaseID,
		ActorID:    reviewerID,
		FromState:  string(expected),
		ToState:    string(review.Status),
		Details:    map[string]string{"review_id": review.ID, "deficiency": review.Deficiency},
		OccurredAt: now,
	})

	agg, err := s.RecomputeAggregate(ctx, review.CaseID)
	if err != nil {
		return nil, err
	}
	return &ReviewOutcome{Review: review, Aggregate: agg}, nil
}

func (s *ReviewService) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	if s.retry.InitialInterval > 0 {
		b.InitialInterval = s.retry.InitialInterval
	}
	if s.retry.MaxInterval > 0 {
		b.MaxInterval = s.retry.MaxInterval
	}
	maxRetries := s.retry.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// RecomputeAggregate rebuilds the case aggregate from the current review set and stores it under
// an optimistic version check, retrying with exponential backoff when a concurrent writer wins.
func (s *ReviewService) RecomputeAggregate(ctx context.Context, caseID string) (*domain.CaseAggregate, error) {
	var (
		c   *domain.Case
		agg *domain.CaseAggregate
	)
	attempt := 0

	operation := func() error {
		attempt++
		var err error
		c, err = s.cases.GetCase(ctx, caseID)
		if err != nil {
			return backoff.Permanent(err)
		}
		reviews, err := s.cases.ListReviews(ctx, caseID)
		if err != nil {
			return backoff.Permanent(err)
		}

		var version int64
		stored, err := s.cases.GetAggregate(ctx, caseID)
		switch {
		case err == nil:
			version = stored.Version
		case errors.Is(err, domain.ErrNotFound):
		default:
			return backoff.Permanent(err)
		}

		decompressionPlusFusion, fusion := c.ProcedureFlags()
		agg = aggregation.Compute(caseID, reviews, decompressionPlusFusion, fusion, s.policy)
		agg.Version = version

		if err := s.cases.SaveAggregate(ctx, agg); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				s.log.WithFields(logrus.Fields{
					"case_id": caseID,
					"attempt": attempt,
				}).Debug("Aggregate write lost a race, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(operation, s.newBackOff(ctx)); err != nil {
		s.log.WithFields(logrus.Fields{
			"case_id":  caseID,
			"attempts": attempt,
			"error":    err,
		}).Error("Failed to recompute aggregate")
		return nil, fmt.Errorf("recomputing aggregate for case %s: %w", caseID, err)
	}

	s.log.WithFields(logrus.Fields{
		"case_id":         caseID,
		"status":          agg.Status,
		"valid_count":     agg.ValidCount,
		"trigger_reasons": agg.TriggerReasons,
		"version":         agg.Version,
	}).Info("Aggregate recomputed")

	if err := s.applyAggregate(ctx, c, agg); err != nil {
		return nil, err
	}
	return agg, nil
}

// applyAggregate propagates a stored aggregate onto the case. A case that is already in the
// secondary workflow keeps its status; the escalation owns it from then on.
func (s *ReviewService) applyAggregate(ctx context.Context, c *domain.Case, agg *domain.CaseAggregate) error {
	if s.secondary != nil {
		_, err := s.secondary.store.GetActiveSecondaryForCase(ctx, c.ID)
		switch {
		case err == nil:
			s.log.WithField("case_id", c.ID).Debug("Case has an active secondary review, status left unchanged")
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
	}

	if agg.Status == domain.AggregationSecondaryReviewRequired && s.secondary != nil {
		if _, err := s.secondary.CreateForCase(ctx, c.ID, agg, ""); err != nil {
			if errors.Is(err, domain.ErrActiveSecondaryExists) {
				return nil
			}
			return fmt.Errorf("creating secondary review: %w", err)
		}
		return nil
	}

	if err := s.cases.UpdateCaseStatus(ctx, c.ID, agg.Status.CaseStatus()); err != nil {
		return fmt.Errorf("updating case status: %w", err)
	}

	if result, ok := aggregation.PrimaryResult(agg, s.now()); ok {
		if err := s.cases.SaveResult(ctx, result); err != nil {
			return fmt.Errorf("saving primary result: %w", err)
		}
		s.notify(ctx, domain.Notification{
			RecipientID: c.SubmitterID,
			Type:        domain.NotifyCaseResultReady,
			CaseID:      c.ID,
			Payload: map[string]string{
				"source":      string(result.Source),
				"final_class": string(result.FinalClass),
			},
		})
	}
	return nil
}

// GetAggregate returns the stored aggregate of a case
func (s *ReviewService) GetAggregate(ctx context.Context, caseID string) (*domain.CaseAggregate, error) {
	return s.cases.GetAggregate(ctx, caseID)
}

// GetResult returns the current result of a case
func (s *ReviewService) GetResult(ctx context.Context, caseID string) (*domain.CaseResult, error) {
	return s.cases.GetResult(ctx, caseID)
}

func (s *ReviewService) record(ctx context.Context, event domain.AuditEvent) {
	recordAudit(ctx, s.audit, s.log, event)
}

func (s *ReviewService) notify(ctx context.Context, n domain.Notification) {
	if s.notifier == nil || n.RecipientID == "" {
		return
	}
	n.CreatedAt = s.now()
	s.notifier.Dispatch(ctx, n)
}

// recordAudit writes an audit event. A failing sink is logged and otherwise ignored.
func recordAudit(ctx context.Context, sink domain.AuditSink, logger *logrus.Logger, event domain.AuditEvent) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, event); err != nil {
		logger.WithFields(logrus.Fields{
			"audit_type":          event.Type,
			"case_id":             event.CaseID,
			"secondary_review_id": event.SecondaryReviewID,
			"error":               err,
		}).Warn("Failed to record audit event")
	}
}
