package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/aggregation"
	"github.com/spine-review-engine/internal/domain"
	"github.com/spine-review-engine/internal/secondary"
)

// ReratingInput is a participant's re-rating form.
type ReratingInput struct {
	Appropriateness int
	Necessity       *int
	BinaryVotes     map[domain.QuestionID]bool
	Rationale       string
}

// ReratingResult reports the stored re-rating and whether it completed the quorum.
type ReratingResult struct {
	Rerating *domain.SecondaryRerating `json:"rerating"`
	Quorum   domain.QuorumStatus       `json:"quorum"`
	Locked   bool                      `json:"locked"`
}

// PostInput is a new forum post.
type PostInput struct {
	Type      domain.PostType
	Body      string
	ReplyToID string
}

// SecondaryView is the full read model of a secondary review.
type SecondaryView struct {
	Review       *domain.SecondaryReview       `json:"review"`
	Participants []domain.SecondaryParticipant `json:"participants"`
	Thread       *domain.ForumThread           `json:"thread"`
	Reratings    []domain.SecondaryRerating    `json:"reratings"`
	Quorum       domain.QuorumStatus           `json:"quorum"`
	Outcome      *domain.SecondaryOutcome      `json:"outcome,omitempty"`
}

// SecondaryService drives the secondary review workflow of escalated cases
type SecondaryService struct {
	cases    domain.CaseStore
	store    domain.SecondaryStore
	roster   domain.RosterProvider
	notifier domain.NotificationDispatcher
	audit    domain.AuditSink
	policy   domain.Policy
	rng      secondary.RandomSource
	now      func() time.Time
	log      *logrus.Logger
}

// NewSecondaryService creates the secondary review service. New secondary reviews snapshot policy.
func NewSecondaryService(
	cases domain.CaseStore,
	store domain.SecondaryStore,
	roster domain.RosterProvider,
	notifier domain.NotificationDispatcher,
	auditSink domain.AuditSink,
	policy domain.Policy,
	logger *logrus.Logger,
) *SecondaryService {
	return &SecondaryService{
		cases:    cases,
		store:    store,
		roster:   roster,
		notifier: notifier,
		audit:    auditSink,
		policy:   policy.Snapshot(),
		rng:      secondary.CryptoSource{},
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger,
	}
}

// WithRandom replaces the random source used for peer selection.
func (s *SecondaryService) WithRandom(rng secondary.RandomSource) *SecondaryService {
	s.rng = rng
	return s
}

// WithClock replaces the time source.
func (s *SecondaryService) WithClock(now func() time.Time) *SecondaryService {
	s.now = now
	return s
}

// CreateForCase opens a secondary review for a case whose aggregate fired a trigger. The original
// reviewers with a valid submission are enrolled and the forum thread is pinned with the aggregate.
func (s *SecondaryService) CreateForCase(ctx context.Context, caseID string, agg *domain.CaseAggregate, actorID string) (*domain.SecondaryReview, error) {
	if agg == nil || !agg.SecondaryTriggered || len(agg.TriggerReasons) == 0 {
		return nil, domain.NewStateError(domain.StateWrongState, "case %s has no fired trigger", caseID)
	}

	reviews, err := s.cases.ListReviews(ctx, caseID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sr := &domain.SecondaryReview{
		ID:               uuid.NewString(),
		CaseID:           caseID,
		State:            domain.SecondaryCreated,
		TriggerReasons:   append([]domain.TriggerReason(nil), agg.TriggerReasons...),
		Policy:           s.policy.Snapshot(),
		PrimaryAggregate: *agg,
		CreatedAt:        now,
	}
	thread := &domain.ForumThread{
		ID:                uuid.NewString(),
		SecondaryReviewID: sr.ID,
		Pinned:            secondary.PinContext(agg),
		CreatedAt:         now,
	}

	var participants []domain.SecondaryParticipant
	for _, r := range reviews {
		if r.Status != domain.ReviewSubmitted {
			continue
		}
		participants = append(participants, domain.SecondaryParticipant{
			SecondaryReviewID: sr.ID,
			UserID:            r.ReviewerID,
			Role:              domain.RoleOriginalReviewer,
			Active:            true,
			JoinedAt:          now,
		})
	}

	if err := s.store.CreateSecondary(ctx, sr, thread, participants); err != nil {
		if errors.Is(err, domain.ErrActiveSecondaryExists) {
			return nil, err
		}
		return nil, fmt.Errorf("creating secondary review: %w", err)
	}
	if err := s.cases.UpdateCaseStatus(ctx, caseID, domain.CaseSecondaryReview); err != nil {
		return nil, fmt.Errorf("updating case status: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"case_id":             caseID,
		"secondary_review_id": sr.ID,
		"trigger_reasons":     sr.TriggerReasons,
		"original_reviewers":  len(participants),
	}).Info("Secondary review created")
	s.record(ctx, domain.AuditEvent{
		Type:              domain.AuditSecondaryCreated,
		CaseID:            caseID,
		SecondaryReviewID: sr.ID,
		ActorID:           actorID,
		ToState:           string(sr.State),
		Details:           map[string]string{"trigger_reasons": joinReasons(sr.TriggerReasons)},
		OccurredAt:        now,
	})
	return sr, nil
}

// Escalate creates a secondary review from the stored aggregate on an operator's request. The
// aggregate still needs a fired trigger, which covers cases stuck in AWAITING_REVIEWS.
func (s *SecondaryService) Escalate(ctx context.Context, caseID, actorID string) (*domain.SecondaryReview, error) {
	agg, err := s.cases.GetAggregate(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return s.CreateForCase(ctx, caseID, agg, actorID)
}

// transition commits a state change under compare-and-set and records it.
func (s *SecondaryService) transition(ctx context.Context, sr *domain.SecondaryReview, to domain.SecondaryState, actorID, note string) error {
	return s.commitTransition(ctx, sr, to, actorID, note, s.store.TransitionSecondary)
}

// commitTransition validates the move against the state machine and hands the change to commit,
// which must apply it under compare-and-set together with any writes bound to it.
func (s *SecondaryService) commitTransition(
	ctx context.Context,
	sr *domain.SecondaryReview,
	to domain.SecondaryState,
	actorID, note string,
	commit func(ctx context.Context, change domain.StateChange) error,
) error {
	if _, err := secondary.Transition(sr.State, to); err != nil {
		return err
	}

	change := domain.StateChange{
		SecondaryReviewID: sr.ID,
		From:              sr.State,
		To:                to,
		At:                s.now(),
		Note:              note,
	}
	if err := commit(ctx, change); err != nil {
		return err
	}
	sr.Apply(change)

	s.log.WithFields(logrus.Fields{
		"secondary_review_id": sr.ID,
		"from":                change.From,
		"to":                  change.To,
	}).Info("Secondary review transitioned")
	s.record(ctx, domain.AuditEvent{
		Type:              domain.AuditSecondaryTransition,
		CaseID:            sr.CaseID,
		SecondaryReviewID: sr.ID,
		ActorID:           actorID,
		FromState:         string(change.From),
		ToState:           string(change.To),
		OccurredAt:        change.At,
	})
	return nil
}

// conflictAsState turns a lost compare-and-set into the caller-facing state error.
func conflictAsState(err error, id string) error {
	if errors.Is(err, domain.ErrVersionConflict) {
		return domain.NewStateError(domain.StateWrongState, "secondary review %s changed concurrently", id)
	}
	return err
}

// OpenForum invites a peer cohort from the roster and opens the discussion forum
func (s *SecondaryService) OpenForum(ctx context.Context, id, actorID string) (*domain.SecondaryReview, error) {
	sr, err := s.store.GetSecondary(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := secondary.Transition(sr.State, domain.SecondaryForumOpen); err != nil {
		return nil, err
	}

	c, err := s.cases.GetCase(ctx, sr.CaseID)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	candidates, err := s.roster.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}

	exclude := make([]string, 0, len(participants))
	for _, p := range participants {
		exclude = append(exclude, p.UserID)
	}
	criteria := secondary.CriteriaFor(c, exclude, sr.Policy)
	peers := secondary.SelectPeers(candidates, sr.Policy.PeerCohortSize, criteria, s.rng)
	if len(peers) < sr.Policy.PeerCohortSize {
		s.log.WithFields(logrus.Fields{
			"secondary_review_id": id,
			"requested":           sr.Policy.PeerCohortSize,
			"selected":            len(peers),
		}).Warn("Roster has fewer eligible peers than the cohort size")
	}

	now := s.now()
	invited := make([]domain.SecondaryParticipant, 0, len(peers))
	for _, userID := range peers {
		invited = append(invited, domain.SecondaryParticipant{
			SecondaryReviewID: id,
			UserID:            userID,
			Role:              domain.RolePeerSurgeon,
			Active:            true,
			JoinedAt:          now,
		})
	}
	enroll := func(ctx context.Context, change domain.StateChange) error {
		return s.store.TransitionWithParticipants(ctx, change, invited)
	}
	if err := s.commitTransition(ctx, sr, domain.SecondaryForumOpen, actorID, "", enroll); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrNotFound) {
			return nil, conflictAsState(err, id)
		}
		s.log.WithFields(logrus.Fields{
			"secondary_review_id": id,
			"error":               err,
		}).Error("Failed to enroll peer cohort")
		return nil, fmt.Errorf("enrolling peers: %w", err)
	}

	for _, userID := range peers {
		s.notify(ctx, domain.Notification{
			RecipientID:       userID,
			Type:              domain.NotifyPeerInvitation,
			SecondaryReviewID: id,
			CaseID:            sr.CaseID,
		})
		s.record(ctx, domain.AuditEvent{
			Type:              domain.AuditParticipantAdded,
			CaseID:            sr.CaseID,
			SecondaryReviewID: id,
			ActorID:           actorID,
			Details:           map[string]string{"user_id": userID, "role": string(domain.RolePeerSurgeon)},
			OccurredAt:        now,
		})
	}
	return sr, nil
}

// OpenRerating closes the forum and notifies every active participant that re-rating is open
func (s *SecondaryService) OpenRerating(ctx context.Context, id, actorID string) (*domain.SecondaryReview, error) {
	sr, err := s.store.GetSecondary(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, sr, domain.SecondaryReratingOpen, actorID, ""); err != nil {
		return nil, conflictAsState(err, id)
	}

	participants, err := s.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		if !p.Active {
			continue
		}
		s.notify(ctx, domain.Notification{
			RecipientID:       p.UserID,
			Type:              domain.NotifyReratingOpen,
			SecondaryReviewID: id,
			CaseID:            sr.CaseID,
		})
	}
	return sr, nil
}

func lockedOrWrongState(sr *domain.SecondaryReview) error {
	switch sr.State {
	case domain.SecondaryLockedScoring, domain.SecondaryCompleted:
		return domain.NewStateError(domain.StateReratingLocked, "re-rating of %s is locked", sr.ID)
	default:
		return domain.NewStateError(domain.StateWrongState, "re-rating is not open (state %s)", sr.State)
	}
}

// SubmitRerating stores or replaces the caller's re-rating and locks scoring once quorum is met
func (s *SecondaryService) SubmitRerating(ctx context.Context, id, userID string, in ReratingInput) (*ReratingResult, error) {
	sr, err := s.store.GetSecondary(ctx, id)
	if err != nil {
		return nil, err
	}
	if sr.State != domain.SecondaryReratingOpen {
		return nil, lockedOrWrongState(sr)
	}

	participants, err := s.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	participant, ok := secondary.FindParticipant(participants, userID)
	if !ok || !participant.Active {
		return nil, domain.NewStateError(domain.StateNotParticipant, "user %s is not an active participant", userID)
	}

	now := s.now()
	rerating := &domain.SecondaryRerating{
		SecondaryReviewID: id,
		ParticipantID:     userID,
		Role:              participant.Role,
		Appropriateness:   in.Appropriateness,
		Necessity:         in.Necessity,
		BinaryVotes:       in.BinaryVotes,
		Rationale:         in.Rationale,
		SubmittedAt:       now,
		UpdatedAt:         now,
	}
	if err := rerating.Validate(); err != nil {
		return nil, err
	}

	var ownPrimary *domain.Review
	if participant.Role == domain.RoleOriginalReviewer {
		reviews, err := s.cases.ListReviews(ctx, sr.CaseID)
		if err != nil {
			return nil, err
		}
		for i := range reviews {
			if reviews[i].ReviewerID == userID && reviews[i].Status == domain.ReviewSubmitted {
				ownPrimary = &reviews[i]
				break
			}
		}
	}
	rerating.ChangedFromPrimary = secondary.ChangedFromPrimary(*rerating, ownPrimary, sr.PrimaryAggregate.AppropriatenessClass)

	if err := s.store.UpsertRerating(ctx, rerating); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return nil, domain.NewStateError(domain.StateReratingLocked, "re-rating of %s closed concurrently", id)
		}
		return nil, fmt.Errorf("storing re-rating: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"secondary_review_id":  id,
		"participant_id":       userID,
		"role":                 participant.Role,
		"changed_from_primary": rerating.ChangedFromPrimary,
	}).Info("Re-rating stored")

	quorum, locked, err := s.lockOnQuorum(ctx, sr, userID)
	if err != nil {
		return nil, err
	}
	return &ReratingResult{Rerating: rerating, Quorum: quorum, Locked: locked}, nil
}

// lockOnQuorum evaluates the quorum and moves RERATING_OPEN to LOCKED_SCORING when it is met.
// Losing the lock race to another writer counts as locked.
func (s *SecondaryService) lockOnQuorum(ctx context.Context, sr *domain.SecondaryReview, actorID string) (domain.QuorumStatus, bool, error) {
	reratings, err := s.store.ListReratings(ctx, sr.ID)
	if err != nil {
		return domain.QuorumStatus{}, false, err
	}
	participants, err := s.store.ListParticipants(ctx, sr.ID)
	if err != nil {
		return domain.QuorumStatus{}, false, err
	}

	quorum := secondary.CheckQuorum(reratings, participants, sr.Policy)
	if !quorum.Met || sr.State != domain.SecondaryReratingOpen {
		return quorum, false, nil
	}

	err = s.transition(ctx, sr, domain.SecondaryLockedScoring, actorID, "")
	switch {
	case err == nil:
		return quorum, true, nil
	case errors.Is(err, domain.ErrVersionConflict):
		s.log.WithField("secondary_review_id", sr.ID).Debug("Scoring already locked by a concurrent writer")
		return quorum, true, nil
	default:
		return quorum, false, err
	}
}

// Finalize computes the adjusted scores, records the outcome exactly once and publishes the
// final case result. Running it again on a COMPLETED review repeats only the idempotent steps.
func (s *SecondaryService) Finalize(ctx context.Context, id, actorID string) (*domain.SecondaryOutcome, error) {
	sr, err := s.store.GetSecondary(ctx, id)
	if err != nil {
		return nil, err
	}
	if sr.State != domain.SecondaryLockedScoring && sr.State != domain.SecondaryCompleted {
		return nil, domain.NewStateError(domain.StateWrongState, "secondary review %s cannot be finalized in state %s", id, sr.State)
	}

	var outcome *domain.SecondaryOutcome
	if sr.State == domain.SecondaryCompleted {
		outcome, err = s.store.GetOutcome(ctx, id)
	} else {
		outcome, err = s.complete(ctx, sr, actorID)
	}
	if err != nil {
		return nil, err
	}

	if err := s.cases.UpdateCaseStatus(ctx, sr.CaseID, domain.CaseScoredFinal); err != nil {
		return nil, fmt.Errorf("updating case status: %w", err)
	}
	result := aggregation.SecondaryResult(outcome, s.now())
	if err := s.cases.SaveResult(ctx, result); err != nil {
		return nil, fmt.Errorf("saving secondary result: %w", err)
	}

	if c, err := s.cases.GetCase(ctx, sr.CaseID); err == nil {
		s.notify(ctx, domain.Notification{
			RecipientID:       c.SubmitterID,
			Type:              domain.NotifyCaseResultReady,
			SecondaryReviewID: id,
			CaseID:            sr.CaseID,
			Payload: map[string]string{
				"source":      string(result.Source),
				"final_class": string(result.FinalClass),
			},
		})
	}
	return outcome, nil
}

// complete computes the outcome and commits it together with LOCKED_SCORING -> COMPLETED. When
// another writer moved the review first, the stored outcome is reused only if that writer
// completed it.
func (s *SecondaryService) complete(ctx context.Context, sr *domain.SecondaryReview, actorID string) (*domain.SecondaryOutcome, error) {
	outcome, err := s.buildOutcome(ctx, sr)
	if err != nil {
		return nil, err
	}

	persist := func(ctx context.Context, change domain.StateChange) error {
		return s.store.CompleteSecondary(ctx, change, outcome)
	}
	err = s.commitTransition(ctx, sr, domain.SecondaryCompleted, actorID, "", persist)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrOutcomeExists):
		current, getErr := s.store.GetSecondary(ctx, sr.ID)
		if getErr != nil {
			return nil, getErr
		}
		if current.State != domain.SecondaryCompleted {
			return nil, domain.NewStateError(domain.StateWrongState,
				"secondary review %s became %s before it could be finalized", sr.ID, current.State)
		}
		s.log.WithField("secondary_review_id", sr.ID).Debug("Outcome already recorded, reusing it")
		return s.store.GetOutcome(ctx, sr.ID)
	default:
		return nil, fmt.Errorf("recording outcome: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"secondary_review_id":   sr.ID,
		"case_id":               sr.CaseID,
		"appropriateness_mean":  outcome.Adjusted.AppropriatenessMean,
		"appropriateness_class": outcome.Adjusted.AppropriatenessClass,
		"reratings":             outcome.ReratingCount,
	}).Info("Secondary outcome recorded")
	s.record(ctx, domain.AuditEvent{
		Type:              domain.AuditOutcomeFinalized,
		CaseID:            sr.CaseID,
		SecondaryReviewID: sr.ID,
		ActorID:           actorID,
		Details: map[string]string{
			"outcome_id":            outcome.ID,
			"appropriateness_class": string(outcome.Adjusted.AppropriatenessClass),
		},
		OccurredAt: outcome.CreatedAt,
	})
	return outcome, nil
}

// buildOutcome scores the active re-ratings under the review's policy snapshot.
func (s *SecondaryService) buildOutcome(ctx context.Context, sr *domain.SecondaryReview) (*domain.SecondaryOutcome, error) {
	participants, err := s.store.ListParticipants(ctx, sr.ID)
	if err != nil {
		return nil, err
	}
	reratings, err := s.store.ListReratings(ctx, sr.ID)
	if err != nil {
		return nil, err
	}
	active := secondary.ActiveReratings(reratings, participants)

	adjusted, err := secondary.ComputeAdjusted(active, sr.Policy)
	if err != nil {
		return nil, err
	}

	activeParticipants := 0
	for _, p := range participants {
		if p.Active {
			activeParticipants++
		}
	}

	outcome := &domain.SecondaryOutcome{
		ID:                uuid.NewString(),
		SecondaryReviewID: sr.ID,
		CaseID:            sr.CaseID,
		Adjusted:          adjusted,
		Statistic:         sr.Policy.ScoringStatistic,
		ParticipantCount:  activeParticipants,
		ReratingCount:     len(active),
		CreatedAt:         s.now(),
	}
	outcome.Summary = secondary.GenerateSummary(secondary.SummaryInput{
		Adjusted:         adjusted,
		Statistic:        outcome.Statistic,
		Primary:          sr.PrimaryAggregate,
		ReratingCount:    outcome.ReratingCount,
		ParticipantCount: outcome.ParticipantCount,
	})
	return outcome, nil
}

// Cancel moves a non-terminal secondary review to CANCELLED and suppresses its pending
// notifications. The case keeps its status until an operator escalates again.
func (s *SecondaryService) Cancel(ctx context.Context, id, actorID, note string) (*domain.SecondaryReview, error) {
	sr, err := s.store.GetSecondary(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, sr, domain.SecondaryCancelled, actorID, note); err != nil {
		return nil, conflictAsState(err, id)
	}
	if s.notifier != nil {
		s.notifier.Suppress(id)
	}
	return sr, nil
}

// AddPost appends a post to the forum thread
func (s *SecondaryService) AddPost(ctx context.Context, id, authorID string, in PostInput) (*domain.ForumPost, error) {
	sr, err := s.store.GetSecondary(ctx, id)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	thread, err := s.store.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}

	author, _ := secondary.FindParticipant(participants, authorID)
	post := &domain.ForumPost{
		ID:        uuid.NewString(),
		ThreadID:  thread.ID,
		AuthorID:  authorID,
		Type:      in.Type,
		Body:      strings.TrimSpace(in.Body),
		ReplyToID: in.ReplyToID,
		CreatedAt: s.now(),
	}

	var replyTo *domain.ForumPost
	if in.ReplyToID != "" {
		replyTo, err = s.store.GetPost(ctx, thread.ID, in.ReplyToID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.NewValidationError("reply_to_id", "does not reference a post in this thread", in.ReplyToID)
			}
			return nil, err
		}
	}
	if err := secondary.CheckPost(sr.State, author, post, replyTo); err != nil {
		return nil, err
	}

	if err := s.store.AppendPost(ctx, post); err != nil {
		return nil, fmt.Errorf("appending post: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"secondary_review_id": id,
		"post_id":             post.ID,
		"type":                post.Type,
		"seq":                 post.Seq,
	}).Debug("Forum post appended")
	return post, nil
}

// ListPosts returns the forum thread in sequence order
func (s *SecondaryService) ListPosts(ctx context.Context, id string) ([]domain.ForumPost, error) {
	thread, err := s.store.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.ListPosts(ctx, thread.ID)
}

// AssignModerator adds userID as a moderator of a non-terminal secondary review
func (s *SecondaryService) AssignModerator(ctx context.Context, id, userID, actorID string) (*domain.SecondaryParticipant, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "is required", userID)
	}
	sr, err := s.store.GetSecondary(ctx, id)
	if err != nil {
		return nil, err
	}
	if sr.State.IsTerminal() {
		return nil, domain.NewStateError(domain.StateWrongState, "secondary review %s is %s", id, sr.State)
	}

	participants, err := s.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing, ok := secondary.FindParticipant(participants, userID); ok {
		if existing.Role == domain.RoleModerator && existing.Active {
			return existing, nil
		}
		return nil, domain.NewValidationError("user_id", "already participates in this secondary review", userID)
	}

	moderator := domain.SecondaryParticipant{
		SecondaryReviewID: id,
		UserID:            userID,
		Role:              domain.RoleModerator,
		Active:            true,
		JoinedAt:          s.now(),
	}
	if err := s.store.AddParticipants(ctx, []domain.SecondaryParticipant{moderator}); err != nil {
		return nil, fmt.Errorf("adding moderator: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"secondary_review_id": id,
		"user_id":             userID,
	}).Info("Moderator assigned")
	s.record(ctx, domain.AuditEvent{
		Type:              domain.AuditParticipantAdded,
		CaseID:            sr.CaseID,
		SecondaryReviewID: id,
		ActorID:           actorID,
		Details:           map[string]string{"user_id": userID, "role": string(domain.RoleModerator)},
		OccurredAt:        moderator.JoinedAt,
	})
	return &moderator, nil
}

// DeactivateParticipant removes a participant from the quorum and the forum. Their re-rating is
// kept but no longer counts. During re-rating the quorum is re-checked, since a deactivated
// original reviewer is no longer awaited.
func (s *SecondaryService) DeactivateParticipant(ctx context.Context, id, userID, actorID string) error {
	sr, err := s.store.GetSecondary(ctx, id)
	if err != nil {
		return err
	}
	if sr.State.IsTerminal() || sr.State == domain.SecondaryLockedScoring {
		return domain.NewStateError(domain.StateWrongState, "participants of %s are frozen in state %s", id, sr.State)
	}

	now := s.now()
	if err := s.store.DeactivateParticipant(ctx, id, userID, now); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"secondary_review_id": id,
		"user_id":             userID,
	}).Info("Participant deactivated")
	s.record(ctx, domain.AuditEvent{
		Type:              domain.AuditParticipantRemoved,
		CaseID:            sr.CaseID,
		SecondaryReviewID: id,
		ActorID:           actorID,
		Details:           map[string]string{"user_id": userID},
		OccurredAt:        now,
	})

	if sr.State == domain.SecondaryReratingOpen {
		if _, _, err := s.lockOnQuorum(ctx, sr, actorID); err != nil {
			return err
		}
	}
	return nil
}

// EditSummary replaces the outcome summary. Only an active moderator may edit, and only once the
// review is COMPLETED.
func (s *SecondaryService) EditSummary(ctx context.Context, id, editorID, summary string) (*domain.SecondaryOutcome, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, domain.NewValidationError("summary", "is required", summary)
	}
	sr, err := s.store.GetSecondary(ctx, id)
	if err != nil {
		return nil, err
	}
	if sr.State != domain.SecondaryCompleted {
		return nil, domain.NewStateError(domain.StateWrongState, "summary of %s can only be edited once completed", id)
	}

	participants, err := s.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	editor, ok := secondary.FindParticipant(participants, editorID)
	if !ok || !editor.Active || editor.Role != domain.RoleModerator {
		return nil, domain.NewStateError(domain.StateForbidden, "only an active moderator may edit the summary")
	}

	now := s.now()
	if err := s.store.UpdateOutcomeSummary(ctx, id, summary, editorID, now); err != nil {
		return nil, err
	}

	s.record(ctx, domain.AuditEvent{
		Type:              domain.AuditSummaryEdited,
		CaseID:            sr.CaseID,
		SecondaryReviewID: id,
		ActorID:           editorID,
		OccurredAt:        now,
	})
	return s.store.GetOutcome(ctx, id)
}

// Get assembles the read model of a secondary review.
func (s *SecondaryService) Get(ctx context.Context, id string) (*SecondaryView, error) {
	sr, err := s.store.GetSecondary(ctx, id)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	thread, err := s.store.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	reratings, err := s.store.ListReratings(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &SecondaryView{
		Review:       sr,
		Participants: participants,
		Thread:       thread,
		Reratings:    reratings,
		Quorum:       secondary.CheckQuorum(reratings, participants, sr.Policy),
	}
	if sr.State == domain.SecondaryCompleted {
		outcome, err := s.store.GetOutcome(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		view.Outcome = outcome
	}
	return view, nil
}

// GetForCase returns the active secondary review of a case.
func (s *SecondaryService) GetForCase(ctx context.Context, caseID string) (*SecondaryView, error) {
	sr, err := s.store.GetActiveSecondaryForCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, sr.ID)
}

func (s *SecondaryService) record(ctx context.Context, event domain.AuditEvent) {
	recordAudit(ctx, s.audit, s.log, event)
}

func (s *SecondaryService) notify(ctx context.Context, n domain.Notification) {
	if s.notifier == nil || n.RecipientID == "" {
		return
	}
	n.CreatedAt = s.now()
	s.notifier.Dispatch(ctx, n)
}

func joinReasons(reasons []domain.TriggerReason) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
