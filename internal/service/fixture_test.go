package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/spine-review-engine/internal/domain"
	"github.com/spine-review-engine/internal/repository"
	"github.com/spine-review-engine/internal/secondary"
)

type recordingDispatcher struct {
	mu         sync.Mutex
	sent       []domain.Notification
	suppressed []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n domain.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
}

func (d *recordingDispatcher) Suppress(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suppressed = append(d.suppressed, id)
}

func (d *recordingDispatcher) recipients(typ domain.NotificationType) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, n := range d.sent {
		if n.Type == typ {
			out = append(out, n.RecipientID)
		}
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	err    error
}

func (s *recordingSink) Record(_ context.Context, event domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []domain.AuditEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func (s *recordingSink) transitionsTo(state domain.SecondaryState) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == domain.AuditSecondaryTransition && e.ToState == string(state) {
			n++
		}
	}
	return n
}

func (s *recordingSink) count(typ domain.AuditEventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	store      *repository.MemoryStore
	reviews    *ReviewService
	secondary  *SecondaryService
	dispatcher *recordingDispatcher
	audit      *recordingSink
	logHook    *test.Hook
}

var fixedNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, policy domain.Policy, rngValues ...int) *fixture {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	store := repository.NewMemoryStore()
	dispatcher := &recordingDispatcher{}
	sink := &recordingSink{}
	clock := func() time.Time { return fixedNow }

	sec := NewSecondaryService(store, store, store, dispatcher, sink, policy, logger).
		WithClock(clock).
		WithRandom(&secondary.SequenceSource{Values: rngValues})
	rev := NewReviewService(store, sec, dispatcher, sink, policy, domain.AggregationConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, logger).WithClock(clock)

	return &fixture{
		store:      store,
		reviews:    rev,
		secondary:  sec,
		dispatcher: dispatcher,
		audit:      sink,
		logHook:    hook,
	}
}

func (f *fixture) createCase(t *testing.T, id string) *domain.Case {
	t.Helper()
	c := &domain.Case{
		ID:          id,
		SubmitterID: "surgeon-1",
		OrgID:       "org-a",
		Procedures:  []domain.ProcedureType{domain.ProcedureDecompression},
		Specialties: []string{"spine"},
	}
	require.NoError(t, f.store.CreateCase(context.Background(), c))
	return c
}

func agreeAll() map[domain.QuestionID]bool {
	answers := make(map[domain.QuestionID]bool)
	for _, q := range domain.BaseKeyQuestions() {
		answers[q.ID()] = true
	}
	return answers
}

func scores(appropriateness int) SubmitReviewInput {
	in := SubmitReviewInput{
		Answers:         agreeAll(),
		Appropriateness: intp(appropriateness),
		Comments:        "reviewed",
	}
	if appropriateness >= domain.NecessityThreshold {
		in.Necessity = intp(appropriateness)
	}
	return in
}

// submitReviews assigns and submits one review per score, reviewers named rev-1..rev-n.
func (f *fixture) submitReviews(t *testing.T, caseID string, appropriateness ...int) *domain.CaseAggregate {
	t.Helper()
	ctx := context.Background()
	var agg *domain.CaseAggregate
	for i, score := range appropriateness {
		reviewer := fmt.Sprintf("rev-%d", i+1)
		review, err := f.reviews.AssignReview(ctx, caseID, reviewer, "coordinator")
		require.NoError(t, err)
		outcome, err := f.reviews.SubmitReview(ctx, review.ID, reviewer, scores(score))
		require.NoError(t, err)
		agg = outcome.Aggregate
	}
	return agg
}

func (f *fixture) seedRoster(t *testing.T, candidates ...domain.Candidate) {
	t.Helper()
	for _, c := range candidates {
		require.NoError(t, f.store.UpsertCandidate(context.Background(), c))
	}
}

func expert(userID, orgID string) domain.Candidate {
	return domain.Candidate{
		UserID:          userID,
		OrgID:           orgID,
		Role:            domain.RoleExpertReviewer,
		ExpertCertified: true,
		Specialties:     []string{"spine"},
	}
}

func intp(v int) *int { return &v }

// conflictingStore fails the first failures aggregate writes with a version conflict.
type conflictingStore struct {
	*repository.MemoryStore
	mu       sync.Mutex
	failures int
	saves    int
}

func (s *conflictingStore) SaveAggregate(ctx context.Context, agg *domain.CaseAggregate) error {
	s.mu.Lock()
	s.saves++
	fail := s.saves <= s.failures
	s.mu.Unlock()
	if fail {
		return fmt.Errorf("aggregate %s: %w", agg.CaseID, domain.ErrVersionConflict)
	}
	return s.MemoryStore.SaveAggregate(ctx, agg)
}

var errAuditDown = errors.New("audit store unavailable")
