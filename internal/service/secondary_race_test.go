package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spine-review-engine/internal/domain"
	"github.com/spine-review-engine/internal/repository"
)

// interleavingStore runs a hook against the underlying store right before selected writes, so a
// test can place a competing writer between a service's read and its write.
type interleavingStore struct {
	*repository.MemoryStore
	mu sync.Mutex

	beforeComplete   func(ctx context.Context, change domain.StateChange)
	beforeTransition func(ctx context.Context, change domain.StateChange)
	beforeUpsert     func(ctx context.Context, rerating *domain.SecondaryRerating)
	enrollFailures   int
}

var errTransientWrite = errors.New("transient write failure")

// once returns the hook and clears it, so each interleaving fires a single time.
func (s *interleavingStore) once(hook *func(ctx context.Context, change domain.StateChange)) func(ctx context.Context, change domain.StateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := *hook
	*hook = nil
	return h
}

func (s *interleavingStore) CompleteSecondary(ctx context.Context, change domain.StateChange, outcome *domain.SecondaryOutcome) error {
	if h := s.once(&s.beforeComplete); h != nil {
		h(ctx, change)
	}
	return s.MemoryStore.CompleteSecondary(ctx, change, outcome)
}

func (s *interleavingStore) TransitionSecondary(ctx context.Context, change domain.StateChange) error {
	if change.To == domain.SecondaryLockedScoring {
		if h := s.once(&s.beforeTransition); h != nil {
			h(ctx, change)
		}
	}
	return s.MemoryStore.TransitionSecondary(ctx, change)
}

func (s *interleavingStore) TransitionWithParticipants(ctx context.Context, change domain.StateChange, participants []domain.SecondaryParticipant) error {
	s.mu.Lock()
	fail := s.enrollFailures > 0
	if fail {
		s.enrollFailures--
	}
	s.mu.Unlock()
	if fail {
		return errTransientWrite
	}
	return s.MemoryStore.TransitionWithParticipants(ctx, change, participants)
}

func (s *interleavingStore) UpsertRerating(ctx context.Context, rerating *domain.SecondaryRerating) error {
	s.mu.Lock()
	h := s.beforeUpsert
	s.beforeUpsert = nil
	s.mu.Unlock()
	if h != nil {
		h(ctx, rerating)
	}
	return s.MemoryStore.UpsertRerating(ctx, rerating)
}

// over returns a secondary service sharing the fixture's collaborators but writing through store.
func (f *fixture) over(store domain.SecondaryStore) *SecondaryService {
	return NewSecondaryService(f.store, store, f.store, f.dispatcher, f.audit, f.secondary.policy, f.secondary.log).
		WithClock(f.secondary.now).
		WithRandom(f.secondary.rng)
}

// quickPolicy locks scoring once total re-ratings reach total, with no peers required.
func quickPolicy(total int) domain.Policy {
	policy := domain.DefaultPolicy()
	policy.PeerCohortSize = 0
	policy.MinTotalReratings = total
	policy.MinPeerReratings = 0
	policy.RequireOriginalReviewers = false
	return policy
}

// reratingOpen escalates case-1 and walks the secondary review to RERATING_OPEN.
func reratingOpen(t *testing.T, f *fixture) *domain.SecondaryReview {
	t.Helper()
	ctx := context.Background()
	sr := escalatedCase(t, f)
	_, err := f.secondary.OpenForum(ctx, sr.ID, "admin")
	require.NoError(t, err)
	opened, err := f.secondary.OpenRerating(ctx, sr.ID, "admin")
	require.NoError(t, err)
	return opened
}

// lockedScoring walks case-1 to LOCKED_SCORING with a single re-rating.
func lockedScoring(t *testing.T, f *fixture) *domain.SecondaryReview {
	t.Helper()
	sr := reratingOpen(t, f)
	res, err := f.secondary.SubmitRerating(context.Background(), sr.ID, "rev-1", rerate(8, intp(8)))
	require.NoError(t, err)
	require.True(t, res.Locked)
	return sr
}

func TestSecondaryService_FinalizeLosesToCancel(t *testing.T) {
	f := newFixture(t, quickPolicy(1))
	ctx := context.Background()
	sr := lockedScoring(t, f)

	store := &interleavingStore{MemoryStore: f.store}
	store.beforeComplete = func(ctx context.Context, change domain.StateChange) {
		require.NoError(t, f.store.TransitionSecondary(ctx, domain.StateChange{
			SecondaryReviewID: change.SecondaryReviewID,
			From:              domain.SecondaryLockedScoring,
			To:                domain.SecondaryCancelled,
			At:                fixedNow,
			Note:              "withdrawn by submitter",
		}))
	}

	// Act
	outcome, err := f.over(store).Finalize(ctx, sr.ID, "mod-1")

	// Assert
	assert.Nil(t, outcome)
	assert.Equal(t, domain.StateWrongState, domain.StateErrorCode(err))

	current, err := f.store.GetSecondary(ctx, sr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SecondaryCancelled, current.State)

	_, err = f.store.GetOutcome(ctx, sr.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	c, err := f.store.GetCase(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CaseSecondaryReview, c.Status)

	_, err = f.reviews.GetResult(ctx, "case-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, f.audit.count(domain.AuditOutcomeFinalized))
	assert.Empty(t, f.dispatcher.recipients(domain.NotifyCaseResultReady))
}

func TestSecondaryService_OpenForumRetriesAfterFailedEnrollment(t *testing.T) {
	f := newFixture(t, lifecyclePolicy())
	f.seedRoster(t, expert("peer-1", "org-b"), expert("peer-2", "org-c"), expert("peer-3", "org-b"))
	ctx := context.Background()
	sr := escalatedCase(t, f)

	store := &interleavingStore{MemoryStore: f.store, enrollFailures: 1}
	svc := f.over(store)

	// Act
	_, err := svc.OpenForum(ctx, sr.ID, "admin")

	// Assert
	require.ErrorIs(t, err, errTransientWrite)
	current, err := f.store.GetSecondary(ctx, sr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SecondaryCreated, current.State)
	participants, err := f.store.ListParticipants(ctx, sr.ID)
	require.NoError(t, err)
	assert.Len(t, participants, domain.MinValidReviews)
	assert.Empty(t, f.dispatcher.recipients(domain.NotifyPeerInvitation))

	// Act
	opened, err := svc.OpenForum(ctx, sr.ID, "admin")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.SecondaryForumOpen, opened.State)
	participants, err = f.store.ListParticipants(ctx, sr.ID)
	require.NoError(t, err)
	var peers []string
	for _, p := range participants {
		if p.Role == domain.RolePeerSurgeon {
			peers = append(peers, p.UserID)
		}
	}
	assert.Len(t, peers, 2)
	assert.ElementsMatch(t, peers, f.dispatcher.recipients(domain.NotifyPeerInvitation))
	assert.Equal(t, 1, f.audit.transitionsTo(domain.SecondaryForumOpen))
}

func TestSecondaryService_ConcurrentQuorum(t *testing.T) {
	t.Run("simultaneous final re-ratings lock once", func(t *testing.T) {
		f := newFixture(t, quickPolicy(domain.MinValidReviews))
		ctx := context.Background()
		sr := reratingOpen(t, f)

		var wg sync.WaitGroup
		start := make(chan struct{})
		results := make([]*ReratingResult, domain.MinValidReviews)
		errs := make([]error, domain.MinValidReviews)
		for i := 0; i < domain.MinValidReviews; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				results[i], errs[i] = f.secondary.SubmitRerating(ctx, sr.ID, fmt.Sprintf("rev-%d", i+1), rerate(7, intp(7)))
			}(i)
		}

		// Act
		close(start)
		wg.Wait()

		// Assert
		locked := 0
		for i := range errs {
			require.NoError(t, errs[i])
			if results[i].Locked {
				locked++
			}
		}
		assert.GreaterOrEqual(t, locked, 1)
		assert.Equal(t, 1, f.audit.transitionsTo(domain.SecondaryLockedScoring))

		current, err := f.store.GetSecondary(ctx, sr.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SecondaryLockedScoring, current.State)
	})

	t.Run("lock lost to a concurrent writer counts as locked", func(t *testing.T) {
		f := newFixture(t, quickPolicy(1))
		ctx := context.Background()
		sr := reratingOpen(t, f)

		store := &interleavingStore{MemoryStore: f.store}
		store.beforeTransition = func(ctx context.Context, change domain.StateChange) {
			require.NoError(t, f.store.TransitionSecondary(ctx, change))
		}

		// Act
		res, err := f.over(store).SubmitRerating(ctx, sr.ID, "rev-1", rerate(7, intp(7)))

		// Assert
		require.NoError(t, err)
		assert.True(t, res.Locked)
		assert.True(t, res.Quorum.Met)
		assert.Zero(t, f.audit.transitionsTo(domain.SecondaryLockedScoring))

		var debug []string
		for _, entry := range f.logHook.AllEntries() {
			debug = append(debug, entry.Message)
		}
		assert.Contains(t, debug, "Scoring already locked by a concurrent writer")
	})

	t.Run("re-rating after a concurrent lock is rejected", func(t *testing.T) {
		f := newFixture(t, quickPolicy(2))
		ctx := context.Background()
		sr := reratingOpen(t, f)

		store := &interleavingStore{MemoryStore: f.store}
		store.beforeUpsert = func(ctx context.Context, _ *domain.SecondaryRerating) {
			require.NoError(t, f.store.TransitionSecondary(ctx, domain.StateChange{
				SecondaryReviewID: sr.ID,
				From:              domain.SecondaryReratingOpen,
				To:                domain.SecondaryLockedScoring,
				At:                fixedNow,
			}))
		}

		// Act
		res, err := f.over(store).SubmitRerating(ctx, sr.ID, "rev-2", rerate(4, nil))

		// Assert
		assert.Nil(t, res)
		assert.Equal(t, domain.StateReratingLocked, domain.StateErrorCode(err))
		reratings, err := f.store.ListReratings(ctx, sr.ID)
		require.NoError(t, err)
		assert.Empty(t, reratings)
	})
}

func TestSecondaryService_ConcurrentFinalize(t *testing.T) {
	t.Run("parallel finalizers share one outcome", func(t *testing.T) {
		f := newFixture(t, quickPolicy(1))
		ctx := context.Background()
		sr := lockedScoring(t, f)

		const finalizers = 4
		var wg sync.WaitGroup
		start := make(chan struct{})
		outcomes := make([]*domain.SecondaryOutcome, finalizers)
		errs := make([]error, finalizers)
		for i := 0; i < finalizers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				outcomes[i], errs[i] = f.secondary.Finalize(ctx, sr.ID, "mod-1")
			}(i)
		}

		// Act
		close(start)
		wg.Wait()

		// Assert
		stored, err := f.store.GetOutcome(ctx, sr.ID)
		require.NoError(t, err)
		for i := range errs {
			require.NoError(t, errs[i])
			assert.Equal(t, stored.ID, outcomes[i].ID)
		}
		assert.Equal(t, 1, f.audit.count(domain.AuditOutcomeFinalized))
		assert.Equal(t, 1, f.audit.transitionsTo(domain.SecondaryCompleted))

		c, err := f.store.GetCase(ctx, "case-1")
		require.NoError(t, err)
		assert.Equal(t, domain.CaseScoredFinal, c.Status)
	})

	t.Run("losing finalizer reuses the stored outcome", func(t *testing.T) {
		f := newFixture(t, quickPolicy(1))
		ctx := context.Background()
		sr := lockedScoring(t, f)

		winner := &domain.SecondaryOutcome{
			ID:                "outcome-winner",
			SecondaryReviewID: sr.ID,
			CaseID:            "case-1",
			Adjusted:          domain.AdjustedScores{AppropriatenessMean: 8, AppropriatenessClass: domain.ClassAppropriate},
			Statistic:         domain.StatisticMean,
			ReratingCount:     1,
			CreatedAt:         fixedNow,
		}
		store := &interleavingStore{MemoryStore: f.store}
		store.beforeComplete = func(ctx context.Context, change domain.StateChange) {
			require.NoError(t, f.store.CompleteSecondary(ctx, change, winner))
		}

		// Act
		outcome, err := f.over(store).Finalize(ctx, sr.ID, "mod-1")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "outcome-winner", outcome.ID)
		assert.Zero(t, f.audit.count(domain.AuditOutcomeFinalized))

		result, err := f.reviews.GetResult(ctx, "case-1")
		require.NoError(t, err)
		assert.Equal(t, domain.ResultSourceSecondary, result.Source)
	})
}
