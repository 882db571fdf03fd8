package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spine-review-engine/internal/domain"
)

// MemoryStore keeps the whole engine state in process. It honours the same conditional
// write semantics as the Postgres repositories and hands out copies, never its own records.
type MemoryStore struct {
	mu sync.Mutex

	cases      map[string]domain.Case
	reviews    map[string]domain.Review
	aggregates map[string]domain.CaseAggregate
	results    map[string]map[domain.ResultSource]domain.CaseResult

	secondaries  map[string]domain.SecondaryReview
	participants map[string][]domain.SecondaryParticipant
	threads      map[string]domain.ForumThread // keyed by secondary review ID
	posts        map[string][]domain.ForumPost // keyed by thread ID
	reratings    map[string]map[string]domain.SecondaryRerating
	outcomes     map[string]domain.SecondaryOutcome

	candidates map[string]domain.Candidate
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:        make(map[string]domain.Case),
		reviews:      make(map[string]domain.Review),
		aggregates:   make(map[string]domain.CaseAggregate),
		results:      make(map[string]map[domain.ResultSource]domain.CaseResult),
		secondaries:  make(map[string]domain.SecondaryReview),
		participants: make(map[string][]domain.SecondaryParticipant),
		threads:      make(map[string]domain.ForumThread),
		posts:        make(map[string][]domain.ForumPost),
		reratings:    make(map[string]map[string]domain.SecondaryRerating),
		outcomes:     make(map[string]domain.SecondaryOutcome),
		candidates:   make(map[string]domain.Candidate),
	}
}

// clone deep-copies v through its JSON form. Fields tagged json:"-" are restored by callers.
func clone[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory store: cloning %T: %v", v, err))
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("memory store: cloning %T: %v", v, err))
	}
	return out
}

func cloneAggregate(agg domain.CaseAggregate) domain.CaseAggregate {
	out := clone(agg)
	out.Version = agg.Version
	out.UpdatedAt = agg.UpdatedAt
	return out
}

func cloneSecondary(sr domain.SecondaryReview) domain.SecondaryReview {
	out := clone(sr)
	out.Version = sr.Version
	out.PrimaryAggregate = cloneAggregate(sr.PrimaryAggregate)
	return out
}

// CreateCase stores a case
func (s *MemoryStore) CreateCase(_ context.Context, c *domain.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cases[c.ID]; ok {
		return fmt.Errorf("case %s: %w", c.ID, domain.ErrAlreadyExists)
	}
	if c.Status == "" {
		c.Status = domain.CaseSubmitted
	}
	c.UpdatedAt = time.Now().UTC()
	s.cases[c.ID] = clone(*c)
	return nil
}

func (s *MemoryStore) GetCase(_ context.Context, caseID string) (*domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("case not found: %w", domain.ErrNotFound)
	}
	out := clone(c)
	return &out, nil
}

func (s *MemoryStore) UpdateCaseStatus(_ context.Context, caseID string, status domain.CaseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("case not found: %w", domain.ErrNotFound)
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	s.cases[caseID] = c
	return nil
}

func (s *MemoryStore) CreateReview(_ context.Context, review *domain.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cases[review.CaseID]; !ok {
		return fmt.Errorf("case not found: %w", domain.ErrNotFound)
	}
	if _, ok := s.reviews[review.ID]; ok {
		return fmt.Errorf("review %s: %w", review.ID, domain.ErrAlreadyExists)
	}
	for _, existing := range s.reviews {
		if existing.CaseID == review.CaseID && existing.ReviewerID == review.ReviewerID {
			return fmt.Errorf("reviewer %s on case %s: %w", review.ReviewerID, review.CaseID, domain.ErrAlreadyExists)
		}
	}
	s.reviews[review.ID] = clone(*review)
	return nil
}

func (s *MemoryStore) GetReview(_ context.Context, reviewID string) (*domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	review, ok := s.reviews[reviewID]
	if !ok {
		return nil, fmt.Errorf("review not found: %w", domain.ErrNotFound)
	}
	out := clone(review)
	return &out, nil
}

func (s *MemoryStore) UpdateReview(_ context.Context, review *domain.Review, expected domain.ReviewStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.reviews[review.ID]
	if !ok {
		return fmt.Errorf("review not found: %w", domain.ErrNotFound)
	}
	if stored.Status != expected {
		return fmt.Errorf("review %s is no longer %s: %w", review.ID, expected, domain.ErrVersionConflict)
	}
	updated := clone(*review)
	updated.CaseID = stored.CaseID
	updated.ReviewerID = stored.ReviewerID
	updated.AssignedAt = stored.AssignedAt
	s.reviews[review.ID] = updated
	return nil
}

func (s *MemoryStore) ListReviews(_ context.Context, caseID string) ([]domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reviews []domain.Review
	for _, review := range s.reviews {
		if review.CaseID == caseID {
			reviews = append(reviews, clone(review))
		}
	}
	sort.Slice(reviews, func(i, j int) bool {
		if reviews[i].ReviewerID != reviews[j].ReviewerID {
			return reviews[i].ReviewerID < reviews[j].ReviewerID
		}
		return reviews[i].ID < reviews[j].ID
	})
	return reviews, nil
}

func (s *MemoryStore) GetAggregate(_ context.Context, caseID string) (*domain.CaseAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.aggregates[caseID]
	if !ok {
		return nil, fmt.Errorf("aggregate not found: %w", domain.ErrNotFound)
	}
	out := cloneAggregate(agg)
	return &out, nil
}

func (s *MemoryStore) SaveAggregate(_ context.Context, agg *domain.CaseAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.aggregates[agg.CaseID]
	switch {
	case agg.Version == 0 && exists:
		return fmt.Errorf("aggregate for case %s at version 0: %w", agg.CaseID, domain.ErrVersionConflict)
	case agg.Version != 0 && (!exists || stored.Version != agg.Version):
		return fmt.Errorf("aggregate for case %s at version %d: %w", agg.CaseID, agg.Version, domain.ErrVersionConflict)
	}

	agg.Version++
	agg.UpdatedAt = time.Now().UTC()
	s.aggregates[agg.CaseID] = cloneAggregate(*agg)
	return nil
}

func (s *MemoryStore) SaveResult(_ context.Context, result *domain.CaseResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.results[result.CaseID] == nil {
		s.results[result.CaseID] = make(map[domain.ResultSource]domain.CaseResult)
	}
	s.results[result.CaseID][result.Source] = clone(*result)
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, caseID string) (*domain.CaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, source := range []domain.ResultSource{domain.ResultSourceSecondary, domain.ResultSourcePrimary} {
		if result, ok := s.results[caseID][source]; ok {
			out := clone(result)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("case result not found: %w", domain.ErrNotFound)
}

func (s *MemoryStore) CreateSecondary(_ context.Context, sr *domain.SecondaryReview, thread *domain.ForumThread, participants []domain.SecondaryParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.secondaries {
		if existing.CaseID == sr.CaseID && existing.State != domain.SecondaryCancelled {
			return fmt.Errorf("case %s: %w", sr.CaseID, domain.ErrActiveSecondaryExists)
		}
	}
	if _, ok := s.secondaries[sr.ID]; ok {
		return fmt.Errorf("secondary review %s: %w", sr.ID, domain.ErrAlreadyExists)
	}

	sr.Version = 1
	s.secondaries[sr.ID] = cloneSecondary(*sr)
	s.threads[sr.ID] = clone(*thread)
	s.addParticipantsLocked(participants)
	return nil
}

func (s *MemoryStore) GetSecondary(_ context.Context, id string) (*domain.SecondaryReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.secondaries[id]
	if !ok {
		return nil, fmt.Errorf("secondary review not found: %w", domain.ErrNotFound)
	}
	out := cloneSecondary(sr)
	return &out, nil
}

func (s *MemoryStore) GetActiveSecondaryForCase(_ context.Context, caseID string) (*domain.SecondaryReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sr := range s.secondaries {
		if sr.CaseID == caseID && sr.State != domain.SecondaryCancelled {
			out := cloneSecondary(sr)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("active secondary review not found: %w", domain.ErrNotFound)
}

func (s *MemoryStore) TransitionSecondary(_ context.Context, change domain.StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTransitionLocked(change); err != nil {
		return err
	}
	s.applyTransitionLocked(change)
	return nil
}

func (s *MemoryStore) TransitionWithParticipants(_ context.Context, change domain.StateChange, participants []domain.SecondaryParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTransitionLocked(change); err != nil {
		return err
	}
	s.applyTransitionLocked(change)
	s.addParticipantsLocked(participants)
	return nil
}

func (s *MemoryStore) checkTransitionLocked(change domain.StateChange) error {
	sr, ok := s.secondaries[change.SecondaryReviewID]
	if !ok {
		return fmt.Errorf("secondary review not found: %w", domain.ErrNotFound)
	}
	if sr.State != change.From {
		return fmt.Errorf("secondary review %s is no longer %s: %w", change.SecondaryReviewID, change.From, domain.ErrVersionConflict)
	}
	return nil
}

func (s *MemoryStore) applyTransitionLocked(change domain.StateChange) {
	sr := s.secondaries[change.SecondaryReviewID]
	sr.Apply(change)
	s.secondaries[sr.ID] = sr

	if change.To == domain.SecondaryReratingOpen || change.To == domain.SecondaryCancelled {
		if thread, ok := s.threads[sr.ID]; ok && thread.ClosedAt == nil {
			at := change.At
			thread.ClosedAt = &at
			s.threads[sr.ID] = thread
		}
	}
}

func (s *MemoryStore) addParticipantsLocked(participants []domain.SecondaryParticipant) {
	for _, p := range participants {
		existing := s.participants[p.SecondaryReviewID]
		if _, found := findParticipant(existing, p.UserID); found {
			continue
		}
		s.participants[p.SecondaryReviewID] = append(existing, clone(p))
	}
}

func findParticipant(participants []domain.SecondaryParticipant, userID string) (int, bool) {
	for i := range participants {
		if participants[i].UserID == userID {
			return i, true
		}
	}
	return -1, false
}

func (s *MemoryStore) AddParticipants(_ context.Context, participants []domain.SecondaryParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addParticipantsLocked(participants)
	return nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, secondaryReviewID string) ([]domain.SecondaryParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.SecondaryParticipant
	for _, p := range s.participants[secondaryReviewID] {
		out = append(out, clone(p))
	}
	return out, nil
}

func (s *MemoryStore) DeactivateParticipant(_ context.Context, secondaryReviewID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	participants := s.participants[secondaryReviewID]
	i, ok := findParticipant(participants, userID)
	if !ok {
		return fmt.Errorf("participant not found: %w", domain.ErrNotFound)
	}
	participants[i].Active = false
	if participants[i].DeactivatedAt == nil {
		participants[i].DeactivatedAt = &at
	}
	return nil
}

func (s *MemoryStore) GetThread(_ context.Context, secondaryReviewID string) (*domain.ForumThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[secondaryReviewID]
	if !ok {
		return nil, fmt.Errorf("forum thread not found: %w", domain.ErrNotFound)
	}
	out := clone(thread)
	return &out, nil
}

func (s *MemoryStore) threadExistsLocked(threadID string) bool {
	for _, thread := range s.threads {
		if thread.ID == threadID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) AppendPost(_ context.Context, post *domain.ForumPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.threadExistsLocked(post.ThreadID) {
		return fmt.Errorf("forum thread not found: %w", domain.ErrNotFound)
	}
	post.Seq = len(s.posts[post.ThreadID]) + 1
	s.posts[post.ThreadID] = append(s.posts[post.ThreadID], clone(*post))
	return nil
}

func (s *MemoryStore) GetPost(_ context.Context, threadID, postID string) (*domain.ForumPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, post := range s.posts[threadID] {
		if post.ID == postID {
			out := clone(post)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("forum post not found: %w", domain.ErrNotFound)
}

func (s *MemoryStore) ListPosts(_ context.Context, threadID string) ([]domain.ForumPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ForumPost
	for _, post := range s.posts[threadID] {
		out = append(out, clone(post))
	}
	return out, nil
}

func (s *MemoryStore) UpsertRerating(_ context.Context, rerating *domain.SecondaryRerating) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.secondaries[rerating.SecondaryReviewID]
	if !ok {
		return fmt.Errorf("secondary review not found: %w", domain.ErrNotFound)
	}
	if sr.State != domain.SecondaryReratingOpen {
		return fmt.Errorf("secondary review %s is %s: %w", sr.ID, sr.State, domain.ErrVersionConflict)
	}

	byParticipant := s.reratings[sr.ID]
	if byParticipant == nil {
		byParticipant = make(map[string]domain.SecondaryRerating)
		s.reratings[sr.ID] = byParticipant
	}
	if existing, ok := byParticipant[rerating.ParticipantID]; ok {
		rerating.SubmittedAt = existing.SubmittedAt
	} else {
		rerating.SubmittedAt = rerating.UpdatedAt
	}
	byParticipant[rerating.ParticipantID] = clone(*rerating)
	return nil
}

func (s *MemoryStore) ListReratings(_ context.Context, secondaryReviewID string) ([]domain.SecondaryRerating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.SecondaryRerating
	for _, rr := range s.reratings[secondaryReviewID] {
		out = append(out, clone(rr))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

func (s *MemoryStore) CompleteSecondary(_ context.Context, change domain.StateChange, outcome *domain.SecondaryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTransitionLocked(change); err != nil {
		return err
	}
	if _, ok := s.outcomes[outcome.SecondaryReviewID]; ok {
		return fmt.Errorf("secondary review %s: %w", outcome.SecondaryReviewID, domain.ErrOutcomeExists)
	}
	s.applyTransitionLocked(change)
	s.outcomes[outcome.SecondaryReviewID] = clone(*outcome)
	return nil
}

func (s *MemoryStore) GetOutcome(_ context.Context, secondaryReviewID string) (*domain.SecondaryOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome, ok := s.outcomes[secondaryReviewID]
	if !ok {
		return nil, fmt.Errorf("secondary outcome not found: %w", domain.ErrNotFound)
	}
	out := clone(outcome)
	return &out, nil
}

func (s *MemoryStore) UpdateOutcomeSummary(_ context.Context, secondaryReviewID, summary, editorID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome, ok := s.outcomes[secondaryReviewID]
	if !ok {
		return fmt.Errorf("secondary outcome not found: %w", domain.ErrNotFound)
	}
	outcome.Summary = summary
	outcome.SummaryEditedBy = editorID
	outcome.SummaryEditedAt = &at
	s.outcomes[secondaryReviewID] = outcome
	return nil
}

// UpsertCandidate adds or replaces a roster entry
func (s *MemoryStore) UpsertCandidate(_ context.Context, c domain.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.candidates[c.UserID] = clone(c)
	return nil
}

func (s *MemoryStore) ListCandidates(_ context.Context) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, clone(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

var (
	_ domain.CaseStore      = (*MemoryStore)(nil)
	_ domain.SecondaryStore = (*MemoryStore)(nil)
	_ domain.RosterProvider = (*MemoryStore)(nil)
	_ domain.CaseStore      = (*CaseRepository)(nil)
	_ domain.SecondaryStore = (*SecondaryRepository)(nil)
	_ domain.RosterProvider = (*RosterRepository)(nil)
)
