package secondary

import (
	"fmt"
	"strings"
	"testing"

	"github.com/spine-review-engine/internal/aggregation"
	"github.com/spine-review-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

var allStates = []domain.SecondaryState{
	domain.SecondaryCreated,
	domain.SecondaryForumOpen,
	domain.SecondaryReratingOpen,
	domain.SecondaryLockedScoring,
	domain.SecondaryCompleted,
	domain.SecondaryCancelled,
}

func TestTransition_Table(t *testing.T) {
	allowed := map[string]bool{
		"CREATED->FORUM_OPEN":           true,
		"FORUM_OPEN->RERATING_OPEN":     true,
		"RERATING_OPEN->LOCKED_SCORING": true,
		"LOCKED_SCORING->COMPLETED":     true,
		"CREATED->CANCELLED":            true,
		"FORUM_OPEN->CANCELLED":         true,
		"RERATING_OPEN->CANCELLED":      true,
		"LOCKED_SCORING->CANCELLED":     true,
	}

	for _, from := range allStates {
		for _, to := range allStates {
			key := fmt.Sprintf("%s->%s", from, to)
			t.Run(key, func(t *testing.T) {
				got, err := Transition(from, to)
				if allowed[key] {
					require.NoError(t, err)
					assert.Equal(t, to, got)
					assert.True(t, CanTransition(from, to))
					return
				}
				require.Error(t, err)
				assert.Equal(t, domain.StateInvalidTransition, domain.StateErrorCode(err))
				assert.Equal(t, from, got)
				assert.False(t, CanTransition(from, to))
			})
		}
	}
}

func TestTransition_SkipAndTerminal(t *testing.T) {
	_, err := Transition(domain.SecondaryForumOpen, domain.SecondaryLockedScoring)
	assert.True(t, domain.IsStateError(err))

	for _, to := range allStates {
		_, err := Transition(domain.SecondaryCompleted, to)
		assert.Error(t, err, "COMPLETED -> %s", to)
		_, err = Transition(domain.SecondaryCancelled, to)
		assert.Error(t, err, "CANCELLED -> %s", to)
	}
}

func TestSequenceSource(t *testing.T) {
	src := &SequenceSource{Values: []int{7, -3}}

	assert.Equal(t, 2, src.Intn(5))
	assert.Equal(t, 3, src.Intn(5))
	assert.Equal(t, 1, src.Intn(3))
	assert.Equal(t, 0, src.Intn(1))
}

func TestCryptoSourceRange(t *testing.T) {
	var src CryptoSource
	for i := 0; i < 200; i++ {
		v := src.Intn(7)
		require.True(t, v >= 0 && v < 7)
	}
	assert.Equal(t, 0, src.Intn(0))
}

func rosterFixture() []domain.Candidate {
	return []domain.Candidate{
		{UserID: "u-same-org", OrgID: "org-a", Role: domain.RoleExpertReviewer, ExpertCertified: true, Specialties: []string{"lumbar"}},
		{UserID: "u-original", OrgID: "org-b", Role: domain.RoleExpertReviewer, ExpertCertified: true, Specialties: []string{"lumbar"}},
		{UserID: "u-uncertified", OrgID: "org-c", Role: domain.RoleExpertReviewer, ExpertCertified: false, Specialties: []string{"lumbar"}},
		{UserID: "u-surgeon", OrgID: "org-c", Role: domain.RoleSurgeon, ExpertCertified: true, Specialties: []string{"lumbar"}},
		{UserID: "u-1", OrgID: "org-b", Role: domain.RoleExpertReviewer, ExpertCertified: true, Specialties: []string{"Lumbar"}},
		{UserID: "u-2", OrgID: "org-c", Role: domain.RoleExpertReviewer, ExpertCertified: true, Specialties: []string{"cervical"}},
		{UserID: "u-3", OrgID: "org-d", Role: domain.RoleExpertReviewer, ExpertCertified: true, Specialties: []string{"lumbar", "deformity"}},
		{UserID: "u-4", OrgID: "org-e", Role: domain.RoleExpertReviewer, ExpertCertified: true},
		{UserID: "u-4", OrgID: "org-e", Role: domain.RoleExpertReviewer, ExpertCertified: true},
	}
}

func TestSelectPeers_Filters(t *testing.T) {
	criteria := PeerCriteria{
		ExcludeOrgID:           "org-a",
		ExcludeUserIDs:         []string{"u-original"},
		RequireExpertCertified: true,
	}

	got := SelectPeers(rosterFixture(), 10, criteria, &SequenceSource{Values: []int{0}})

	assert.ElementsMatch(t, []string{"u-1", "u-2", "u-3", "u-4"}, got)

	criteria.Specialties = []string{"lumbar"}
	got = SelectPeers(rosterFixture(), 10, criteria, &SequenceSource{Values: []int{0}})
	assert.ElementsMatch(t, []string{"u-1", "u-3"}, got)

	criteria.RequireExpertCertified = false
	criteria.Specialties = nil
	got = SelectPeers(rosterFixture(), 10, criteria, &SequenceSource{Values: []int{0}})
	assert.ElementsMatch(t, []string{"u-uncertified", "u-surgeon", "u-1", "u-2", "u-3", "u-4"}, got)
}

func TestSelectPeers_SamplesCount(t *testing.T) {
	criteria := PeerCriteria{ExcludeOrgID: "org-a", ExcludeUserIDs: []string{"u-original"}, RequireExpertCertified: true}

	got := SelectPeers(rosterFixture(), 2, criteria, &SequenceSource{Values: []int{3, 0}})

	// pool is [u-1 u-2 u-3 u-4]; swap 0<->3 then keep slot 1.
	assert.Equal(t, []string{"u-4", "u-2"}, got)
	assert.Empty(t, SelectPeers(rosterFixture(), 0, criteria, CryptoSource{}))
}

func TestSelectPeers_NeverReturnsExcluded(t *testing.T) {
	var candidates []domain.Candidate
	for i := 0; i < 60; i++ {
		candidates = append(candidates, domain.Candidate{
			UserID:          fmt.Sprintf("user-%02d", i),
			OrgID:           fmt.Sprintf("org-%d", i%4),
			Role:            domain.RoleExpertReviewer,
			ExpertCertified: i%5 != 0,
		})
	}
	excluded := []string{"user-01", "user-02", "user-03"}
	criteria := PeerCriteria{ExcludeOrgID: "org-0", ExcludeUserIDs: excluded, RequireExpertCertified: true}

	for run := 0; run < 200; run++ {
		got := SelectPeers(candidates, 7, criteria, CryptoSource{})
		require.Len(t, got, 7)
		seen := make(map[string]bool)
		for _, id := range got {
			require.False(t, seen[id], "duplicate %s", id)
			seen[id] = true
			require.NotContains(t, excluded, id)

			var idx int
			_, err := fmt.Sscanf(id, "user-%02d", &idx)
			require.NoError(t, err)
			require.NotEqual(t, 0, idx%4, "same-org candidate %s selected", id)
			require.NotEqual(t, 0, idx%5, "uncertified candidate %s selected", id)
		}
	}
}

func TestCriteriaFor(t *testing.T) {
	c := &domain.Case{OrgID: "org-a", Specialties: []string{"lumbar"}}
	policy := domain.DefaultPolicy()

	criteria := CriteriaFor(c, []string{"r1"}, policy)
	assert.Equal(t, "org-a", criteria.ExcludeOrgID)
	assert.Empty(t, criteria.Specialties)

	policy.RequireSpecialtyMatch = true
	criteria = CriteriaFor(c, []string{"r1"}, policy)
	assert.Equal(t, []string{"lumbar"}, criteria.Specialties)
}

func participants(originals, peers int) []domain.SecondaryParticipant {
	var out []domain.SecondaryParticipant
	for i := 1; i <= originals; i++ {
		out = append(out, domain.SecondaryParticipant{UserID: fmt.Sprintf("orig-%d", i), Role: domain.RoleOriginalReviewer, Active: true})
	}
	for i := 1; i <= peers; i++ {
		out = append(out, domain.SecondaryParticipant{UserID: fmt.Sprintf("peer-%d", i), Role: domain.RolePeerSurgeon, Active: true})
	}
	return out
}

func reratingsFor(ids ...string) []domain.SecondaryRerating {
	var out []domain.SecondaryRerating
	for _, id := range ids {
		out = append(out, domain.SecondaryRerating{ParticipantID: id, Appropriateness: 5, Rationale: "r"})
	}
	return out
}

func TestCheckQuorum(t *testing.T) {
	policy := domain.DefaultPolicy()
	members := participants(2, 5)

	t.Run("two peers and two originals not met", func(t *testing.T) {
		status := CheckQuorum(reratingsFor("orig-1", "orig-2", "peer-1", "peer-2"), members, policy)

		assert.False(t, status.Met)
		assert.Equal(t, domain.QuorumCounts{Total: 4, Peer: 2, Original: 2}, status.Quorum)
		assert.Equal(t, domain.QuorumCounts{Total: 5, Peer: 3, Original: 2}, status.Required)
	})

	t.Run("three peers and two originals met", func(t *testing.T) {
		status := CheckQuorum(reratingsFor("orig-1", "orig-2", "peer-1", "peer-2", "peer-3"), members, policy)

		assert.True(t, status.Met)
		assert.True(t, status.OriginalRequired)
	})

	t.Run("missing original blocks", func(t *testing.T) {
		status := CheckQuorum(reratingsFor("orig-1", "peer-1", "peer-2", "peer-3", "peer-4"), members, policy)

		assert.False(t, status.Met)
		assert.Equal(t, 5, status.Quorum.Total)
	})

	t.Run("originals optional", func(t *testing.T) {
		p := policy
		p.RequireOriginalReviewers = false

		status := CheckQuorum(reratingsFor("orig-1", "peer-1", "peer-2", "peer-3", "peer-4"), members, p)

		assert.True(t, status.Met)
		assert.Zero(t, status.Required.Original)
	})

	t.Run("inactive participants do not count", func(t *testing.T) {
		deactivated := participants(2, 5)
		deactivated[2].Active = false // peer-1
		deactivated[1].Active = false // orig-2

		status := CheckQuorum(reratingsFor("orig-1", "orig-2", "peer-1", "peer-2", "peer-3", "peer-4"), deactivated, policy)

		assert.Equal(t, domain.QuorumCounts{Total: 4, Peer: 3, Original: 1}, status.Quorum)
		assert.Equal(t, 1, status.Required.Original)
		assert.False(t, status.Met)
	})

	t.Run("strangers and duplicates ignored", func(t *testing.T) {
		status := CheckQuorum(reratingsFor("stranger", "peer-1", "peer-1"), members, policy)

		assert.Equal(t, domain.QuorumCounts{Total: 1, Peer: 1}, status.Quorum)
	})
}

func TestComputeAdjusted(t *testing.T) {
	reratings := []domain.SecondaryRerating{
		{ParticipantID: "a", Appropriateness: 8, Necessity: intPtr(9)},
		{ParticipantID: "b", Appropriateness: 7, Necessity: intPtr(7)},
		{ParticipantID: "c", Appropriateness: 3},
		{ParticipantID: "d", Appropriateness: 8, Necessity: intPtr(8)},
	}

	t.Run("mean", func(t *testing.T) {
		adjusted, err := ComputeAdjusted(reratings, domain.DefaultPolicy())
		require.NoError(t, err)

		assert.InDelta(t, 6.5, adjusted.AppropriatenessMean, 1e-9)
		assert.Equal(t, domain.ClassUncertain, adjusted.AppropriatenessClass)
		require.NotNil(t, adjusted.NecessityMean)
		assert.InDelta(t, 8.0, *adjusted.NecessityMean, 1e-9)
		require.NotNil(t, adjusted.NecessityClass)
		assert.Equal(t, domain.ClassAppropriate, *adjusted.NecessityClass)
	})

	t.Run("median", func(t *testing.T) {
		policy := domain.DefaultPolicy()
		policy.ScoringStatistic = domain.StatisticMedian

		adjusted, err := ComputeAdjusted(reratings, policy)
		require.NoError(t, err)

		assert.Equal(t, 7.5, adjusted.AppropriatenessMean)
		assert.Equal(t, domain.ClassAppropriate, adjusted.AppropriatenessClass)
	})

	t.Run("necessity null when none supplied", func(t *testing.T) {
		adjusted, err := ComputeAdjusted([]domain.SecondaryRerating{{Appropriateness: 4}, {Appropriateness: 5}}, domain.DefaultPolicy())
		require.NoError(t, err)

		assert.Nil(t, adjusted.NecessityMean)
		assert.Nil(t, adjusted.NecessityClass)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ComputeAdjusted(nil, domain.DefaultPolicy())
		assert.ErrorIs(t, err, ErrNoReratings)
	})
}

func TestComputeAdjusted_AgreesWithPrimaryClassifier(t *testing.T) {
	scores := []int{8, 7, 6, 5, 4}
	var reviews []domain.Review
	var reratings []domain.SecondaryRerating
	for i, s := range scores {
		id := fmt.Sprintf("r%d", i)
		answers := map[domain.QuestionID]bool{}
		for _, q := range domain.AllQuestions() {
			answers[q.ID()] = true
		}
		var necessity *int
		if s >= domain.NecessityThreshold {
			necessity = intPtr(8)
		}
		reviews = append(reviews, domain.Review{ID: id, ReviewerID: id, Status: domain.ReviewSubmitted, Answers: answers, Appropriateness: intPtr(s), Necessity: necessity})
		reratings = append(reratings, domain.SecondaryRerating{ParticipantID: id, Appropriateness: s, Necessity: necessity})
	}

	primary := aggregation.Compute("case-1", reviews, false, false, domain.DefaultPolicy())
	adjusted, err := ComputeAdjusted(reratings, domain.DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, primary.AppropriatenessClass, adjusted.AppropriatenessClass)
	assert.InDelta(t, *primary.AppropriatenessMean, adjusted.AppropriatenessMean, 1e-9)
	require.NotNil(t, adjusted.NecessityClass)
	assert.Equal(t, primary.NecessityClass, *adjusted.NecessityClass)
}

func TestChangedFromPrimary(t *testing.T) {
	own := &domain.Review{
		Appropriateness: intPtr(8),
		Necessity:       intPtr(7),
		Answers:         map[domain.QuestionID]bool{domain.QuestionFusionAcceptable: true},
	}

	tests := []struct {
		name     string
		rerating domain.SecondaryRerating
		primary  *domain.Review
		class    domain.LikertClass
		want     bool
	}{
		{"original unchanged", domain.SecondaryRerating{Role: domain.RoleOriginalReviewer, Appropriateness: 8, Necessity: intPtr(7)}, own, domain.ClassUncertain, false},
		{"original new score", domain.SecondaryRerating{Role: domain.RoleOriginalReviewer, Appropriateness: 7, Necessity: intPtr(7)}, own, domain.ClassUncertain, true},
		{"original new necessity", domain.SecondaryRerating{Role: domain.RoleOriginalReviewer, Appropriateness: 8, Necessity: intPtr(9)}, own, domain.ClassUncertain, true},
		{"original flipped vote", domain.SecondaryRerating{Role: domain.RoleOriginalReviewer, Appropriateness: 8, Necessity: intPtr(7), BinaryVotes: map[domain.QuestionID]bool{domain.QuestionFusionAcceptable: false}}, own, domain.ClassUncertain, true},
		{"peer same class", domain.SecondaryRerating{Role: domain.RolePeerSurgeon, Appropriateness: 5}, nil, domain.ClassUncertain, false},
		{"peer different class", domain.SecondaryRerating{Role: domain.RolePeerSurgeon, Appropriateness: 7, Necessity: intPtr(7)}, nil, domain.ClassUncertain, true},
		{"original without primary review", domain.SecondaryRerating{Role: domain.RoleOriginalReviewer, Appropriateness: 2}, nil, domain.ClassUncertain, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChangedFromPrimary(tt.rerating, tt.primary, tt.class))
		})
	}
}

func TestGenerateSummary(t *testing.T) {
	primary := domain.CaseAggregate{
		AppropriatenessMean:  floatPtr(6.0),
		AppropriatenessClass: domain.ClassUncertain,
		NecessityMean:        floatPtr(8.0),
		NecessityClass:       domain.ClassAppropriate,
		TriggerReasons:       []domain.TriggerReason{domain.ReasonUncertainAppropriateness, domain.ReasonFusionControversy},
		BinaryResults: []domain.BinaryResult{
			{Question: domain.QuestionDiagnosis, AgreeCount: 5, Responses: 5, Tier: domain.ConcordanceHigh},
			{Question: domain.QuestionFusionAcceptable, AgreeCount: 3, Responses: 5, Tier: domain.ConcordanceIntermediate, Controversy: true},
		},
	}

	t.Run("uncertain outcome with shift", func(t *testing.T) {
		necessityClass := domain.ClassAppropriate
		in := SummaryInput{
			Adjusted: domain.AdjustedScores{
				AppropriatenessMean:  5.2,
				AppropriatenessClass: domain.ClassUncertain,
				NecessityMean:        floatPtr(7.8),
				NecessityClass:       &necessityClass,
			},
			Statistic:        domain.StatisticMean,
			Primary:          primary,
			ReratingCount:    6,
			ParticipantCount: 7,
		}

		summary := GenerateSummary(in)

		assert.Contains(t, summary, "Adjusted scores (mean of 6 re-ratings from 7 participants):")
		assert.Contains(t, summary, "- Appropriateness: 5.20 (Uncertain)")
		assert.Contains(t, summary, "- Necessity: 7.80 (Appropriate)")
		assert.Contains(t, summary, "Escalation reasons: UNCERTAIN_APPROPRIATENESS, CONTROVERSY_FUSION")
		assert.Contains(t, summary, "Is fusion an acceptable treatment for this patient? (INTERMEDIATE, 3 of 5 in agreement)")
		assert.NotContains(t, summary, "Do you agree with the diagnosis?")
		assert.Contains(t, summary, "- Appropriateness: primary 6.00 (Uncertain) -> adjusted 5.20 (Uncertain), shift -0.80")
		assert.Contains(t, summary, "- Necessity: primary 8.00 (Appropriate) -> adjusted 7.80 (Appropriate)\n")
		assert.Contains(t, summary, "Recommended next steps:")
		assert.Equal(t, summary, GenerateSummary(in), "summary must be deterministic")
	})

	t.Run("appropriate outcome has no next steps", func(t *testing.T) {
		in := SummaryInput{
			Adjusted: domain.AdjustedScores{
				AppropriatenessMean:  7.5,
				AppropriatenessClass: domain.ClassAppropriate,
			},
			Statistic:     domain.StatisticMedian,
			Primary:       primary,
			ReratingCount: 5,
		}

		summary := GenerateSummary(in)

		assert.Contains(t, summary, "median of 5 re-ratings")
		assert.Contains(t, summary, "shift +1.50")
		assert.Contains(t, summary, "- Necessity: not rated\n")
		assert.Contains(t, summary, "Necessity: primary 8.00 (Appropriate), not rated in re-rating")
		assert.NotContains(t, summary, "Recommended next steps")
	})

	t.Run("shift of exactly half a point is not reported", func(t *testing.T) {
		in := SummaryInput{
			Adjusted: domain.AdjustedScores{AppropriatenessMean: 6.5, AppropriatenessClass: domain.ClassUncertain},
			Primary:  domain.CaseAggregate{AppropriatenessMean: floatPtr(6.0), AppropriatenessClass: domain.ClassUncertain},
		}

		summary := GenerateSummary(in)

		assert.False(t, strings.Contains(summary, "shift"))
		assert.NotContains(t, summary, "Controversial items")
	})

	t.Run("inappropriate outcome", func(t *testing.T) {
		in := SummaryInput{
			Adjusted: domain.AdjustedScores{AppropriatenessMean: 2.0, AppropriatenessClass: domain.ClassInappropriate},
			Primary:  primary,
		}

		summary := GenerateSummary(in)

		assert.Contains(t, summary, "The proposed procedure is not supported by the review panel.")
	})
}

func TestCheckPost(t *testing.T) {
	moderator := &domain.SecondaryParticipant{UserID: "mod", Role: domain.RoleModerator, Active: true}
	peer := &domain.SecondaryParticipant{UserID: "peer", Role: domain.RolePeerSurgeon, Active: true}
	inactive := &domain.SecondaryParticipant{UserID: "gone", Role: domain.RolePeerSurgeon, Active: false}
	question := &domain.ForumPost{ID: "q1", ThreadID: "t1", Type: domain.PostQuestion}
	comment := &domain.ForumPost{ID: "c1", ThreadID: "t1", Type: domain.PostComment}

	post := func(author string, typ domain.PostType, replyTo string) *domain.ForumPost {
		return &domain.ForumPost{ThreadID: "t1", AuthorID: author, Type: typ, Body: "text", ReplyToID: replyTo}
	}

	assert.NoError(t, CheckPost(domain.SecondaryForumOpen, peer, post("peer", domain.PostComment, ""), nil))
	assert.NoError(t, CheckPost(domain.SecondaryForumOpen, moderator, post("mod", domain.PostModNote, ""), nil))
	assert.NoError(t, CheckPost(domain.SecondaryForumOpen, peer, post("peer", domain.PostAnswer, "q1"), question))

	err := CheckPost(domain.SecondaryReratingOpen, peer, post("peer", domain.PostComment, ""), nil)
	assert.Equal(t, domain.StateWrongState, domain.StateErrorCode(err))

	err = CheckPost(domain.SecondaryForumOpen, inactive, post("gone", domain.PostComment, ""), nil)
	assert.Equal(t, domain.StateNotParticipant, domain.StateErrorCode(err))

	err = CheckPost(domain.SecondaryForumOpen, nil, post("stranger", domain.PostComment, ""), nil)
	assert.Equal(t, domain.StateNotParticipant, domain.StateErrorCode(err))

	err = CheckPost(domain.SecondaryForumOpen, peer, post("peer", domain.PostModNote, ""), nil)
	assert.Equal(t, domain.StateForbidden, domain.StateErrorCode(err))

	err = CheckPost(domain.SecondaryForumOpen, peer, post("peer", domain.PostAnswer, ""), nil)
	assert.True(t, domain.IsValidation(err))

	err = CheckPost(domain.SecondaryForumOpen, peer, post("peer", domain.PostAnswer, "c1"), comment)
	assert.True(t, domain.IsValidation(err))

	empty := post("peer", domain.PostComment, "")
	empty.Body = "   "
	assert.True(t, domain.IsValidation(CheckPost(domain.SecondaryForumOpen, peer, empty, nil)))
}

func TestPinContext(t *testing.T) {
	agg := &domain.CaseAggregate{
		ValidCount:           5,
		AppropriatenessMean:  floatPtr(5.0),
		AppropriatenessClass: domain.ClassUncertain,
		TriggerReasons:       []domain.TriggerReason{domain.ReasonUncertainAppropriateness},
		BinaryResults: []domain.BinaryResult{
			{Question: domain.QuestionDiagnosis, Tier: domain.ConcordanceIntermediate},
			{Question: domain.QuestionSurgeryIndicated, Tier: domain.ConcordanceHigh},
		},
	}

	pinned := PinContext(agg)
	*agg.AppropriatenessMean = 9
	agg.TriggerReasons[0] = domain.ReasonFusionControversy

	assert.Equal(t, 5.0, *pinned.AppropriatenessMean)
	assert.Equal(t, []domain.TriggerReason{domain.ReasonUncertainAppropriateness}, pinned.TriggerReasons)
	assert.Len(t, pinned.ControversialItems, 1)
	assert.Equal(t, 5, pinned.ValidReviews)
}
