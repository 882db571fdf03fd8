package secondary

import (
	"errors"

	"github.com/spine-review-engine/internal/aggregation"
	"github.com/spine-review-engine/internal/domain"
)

// ErrNoReratings is returned when there is nothing to score.
var ErrNoReratings = errors.New("no re-ratings to score")

// ActiveReratings keeps the re-ratings submitted by currently active participants.
func ActiveReratings(reratings []domain.SecondaryRerating, participants []domain.SecondaryParticipant) []domain.SecondaryRerating {
	active := make(map[string]bool)
	for _, p := range participants {
		if p.Active {
			active[p.UserID] = true
		}
	}
	var out []domain.SecondaryRerating
	for _, r := range reratings {
		if active[r.ParticipantID] {
			out = append(out, r)
		}
	}
	return out
}

// ComputeAdjusted recomputes appropriateness and necessity from the re-ratings using the
// policy's scoring statistic. Necessity is nil when no re-rating supplied one.
func ComputeAdjusted(reratings []domain.SecondaryRerating, policy domain.Policy) (domain.AdjustedScores, error) {
	var appropriateness, necessity []int
	for _, r := range reratings {
		if aggregation.InRange(r.Appropriateness) {
			appropriateness = append(appropriateness, r.Appropriateness)
		}
		if r.Necessity != nil && aggregation.InRange(*r.Necessity) {
			necessity = append(necessity, *r.Necessity)
		}
	}

	mean, ok := aggregation.Central(appropriateness, policy.ScoringStatistic)
	if !ok {
		return domain.AdjustedScores{}, ErrNoReratings
	}

	adjusted := domain.AdjustedScores{
		AppropriatenessMean:  mean,
		AppropriatenessClass: aggregation.ClassifyLikert(mean),
	}
	if n, ok := aggregation.Central(necessity, policy.ScoringStatistic); ok {
		class := aggregation.ClassifyLikert(n)
		adjusted.NecessityMean = &n
		adjusted.NecessityClass = &class
	}
	return adjusted, nil
}

// ChangedFromPrimary reports whether a re-rating departs from the primary pass. An original
// reviewer is compared against their own primary review; anyone else is compared by class
// against the primary appropriateness class.
func ChangedFromPrimary(r domain.SecondaryRerating, ownPrimary *domain.Review, primaryClass domain.LikertClass) bool {
	if r.Role == domain.RoleOriginalReviewer && ownPrimary != nil {
		if ownPrimary.Appropriateness == nil || *ownPrimary.Appropriateness != r.Appropriateness {
			return true
		}
		if !sameScore(ownPrimary.Necessity, r.Necessity) {
			return true
		}
		for q, vote := range r.BinaryVotes {
			if answer, ok := ownPrimary.Answer(q); ok && answer != vote {
				return true
			}
		}
		return false
	}
	if primaryClass == "" {
		return false
	}
	return aggregation.ClassifyLikert(float64(r.Appropriateness)) != primaryClass
}

func sameScore(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
