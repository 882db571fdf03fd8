package aggregation

import (
	"sort"

	"github.com/spine-review-engine/internal/domain"
)

// Compute aggregates the reviews of one case. The result depends only on the arguments:
// reviews are processed in canonical order and no clock is read, so identical input
// serializes to identical JSON.
func Compute(caseID string, reviews []domain.Review, hasDecompressionPlusFusion, hasFusion bool, policy domain.Policy) *domain.CaseAggregate {
	ordered := canonicalOrder(reviews)

	var valid, stopped []domain.Review
	for _, r := range ordered {
		switch r.Status {
		case domain.ReviewSubmitted:
			valid = append(valid, r)
		case domain.ReviewStoppedInsufficientData:
			stopped = append(stopped, r)
		}
	}

	agg := &domain.CaseAggregate{
		CaseID:        caseID,
		AssignedCount: len(ordered),
		ValidCount:    len(valid),
		StoppedCount:  len(stopped),
	}

	// Gate A
	if len(stopped) > 0 {
		texts := make([]string, 0, len(stopped))
		for _, r := range stopped {
			texts = append(texts, r.Deficiency)
		}
		agg.Status = domain.AggregationNeedsMoreInfo
		agg.MissingData = UnionDeficiencies(texts)
		return agg
	}

	keys := KeyQuestions(hasDecompressionPlusFusion, hasFusion)

	// Gate B
	if len(valid) < domain.MinValidReviews {
		agg.Status = domain.AggregationAwaitingReviews
		applyTriggers(agg, keys, policy)
		return agg
	}

	agg.BinaryResults = binaryResults(valid, keys)

	if mean, ok := Mean(collectScores(valid, func(r domain.Review) *int { return r.Appropriateness })); ok {
		agg.AppropriatenessMean = &mean
		agg.AppropriatenessClass = ClassifyLikert(mean)
	}
	if mean, ok := Mean(collectScores(valid, func(r domain.Review) *int { return r.Necessity })); ok {
		agg.NecessityMean = &mean
		agg.NecessityClass = ClassifyLikert(mean)
	}

	agg.Status = domain.AggregationScoredPrimary
	applyTriggers(agg, keys, policy)
	if agg.SecondaryTriggered {
		agg.Status = domain.AggregationSecondaryReviewRequired
	}
	return agg
}

func applyTriggers(agg *domain.CaseAggregate, keys []domain.Question, policy domain.Policy) {
	agg.TriggerReasons = EvaluateTriggers(agg, keys, policy)
	agg.SecondaryTriggered = len(agg.TriggerReasons) > 0
}

func canonicalOrder(reviews []domain.Review) []domain.Review {
	ordered := make([]domain.Review, len(reviews))
	copy(ordered, reviews)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ReviewerID != ordered[j].ReviewerID {
			return ordered[i].ReviewerID < ordered[j].ReviewerID
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

func binaryResults(valid []domain.Review, keys []domain.Question) []domain.BinaryResult {
	var results []domain.BinaryResult
	for _, q := range domain.AllQuestions() {
		agree, responses := 0, 0
		for i := range valid {
			answer, ok := valid[i].Answer(q.ID())
			if !ok {
				continue
			}
			responses++
			if answer {
				agree++
			}
		}
		if r, ok := binaryResult(q, agree, responses, isKey(keys, q.ID())); ok {
			results = append(results, r)
		}
	}
	return results
}

// collectScores returns the in-range scores picked from each review, skipping null ones.
func collectScores(reviews []domain.Review, pick func(domain.Review) *int) []int {
	var scores []int
	for _, r := range reviews {
		s := pick(r)
		if s == nil || !InRange(*s) {
			continue
		}
		scores = append(scores, *s)
	}
	return scores
}
