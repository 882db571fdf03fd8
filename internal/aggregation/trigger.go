package aggregation

import "github.com/spine-review-engine/internal/domain"

// KeyQuestions returns the questions whose intermediate tier can trigger secondary review.
// A decompression+fusion case adds both acceptability questions; a fusion-only case adds
// only the fusion one.
func KeyQuestions(hasDecompressionPlusFusion, hasFusion bool) []domain.Question {
	keys := domain.BaseKeyQuestions()
	switch {
	case hasDecompressionPlusFusion:
		keys = append(keys, domain.DecompressionAcceptable, domain.FusionAcceptable)
	case hasFusion:
		keys = append(keys, domain.FusionAcceptable)
	}
	return keys
}

func isKey(keys []domain.Question, id domain.QuestionID) bool {
	for _, k := range keys {
		if k.ID() == id {
			return true
		}
	}
	return false
}

// EvaluateTriggers returns the ordered, de-duplicated reasons for escalating the aggregate.
// An empty result means no trigger fired. Gate A never triggers; Gate B can only raise
// INSUFFICIENT_REVIEWS.
func EvaluateTriggers(agg *domain.CaseAggregate, keys []domain.Question, policy domain.Policy) []domain.TriggerReason {
	var reasons reasonSet

	switch agg.Status {
	case domain.AggregationNeedsMoreInfo:
		return nil
	case domain.AggregationAwaitingReviews:
		if policy.TriggerOnInsufficientReviews && agg.ValidCount > 0 {
			reasons.add(domain.ReasonInsufficientReviews)
		}
		return reasons.list()
	}

	if policy.TriggerOnUncertainAppropriateness && agg.AppropriatenessMean != nil &&
		agg.AppropriatenessClass == domain.ClassUncertain {
		reasons.add(domain.ReasonUncertainAppropriateness)
	}

	if policy.TriggerOnIntermediateKeyQuestion {
		for _, key := range keys {
			for _, r := range agg.BinaryResults {
				if r.Question == key.ID() && r.Tier == domain.ConcordanceIntermediate {
					reasons.add(key.Reason())
				}
			}
		}
	}

	// TriggerOnMissingKeyFields has no rule yet.

	return reasons.list()
}

type reasonSet struct {
	seen  map[domain.TriggerReason]struct{}
	items []domain.TriggerReason
}

func (s *reasonSet) add(r domain.TriggerReason) {
	if s.seen == nil {
		s.seen = make(map[domain.TriggerReason]struct{})
	}
	if _, ok := s.seen[r]; ok {
		return
	}
	s.seen[r] = struct{}{}
	s.items = append(s.items, r)
}

func (s *reasonSet) list() []domain.TriggerReason {
	return s.items
}
