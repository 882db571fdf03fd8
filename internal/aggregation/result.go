package aggregation

import (
	"time"

	"github.com/spine-review-engine/internal/domain"
)

// PrimaryResult builds the legacy result record for an aggregate scored in the primary pass.
// ok is false when the aggregate has no appropriateness score to report.
func PrimaryResult(agg *domain.CaseAggregate, at time.Time) (*domain.CaseResult, bool) {
	if agg.Status != domain.AggregationScoredPrimary || agg.AppropriatenessMean == nil {
		return nil, false
	}

	result := &domain.CaseResult{
		CaseID:               agg.CaseID,
		Source:               domain.ResultSourcePrimary,
		FinalClass:           agg.AppropriatenessClass,
		AppropriatenessMean:  *agg.AppropriatenessMean,
		AppropriatenessClass: agg.AppropriatenessClass,
		NecessityMean:        agg.NecessityMean,
		NecessityClass:       agg.NecessityClass,
		ReviewCount:          agg.ValidCount,
		CreatedAt:            at,
	}
	for _, r := range agg.BinaryResults {
		if r.Question == domain.QuestionProposedProcedure {
			result.PercentAgreedWithProposed = r.PercentAgree
			result.PercentRecommendedAlternative = percent(r.Responses-r.AgreeCount, r.Responses)
		}
	}
	return result, true
}

// SecondaryResult builds the legacy result record from a secondary outcome. The legacy
// percent fields have no secondary equivalent and are reported as zero.
func SecondaryResult(outcome *domain.SecondaryOutcome, at time.Time) *domain.CaseResult {
	result := &domain.CaseResult{
		CaseID:               outcome.CaseID,
		Source:               domain.ResultSourceSecondary,
		FinalClass:           outcome.Adjusted.AppropriatenessClass,
		AppropriatenessMean:  outcome.Adjusted.AppropriatenessMean,
		AppropriatenessClass: outcome.Adjusted.AppropriatenessClass,
		NecessityMean:        outcome.Adjusted.NecessityMean,
		ReviewCount:          outcome.ReratingCount,
		CreatedAt:            at,
	}
	if outcome.Adjusted.NecessityClass != nil {
		result.NecessityClass = *outcome.Adjusted.NecessityClass
	}
	return result
}
