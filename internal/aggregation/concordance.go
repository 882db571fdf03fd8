// Package aggregation turns a case's primary reviews into a CaseAggregate: per-question
// concordance tiers, Likert classes for the mean scores, and the secondary review trigger
// decision. Everything here is pure and does no I/O.
package aggregation

import (
	"errors"
	"fmt"

	"github.com/spine-review-engine/internal/domain"
)

// ErrNoResponses is returned when a question has no valid responses to classify.
var ErrNoResponses = errors.New("no responses to classify")

// ClassifyConcordance assigns the concordance tier for agree yes-answers out of total
// valid responses. HIGH is checked before LOW.
func ClassifyConcordance(agree, total int) (domain.ConcordanceTier, error) {
	if total == 0 {
		return "", ErrNoResponses
	}
	if total < 0 {
		return "", domain.NewValidationError("total", "must not be negative", total)
	}
	if agree < 0 || agree > total {
		return "", domain.NewValidationError("agree", fmt.Sprintf("must be between 0 and %d", total), agree)
	}

	switch {
	case agree >= highThreshold(total):
		return domain.ConcordanceHigh, nil
	case agree <= lowThreshold(total):
		return domain.ConcordanceLow, nil
	default:
		return domain.ConcordanceIntermediate, nil
	}
}

// highThreshold is ceil(2n/3) in integer arithmetic.
func highThreshold(n int) int {
	return (2*n + 2) / 3
}

// lowThreshold is floor(n/3).
func lowThreshold(n int) int {
	return n / 3
}

// binaryResult builds the result row for one question. ok is false when nobody answered.
func binaryResult(q domain.Question, agree, responses int, key bool) (domain.BinaryResult, bool) {
	tier, err := ClassifyConcordance(agree, responses)
	if err != nil {
		return domain.BinaryResult{}, false
	}
	return domain.BinaryResult{
		Question:     q.ID(),
		AgreeCount:   agree,
		Responses:    responses,
		PercentAgree: percent(agree, responses),
		Tier:         tier,
		Controversy:  tier == domain.ConcordanceIntermediate,
		Key:          key,
	}, true
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}
