package domain

import (
	"fmt"
	"strings"
)

func scoreInRange(v int) bool {
	return v >= MinScore && v <= MaxScore
}

var scoreRangeMessage = fmt.Sprintf("must be between %d and %d", MinScore, MaxScore)

// validateScores applies the shared score rules: appropriateness is required and necessity
// must be present exactly when appropriateness reaches the necessity threshold.
func validateScores(appropriateness *int, necessity *int) error {
	if appropriateness == nil {
		return NewValidationError("appropriateness", "is required", nil)
	}
	if !scoreInRange(*appropriateness) {
		return NewValidationError("appropriateness", scoreRangeMessage, *appropriateness)
	}
	if *appropriateness >= NecessityThreshold {
		if necessity == nil {
			return NewValidationError("necessity",
				fmt.Sprintf("is required when appropriateness is %d or higher", NecessityThreshold), nil)
		}
		if !scoreInRange(*necessity) {
			return NewValidationError("necessity", scoreRangeMessage, *necessity)
		}
	} else if necessity != nil {
		return NewValidationError("necessity",
			fmt.Sprintf("is only allowed when appropriateness is %d or higher", NecessityThreshold), *necessity)
	}
	return nil
}

func validateAnswers(field string, answers map[QuestionID]bool) error {
	for id := range answers {
		if !id.IsValid() {
			return NewValidationError(field, "unknown question", id)
		}
	}
	return nil
}

// ValidateSubmission checks the review content required for SUBMITTED.
func (r *Review) ValidateSubmission() error {
	if err := validateAnswers("answers", r.Answers); err != nil {
		return err
	}
	return validateScores(r.Appropriateness, r.Necessity)
}

// ValidateStop checks the review content required for STOPPED_INSUFFICIENT_DATA.
func (r *Review) ValidateStop() error {
	if strings.TrimSpace(r.Deficiency) == "" {
		return NewValidationError("deficiency", "is required when stopping for insufficient data", r.Deficiency)
	}
	return nil
}

// Validate checks a re-rating before it is stored.
func (r *SecondaryRerating) Validate() error {
	appropriateness := r.Appropriateness
	if err := validateScores(&appropriateness, r.Necessity); err != nil {
		return err
	}
	if err := validateAnswers("binary_votes", r.BinaryVotes); err != nil {
		return err
	}
	if strings.TrimSpace(r.Rationale) == "" {
		return NewValidationError("rationale", "is required", r.Rationale)
	}
	return nil
}
