package domain

import (
	"encoding/json"
	"fmt"
)

// ScoringStatistic selects how adjusted scores are combined.
type ScoringStatistic string

const (
	StatisticMean   ScoringStatistic = "mean"
	StatisticMedian ScoringStatistic = "median"
)

// IsValid reports whether the statistic is supported.
func (s ScoringStatistic) IsValid() bool {
	return s == StatisticMean || s == StatisticMedian
}

// Policy is the immutable escalation policy passed into every entry point. It holds only
// value fields so that a plain copy is a deep copy; a secondary review stores the copy taken
// at creation and never reads the live configuration again.
type Policy struct {
	// Trigger switches.
	TriggerOnUncertainAppropriateness bool `json:"trigger_on_uncertain_appropriateness" mapstructure:"trigger_on_uncertain_appropriateness"`
	TriggerOnIntermediateKeyQuestion  bool `json:"trigger_on_intermediate_key_question" mapstructure:"trigger_on_intermediate_key_question"`
	TriggerOnInsufficientReviews      bool `json:"trigger_on_insufficient_reviews" mapstructure:"trigger_on_insufficient_reviews"`
	// TriggerOnMissingKeyFields is reserved. It is accepted and snapshotted but no rule reads it yet.
	TriggerOnMissingKeyFields bool `json:"trigger_on_missing_key_fields" mapstructure:"trigger_on_missing_key_fields"`

	// Peer cohort.
	PeerCohortSize         int  `json:"peer_cohort_size" mapstructure:"peer_cohort_size"`
	RequireExpertCertified bool `json:"require_expert_certified" mapstructure:"require_expert_certified"`
	RequireSpecialtyMatch  bool `json:"require_specialty_match" mapstructure:"require_specialty_match"`

	// Quorum.
	MinTotalReratings        int  `json:"min_total_reratings" mapstructure:"min_total_reratings"`
	MinPeerReratings         int  `json:"min_peer_reratings" mapstructure:"min_peer_reratings"`
	RequireOriginalReviewers bool `json:"require_original_reviewers" mapstructure:"require_original_reviewers"`

	ScoringStatistic ScoringStatistic `json:"scoring_statistic" mapstructure:"scoring_statistic"`
}

// DefaultPolicy returns the policy used when configuration does not override it.
func DefaultPolicy() Policy {
	return Policy{
		TriggerOnUncertainAppropriateness: true,
		TriggerOnIntermediateKeyQuestion:  true,
		TriggerOnInsufficientReviews:      true,
		TriggerOnMissingKeyFields:         false,
		PeerCohortSize:                    5,
		RequireExpertCertified:            true,
		RequireSpecialtyMatch:             false,
		MinTotalReratings:                 5,
		MinPeerReratings:                  3,
		RequireOriginalReviewers:          true,
		ScoringStatistic:                  StatisticMean,
	}
}

// Snapshot returns an independent copy of the policy for storage on a secondary review.
func (p Policy) Snapshot() Policy {
	return p
}

// Validate checks that the policy can drive the workflow.
func (p Policy) Validate() error {
	if p.PeerCohortSize < 0 {
		return NewValidationError("peer_cohort_size", "must not be negative", p.PeerCohortSize)
	}
	if p.MinTotalReratings < 1 {
		return NewValidationError("min_total_reratings", "must be at least 1", p.MinTotalReratings)
	}
	if p.MinPeerReratings < 0 {
		return NewValidationError("min_peer_reratings", "must not be negative", p.MinPeerReratings)
	}
	if p.MinPeerReratings > p.MinTotalReratings {
		return NewValidationError("min_peer_reratings",
			fmt.Sprintf("must not exceed min_total_reratings (%d)", p.MinTotalReratings), p.MinPeerReratings)
	}
	if !p.ScoringStatistic.IsValid() {
		return NewValidationError("scoring_statistic", "must be mean or median", p.ScoringStatistic)
	}
	return nil
}

// MarshalSnapshot encodes the policy for persistence.
func (p Policy) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPolicySnapshot decodes a persisted policy snapshot.
func UnmarshalPolicySnapshot(data []byte) (Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("decoding policy snapshot: %w", err)
	}
	return p, nil
}
