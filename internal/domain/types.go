// Package domain contains the core entities of the spine case review engine: cases and the
// primary reviews submitted against them, the derived case aggregate, and the records of the
// secondary-review escalation workflow (participants, forum, re-ratings, outcome).
//
// Scores follow the RAND/UCLA appropriateness method: a 1-9 Likert scale where 7-9 is
// appropriate, 4-6 uncertain and 1-3 inappropriate.
package domain

import (
	"errors"
	"time"
)

// Likert scale bounds shared by every score in the engine.
const (
	MinScore = 1
	MaxScore = 9

	// NecessityThreshold is the appropriateness score at or above which a necessity score is required.
	NecessityThreshold = 7

	// MinValidReviews is the number of submitted reviews a case needs before it is scored.
	MinValidReviews = 5
)

// ReviewStatus is the lifecycle status of a single primary review.
type ReviewStatus string

const (
	ReviewAssigned                ReviewStatus = "ASSIGNED"
	ReviewInProgress              ReviewStatus = "IN_PROGRESS"
	ReviewSubmitted               ReviewStatus = "SUBMITTED"
	ReviewStoppedInsufficientData ReviewStatus = "STOPPED_INSUFFICIENT_DATA"
)

// IsValid reports whether the status is one of the known review statuses.
func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewAssigned, ReviewInProgress, ReviewSubmitted, ReviewStoppedInsufficientData:
		return true
	default:
		return false
	}
}

// IsFinal reports whether a review in this status can no longer be changed.
func (s ReviewStatus) IsFinal() bool {
	return s == ReviewSubmitted || s == ReviewStoppedInsufficientData
}

func (s ReviewStatus) String() string {
	return string(s)
}

// ProcedureType is a surgical procedure proposed for a case.
type ProcedureType string

const (
	ProcedureDecompression ProcedureType = "DECOMPRESSION"
	ProcedureFusion        ProcedureType = "FUSION"
	ProcedureDiscectomy    ProcedureType = "DISCECTOMY"
	ProcedureArthroplasty  ProcedureType = "ARTHROPLASTY"
	ProcedureOther         ProcedureType = "OTHER"
)

// CaseStatus is the externally visible status of a case.
type CaseStatus string

const (
	CaseSubmitted       CaseStatus = "SUBMITTED"
	CaseNeedsMoreInfo   CaseStatus = "NEEDS_MORE_INFO"
	CaseAwaitingReviews CaseStatus = "AWAITING_REVIEWS"
	CaseScoredPrimary   CaseStatus = "SCORED_PRIMARY"
	CaseSecondaryReview CaseStatus = "SECONDARY_REVIEW"
	CaseScoredFinal     CaseStatus = "SCORED_FINAL"
)

// Case is the subset of a submitted surgical case the engine reads.
type Case struct {
	ID          string          `json:"id"`
	SubmitterID string          `json:"submitter_id"`
	OrgID       string          `json:"org_id"`
	Procedures  []ProcedureType `json:"procedures"`
	Specialties []string        `json:"specialties,omitempty"`
	Status      CaseStatus      `json:"status"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// HasProcedure reports whether the case proposes the given procedure.
func (c *Case) HasProcedure(p ProcedureType) bool {
	for _, proc := range c.Procedures {
		if proc == p {
			return true
		}
	}
	return false
}

// ProcedureFlags returns the decompression+fusion and fusion flags used to pick key questions.
func (c *Case) ProcedureFlags() (decompressionPlusFusion, fusion bool) {
	fusion = c.HasProcedure(ProcedureFusion)
	decompressionPlusFusion = fusion && c.HasProcedure(ProcedureDecompression)
	return decompressionPlusFusion, fusion
}

// Review is one reviewer's submission for one case.
type Review struct {
	ID              string              `json:"id"`
	CaseID          string              `json:"case_id"`
	ReviewerID      string              `json:"reviewer_id"`
	Status          ReviewStatus        `json:"status"`
	Answers         map[QuestionID]bool `json:"answers,omitempty"`
	Appropriateness *int                `json:"appropriateness,omitempty"`
	Necessity       *int                `json:"necessity,omitempty"`
	Deficiency      string              `json:"deficiency,omitempty"`
	Comments        string              `json:"comments,omitempty"`
	AssignedAt      time.Time           `json:"assigned_at"`
	SubmittedAt     *time.Time          `json:"submitted_at,omitempty"`
}

// Answer returns the reviewer's answer to a question and whether one was given.
func (r *Review) Answer(q QuestionID) (value, ok bool) {
	if r.Answers == nil {
		return false, false
	}
	value, ok = r.Answers[q]
	return value, ok
}

// AggregationStatus is the outcome of a primary aggregation pass.
type AggregationStatus string

const (
	AggregationNeedsMoreInfo           AggregationStatus = "NEEDS_MORE_INFO"
	AggregationAwaitingReviews         AggregationStatus = "AWAITING_REVIEWS"
	AggregationScoredPrimary           AggregationStatus = "SCORED_PRIMARY"
	AggregationSecondaryReviewRequired AggregationStatus = "SECONDARY_REVIEW_REQUIRED"
)

// CaseStatus maps an aggregation status onto the case status it implies.
func (s AggregationStatus) CaseStatus() CaseStatus {
	switch s {
	case AggregationNeedsMoreInfo:
		return CaseNeedsMoreInfo
	case AggregationAwaitingReviews:
		return CaseAwaitingReviews
	case AggregationScoredPrimary:
		return CaseScoredPrimary
	case AggregationSecondaryReviewRequired:
		return CaseSecondaryReview
	default:
		return CaseSubmitted
	}
}

// IsGated reports whether the status stopped aggregation before scoring.
func (s AggregationStatus) IsGated() bool {
	return s == AggregationNeedsMoreInfo || s == AggregationAwaitingReviews
}

// ConcordanceTier classifies how unanimous reviewers were on one yes/no question.
type ConcordanceTier string

const (
	ConcordanceHigh         ConcordanceTier = "HIGH"
	ConcordanceIntermediate ConcordanceTier = "INTERMEDIATE"
	ConcordanceLow          ConcordanceTier = "LOW"
)

// LikertClass is the appropriateness (or necessity) class of a 1-9 mean score.
type LikertClass string

const (
	ClassAppropriate   LikertClass = "APPROPRIATE"
	ClassUncertain     LikertClass = "UNCERTAIN"
	ClassInappropriate LikertClass = "INAPPROPRIATE"
)

// IsValid reports whether the class is one of the three Likert classes.
func (c LikertClass) IsValid() bool {
	switch c {
	case ClassAppropriate, ClassUncertain, ClassInappropriate:
		return true
	default:
		return false
	}
}

// Label returns the human-readable label used in summaries.
func (c LikertClass) Label() string {
	switch c {
	case ClassAppropriate:
		return "Appropriate"
	case ClassUncertain:
		return "Uncertain"
	case ClassInappropriate:
		return "Inappropriate"
	default:
		return "Unclassified"
	}
}

// BinaryResult is the concordance result for one question across the valid reviews.
type BinaryResult struct {
	Question     QuestionID      `json:"question"`
	AgreeCount   int             `json:"agree_count"`
	Responses    int             `json:"responses"`
	PercentAgree float64         `json:"percent_agree"`
	Tier         ConcordanceTier `json:"tier"`
	Controversy  bool            `json:"controversy"`
	Key          bool            `json:"key"`
}

// CaseAggregate is the derived, never hand-edited aggregate of a case's primary reviews.
type CaseAggregate struct {
	CaseID               string            `json:"case_id"`
	Status               AggregationStatus `json:"status"`
	AssignedCount        int               `json:"assigned_count"`
	ValidCount           int               `json:"valid_count"`
	StoppedCount         int               `json:"stopped_count"`
	MissingData          []string          `json:"missing_data,omitempty"`
	BinaryResults        []BinaryResult    `json:"binary_results,omitempty"`
	AppropriatenessMean  *float64          `json:"appropriateness_mean,omitempty"`
	AppropriatenessClass LikertClass       `json:"appropriateness_class,omitempty"`
	NecessityMean        *float64          `json:"necessity_mean,omitempty"`
	NecessityClass       LikertClass       `json:"necessity_class,omitempty"`
	SecondaryTriggered   bool              `json:"secondary_triggered"`
	TriggerReasons       []TriggerReason   `json:"trigger_reasons,omitempty"`

	// Version is the storage version used for optimistic concurrency. It is not part of the computation.
	Version   int64     `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// ControversialItems returns the binary results that landed in the intermediate tier.
func (a *CaseAggregate) ControversialItems() []BinaryResult {
	var items []BinaryResult
	for _, r := range a.BinaryResults {
		if r.Tier == ConcordanceIntermediate {
			items = append(items, r)
		}
	}
	return items
}

// ResultSource records which pass produced a case result.
type ResultSource string

const (
	ResultSourcePrimary   ResultSource = "PRIMARY"
	ResultSourceSecondary ResultSource = "SECONDARY"
)

// CaseResult is the single-pass result shape consumed by downstream reporting.
type CaseResult struct {
	CaseID                        string       `json:"case_id"`
	Source                        ResultSource `json:"source"`
	FinalClass                    LikertClass  `json:"final_class"`
	AppropriatenessMean           float64      `json:"appropriateness_mean"`
	AppropriatenessClass          LikertClass  `json:"appropriateness_class"`
	NecessityMean                 *float64     `json:"necessity_mean,omitempty"`
	NecessityClass                LikertClass  `json:"necessity_class,omitempty"`
	PercentAgreedWithProposed     float64      `json:"percent_agreed_with_proposed"`
	PercentRecommendedAlternative float64      `json:"percent_recommended_alternative"`
	ReviewCount                   int          `json:"review_count"`
	CreatedAt                     time.Time    `json:"created_at"`
}

// Candidate is a roster entry eligible to be invited as a peer reviewer.
type Candidate struct {
	UserID          string   `json:"user_id"`
	OrgID           string   `json:"org_id"`
	Role            UserRole `json:"role"`
	ExpertCertified bool     `json:"expert_certified"`
	Specialties     []string `json:"specialties,omitempty"`
}

// UserRole is the application role of a roster user.
type UserRole string

const (
	RoleExpertReviewer UserRole = "EXPERT_REVIEWER"
	RoleSurgeon        UserRole = "SURGEON"
	RoleAdmin          UserRole = "ADMIN"
)

// Store-level errors shared by every persistence implementation.
var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("record already exists")
	ErrVersionConflict       = errors.New("version conflict: record was modified concurrently")
	ErrActiveSecondaryExists = errors.New("case already has an active secondary review")
	ErrOutcomeExists         = errors.New("secondary outcome already recorded")
)
