package domain

import "fmt"

// QuestionID identifies one of the fixed yes/no clinical-agreement questions on a review.
type QuestionID string

const (
	QuestionDiagnosis               QuestionID = "agrees_with_diagnosis"
	QuestionImagingCorrelation      QuestionID = "imaging_correlates_with_symptoms"
	QuestionConservativeCare        QuestionID = "adequate_conservative_care"
	QuestionSurgeryIndicated        QuestionID = "surgery_indicated"
	QuestionProposedProcedure       QuestionID = "agrees_with_proposed_procedure"
	QuestionDecompressionAcceptable QuestionID = "decompression_acceptable"
	QuestionFusionAcceptable        QuestionID = "fusion_acceptable"
)

// TriggerReason explains why a case was escalated to secondary review.
type TriggerReason string

const (
	ReasonUncertainAppropriateness TriggerReason = "UNCERTAIN_APPROPRIATENESS"
	ReasonInsufficientReviews      TriggerReason = "INSUFFICIENT_REVIEWS"
	ReasonMissingKeyFields         TriggerReason = "MISSING_KEY_FIELDS"

	ReasonDiagnosisControversy         TriggerReason = "CONTROVERSY_DIAGNOSIS"
	ReasonImagingControversy           TriggerReason = "CONTROVERSY_IMAGING_CORRELATION"
	ReasonConservativeCareControversy  TriggerReason = "CONTROVERSY_CONSERVATIVE_CARE"
	ReasonSurgeryIndicationControversy TriggerReason = "CONTROVERSY_SURGERY_INDICATION"
	ReasonProposedProcedureControversy TriggerReason = "CONTROVERSY_PROPOSED_PROCEDURE"
	ReasonDecompressionControversy     TriggerReason = "CONTROVERSY_DECOMPRESSION"
	ReasonFusionControversy            TriggerReason = "CONTROVERSY_FUSION"
)

// Question is a review question together with its display text and the reason reported when
// it lands in the intermediate concordance tier. Values can only be built by defineQuestion,
// so every question carries a reason.
type Question struct {
	id     QuestionID
	text   string
	reason TriggerReason
}

func defineQuestion(id QuestionID, text string, reason TriggerReason) Question {
	return Question{id: id, text: text, reason: reason}
}

// ID returns the question identifier.
func (q Question) ID() QuestionID { return q.id }

// Text returns the question as shown to reviewers.
func (q Question) Text() string { return q.text }

// Reason returns the trigger reason raised when the question is controversial.
func (q Question) Reason() TriggerReason { return q.reason }

func (q Question) String() string { return string(q.id) }

// Questions in the order they appear on the review form.
var (
	Diagnosis = defineQuestion(QuestionDiagnosis,
		"Do you agree with the diagnosis?", ReasonDiagnosisControversy)
	ImagingCorrelation = defineQuestion(QuestionImagingCorrelation,
		"Does the imaging correlate with the presenting symptoms?", ReasonImagingControversy)
	ConservativeCare = defineQuestion(QuestionConservativeCare,
		"Has adequate conservative care been attempted?", ReasonConservativeCareControversy)
	SurgeryIndicated = defineQuestion(QuestionSurgeryIndicated,
		"Is surgical intervention indicated?", ReasonSurgeryIndicationControversy)
	ProposedProcedure = defineQuestion(QuestionProposedProcedure,
		"Do you agree with the proposed procedure?", ReasonProposedProcedureControversy)
	DecompressionAcceptable = defineQuestion(QuestionDecompressionAcceptable,
		"Is decompression an acceptable treatment for this patient?", ReasonDecompressionControversy)
	FusionAcceptable = defineQuestion(QuestionFusionAcceptable,
		"Is fusion an acceptable treatment for this patient?", ReasonFusionControversy)
)

var allQuestions = []Question{
	Diagnosis,
	ImagingCorrelation,
	ConservativeCare,
	SurgeryIndicated,
	ProposedProcedure,
	DecompressionAcceptable,
	FusionAcceptable,
}

// AllQuestions returns every configured question in form order.
func AllQuestions() []Question {
	out := make([]Question, len(allQuestions))
	copy(out, allQuestions)
	return out
}

// BaseKeyQuestions returns the key questions that apply to every case.
func BaseKeyQuestions() []Question {
	return []Question{Diagnosis, ImagingCorrelation, SurgeryIndicated, ProposedProcedure}
}

// LookupQuestion returns the question with the given identifier.
func LookupQuestion(id QuestionID) (Question, bool) {
	for _, q := range allQuestions {
		if q.id == id {
			return q, true
		}
	}
	return Question{}, false
}

// MustQuestion is LookupQuestion for identifiers known at compile time.
func MustQuestion(id QuestionID) Question {
	q, ok := LookupQuestion(id)
	if !ok {
		panic(fmt.Sprintf("unknown question %q", id))
	}
	return q
}

// IsValid reports whether the identifier names a configured question.
func (id QuestionID) IsValid() bool {
	_, ok := LookupQuestion(id)
	return ok
}
