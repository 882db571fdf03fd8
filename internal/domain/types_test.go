package domain

import (
	"testing"
)

func TestReviewStatusFinality(t *testing.T) {
	tests := []struct {
		status ReviewStatus
		final  bool
	}{
		{ReviewAssigned, false},
		{ReviewInProgress, false},
		{ReviewSubmitted, true},
		{ReviewStoppedInsufficientData, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if !tt.status.IsValid() {
				t.Errorf("Expected %s to be valid", tt.status)
			}
			if tt.status.IsFinal() != tt.final {
				t.Errorf("Expected IsFinal() = %v for %s", tt.final, tt.status)
			}
		})
	}

	if ReviewStatus("DRAFT").IsValid() {
		t.Errorf("unknown status must not be valid")
	}
}

func TestCaseProcedureFlags(t *testing.T) {
	tests := []struct {
		name       string
		procedures []ProcedureType
		decompFus  bool
		fusion     bool
	}{
		{"decompression only", []ProcedureType{ProcedureDecompression}, false, false},
		{"fusion only", []ProcedureType{ProcedureFusion}, false, true},
		{"decompression and fusion", []ProcedureType{ProcedureFusion, ProcedureDecompression}, true, true},
		{"none", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Case{Procedures: tt.procedures}
			df, f := c.ProcedureFlags()
			if df != tt.decompFus || f != tt.fusion {
				t.Errorf("Expected (%v, %v), got (%v, %v)", tt.decompFus, tt.fusion, df, f)
			}
		})
	}
}

func TestAggregationStatusCaseStatus(t *testing.T) {
	tests := []struct {
		status   AggregationStatus
		expected CaseStatus
		gated    bool
	}{
		{AggregationNeedsMoreInfo, CaseNeedsMoreInfo, true},
		{AggregationAwaitingReviews, CaseAwaitingReviews, true},
		{AggregationScoredPrimary, CaseScoredPrimary, false},
		{AggregationSecondaryReviewRequired, CaseSecondaryReview, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.CaseStatus(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
			if tt.status.IsGated() != tt.gated {
				t.Errorf("Expected IsGated() = %v", tt.gated)
			}
		})
	}
}

func TestQuestionsCarryReasons(t *testing.T) {
	seen := make(map[TriggerReason]QuestionID)
	for _, q := range AllQuestions() {
		if q.Reason() == "" {
			t.Errorf("question %s has no trigger reason", q.ID())
		}
		if other, dup := seen[q.Reason()]; dup {
			t.Errorf("questions %s and %s share reason %s", other, q.ID(), q.Reason())
		}
		seen[q.Reason()] = q.ID()
		if q.Text() == "" {
			t.Errorf("question %s has no text", q.ID())
		}
	}

	if len(BaseKeyQuestions()) != 4 {
		t.Errorf("Expected 4 base key questions, got %d", len(BaseKeyQuestions()))
	}
	if QuestionID("unknown").IsValid() {
		t.Errorf("unknown question must not be valid")
	}
	if MustQuestion(QuestionFusionAcceptable).Reason() != ReasonFusionControversy {
		t.Errorf("fusion question has wrong reason")
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(p *Policy)
		field  string
	}{
		{"negative cohort", func(p *Policy) { p.PeerCohortSize = -1 }, "peer_cohort_size"},
		{"zero total", func(p *Policy) { p.MinTotalReratings = 0 }, "min_total_reratings"},
		{"peers exceed total", func(p *Policy) { p.MinPeerReratings = 9 }, "min_peer_reratings"},
		{"unknown statistic", func(p *Policy) { p.ScoringStatistic = "mode" }, "scoring_statistic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, ve.Field)
			}
		})
	}
}

func TestPolicySnapshotRoundTrip(t *testing.T) {
	p := DefaultPolicy()
	p.ScoringStatistic = StatisticMedian
	p.RequireSpecialtyMatch = true

	data, err := p.MarshalSnapshot()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored, err := UnmarshalPolicySnapshot(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored != p {
		t.Errorf("Expected %+v, got %+v", p, restored)
	}

	snap := p.Snapshot()
	p.PeerCohortSize = 99
	if snap.PeerCohortSize == 99 {
		t.Errorf("snapshot must not alias the original policy")
	}
}
