package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/spine-review-engine/internal/domain"
)

func float(v float64) *float64 { return &v }

func scoreSchema(description string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "integer",
		Description: description,
		Minimum:     float(domain.MinScore),
		Maximum:     float(domain.MaxScore),
	}
}

// answersSchema lists every form question as an optional boolean property
func answersSchema() *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema)
	for _, q := range domain.AllQuestions() {
		props[string(q.ID())] = &jsonschema.Schema{Type: "boolean", Description: q.Text()}
	}
	return &jsonschema.Schema{
		Type:        "object",
		Description: "Yes/no answers keyed by question id",
		Properties:  props,
	}
}

func computeAggregateSchema() *jsonschema.Schema {
	review := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"reviewer_id": {Type: "string"},
			"status": {
				Type: "string",
				Enum: []any{
					string(domain.ReviewAssigned),
					string(domain.ReviewInProgress),
					string(domain.ReviewSubmitted),
					string(domain.ReviewStoppedInsufficientData),
				},
			},
			"answers":         answersSchema(),
			"appropriateness": scoreSchema("Appropriateness score, required for SUBMITTED"),
			"necessity":       scoreSchema("Necessity score, required when appropriateness is 7 or higher"),
			"deficiency":      {Type: "string", Description: "Missing data, required for STOPPED_INSUFFICIENT_DATA"},
		},
		Required: []string{"status"},
	}

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"case_id":                       {Type: "string"},
			"has_decompression_plus_fusion": {Type: "boolean"},
			"has_fusion":                    {Type: "boolean"},
			"reviews":                       {Type: "array", Items: review},
		},
		Required: []string{"reviews"},
	}
}

func classifyConcordanceSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"agree": {Type: "integer", Description: "Number of yes answers", Minimum: float(0)},
			"total": {Type: "integer", Description: "Number of valid responses", Minimum: float(1)},
		},
		Required: []string{"agree", "total"},
	}
}

func classifyLikertSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"mean": {
				Type:        "number",
				Description: "Mean score on the 1-9 scale",
				Minimum:     float(domain.MinScore),
				Maximum:     float(domain.MaxScore),
			},
		},
		Required: []string{"mean"},
	}
}

func caseSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"case_id": {Type: "string"},
		},
		Required: []string{"case_id"},
	}
}

func secondaryReviewSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"secondary_review_id": {Type: "string"},
			"case_id":             {Type: "string", Description: "Look up the active secondary review of a case"},
		},
	}
}
