package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/aggregation"
	"github.com/spine-review-engine/internal/domain"
)

// ReviewParams is one primary review supplied to compute_case_aggregate
type ReviewParams struct {
	ReviewerID      string                     `json:"reviewer_id"`
	Status          domain.ReviewStatus        `json:"status"`
	Answers         map[domain.QuestionID]bool `json:"answers,omitempty"`
	Appropriateness *int                       `json:"appropriateness,omitempty"`
	Necessity       *int                       `json:"necessity,omitempty"`
	Deficiency      string                     `json:"deficiency,omitempty"`
}

// ComputeAggregateParams defines parameters for compute_case_aggregate tool
type ComputeAggregateParams struct {
	CaseID                     string         `json:"case_id,omitempty"`
	HasDecompressionPlusFusion bool           `json:"has_decompression_plus_fusion,omitempty"`
	HasFusion                  bool           `json:"has_fusion,omitempty"`
	Reviews                    []ReviewParams `json:"reviews"`
}

// ClassifyConcordanceParams defines parameters for classify_concordance tool
type ClassifyConcordanceParams struct {
	Agree int `json:"agree"`
	Total int `json:"total"`
}

// ClassifyConcordanceResult defines the result structure for classify_concordance tool
type ClassifyConcordanceResult struct {
	Agree int                    `json:"agree"`
	Total int                    `json:"total"`
	Tier  domain.ConcordanceTier `json:"tier"`
}

// ClassifyLikertParams defines parameters for classify_likert tool
type ClassifyLikertParams struct {
	Mean float64 `json:"mean"`
}

// ClassifyLikertResult defines the result structure for classify_likert tool
type ClassifyLikertResult struct {
	Mean  float64            `json:"mean"`
	Class domain.LikertClass `json:"class"`
}

// CaseParams defines parameters for get_case_aggregate tool
type CaseParams struct {
	CaseID string `json:"case_id"`
}

// SecondaryReviewParams defines parameters for get_secondary_review tool. Exactly one of the
// fields is required.
type SecondaryReviewParams struct {
	SecondaryReviewID string `json:"secondary_review_id,omitempty"`
	CaseID            string `json:"case_id,omitempty"`
}

// handleComputeAggregate runs the primary aggregation over caller-supplied reviews
func (s *Server) handleComputeAggregate(ctx context.Context, req *mcp.CallToolRequest, params ComputeAggregateParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":    "compute_case_aggregate",
		"case_id": params.CaseID,
		"reviews": len(params.Reviews),
	}).Info("Tool invoked")

	reviews := make([]domain.Review, 0, len(params.Reviews))
	for i, r := range params.Reviews {
		if !r.Status.IsValid() {
			return s.createErrorResult("Invalid parameters",
				fmt.Errorf("reviews[%d].status: unknown status %q", i, r.Status)), nil, nil
		}
		review := domain.Review{
			ID:              fmt.Sprintf("review-%d", i+1),
			CaseID:          params.CaseID,
			ReviewerID:      r.ReviewerID,
			Status:          r.Status,
			Answers:         r.Answers,
			Appropriateness: r.Appropriateness,
			Necessity:       r.Necessity,
			Deficiency:      r.Deficiency,
		}
		if review.ReviewerID == "" {
			review.ReviewerID = fmt.Sprintf("reviewer-%d", i+1)
		}
		switch r.Status {
		case domain.ReviewSubmitted:
			if err := review.ValidateSubmission(); err != nil {
				return s.createErrorResult(fmt.Sprintf("Invalid review %d", i+1), err), nil, nil
			}
		case domain.ReviewStoppedInsufficientData:
			if err := review.ValidateStop(); err != nil {
				return s.createErrorResult(fmt.Sprintf("Invalid review %d", i+1), err), nil, nil
			}
		}
		reviews = append(reviews, review)
	}

	agg := aggregation.Compute(params.CaseID, reviews, params.HasDecompressionPlusFusion, params.HasFusion, s.policy)
	return s.createJSONResult(agg)
}

// handleClassifyConcordance classifies a yes-count against the valid responses
func (s *Server) handleClassifyConcordance(ctx context.Context, req *mcp.CallToolRequest, params ClassifyConcordanceParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "classify_concordance").Debug("Tool invoked")

	tier, err := aggregation.ClassifyConcordance(params.Agree, params.Total)
	if err != nil {
		return s.createErrorResult("Invalid parameters", err), nil, nil
	}
	return s.createJSONResult(ClassifyConcordanceResult{Agree: params.Agree, Total: params.Total, Tier: tier})
}

// handleClassifyLikert classifies a mean score on the 1-9 scale
func (s *Server) handleClassifyLikert(ctx context.Context, req *mcp.CallToolRequest, params ClassifyLikertParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "classify_likert").Debug("Tool invoked")

	if params.Mean < domain.MinScore || params.Mean > domain.MaxScore {
		return s.createErrorResult("Invalid parameters",
			fmt.Errorf("mean must be between %d and %d", domain.MinScore, domain.MaxScore)), nil, nil
	}
	return s.createJSONResult(ClassifyLikertResult{Mean: params.Mean, Class: aggregation.ClassifyLikert(params.Mean)})
}

// handleGetCaseAggregate returns the stored aggregate for a case
func (s *Server) handleGetCaseAggregate(ctx context.Context, req *mcp.CallToolRequest, params CaseParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{"tool": "get_case_aggregate", "case_id": params.CaseID}).Info("Tool invoked")

	if params.CaseID == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("case_id is required")), nil, nil
	}
	agg, err := s.reviews.GetAggregate(ctx, params.CaseID)
	if err != nil {
		return s.lookupError("case aggregate", err)
	}
	return s.createJSONResult(agg)
}

// handleGetSecondaryReview returns a secondary review with its participants, thread and quorum
func (s *Server) handleGetSecondaryReview(ctx context.Context, req *mcp.CallToolRequest, params SecondaryReviewParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":                "get_secondary_review",
		"secondary_review_id": params.SecondaryReviewID,
		"case_id":             params.CaseID,
	}).Info("Tool invoked")

	switch {
	case params.SecondaryReviewID != "" && params.CaseID != "":
		return s.createErrorResult("Invalid parameters",
			fmt.Errorf("give either secondary_review_id or case_id, not both")), nil, nil
	case params.SecondaryReviewID != "":
		view, err := s.secondary.Get(ctx, params.SecondaryReviewID)
		if err != nil {
			return s.lookupError("secondary review", err)
		}
		return s.createJSONResult(view)
	case params.CaseID != "":
		view, err := s.secondary.GetForCase(ctx, params.CaseID)
		if err != nil {
			return s.lookupError("secondary review", err)
		}
		return s.createJSONResult(view)
	default:
		return s.createErrorResult("Missing required parameter",
			fmt.Errorf("secondary_review_id or case_id is required")), nil, nil
	}
}

// lookupError turns a not-found into a tool error result and passes anything else back to the SDK
func (s *Server) lookupError(what string, err error) (*mcp.CallToolResult, any, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return s.createErrorResult(what+" not found", err), nil, nil
	}
	s.logger.WithError(err).WithField("lookup", what).Error("Tool lookup failed")
	return nil, nil, fmt.Errorf("failed to load %s: %w", what, err)
}

// createJSONResult renders v as indented JSON text content
func (s *Server) createJSONResult(v interface{}) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

// createErrorResult creates an error result
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
