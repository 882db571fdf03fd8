// Package mcp exposes the review engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/domain"
	"github.com/spine-review-engine/internal/service"
)

// Server is the review engine MCP server
type Server struct {
	config    domain.MCPConfig
	mcpServer *mcp.Server
	reviews   *service.ReviewService
	secondary *service.SecondaryService
	policy    domain.Policy
	tools     []string
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance. The lookup tools are registered only when
// reviews and secondary are non-nil; the computation tools use policy.
func NewServer(
	cfg domain.MCPConfig,
	policy domain.Policy,
	reviews *service.ReviewService,
	secondary *service.SecondaryService,
	logger *logrus.Logger,
) (*Server, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if (reviews == nil) != (secondary == nil) {
		return nil, fmt.Errorf("review and secondary services must be provided together")
	}

	serverInfo := &mcp.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}

	server := &Server{
		config:    cfg,
		mcpServer: mcp.NewServer(serverInfo, nil),
		reviews:   reviews,
		secondary: secondary,
		policy:    policy.Snapshot(),
		logger:    logger,
	}

	server.registerTools()
	return server, nil
}

// registerTools registers the computation tools and, when backed by storage, the lookup tools
func (s *Server) registerTools() {
	s.logger.Info("Registering tools with MCP SDK...")

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "compute_case_aggregate",
		Description: "Aggregate a set of primary reviews into concordance tiers, Likert classes and the secondary review decision",
		InputSchema: computeAggregateSchema(),
	}, s.handleComputeAggregate)
	s.tools = append(s.tools, "compute_case_aggregate")

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "classify_concordance",
		Description: "Classify agreement on a yes/no question as HIGH, INTERMEDIATE or LOW concordance",
		InputSchema: classifyConcordanceSchema(),
	}, s.handleClassifyConcordance)
	s.tools = append(s.tools, "classify_concordance")

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "classify_likert",
		Description: "Classify a mean 1-9 score as APPROPRIATE, UNCERTAIN or INAPPROPRIATE",
		InputSchema: classifyLikertSchema(),
	}, s.handleClassifyLikert)
	s.tools = append(s.tools, "classify_likert")

	if s.reviews != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "get_case_aggregate",
			Description: "Get the latest stored aggregate for a case",
			InputSchema: caseSchema(),
		}, s.handleGetCaseAggregate)
		s.tools = append(s.tools, "get_case_aggregate")

		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "get_secondary_review",
			Description: "Get a secondary review by id, or the active one for a case, with participants, thread, re-ratings and quorum",
			InputSchema: secondaryReviewSchema(),
		}, s.handleGetSecondaryReview)
		s.tools = append(s.tools, "get_secondary_review")
	}

	s.logger.WithField("tool_count", len(s.tools)).Info("Successfully registered all tools")
}

// Tools returns the names of the registered tools in registration order
func (s *Server) Tools() []string {
	out := make([]string, len(s.tools))
	copy(out, s.tools)
	return out
}

// Start runs the MCP server on the configured transport until ctx is cancelled or the client disconnects
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("transport_type", s.config.TransportType).Info("Starting spine review MCP server...")

	var transport mcp.Transport
	switch s.config.TransportType {
	case "", "stdio":
		transport = &mcp.StdioTransport{}
	default:
		return fmt.Errorf("unsupported transport: %s", s.config.TransportType)
	}

	if err := s.mcpServer.Run(ctx, transport); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
