package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/spine-review-engine/internal/audit"
	"github.com/spine-review-engine/internal/domain"
	"github.com/spine-review-engine/internal/middleware"
	"github.com/spine-review-engine/internal/service"
)

// userHeader carries the authenticated user ID set by the upstream gateway.
const userHeader = "X-User-ID"

type submitReviewRequest struct {
	Answers         map[domain.QuestionID]bool `json:"answers"`
	Appropriateness *int                       `json:"appropriateness"`
	Necessity       *int                       `json:"necessity"`
	Comments        string                     `json:"comments"`
}

type stopReviewRequest struct {
	Deficiency string `json:"deficiency"`
	Comments   string `json:"comments"`
}

type reratingRequest struct {
	Appropriateness int                        `json:"appropriateness"`
	Necessity       *int                       `json:"necessity"`
	BinaryVotes     map[domain.QuestionID]bool `json:"binary_votes"`
	Rationale       string                     `json:"rationale"`
}

type postRequest struct {
	Type      domain.PostType `json:"type"`
	Body      string          `json:"body"`
	ReplyToID string          `json:"reply_to_id"`
}

type assignReviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

type cancelRequest struct {
	Note string `json:"note"`
}

type moderatorRequest struct {
	UserID string `json:"user_id"`
}

type summaryRequest struct {
	Summary string `json:"summary"`
}

// actor returns the acting user or writes a 400 and returns false.
func (s *Server) actor(c *gin.Context) (string, bool) {
	user := c.GetHeader(userHeader)
	if user == "" {
		s.badRequest(c, userHeader, "header is required")
		return "", false
	}
	return user, true
}

// bind decodes the JSON body or writes a 400 and returns false. An empty body leaves dst zero.
func (s *Server) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		s.badRequest(c, "body", "malformed JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleAssignReview(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	var req assignReviewRequest
	if !s.bind(c, &req) {
		return
	}
	review, err := s.reviews.AssignReview(c.Request.Context(), c.Param("caseID"), req.ReviewerID, user)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (s *Server) handleStartReview(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	review, err := s.reviews.StartReview(c.Request.Context(), c.Param("reviewID"), user)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, review)
}

func (s *Server) handleSubmitReview(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	var req submitReviewRequest
	if !s.bind(c, &req) {
		return
	}
	outcome, err := s.reviews.SubmitReview(c.Request.Context(), c.Param("reviewID"), user, service.SubmitReviewInput{
		Answers:         req.Answers,
		Appropriateness: req.Appropriateness,
		Necessity:       req.Necessity,
		Comments:        req.Comments,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleStopReview(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	var req stopReviewRequest
	if !s.bind(c, &req) {
		return
	}
	outcome, err := s.reviews.StopReview(c.Request.Context(), c.Param("reviewID"), user, service.StopReviewInput{
		Deficiency: req.Deficiency,
		Comments:   req.Comments,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleGetAggregate(c *gin.Context) {
	agg, err := s.reviews.GetAggregate(c.Request.Context(), c.Param("caseID"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

func (s *Server) handleRecomputeAggregate(c *gin.Context) {
	agg, err := s.reviews.RecomputeAggregate(c.Request.Context(), c.Param("caseID"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

func (s *Server) handleGetResult(c *gin.Context) {
	result, err := s.reviews.GetResult(c.Request.Context(), c.Param("caseID"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleEscalate(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	sr, err := s.secondary.Escalate(c.Request.Context(), c.Param("caseID"), user)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sr)
}

func (s *Server) handleGetSecondaryForCase(c *gin.Context) {
	view, err := s.secondary.GetForCase(c.Request.Context(), c.Param("caseID"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleGetSecondary(c *gin.Context) {
	view, err := s.secondary.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleOpenForum(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	sr, err := s.secondary.OpenForum(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sr)
}

func (s *Server) handleOpenRerating(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	sr, err := s.secondary.OpenRerating(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sr)
}

func (s *Server) handleSubmitRerating(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	var req reratingRequest
	if !s.bind(c, &req) {
		return
	}
	result, err := s.secondary.SubmitRerating(c.Request.Context(), c.Param("id"), user, service.ReratingInput{
		Appropriateness: req.Appropriateness,
		Necessity:       req.Necessity,
		BinaryVotes:     req.BinaryVotes,
		Rationale:       req.Rationale,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleFinalize(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	outcome, err := s.secondary.Finalize(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleCancel(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	var req cancelRequest
	if !s.bind(c, &req) {
		return
	}
	sr, err := s.secondary.Cancel(c.Request.Context(), c.Param("id"), user, req.Note)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sr)
}

func (s *Server) handleListPosts(c *gin.Context) {
	posts, err := s.secondary.ListPosts(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if posts == nil {
		posts = []domain.ForumPost{}
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (s *Server) handleAddPost(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	var req postRequest
	if !s.bind(c, &req) {
		return
	}
	post, err := s.secondary.AddPost(c.Request.Context(), c.Param("id"), user, service.PostInput{
		Type:      req.Type,
		Body:      req.Body,
		ReplyToID: req.ReplyToID,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (s *Server) handleAssignModerator(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	var req moderatorRequest
	if !s.bind(c, &req) {
		return
	}
	participant, err := s.secondary.AssignModerator(c.Request.Context(), c.Param("id"), req.UserID, user)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, participant)
}

func (s *Server) handleDeactivateParticipant(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	if err := s.secondary.DeactivateParticipant(c.Request.Context(), c.Param("id"), c.Param("userID"), user); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleEditSummary(c *gin.Context) {
	user, ok := s.actor(c)
	if !ok {
		return
	}
	var req summaryRequest
	if !s.bind(c, &req) {
		return
	}
	outcome, err := s.secondary.EditSummary(c.Request.Context(), c.Param("id"), user, req.Summary)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleListAudit(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusNotImplemented, domain.NewEngineError(
			domain.ErrInternalServer, "audit store does not support queries", "", c.GetString(middleware.CorrelationIDKey)))
		return
	}

	filter := audit.Filter{
		CaseID:            c.Query("case_id"),
		SecondaryReviewID: c.Query("secondary_review_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if raw := c.Query(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				s.badRequest(c, name, "must be a non-negative integer")
				return
			}
			*dst = n
		}
	}

	events, err := s.audit.List(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if events == nil {
		events = []domain.AuditEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
