package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/spine-review-engine/internal/domain"
	"github.com/spine-review-engine/internal/middleware"
)

// statusFor maps an engine error onto its HTTP status and envelope code.
func statusFor(err error) (int, string) {
	var validation *domain.ValidationError
	var state *domain.StateError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, domain.ErrInvalidInput
	case errors.As(err, &state):
		if state.Code == domain.StateForbidden {
			return http.StatusForbidden, domain.ErrStateConflict
		}
		return http.StatusConflict, domain.ErrStateConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrNotFoundCode
	case errors.Is(err, domain.ErrActiveSecondaryExists),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrOutcomeExists):
		return http.StatusConflict, domain.ErrStateConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, domain.ErrInternalServer
	default:
		return http.StatusInternalServerError, domain.ErrInternalServer
	}
}

// respondError writes the EngineError envelope. Internal errors are logged and their
// message is not echoed back.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	requestID := c.GetString(middleware.CorrelationIDKey)

	message := err.Error()
	details := ""
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		message = validation.Message
		details = validation.Field
	}

	if status >= http.StatusInternalServerError {
		s.log.WithFields(logrus.Fields{
			"correlation_id": requestID,
			"path":           c.FullPath(),
			"error":          err,
		}).Error("Request failed")
		message = "internal error"
	}

	c.AbortWithStatusJSON(status, domain.NewEngineError(code, message, details, requestID))
}

// badRequest reports a malformed request body or missing header.
func (s *Server) badRequest(c *gin.Context, field, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, domain.NewEngineError(
		domain.ErrInvalidInput, message, field, c.GetString(middleware.CorrelationIDKey)))
}
