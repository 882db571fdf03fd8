package domain

import (
	"errors"
	"fmt"
	"time"
)

// EngineError represents a standardized error response
type EngineError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput   = "INVALID_INPUT"
	ErrStateConflict  = "STATE_CONFLICT"
	ErrNotFoundCode   = "NOT_FOUND"
	ErrDatabaseError  = "DATABASE_ERROR"
	ErrRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrAuthentication = "AUTHENTICATION_ERROR"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"
)

// NewEngineError creates a new EngineError with timestamp
func NewEngineError(code, message, details, requestID string) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// StateCode identifies the kind of workflow state violation.
type StateCode string

const (
	StateInvalidTransition StateCode = "INVALID_TRANSITION"
	StateNotParticipant    StateCode = "NOT_PARTICIPANT"
	StateReratingLocked    StateCode = "RERATING_LOCKED"
	StateReviewImmutable   StateCode = "REVIEW_IMMUTABLE"
	StateWrongState        StateCode = "WRONG_STATE"
	StateForbidden         StateCode = "FORBIDDEN"
)

// StateError is returned when an operation is not allowed in the current workflow state.
// It is a caller error and is never retried.
type StateError struct {
	Code    StateCode `json:"code"`
	Message string    `json:"message"`
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state error %s: %s", e.Code, e.Message)
}

// Is matches any StateError carrying the same code, so errors.Is(err, &StateError{Code: c}) works.
func (e *StateError) Is(target error) bool {
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewStateError creates a StateError with a formatted message.
func NewStateError(code StateCode, format string, args ...interface{}) *StateError {
	return &StateError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStateError reports whether err is or wraps a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// StateErrorCode returns the code of a wrapped StateError, or "" when err is not one.
func StateErrorCode(err error) StateCode {
	var se *StateError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
