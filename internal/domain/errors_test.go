package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestEngineError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Basic error",
			code:      ErrInvalidInput,
			message:   "Invalid appropriateness score",
			details:   "Scores must be between 1 and 9",
			requestID: "req-123",
		},
		{
			name:      "Database error",
			code:      ErrDatabaseError,
			message:   "Database connection failed",
			details:   "Unable to connect to PostgreSQL",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewEngineError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}

			if err.Details != tt.details {
				t.Errorf("Expected details %s, got %s", tt.details, err.Details)
			}

			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}

			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		message string
		value   interface{}
	}{
		{
			name:    "String validation error",
			field:   "rationale",
			message: "is required",
			value:   "",
		},
		{
			name:    "Integer validation error",
			field:   "appropriateness",
			message: "must be between 1 and 9",
			value:   12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidationError(tt.field, tt.message, tt.value)

			if err.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, err.Field)
			}

			if err.Value != tt.value {
				t.Errorf("Expected value %v, got %v", tt.value, err.Value)
			}

			expectedError := "validation error for field '" + tt.field + "': " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestStateErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("opening forum: %w", NewStateError(StateInvalidTransition, "%s -> %s", SecondaryCompleted, SecondaryForumOpen))

	if !IsStateError(wrapped) {
		t.Fatalf("expected wrapped error to be a state error")
	}
	if IsValidation(wrapped) {
		t.Errorf("state error must not be reported as validation error")
	}
	if got := StateErrorCode(wrapped); got != StateInvalidTransition {
		t.Errorf("Expected code %s, got %s", StateInvalidTransition, got)
	}
	if !errors.Is(wrapped, &StateError{Code: StateInvalidTransition}) {
		t.Errorf("errors.Is should match on code")
	}
	if errors.Is(wrapped, &StateError{Code: StateNotParticipant}) {
		t.Errorf("errors.Is must not match a different code")
	}

	validation := fmt.Errorf("submit: %w", NewValidationError("necessity", "is required", nil))
	if !IsValidation(validation) || IsStateError(validation) {
		t.Errorf("validation error misclassified")
	}
	if StateErrorCode(validation) != "" {
		t.Errorf("non-state error should have empty code")
	}
}

func TestErrorConstants(t *testing.T) {
	constants := map[string]string{
		"ErrInvalidInput":   ErrInvalidInput,
		"ErrStateConflict":  ErrStateConflict,
		"ErrNotFoundCode":   ErrNotFoundCode,
		"ErrDatabaseError":  ErrDatabaseError,
		"ErrRateLimit":      ErrRateLimit,
		"ErrInternalServer": ErrInternalServer,
	}

	expectedValues := map[string]string{
		"ErrInvalidInput":   "INVALID_INPUT",
		"ErrStateConflict":  "STATE_CONFLICT",
		"ErrNotFoundCode":   "NOT_FOUND",
		"ErrDatabaseError":  "DATABASE_ERROR",
		"ErrRateLimit":      "RATE_LIMIT_EXCEEDED",
		"ErrInternalServer": "INTERNAL_SERVER_ERROR",
	}

	for name, actual := range constants {
		expected := expectedValues[name]
		if actual != expected {
			t.Errorf("Expected %s to be %s, got %s", name, expected, actual)
		}
	}
}
