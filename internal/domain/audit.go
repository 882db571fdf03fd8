package domain

import "time"

// AuditEventType names an auditable action.
type AuditEventType string

const (
	AuditReviewAssigned      AuditEventType = "REVIEW_ASSIGNED"
	AuditReviewSubmitted     AuditEventType = "REVIEW_SUBMITTED"
	AuditReviewStopped       AuditEventType = "REVIEW_STOPPED"
	AuditSecondaryCreated    AuditEventType = "SECONDARY_CREATED"
	AuditSecondaryTransition AuditEventType = "SECONDARY_TRANSITION"
	AuditParticipantAdded    AuditEventType = "PARTICIPANT_ADDED"
	AuditParticipantRemoved  AuditEventType = "PARTICIPANT_DEACTIVATED"
	AuditOutcomeFinalized    AuditEventType = "OUTCOME_FINALIZED"
	AuditSummaryEdited       AuditEventType = "SUMMARY_EDITED"
)

// AuditEvent is one append-only audit record.
type AuditEvent struct {
	ID                string            `json:"id"`
	Type              AuditEventType    `json:"type"`
	CaseID            string            `json:"case_id,omitempty"`
	SecondaryReviewID string            `json:"secondary_review_id,omitempty"`
	ActorID           string            `json:"actor_id,omitempty"`
	FromState         string            `json:"from_state,omitempty"`
	ToState           string            `json:"to_state,omitempty"`
	Details           map[string]string `json:"details,omitempty"`
	OccurredAt        time.Time         `json:"occurred_at"`
}
