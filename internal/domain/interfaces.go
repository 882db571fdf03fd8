package domain

import (
	"context"
	"time"
)

// CaseStore reads cases and reviews and persists everything derived from them.
type CaseStore interface {
	GetCase(ctx context.Context, caseID string) (*Case, error)
	UpdateCaseStatus(ctx context.Context, caseID string, status CaseStatus) error

	// CreateReview fails with ErrAlreadyExists when the reviewer is already assigned to the case.
	CreateReview(ctx context.Context, review *Review) error
	GetReview(ctx context.Context, reviewID string) (*Review, error)
	// UpdateReview writes the review only if its stored status still equals expected.
	UpdateReview(ctx context.Context, review *Review, expected ReviewStatus) error
	ListReviews(ctx context.Context, caseID string) ([]Review, error)

	GetAggregate(ctx context.Context, caseID string) (*CaseAggregate, error)
	// SaveAggregate inserts when agg.Version is zero and otherwise updates only if the stored
	// version matches. On success agg.Version holds the new version.
	SaveAggregate(ctx context.Context, agg *CaseAggregate) error

	SaveResult(ctx context.Context, result *CaseResult) error
	GetResult(ctx context.Context, caseID string) (*CaseResult, error)
}

// StateChange is a compare-and-set transition of a secondary review.
type StateChange struct {
	SecondaryReviewID string
	From              SecondaryState
	To                SecondaryState
	At                time.Time
	Note              string
}

// SecondaryStore persists the secondary review workflow.
type SecondaryStore interface {
	// CreateSecondary stores the review, its pinned thread and initial participants atomically.
	// It fails with ErrActiveSecondaryExists when the case already has a non-cancelled review.
	CreateSecondary(ctx context.Context, sr *SecondaryReview, thread *ForumThread, participants []SecondaryParticipant) error
	GetSecondary(ctx context.Context, id string) (*SecondaryReview, error)
	GetActiveSecondaryForCase(ctx context.Context, caseID string) (*SecondaryReview, error)
	// TransitionSecondary applies the change only if the stored state equals change.From,
	// otherwise it returns ErrVersionConflict.
	TransitionSecondary(ctx context.Context, change StateChange) error
	// TransitionWithParticipants applies change and enrolls participants atomically. On any
	// error neither is written.
	TransitionWithParticipants(ctx context.Context, change StateChange, participants []SecondaryParticipant) error

	// AddParticipants skips users that already participate.
	AddParticipants(ctx context.Context, participants []SecondaryParticipant) error
	ListParticipants(ctx context.Context, secondaryReviewID string) ([]SecondaryParticipant, error)
	DeactivateParticipant(ctx context.Context, secondaryReviewID, userID string, at time.Time) error

	GetThread(ctx context.Context, secondaryReviewID string) (*ForumThread, error)
	// AppendPost assigns the next sequence number in the thread.
	AppendPost(ctx context.Context, post *ForumPost) error
	GetPost(ctx context.Context, threadID, postID string) (*ForumPost, error)
	ListPosts(ctx context.Context, threadID string) ([]ForumPost, error)

	// UpsertRerating writes only while the review is RERATING_OPEN and returns
	// ErrVersionConflict otherwise.
	UpsertRerating(ctx context.Context, rerating *SecondaryRerating) error
	ListReratings(ctx context.Context, secondaryReviewID string) ([]SecondaryRerating, error)

	// CompleteSecondary applies change and records the outcome atomically. It returns
	// ErrVersionConflict when the stored state is no longer change.From and ErrOutcomeExists
	// when an outcome is already recorded. On any error neither is written.
	CompleteSecondary(ctx context.Context, change StateChange, outcome *SecondaryOutcome) error
	GetOutcome(ctx context.Context, secondaryReviewID string) (*SecondaryOutcome, error)
	UpdateOutcomeSummary(ctx context.Context, secondaryReviewID, summary, editorID string, at time.Time) error
}

// RosterProvider returns the pool of users that may be invited as peer reviewers.
type RosterProvider interface {
	ListCandidates(ctx context.Context) ([]Candidate, error)
}

// Notifier delivers a single notification request.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotificationDispatcher queues notifications without blocking the caller.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n Notification)
	// Suppress drops queued and future notifications for a secondary review.
	Suppress(secondaryReviewID string)
}

// AuditSink records append-only audit events.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Policy() Policy
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
