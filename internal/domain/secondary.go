package domain

import "time"

// SecondaryState is the state of a secondary review workflow.
type SecondaryState string

const (
	SecondaryCreated       SecondaryState = "CREATED"
	SecondaryForumOpen     SecondaryState = "FORUM_OPEN"
	SecondaryReratingOpen  SecondaryState = "RERATING_OPEN"
	SecondaryLockedScoring SecondaryState = "LOCKED_SCORING"
	SecondaryCompleted     SecondaryState = "COMPLETED"
	SecondaryCancelled     SecondaryState = "CANCELLED"
)

// IsValid reports whether the state is known.
func (s SecondaryState) IsValid() bool {
	switch s {
	case SecondaryCreated, SecondaryForumOpen, SecondaryReratingOpen,
		SecondaryLockedScoring, SecondaryCompleted, SecondaryCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are permitted.
func (s SecondaryState) IsTerminal() bool {
	return s == SecondaryCompleted || s == SecondaryCancelled
}

func (s SecondaryState) String() string {
	return string(s)
}

// SecondaryReview is the escalation record of one case.
type SecondaryReview struct {
	ID             string          `json:"id"`
	CaseID         string          `json:"case_id"`
	State          SecondaryState  `json:"state"`
	TriggerReasons []TriggerReason `json:"trigger_reasons"`
	Policy         Policy          `json:"policy"`

	// PrimaryAggregate is the aggregate that caused the escalation, kept for scoring comparisons.
	PrimaryAggregate CaseAggregate `json:"primary_aggregate"`

	CreatedAt        time.Time  `json:"created_at"`
	ForumOpenedAt    *time.Time `json:"forum_opened_at,omitempty"`
	ForumClosedAt    *time.Time `json:"forum_closed_at,omitempty"`
	ReratingOpenedAt *time.Time `json:"rerating_opened_at,omitempty"`
	LockedAt         *time.Time `json:"locked_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	CancellationNote string     `json:"cancellation_note,omitempty"`

	Version int64 `json:"-"`
}

// Apply records a committed state change on the in-memory review, setting the timestamp
// that belongs to the state it entered.
func (sr *SecondaryReview) Apply(change StateChange) {
	at := change.At
	switch change.To {
	case SecondaryForumOpen:
		sr.ForumOpenedAt = &at
	case SecondaryReratingOpen:
		sr.ForumClosedAt = &at
		sr.ReratingOpenedAt = &at
	case SecondaryLockedScoring:
		sr.LockedAt = &at
	case SecondaryCompleted:
		sr.CompletedAt = &at
	case SecondaryCancelled:
		sr.CancelledAt = &at
		sr.CancellationNote = change.Note
	}
	sr.State = change.To
	sr.Version++
}

// ParticipantRole is the role of a user within a secondary review.
type ParticipantRole string

const (
	RoleOriginalReviewer ParticipantRole = "ORIGINAL_REVIEWER"
	RolePeerSurgeon      ParticipantRole = "PEER_SURGEON"
	RoleModerator        ParticipantRole = "MODERATOR"
)

// IsValid reports whether the role is known.
func (r ParticipantRole) IsValid() bool {
	switch r {
	case RoleOriginalReviewer, RolePeerSurgeon, RoleModerator:
		return true
	default:
		return false
	}
}

// SecondaryParticipant is a user attached to a secondary review. Participants are deactivated, never deleted.
type SecondaryParticipant struct {
	SecondaryReviewID string          `json:"secondary_review_id"`
	UserID            string          `json:"user_id"`
	Role              ParticipantRole `json:"role"`
	Active            bool            `json:"active"`
	JoinedAt          time.Time       `json:"joined_at"`
	DeactivatedAt     *time.Time      `json:"deactivated_at,omitempty"`
}

// PinnedContext is the immutable case context shown at the top of the forum thread.
type PinnedContext struct {
	AppropriatenessMean  *float64        `json:"appropriateness_mean,omitempty"`
	AppropriatenessClass LikertClass     `json:"appropriateness_class,omitempty"`
	NecessityMean        *float64        `json:"necessity_mean,omitempty"`
	NecessityClass       LikertClass     `json:"necessity_class,omitempty"`
	ValidReviews         int             `json:"valid_reviews"`
	TriggerReasons       []TriggerReason `json:"trigger_reasons"`
	ControversialItems   []BinaryResult  `json:"controversial_items,omitempty"`
}

// ForumThread is the discussion thread of a secondary review.
type ForumThread struct {
	ID                string        `json:"id"`
	SecondaryReviewID string        `json:"secondary_review_id"`
	Pinned            PinnedContext `json:"pinned"`
	CreatedAt         time.Time     `json:"created_at"`
	ClosedAt          *time.Time    `json:"closed_at,omitempty"`
}

// PostType classifies a forum post.
type PostType string

const (
	PostComment  PostType = "COMMENT"
	PostQuestion PostType = "QUESTION"
	PostAnswer   PostType = "ANSWER"
	PostModNote  PostType = "MOD_NOTE"
)

// IsValid reports whether the post type is known.
func (t PostType) IsValid() bool {
	switch t {
	case PostComment, PostQuestion, PostAnswer, PostModNote:
		return true
	default:
		return false
	}
}

// ForumPost is one append-only entry in a thread.
type ForumPost struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	AuthorID  string    `json:"author_id"`
	Type      PostType  `json:"type"`
	Body      string    `json:"body"`
	ReplyToID string    `json:"reply_to_id,omitempty"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// SecondaryRerating is a participant's final scores. It is upserted until the review locks.
type SecondaryRerating struct {
	SecondaryReviewID  string              `json:"secondary_review_id"`
	ParticipantID      string              `json:"participant_id"`
	Role               ParticipantRole     `json:"role"`
	Appropriateness    int                 `json:"appropriateness"`
	Necessity          *int                `json:"necessity,omitempty"`
	BinaryVotes        map[QuestionID]bool `json:"binary_votes,omitempty"`
	Rationale          string              `json:"rationale"`
	ChangedFromPrimary bool                `json:"changed_from_primary"`
	SubmittedAt        time.Time           `json:"submitted_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// AdjustedScores are the scores recomputed from the re-rating set.
type AdjustedScores struct {
	AppropriatenessMean  float64      `json:"appropriateness_mean"`
	AppropriatenessClass LikertClass  `json:"appropriateness_class"`
	NecessityMean        *float64     `json:"necessity_mean"`
	NecessityClass       *LikertClass `json:"necessity_class"`
}

// SecondaryOutcome is the terminal record of a completed secondary review.
type SecondaryOutcome struct {
	ID                string           `json:"id"`
	SecondaryReviewID string           `json:"secondary_review_id"`
	CaseID            string           `json:"case_id"`
	Adjusted          AdjustedScores   `json:"adjusted"`
	Statistic         ScoringStatistic `json:"statistic"`
	Summary           string           `json:"summary"`
	ParticipantCount  int              `json:"participant_count"`
	ReratingCount     int              `json:"rerating_count"`
	CreatedAt         time.Time        `json:"created_at"`
	SummaryEditedBy   string           `json:"summary_edited_by,omitempty"`
	SummaryEditedAt   *time.Time       `json:"summary_edited_at,omitempty"`
}

// QuorumCounts is a count of re-ratings per quorum dimension.
type QuorumCounts struct {
	Total    int `json:"total"`
	Peer     int `json:"peer"`
	Original int `json:"original"`
}

// QuorumStatus reports whether enough re-ratings were collected to lock scoring.
type QuorumStatus struct {
	Met              bool         `json:"met"`
	Quorum           QuorumCounts `json:"quorum"`
	Required         QuorumCounts `json:"required"`
	OriginalRequired bool         `json:"original_required"`
}

// NotificationType tags a notification request.
type NotificationType string

const (
	NotifyPeerInvitation  NotificationType = "PEER_INVITATION"
	NotifyReratingOpen    NotificationType = "RERATING_OPEN"
	NotifyCaseResultReady NotificationType = "CASE_RESULT_READY"
)

// Notification is a fire-and-forget delivery request.
type Notification struct {
	ID                string            `json:"id"`
	RecipientID       string            `json:"recipient_id"`
	Type              NotificationType  `json:"type"`
	SecondaryReviewID string            `json:"secondary_review_id,omitempty"`
	CaseID            string            `json:"case_id,omitempty"`
	Payload           map[string]string `json:"payload,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}
