package secondary

import (
	"strings"

	"github.com/spine-review-engine/internal/domain"
)

// PinContext captures the primary aggregate shown at the top of the forum thread.
func PinContext(agg *domain.CaseAggregate) domain.PinnedContext {
	pinned := domain.PinnedContext{
		AppropriatenessClass: agg.AppropriatenessClass,
		NecessityClass:       agg.NecessityClass,
		ValidReviews:         agg.ValidCount,
		TriggerReasons:       append([]domain.TriggerReason(nil), agg.TriggerReasons...),
		ControversialItems:   agg.ControversialItems(),
	}
	if agg.AppropriatenessMean != nil {
		v := *agg.AppropriatenessMean
		pinned.AppropriatenessMean = &v
	}
	if agg.NecessityMean != nil {
		v := *agg.NecessityMean
		pinned.NecessityMean = &v
	}
	return pinned
}

// FindParticipant returns the participant record of userID, active or not.
func FindParticipant(participants []domain.SecondaryParticipant, userID string) (*domain.SecondaryParticipant, bool) {
	for i := range participants {
		if participants[i].UserID == userID {
			return &participants[i], true
		}
	}
	return nil, false
}

// CheckPost applies the forum rules: posts only while the forum is open, only by active
// participants, MOD_NOTE only by moderators, and an ANSWER must reply to a QUESTION of the
// same thread.
func CheckPost(state domain.SecondaryState, author *domain.SecondaryParticipant, post *domain.ForumPost, replyTo *domain.ForumPost) error {
	if state != domain.SecondaryForumOpen {
		return domain.NewStateError(domain.StateWrongState, "forum is not open (state %s)", state)
	}
	if author == nil || !author.Active {
		return domain.NewStateError(domain.StateNotParticipant, "user %s is not an active participant", post.AuthorID)
	}
	if !post.Type.IsValid() {
		return domain.NewValidationError("type", "must be COMMENT, QUESTION, ANSWER or MOD_NOTE", post.Type)
	}
	if strings.TrimSpace(post.Body) == "" {
		return domain.NewValidationError("body", "is required", post.Body)
	}
	if post.Type == domain.PostModNote && author.Role != domain.RoleModerator {
		return domain.NewStateError(domain.StateForbidden, "only moderators may post MOD_NOTE")
	}
	if post.Type == domain.PostAnswer {
		if replyTo == nil {
			return domain.NewValidationError("reply_to_id", "an ANSWER must reference a question", post.ReplyToID)
		}
		if replyTo.Type != domain.PostQuestion || replyTo.ThreadID != post.ThreadID {
			return domain.NewValidationError("reply_to_id", "must reference a QUESTION in the same thread", post.ReplyToID)
		}
	}
	return nil
}
