package secondary

import "github.com/spine-review-engine/internal/domain"

// CheckQuorum counts the re-ratings of active participants and compares them against the
// policy. Total, peer and original-reviewer requirements are checked independently.
func CheckQuorum(reratings []domain.SecondaryRerating, participants []domain.SecondaryParticipant, policy domain.Policy) domain.QuorumStatus {
	active := make(map[string]domain.ParticipantRole)
	activeOriginals := 0
	for _, p := range participants {
		if !p.Active {
			continue
		}
		active[p.UserID] = p.Role
		if p.Role == domain.RoleOriginalReviewer {
			activeOriginals++
		}
	}

	var quorum domain.QuorumCounts
	counted := make(map[string]struct{})
	for _, r := range reratings {
		role, ok := active[r.ParticipantID]
		if !ok {
			continue
		}
		if _, dup := counted[r.ParticipantID]; dup {
			continue
		}
		counted[r.ParticipantID] = struct{}{}

		quorum.Total++
		switch role {
		case domain.RolePeerSurgeon:
			quorum.Peer++
		case domain.RoleOriginalReviewer:
			quorum.Original++
		}
	}

	required := domain.QuorumCounts{
		Total: policy.MinTotalReratings,
		Peer:  policy.MinPeerReratings,
	}
	if policy.RequireOriginalReviewers {
		required.Original = activeOriginals
	}

	return domain.QuorumStatus{
		Met: quorum.Total >= required.Total &&
			quorum.Peer >= required.Peer &&
			quorum.Original >= required.Original,
		Quorum:           quorum,
		Required:         required,
		OriginalRequired: policy.RequireOriginalReviewers,
	}
}
