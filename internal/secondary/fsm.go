// Package secondary holds the pure rules of the secondary review workflow: the state
// machine, peer cohort sampling, the quorum check, adjusted scoring and summary text.
package secondary

import (
	"github.com/spine-review-engine/internal/domain"
)

// validTransitions defines the legal secondary review transitions.
// Each key is a source state, and the value is the set of valid target states.
var validTransitions = map[domain.SecondaryState]map[domain.SecondaryState]bool{
	domain.SecondaryCreated:       {domain.SecondaryForumOpen: true, domain.SecondaryCancelled: true},
	domain.SecondaryForumOpen:     {domain.SecondaryReratingOpen: true, domain.SecondaryCancelled: true},
	domain.SecondaryReratingOpen:  {domain.SecondaryLockedScoring: true, domain.SecondaryCancelled: true},
	domain.SecondaryLockedScoring: {domain.SecondaryCompleted: true, domain.SecondaryCancelled: true},
}

// CanTransition checks if a state transition is legal.
func CanTransition(from, to domain.SecondaryState) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Transition validates from -> to and returns the target state, or a StateError for any
// pair outside the table. Terminal states accept nothing.
func Transition(from, to domain.SecondaryState) (domain.SecondaryState, error) {
	if !CanTransition(from, to) {
		return from, domain.NewStateError(domain.StateInvalidTransition, "illegal transition %s -> %s", from, to)
	}
	return to, nil
}
