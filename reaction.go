package metalfsm

import "context"

// Reaction is a callback bound to a (state, event) pair together with the
// extra arguments given to AddReaction.
type Reaction struct {
	State  StateID
	Event  EventID
	fn     ReactionFunc
	extras []any
}

// Extras returns the arguments bound with the reaction.
func (r *Reaction) Extras() []any {
	return append([]any(nil), r.extras...)
}

// Call invokes the reaction for a transition from -> to caused by event.
func (r *Reaction) Call(ctx context.Context, from, to StateID, event EventID) (EventID, error) {
	return r.fn(ctx, from, to, event, r.extras...)
}
