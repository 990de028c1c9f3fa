package metalfsm

import (
	"context"
	"log/slog"
)

// StateID is a unique identifier for a state
type StateID string

// EventID is a unique identifier for an event type
type EventID string

// Hook runs when a state is exited or entered. It receives the name of the
// state being exited (or entered) and the event causing the transition.
type Hook func(state StateID, event EventID) error

// ReactionFunc is invoked after a transition lands in a stable state. It
// receives the previous stable state, the new stable state, the event that
// caused the transition and any extras bound with AddReaction. The returned
// event is processed next; NoEvent means the reaction produced nothing.
type ReactionFunc func(ctx context.Context, from, to StateID, event EventID, extras ...any) (EventID, error)

// StateChangeFunc observes committed transitions.
type StateChangeFunc func(from, to StateID, event EventID)

// Logger is the default logger used when none is provided
var Logger = slog.Default()
