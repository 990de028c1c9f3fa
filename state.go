package metalfsm

// State defines a state in the machine
type State struct {
	ID       StateID
	Terminal bool // no transitions out

	OnEnter Hook
	OnExit  Hook

	// Target is the declared eventual destination of the state. It is a
	// hint for callers, not an edge.
	Target StateID

	reactions map[EventID]*Reaction
}

// StateOption is a functional option for configuring a State
type StateOption func(*State)

// Terminal marks the state as terminal
func Terminal() StateOption {
	return func(s *State) {
		s.Terminal = true
	}
}

// WithOnEnter sets the entry hook for the state
func WithOnEnter(fn Hook) StateOption {
	return func(s *State) {
		s.OnEnter = fn
	}
}

// WithOnExit sets the exit hook for the state
func WithOnExit(fn Hook) StateOption {
	return func(s *State) {
		s.OnExit = fn
	}
}

// WithTarget declares the state's eventual destination. The target must
// already be defined.
func WithTarget(target StateID) StateOption {
	return func(s *State) {
		s.Target = target
	}
}

func (s *State) clone() *State {
	c := *s
	c.reactions = make(map[EventID]*Reaction, len(s.reactions))
	for ev, r := range s.reactions {
		c.reactions[ev] = r
	}
	return &c
}
