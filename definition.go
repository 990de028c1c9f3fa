package metalfsm

import "fmt"

// Definition is a fluent builder for a Machine. The first definition error
// is kept and returned by Build; later calls are ignored.
type Definition struct {
	m   *Machine
	err error
}

// NewDefinition creates a new FSM definition builder
func NewDefinition(opts ...MachineOption) *Definition {
	return &Definition{m: New(opts...)}
}

// State adds a non-terminal state
func (d *Definition) State(id StateID, opts ...StateOption) *Definition {
	if d.err == nil {
		d.err = d.m.AddState(id, opts...)
	}
	return d
}

// FinalState adds a terminal state with no outgoing transitions
func (d *Definition) FinalState(id StateID, opts ...StateOption) *Definition {
	return d.State(id, append(opts, Terminal())...)
}

// Transition adds a transition rule
func (d *Definition) Transition(from StateID, event EventID, to StateID) *Definition {
	if d.err == nil {
		d.err = d.m.AddTransition(from, to, event)
	}
	return d
}

// Reaction binds a reaction to (state, event)
func (d *Definition) Reaction(state StateID, event EventID, fn ReactionFunc, extras ...any) *Definition {
	if d.err == nil {
		d.err = d.m.AddReaction(state, event, fn, extras...)
	}
	return d
}

// Initial sets the initial state
func (d *Definition) Initial(id StateID) *Definition {
	d.m.start = id
	return d
}

// Validate checks the definition for errors
func (d *Definition) Validate() error {
	if d.err != nil {
		return d.err
	}
	if d.m.start != "" {
		if !d.m.HasState(d.m.start) {
			return fmt.Errorf("%w: initial state %q not defined", ErrUnknownReference, d.m.start)
		}
		if d.m.IsTerminal(d.m.start) {
			return fmt.Errorf("%w: initial state %q is terminal", ErrInvalidOperation, d.m.start)
		}
	}
	return nil
}

// Build freezes and returns the machine
func (d *Definition) Build() (*Machine, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	d.m.Freeze()
	return d.m, nil
}

// Unfrozen returns the machine without freezing it, so that callers can keep
// adding to it.
func (d *Definition) Unfrozen() (*Machine, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	return d.m, nil
}
