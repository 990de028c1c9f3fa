package metalfsm

import "fmt"

// Cursor is the mutable part of a machine: where it is and what it is
// working towards. Owners persist it and restore it onto a ShallowCopy of
// the frozen definition.
type Cursor struct {
	Current StateID `json:"current" yaml:"current"`
	Target  StateID `json:"target,omitempty" yaml:"target,omitempty"`
}

// Cursor returns the current position of the machine
func (m *Machine) Cursor() Cursor {
	return Cursor{Current: m.current, Target: m.target}
}

// Restore places the machine at a previously saved position. Unlike
// InitializeAt it accepts terminal states, since a saved run may have ended.
func (m *Machine) Restore(c Cursor) error {
	if !m.HasState(c.Current) {
		return fmt.Errorf("%w: can not restore to undefined state %q", ErrUnknownReference, c.Current)
	}
	if c.Target != "" && !m.HasState(c.Target) {
		return fmt.Errorf("%w: can not restore undefined target state %q", ErrUnknownReference, c.Target)
	}
	m.current = c.Current
	m.target = c.Target
	m.logger.Debug("restored", "state", c.Current, "target", c.Target)
	return nil
}
