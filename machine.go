package metalfsm

import (
	"fmt"
	"log/slog"
)

// tables holds the definition of a machine. Shallow copies share one
// tables value; it must not be mutated once the machine is frozen.
type tables struct {
	order  []StateID
	states map[StateID]*State
	edges  map[StateID]*edgeTable
}

func newTables() *tables {
	return &tables{
		states: make(map[StateID]*State),
		edges:  make(map[StateID]*edgeTable),
	}
}

func (t *tables) clone() *tables {
	c := &tables{
		order:  append([]StateID(nil), t.order...),
		states: make(map[StateID]*State, len(t.states)),
		edges:  make(map[StateID]*edgeTable, len(t.edges)),
	}
	for id, s := range t.states {
		c.states[id] = s.clone()
	}
	for id, e := range t.edges {
		c.edges[id] = e.clone()
	}
	return c
}

// Machine is a finite state machine: a definition (states, transitions and
// reactions) plus a cursor over it.
//
// A Machine is not safe for concurrent use. Callers either serialize access
// to one instance or give every worker its own ShallowCopy of a frozen
// machine; the copies share the definition and each owns its cursor.
type Machine struct {
	defs   *tables
	start  StateID
	frozen bool

	current StateID
	target  StateID

	logger              *slog.Logger
	stateChangeCallback StateChangeFunc
}

// MachineOption is a functional option for configuring a Machine
type MachineOption func(*Machine)

// WithStartState sets the state Initialize moves to
func WithStartState(id StateID) MachineOption {
	return func(m *Machine) {
		m.start = id
	}
}

// WithLogger sets the logger for the machine
func WithLogger(logger *slog.Logger) MachineOption {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithStateChangeCallback sets a callback invoked after each committed transition
func WithStateChangeCallback(fn StateChangeFunc) MachineOption {
	return func(m *Machine) {
		m.stateChangeCallback = fn
	}
}

// New creates an empty, unfrozen machine
func New(opts ...MachineOption) *Machine {
	m := &Machine{
		defs:   newTables(),
		logger: Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnStateChange sets a callback invoked after each committed transition.
// The callback belongs to this instance only; copies keep the callback they
// were created with.
func (m *Machine) OnStateChange(fn StateChangeFunc) {
	m.stateChangeCallback = fn
}

// AddState registers a state
func (m *Machine) AddState(id StateID, opts ...StateOption) error {
	if m.frozen {
		return ErrFrozen
	}
	if id == "" {
		return fmt.Errorf("%w: state name must not be empty", ErrInvalidOperation)
	}
	if _, ok := m.defs.states[id]; ok {
		return fmt.Errorf("%w: state %q already defined", ErrDuplicateDefinition, id)
	}

	s := &State{ID: id}
	for _, opt := range opts {
		opt(s)
	}
	if s.Target != "" {
		if _, ok := m.defs.states[s.Target]; !ok {
			return fmt.Errorf("%w: target state %q does not exist", ErrUnknownReference, s.Target)
		}
	}
	s.reactions = make(map[EventID]*Reaction)

	m.defs.order = append(m.defs.order, id)
	m.defs.states[id] = s
	m.defs.edges[id] = newEdgeTable()
	return nil
}

// AddTransition registers the edge start -> end for event. Adding a second
// edge for the same (start, event) replaces the first one.
func (m *Machine) AddTransition(start, end StateID, event EventID) error {
	if m.frozen {
		return ErrFrozen
	}
	from, ok := m.defs.states[start]
	if !ok {
		return fmt.Errorf("%w: can not add a transition on event %q that starts in undefined state %q",
			ErrUnknownReference, event, start)
	}
	to, ok := m.defs.states[end]
	if !ok {
		return fmt.Errorf("%w: can not add a transition on event %q that ends in undefined state %q",
			ErrUnknownReference, event, end)
	}
	m.defs.edges[start].set(event, jump{
		to:      end,
		onEnter: to.OnEnter,
		onExit:  from.OnExit,
	})
	return nil
}

// AddReaction binds fn to (state, event). extras are passed to fn after the
// standard arguments every time it fires.
func (m *Machine) AddReaction(state StateID, event EventID, fn ReactionFunc, extras ...any) error {
	if m.frozen {
		return ErrFrozen
	}
	s, ok := m.defs.states[state]
	if !ok {
		return fmt.Errorf("%w: can not add a reaction to event %q for undefined state %q",
			ErrUnknownReference, event, state)
	}
	if fn == nil {
		return fmt.Errorf("%w: reaction callback must not be nil", ErrInvalidOperation)
	}
	if _, ok := s.reactions[event]; ok {
		return fmt.Errorf("%w: state %q reaction to event %q already defined",
			ErrDuplicateDefinition, state, event)
	}
	s.reactions[event] = &Reaction{
		State:  state,
		Event:  event,
		fn:     fn,
		extras: extras,
	}
	return nil
}

// Freeze stops further additions of states, transitions and reactions
func (m *Machine) Freeze() {
	m.frozen = true
}

// Frozen reports whether the definition can still be changed
func (m *Machine) Frozen() bool {
	return m.frozen
}

// Initialize moves the cursor to the start state
func (m *Machine) Initialize() error {
	if m.start == "" {
		return fmt.Errorf("%w: no start state configured", ErrUnknownReference)
	}
	return m.InitializeAt(m.start)
}

// InitializeAt moves the cursor to the given state and forgets any tracked
// target.
func (m *Machine) InitializeAt(id StateID) error {
	s, ok := m.defs.states[id]
	if !ok {
		return fmt.Errorf("%w: can not start from undefined state %q", ErrUnknownReference, id)
	}
	if s.Terminal {
		return fmt.Errorf("%w: can not start from terminal state %q", ErrInvalidOperation, id)
	}
	m.current = id
	m.target = ""
	m.logger.Debug("initialized", "state", id)
	return nil
}

// ProcessEvent triggers the transition for event from the current state.
//
// The exit hook of the current state runs first, then the entry hook of the
// destination. The cursor only moves once both hooks succeeded; a hook error
// is returned as is and leaves the machine where it was.
//
// It returns the reaction bound to (destination, event), if any, and
// whether the destination is terminal.
func (m *Machine) ProcessEvent(event EventID) (*Reaction, bool, error) {
	j, err := m.lookup(event)
	if err != nil {
		m.logger.Debug("event rejected", "event", event, "state", m.current, "error", err)
		return nil, false, err
	}

	from := m.current
	if j.onExit != nil {
		if err := j.onExit(from, event); err != nil {
			m.logger.Debug("exit hook failed", "state", from, "event", event, "error", err)
			return nil, false, err
		}
	}
	if j.onEnter != nil {
		if err := j.onEnter(j.to, event); err != nil {
			m.logger.Debug("entry hook failed", "state", j.to, "event", event, "error", err)
			return nil, false, err
		}
	}

	m.current = j.to
	dest := m.defs.states[j.to]

	// Clear the target once reached, then adopt the one declared by the
	// new state if nothing is tracked.
	if m.target != "" && m.target == j.to {
		m.target = ""
	}
	if m.target == "" && dest.Target != "" {
		m.target = dest.Target
	}

	m.logger.Debug("transition", "from", from, "to", j.to, "event", event, "target", m.target)

	if m.stateChangeCallback != nil {
		m.stateChangeCallback(from, j.to, event)
	}

	return dest.reactions[event], dest.Terminal, nil
}

// TestEvent reports whether ProcessEvent(event) would find a transition. It
// has no side effects.
func (m *Machine) TestEvent(event EventID) bool {
	_, err := m.lookup(event)
	return err == nil
}

func (m *Machine) lookup(event EventID) (jump, error) {
	if m.current == "" {
		return jump{}, fmt.Errorf("%w: can only process events after being initialized", ErrInvalidOperation)
	}
	if m.defs.states[m.current].Terminal {
		return jump{}, fmt.Errorf("%w: can not transition from terminal state %q on event %q",
			ErrInvalidOperation, m.current, event)
	}
	j, ok := m.defs.edges[m.current].get(event)
	if !ok {
		return jump{}, fmt.Errorf("%w: can not transition from state %q on event %q (no defined transition)",
			ErrInvalidOperation, m.current, event)
	}
	return j, nil
}

// StartState returns the configured start state
func (m *Machine) StartState() StateID {
	return m.start
}

// CurrentState returns the current state, or "" before initialization
func (m *Machine) CurrentState() StateID {
	return m.current
}

// TargetState returns the declared target being worked towards, or "" when
// none is tracked
func (m *Machine) TargetState() StateID {
	return m.target
}

// Initialized reports whether the machine has a current state
func (m *Machine) Initialized() bool {
	return m.current != ""
}

// Terminated reports whether the machine is in a terminal state
func (m *Machine) Terminated() bool {
	if m.current == "" {
		return false
	}
	return m.defs.states[m.current].Terminal
}

// HasState reports whether id is a known state
func (m *Machine) HasState(id StateID) bool {
	_, ok := m.defs.states[id]
	return ok
}

// IsTerminal reports whether id is a known terminal state
func (m *Machine) IsTerminal(id StateID) bool {
	s, ok := m.defs.states[id]
	return ok && s.Terminal
}

// DeclaredTarget returns the target declared by state id, or ""
func (m *Machine) DeclaredTarget(id StateID) StateID {
	if s, ok := m.defs.states[id]; ok {
		return s.Target
	}
	return ""
}

// Reaction returns the reaction bound to (state, event), or nil
func (m *Machine) Reaction(state StateID, event EventID) *Reaction {
	if s, ok := m.defs.states[state]; ok {
		return s.reactions[event]
	}
	return nil
}

// States returns the state names in definition order
func (m *Machine) States() []StateID {
	return append([]StateID(nil), m.defs.order...)
}

// Transitions returns every edge, grouped by source state in definition
// order and by insertion order within a state
func (m *Machine) Transitions() []Transition {
	var out []Transition
	for _, id := range m.defs.order {
		et := m.defs.edges[id]
		for _, ev := range et.order {
			out = append(out, Transition{From: id, Event: ev, To: et.jumps[ev].to})
		}
	}
	return out
}

// Events returns the number of edges
func (m *Machine) Events() int {
	n := 0
	for _, et := range m.defs.edges {
		n += len(et.order)
	}
	return n
}

// Copy returns a deep copy of the definition. The copy is unfrozen and
// uninitialized; changing it never affects m and vice versa. opts apply to
// the copy only.
func (m *Machine) Copy(opts ...MachineOption) *Machine {
	c := &Machine{
		defs:                m.defs.clone(),
		start:               m.start,
		logger:              m.logger,
		stateChangeCallback: m.stateChangeCallback,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShallowCopy returns an uninitialized machine sharing m's definition. Use it
// on frozen machines to run many independent cursors over one definition.
// opts apply to the copy only.
func (m *Machine) ShallowCopy(opts ...MachineOption) *Machine {
	c := &Machine{
		defs:                m.defs,
		start:               m.start,
		frozen:              m.frozen,
		logger:              m.logger,
		stateChangeCallback: m.stateChangeCallback,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
