package metalfsm

// Transition is a (From, Event) -> To edge as reported by Machine.Transitions
type Transition struct {
	From  StateID `yaml:"from" json:"from"`
	Event EventID `yaml:"event" json:"event"`
	To    StateID `yaml:"to" json:"to"`
}

// jump is a stored edge. It carries the hooks resolved when the edge was
// added: the destination's entry hook and the source's exit hook.
type jump struct {
	to      StateID
	onEnter Hook
	onExit  Hook
}

// edgeTable keeps the outgoing edges of one state in insertion order.
type edgeTable struct {
	order []EventID
	jumps map[EventID]jump
}

func newEdgeTable() *edgeTable {
	return &edgeTable{jumps: make(map[EventID]jump)}
}

func (t *edgeTable) set(event EventID, j jump) {
	if _, ok := t.jumps[event]; !ok {
		t.order = append(t.order, event)
	}
	t.jumps[event] = j
}

func (t *edgeTable) get(event EventID) (jump, bool) {
	j, ok := t.jumps[event]
	return j, ok
}

func (t *edgeTable) clone() *edgeTable {
	c := &edgeTable{
		order: append([]EventID(nil), t.order...),
		jumps: make(map[EventID]jump, len(t.jumps)),
	}
	for ev, j := range t.jumps {
		c.jumps[ev] = j
	}
	return c
}
