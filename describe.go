package metalfsm

import "sort"

// StateInfo describes one state of a definition
type StateInfo struct {
	Name      StateID   `yaml:"name" json:"name"`
	Terminal  bool      `yaml:"terminal,omitempty" json:"terminal,omitempty"`
	Target    StateID   `yaml:"target,omitempty" json:"target,omitempty"`
	Reactions []EventID `yaml:"reactions,omitempty" json:"reactions,omitempty"`
}

// Description is a serializable view of a machine definition
type Description struct {
	Start       StateID      `yaml:"start,omitempty" json:"start,omitempty"`
	States      []StateInfo  `yaml:"states" json:"states"`
	Transitions []Transition `yaml:"transitions" json:"transitions"`
}

// Describe returns the definition of m
func (m *Machine) Describe() Description {
	d := Description{
		Start:       m.start,
		Transitions: m.Transitions(),
	}
	for _, id := range m.defs.order {
		s := m.defs.states[id]
		info := StateInfo{Name: id, Terminal: s.Terminal, Target: s.Target}
		for ev := range s.reactions {
			info.Reactions = append(info.Reactions, ev)
		}
		sort.Slice(info.Reactions, func(i, j int) bool { return info.Reactions[i] < info.Reactions[j] })
		d.States = append(d.States, info)
	}
	return d
}
