package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/librescoot/metalfsm"
	"github.com/librescoot/metalfsm/states"
)

// Graph output formats
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
	FormatDOT  = "dot"
)

// Graph writes the provisioning state machine to w in the given format.
func Graph(w io.Writer, format string) error {
	d := states.Machine().Describe()
	switch strings.ToLower(format) {
	case FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("failed to encode graph: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case FormatDOT:
		_, err := io.WriteString(w, dot(d))
		return err
	}
	return fmt.Errorf("unknown graph format %q (want %s, %s or %s)", format, FormatYAML, FormatJSON, FormatDOT)
}

// dot renders d as a Graphviz digraph. Stable states are drawn with a
// double border, states with a declared target link to it with a dashed
// edge.
func dot(d metalfsm.Description) string {
	var b strings.Builder
	b.WriteString("digraph provisioning {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=rounded];\n")
	if d.Start != "" {
		fmt.Fprintf(&b, "  __start [shape=point];\n  __start -> %q;\n", d.Start)
	}
	for _, s := range d.States {
		attrs := []string{}
		if states.IsStable(s.Name) {
			attrs = append(attrs, "peripheries=2")
		}
		if s.Terminal {
			attrs = append(attrs, "shape=doublecircle")
		}
		if len(attrs) > 0 {
			fmt.Fprintf(&b, "  %q [%s];\n", s.Name, strings.Join(attrs, ", "))
		} else {
			fmt.Fprintf(&b, "  %q;\n", s.Name)
		}
	}
	for _, t := range d.Transitions {
		fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", t.From, t.To, t.Event)
	}
	for _, s := range d.States {
		if s.Target != "" {
			fmt.Fprintf(&b, "  %q -> %q [style=dashed, color=gray, label=\"target\"];\n", s.Name, s.Target)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
