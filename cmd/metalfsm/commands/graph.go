package commands

import (
	"github.com/spf13/cobra"

	"github.com/librescoot/metalfsm/cmd/metalfsm/handlers"
)

// Graph returns the command printing the provisioning state machine.
func Graph() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the provisioning state machine",
		Long: `Print the provisioning state machine.

Formats:
  yaml  states, declared targets and transitions (default)
  json  same as yaml
  dot   Graphviz digraph, e.g. metalfsm graph -o dot | dot -Tsvg > states.svg
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Graph(cmd.OutOrStdout(), format)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", handlers.FormatYAML, "Output format: yaml, json or dot")

	return cmd
}
