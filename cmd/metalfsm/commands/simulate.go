package commands

import (
	"github.com/spf13/cobra"

	"github.com/librescoot/metalfsm/cmd/metalfsm/handlers"
)

// Simulate returns the command running provisioning against fake nodes.
func Simulate() *cobra.Command {
	var opts handlers.SimulateOptions
	var trace bool

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Provision fake nodes in memory",
		Long: `Enroll fake nodes, deploy them in parallel and print where each one
settled. Nothing leaves the process: nodes live in memory and the fake
driver answers every call.

With --trace a single node is deployed and torn down and every committed
transition is printed instead.
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if trace {
				return handlers.Trace(cmd.Context(), cmd.OutOrStdout(), opts.Wait)
			}
			return handlers.Simulate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Nodes, "nodes", "n", 4, "Number of nodes")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 2, "Nodes driven in parallel")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "Make deployments wait for a callback")
	cmd.Flags().BoolVar(&opts.FailDeploy, "fail", false, "Make deployments fail")
	cmd.Flags().BoolVar(&opts.Teardown, "teardown", false, "Delete the instances again afterwards")
	cmd.Flags().BoolVar(&trace, "trace", false, "Trace the transitions of a single node")

	return cmd
}
