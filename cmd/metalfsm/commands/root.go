// Package commands defines the CLI command structure and flag bindings.
//
// Command execution is delegated to functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the metalfsm CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "metalfsm",
		Short:         "Provision bare metal nodes through a lifecycle state machine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(Serve())
	cmd.AddCommand(Graph())
	cmd.AddCommand(Simulate())
	cmd.AddCommand(Version())

	return cmd
}
