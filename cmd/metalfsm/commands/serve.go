package commands

import (
	"github.com/spf13/cobra"

	"github.com/librescoot/metalfsm/cmd/metalfsm/handlers"
)

// Serve returns the command running the API server.
func Serve() *cobra.Command {
	var opts handlers.ServeOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the provisioning API server",
		Long: `Run the provisioning API server and conductor.

Configuration is read from the environment (METALFSM_*, REDIS_*, AMT_*,
FABRIC_*). A .env file in the working directory is loaded when present;
--env-file loads more files, later ones overriding earlier ones.

Prometheus metrics are served on /metrics.
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Serve(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "Additional .env files to load")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (overrides METALFSM_HTTP_ADDR)")
	cmd.Flags().StringVar(&opts.TFTPServer, "tftp-server", "127.0.0.1", "TFTP server handed to deploying nodes")
	cmd.Flags().StringVar(&opts.BootFile, "boot-file", "pxelinux.0", "Boot file handed to deploying nodes")

	return cmd
}
