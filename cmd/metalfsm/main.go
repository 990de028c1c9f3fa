// Package main is the entry point for the metalfsm CLI.
//
// metalfsm drives bare metal nodes through their provisioning lifecycle:
// enrollment, deployment, callbacks and tear down.
//
// Commands: serve, graph, simulate, version.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/librescoot/metalfsm/cmd/metalfsm/commands"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
