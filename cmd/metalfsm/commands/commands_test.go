package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot(t *testing.T) {
	cmd := Root()
	require.NotNil(t, cmd)
	assert.Equal(t, "metalfsm", cmd.Use)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "graph", "simulate", "version"}, names)
}

func TestVersion_Output(t *testing.T) {
	origVersion, origCommit, origDate := version, commit, date
	defer func() {
		version, commit, date = origVersion, origCommit, origDate
	}()

	SetVersionInfo("1.2.3", "abc123", "2026-01-01")

	var out bytes.Buffer
	cmd := Version()
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "metalfsm 1.2.3")
	assert.Contains(t, out.String(), "abc123")
}

func TestGraph_DOT(t *testing.T) {
	var out bytes.Buffer
	cmd := Root()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"graph", "-o", "dot"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "digraph provisioning")
}

func TestGraph_BadFormat(t *testing.T) {
	cmd := Root()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"graph", "-o", "png"})
	assert.Error(t, cmd.Execute())
}

func TestSimulate_Flags(t *testing.T) {
	cmd := Simulate()
	for _, name := range []string{"nodes", "workers", "wait", "fail", "teardown", "trace"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}

	var out bytes.Buffer
	root := Root()
	root.SetOut(&out)
	root.SetArgs([]string{"simulate", "-n", "2", "--wait"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "sim-01")
	assert.Contains(t, out.String(), "active")
}

func TestServe_Flags(t *testing.T) {
	cmd := Serve()
	for _, name := range []string{"env-file", "addr", "tftp-server", "boot-file"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}
