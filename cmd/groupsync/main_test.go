package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobFromFlags(t *testing.T) {
	cmd := runCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--source", "CN=A", "--source", "CN=B",
		"--destination", "CN=Dst",
		"--remove-threshold", "2.5",
		"--dry-run",
	}))

	job := jobFromFlags(cmd, 10, 20)
	assert.Equal(t, []string{"CN=A", "CN=B"}, job.SourceGroupIDs)
	assert.Equal(t, "CN=Dst", job.DestinationGroupID)
	assert.InDelta(t, 10.0, job.ThresholdAddPct, 1e-9, "unset flag falls back to config")
	assert.InDelta(t, 2.5, job.ThresholdRemovePct, 1e-9)
	assert.True(t, job.DryRun)
	assert.False(t, job.InitialSync)
	assert.False(t, job.Exclusionary)
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])

	root.SetArgs([]string{"run", "--destination", "CN=Dst"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	assert.Error(t, root.Execute(), "missing --source")
}
