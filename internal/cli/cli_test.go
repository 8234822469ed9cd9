package cli

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()

	for _, path := range [][]string{
		{"start"},
		{"run"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "status"},
		{"seed"},
		{"worker", "run"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.NotNil(t, cmd.RunE, path)
	}

	down, _, err := root.Find([]string{"migrate", "down"})
	require.NoError(t, err)
	assert.NotNil(t, down.Flags().Lookup("steps"))
	assert.NotNil(t, down.Flags().Lookup("all"))

	seed, _, err := root.Find([]string{"seed"})
	require.NoError(t, err)
	assert.NotNil(t, seed.Flags().Lookup("users-only"))
}

func TestShutdownTimeoutIsInherited(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"migrate", "status", "--shutdown-timeout", "3s"})

	status, _, err := root.Find([]string{"migrate", "status"})
	require.NoError(t, err)
	status.RunE = func(cmd *cobra.Command, _ []string) error {
		timeout, err := cmd.Flags().GetDuration(shutdownTimeoutFlag)
		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, timeout)
		return nil
	}
	require.NoError(t, root.Execute())
}
