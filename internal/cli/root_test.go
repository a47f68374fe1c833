package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "patronupdate", cmd.Use)
	assert.Contains(t, cmd.Long, "Without --go nothing is written")
}

func TestRootFlags(t *testing.T) {
	cmd := NewRootCommand()

	flags := map[string]string{"csv": "c", "go": "g", "delay": "d"}
	for name, short := range flags {
		f := cmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, short, f.Shorthand, name)
	}
	assert.NotNil(t, cmd.Flags().Lookup("report"))

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestRunsCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	sub, _, err := cmd.Find([]string{"runs"})
	require.NoError(t, err)
	assert.Equal(t, "runs", sub.Name())
	assert.NotNil(t, sub.Flags().Lookup("limit"))
}

func TestRunsWithoutJournal(t *testing.T) {
	clearEnv(t)

	_, _, err := execute(t, "runs")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no journal configured")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "run stopped early", errors.New("bad row")))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
}

func TestExitErrorMessage(t *testing.T) {
	inner := errors.New("no such file")
	err := WrapExitError(ExitCommandError, "failed to open csv", inner)

	assert.Equal(t, "failed to open csv: no such file", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "bad", NewExitError(ExitCommandError, "bad").Error())
}
