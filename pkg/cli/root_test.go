package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand(&App{})

	assert.Equal(t, "stateaudit", root.Name)
	for _, name := range []string{"list", "get", "snapshot", "model", "range", "export", "archive"} {
		require.Contains(t, root.Subcommands, name)
		assert.Equal(t, name, root.Subcommands[name].Name)
		assert.NotNil(t, root.Subcommands[name].Run)
	}
	assert.Len(t, root.Subcommands, 7)
}

func TestCommandUsage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--HELP"}} {
		var errOut bytes.Buffer
		root := NewRootCommand(&App{Err: &errOut})

		require.NoError(t, root.ExecuteArgs(context.Background(), args))
		output := errOut.String()
		assert.Contains(t, output, "Usage: stateaudit <command> [args]")
		assert.Contains(t, output, "archive")
		assert.Less(t, bytes.Index(errOut.Bytes(), []byte("  archive")), bytes.Index(errOut.Bytes(), []byte("  list")), "commands are sorted")
	}
}

func TestCommandExecute_Unknown(t *testing.T) {
	root := NewRootCommand(&App{Err: &bytes.Buffer{}})
	err := root.ExecuteArgs(context.Background(), []string{"push"})
	assert.EqualError(t, err, "unknown command: push")
}

func TestCommandExecute_BadFlag(t *testing.T) {
	app := newTestApp(t)
	err := app.run(t, "list", "-colour", "blue")
	assert.Error(t, err)
	assert.Contains(t, app.err.String(), "flag provided but not defined")
}
