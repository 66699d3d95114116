package main_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	main "github.com/JakeFAU/frontier-strategy/cmd/strategyworker"
)

func TestRun_HelpShowsAllCommands(t *testing.T) {
	t.Parallel()

	stdout := &bytes.Buffer{}
	err := main.Run(context.Background(), []string{"--help"}, stdout, &bytes.Buffer{})
	require.NoError(t, err)

	for _, cmd := range []string{"run", "validate", "strategies"} {
		assert.Contains(t, stdout.String(), cmd, "Help should mention %s command", cmd)
	}
}

func TestRun_NoArgsFails(t *testing.T) {
	t.Parallel()

	err := main.Run(context.Background(), nil, &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorContains(t, err, "no command specified")
}

func TestRun_StrategiesListsRegistry(t *testing.T) {
	t.Parallel()

	stdout := &bytes.Buffer{}
	require.NoError(t, main.Run(context.Background(), []string{"strategies"}, stdout, &bytes.Buffer{}))

	assert.Equal(t, "backoff\nbasic\ndiscovery\n", stdout.String())
}

func TestRun_ValidateReportsBackends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategy:\n  name: discovery\nupdates:\n  producer: p-1\n"), 0o600))

	stdout := &bytes.Buffer{}
	err := main.Run(context.Background(), []string{"validate", "--config", path}, stdout, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "strategy=discovery producer=p-1")
}

func TestRun_ValidateRejectsUnknownStrategy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategy:\n  name: nope\n"), 0o600))

	err := main.Run(context.Background(), []string{"validate", "-c", path}, &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorContains(t, err, `unknown strategy "nope"`)
}
