package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/supervisor"
)

// execute runs the command tree with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	t.Log(errOut.String())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "surrealmirror", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"run", "provision", "backends"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	format := cmd.PersistentFlags().Lookup("log-format")
	require.NotNil(t, format)
	assert.Equal(t, "json", format.DefValue)

	level := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, level)
	assert.Equal(t, "info", level.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for flag, short := range map[string]string{"mirror_url": "m", "client_url": "u", "client_name": "n", "namespace": "s", "protocol": "p"} {
		f := run.Flags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, short, f.Shorthand)
	}
	assert.Equal(t, "true", run.Flags().Lookup("staleness-guard").DefValue)
	assert.Equal(t, "true", run.Flags().Lookup("restart-on-adapter-failure").DefValue)
	assert.Equal(t, "fail", run.Flags().Lookup("noop-errors").DefValue)
	assert.Equal(t, "json", run.Flags().Lookup("wire-codec").DefValue)
}

func TestEnvironmentFallbacks(t *testing.T) {
	t.Setenv(EnvMirrorURL, "ws://mirror:8080")
	t.Setenv(EnvClientName, "mongodb")
	t.Setenv(EnvNamespace, "shop.orders")

	cmd := NewRootCommand()
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	assert.Equal(t, "ws://mirror:8080", run.Flags().Lookup("mirror_url").DefValue)
	assert.Equal(t, "mongodb", run.Flags().Lookup("client_name").DefValue)
	assert.Equal(t, "shop.orders", run.Flags().Lookup("namespace").DefValue)
	assert.Equal(t, "", run.Flags().Lookup("client_url").DefValue)
}

func TestInvalidLogFormat(t *testing.T) {
	_, err := execute(t, "backends", "--log-format", "xml")
	require.Error(t, err)
	assert.Equal(t, supervisor.ExitConfig, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 7, ExitCode(NewExitError(7, "seven")))
	assert.Equal(t, supervisor.ExitAuthorization, ExitCode(WrapExitError(supervisor.ExitAuthorization, "relay failed", constants.ErrAuthorization)))
	assert.Equal(t, supervisor.ExitFailure, ExitCode(errors.New("boom")))

	err := WrapExitError(3, "relay failed", constants.ErrProtocolViolation)
	assert.ErrorIs(t, err, constants.ErrProtocolViolation)
	assert.Equal(t, "relay failed: "+constants.ErrProtocolViolation.Error(), err.Error())
}
