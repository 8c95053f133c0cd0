package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealmirror/internal/fakemirror"
	"github.com/surrealdb/surrealmirror/pkg/connection"
	"github.com/surrealdb/surrealmirror/pkg/supervisor"
)

func mirror(t *testing.T, steps ...fakemirror.Step) *fakemirror.Server {
	t.Helper()
	server := fakemirror.NewServer("127.0.0.1:0", nil)
	server.Token = "secret"
	server.AddScript(steps...)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func TestRunExitsOnProtocolViolation(t *testing.T) {
	t.Setenv(connection.TokenEnv, "secret")
	server := mirror(t,
		fakemirror.Request(map[string]any{"type": "protocol-request"}),
		fakemirror.Send(map[string]any{"type": "truncate"}),
	)

	_, err := execute(t, "run", "-m", server.URL(), "-n", "memory", "-s", "docs", "--log-level", "error")
	require.Error(t, err)
	assert.Equal(t, supervisor.ExitProtocol, ExitCode(err))
	assert.Equal(t, []map[string]any{{"type": "protocol-request", "data": "full"}}, server.Replies())
}

func TestRunExitsOnRejectedToken(t *testing.T) {
	t.Setenv(connection.TokenEnv, "wrong")
	server := mirror(t)

	_, err := execute(t, "run", "-m", server.URL(), "-n", "memory", "--log-level", "error")
	require.Error(t, err)
	assert.Equal(t, supervisor.ExitAuthorization, ExitCode(err))
	assert.Equal(t, 1, server.Rejected())
	assert.Zero(t, server.Connections())
}

func TestRunConfigErrors(t *testing.T) {
	t.Setenv(connection.TokenEnv, "")
	t.Setenv(EnvMirrorURL, "")

	_, err := execute(t, "run", "-n", "memory")
	assert.Equal(t, supervisor.ExitConfig, ExitCode(err))

	_, err = execute(t, "run", "-m", "ws://127.0.0.1:1", "-n", "oracle")
	assert.Equal(t, supervisor.ExitConfig, ExitCode(err))

	_, err = execute(t, "run", "-m", "ftp://mirror", "-n", "memory")
	assert.Equal(t, supervisor.ExitConfig, ExitCode(err))
}

func TestProvision(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")

	out, err := execute(t, "provision", "-n", "journal", "-u", dir, "-s", "docs", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "provisioned journal")

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	out, err = execute(t, "provision", "-n", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "memory needs no provisioning")
}

func TestProvisionInvalidNamespace(t *testing.T) {
	_, err := execute(t, "provision", "-n", "journal", "-u", t.TempDir(), "-s", "bad name!")
	require.Error(t, err)
	assert.Equal(t, supervisor.ExitConfig, ExitCode(err))
}

func TestBackends(t *testing.T) {
	out, err := execute(t, "backends")
	require.NoError(t, err)
	for _, name := range []string{"elasticsearch", "journal", "memory", "mongodb", "postgres", "sqlite", "surrealdb"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "simple")
	assert.Contains(t, out, "full")
}
