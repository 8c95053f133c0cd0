package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/supervisor"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTargetsFromFlags(t *testing.T) {
	opts := &RelayOptions{
		RootOptions: &RootOptions{},
		Target:      TargetConfig{MirrorURL: "ws://mirror", ClientName: "memory", Namespace: "docs"},
		WireCodec:   "cbor",
	}

	targets, wire, err := opts.targets()
	require.NoError(t, err)
	assert.Equal(t, "cbor", wire)
	require.Len(t, targets, 1)
	assert.Equal(t, "memory", targets[0].Name)
	assert.Equal(t, "ws://mirror", targets[0].MirrorURL)
}

func TestTargetsFromFile(t *testing.T) {
	path := writeConfig(t, `
mirror_url: ws://file-mirror:8080
wire_codec: cbor
targets:
  - name: search
    client_name: elasticsearch
    client_url: http://localhost:9200
    namespace: orders
  - client_name: mongodb
    client_url: mongodb://localhost
    namespace: shop.orders
    mirror_url: ws://other:9090
`)
	opts := &RelayOptions{
		RootOptions: &RootOptions{},
		Target:      TargetConfig{MirrorURL: "ws://flag"},
		ConfigPath:  path,
		WireCodec:   "json",
	}

	targets, wire, err := opts.targets()
	require.NoError(t, err)
	assert.Equal(t, "cbor", wire)
	require.Len(t, targets, 2)

	assert.Equal(t, "search", targets[0].Name)
	assert.Equal(t, "ws://file-mirror:8080", targets[0].MirrorURL)
	assert.Equal(t, "orders", targets[0].Namespace)

	assert.Equal(t, "mongodb-1", targets[1].Name)
	assert.Equal(t, "ws://other:9090", targets[1].MirrorURL)
}

func TestTargetsFromFileErrors(t *testing.T) {
	tests := map[string]string{
		"empty":     "mirror_url: ws://m\n",
		"duplicate": "targets:\n  - {name: a, client_name: memory}\n  - {name: a, client_name: memory}\n",
		"syntax":    "targets: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			opts := &RelayOptions{RootOptions: &RootOptions{}, ConfigPath: writeConfig(t, body)}
			_, _, err := opts.targets()
			require.Error(t, err)
			assert.Equal(t, supervisor.ExitConfig, ExitCode(err))
		})
	}

	opts := &RelayOptions{RootOptions: &RootOptions{}, ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")}
	_, _, err := opts.targets()
	assert.Equal(t, supervisor.ExitConfig, ExitCode(err))
}

func TestCheckTarget(t *testing.T) {
	opts := &RelayOptions{RootOptions: &RootOptions{}}

	reg, err := opts.checkTarget(TargetConfig{Name: "j", ClientName: "journal", Protocol: "simple"})
	require.NoError(t, err)
	assert.Equal(t, "journal", reg.Name)

	_, err = opts.checkTarget(TargetConfig{Name: "j", ClientName: "journal", Protocol: "full"})
	assert.Equal(t, supervisor.ExitConfig, ExitCode(err))

	_, err = opts.checkTarget(TargetConfig{Name: "x", ClientName: "nope"})
	assert.Equal(t, supervisor.ExitConfig, ExitCode(err))

	_, err = opts.checkTarget(TargetConfig{Name: "x"})
	assert.Equal(t, supervisor.ExitConfig, ExitCode(err))
}

func TestSupervisors(t *testing.T) {
	path := writeConfig(t, `
mirror_url: ws://mirror:8080
targets:
  - {name: a, client_name: memory}
  - {name: b, client_name: journal, client_url: /tmp/j, namespace: docs}
`)
	opts := &RelayOptions{
		RootOptions: &RootOptions{},
		ConfigPath:  path,
		WireCodec:   "json",
		NoopErrors:  "continue",
		MaxRetries:  3,
	}

	sups, err := opts.supervisors(logger.Nop())
	require.NoError(t, err)
	require.Len(t, sups, 2)
	assert.Equal(t, "a", sups[0].Name)
	assert.Equal(t, "b", sups[1].Name)

	r, ok := sups[0].Retryer.(*supervisor.ExponentialBackoffRetryer)
	require.True(t, ok)
	assert.Equal(t, 3, r.MaxRetries)
}

func TestSupervisorsRejectBadTunables(t *testing.T) {
	base := TargetConfig{MirrorURL: "ws://mirror", ClientName: "memory"}

	opts := &RelayOptions{RootOptions: &RootOptions{}, Target: base, WireCodec: "xml"}
	_, err := opts.supervisors(logger.Nop())
	assert.Equal(t, supervisor.ExitConfig, ExitCode(err))

	opts = &RelayOptions{RootOptions: &RootOptions{}, Target: base, WireCodec: "json", NoopErrors: "ignore"}
	_, err = opts.supervisors(logger.Nop())
	assert.Equal(t, supervisor.ExitConfig, ExitCode(err))

	opts = &RelayOptions{RootOptions: &RootOptions{}, Target: TargetConfig{ClientName: "memory"}, WireCodec: "json"}
	_, err = opts.supervisors(logger.Nop())
	assert.Equal(t, supervisor.ExitConfig, ExitCode(err))
}
