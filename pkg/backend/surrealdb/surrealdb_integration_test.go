//go:build integration

package surrealdb

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/backend/backendtest"
)

// TestConformance needs a running server, e.g.
// SURREALDB_URL=ws://root:root@localhost:8000/rpc.
func TestConformance(t *testing.T) {
	addr := os.Getenv("SURREALDB_URL")
	if addr == "" {
		t.Skip("SURREALDB_URL is not set")
	}
	ctx := context.Background()

	n := 0
	backendtest.Run(t, func(t *testing.T) backend.Adapter {
		n++
		a, err := Open(ctx, backend.Options{URL: addr, Namespace: fmt.Sprintf("mirror.test.docs_%d_%d", os.Getpid(), n)})
		require.NoError(t, err)
		require.NoError(t, a.Provision(ctx))
		t.Cleanup(func() { _ = a.Close(ctx) })
		return a
	})
}
