//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/backend/backendtest"
)

func TestConformance(t *testing.T) {
	ctx := context.Background()
	pg, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("mirror"),
		tcpostgres.WithUsername("mirror"),
		tcpostgres.WithPassword("mirror"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("skip: cannot start postgres: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pg) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	n := 0
	backendtest.Run(t, func(t *testing.T) backend.Adapter {
		// a fresh table per test keeps them independent
		n++
		a, err := Open(ctx, backend.Options{URL: dsn, Namespace: fmt.Sprintf("docs_%d", n)})
		require.NoError(t, err)
		require.NoError(t, a.Provision(ctx))
		return a
	})
}
