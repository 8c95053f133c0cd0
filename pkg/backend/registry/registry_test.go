package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/backend/memory"
	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

func TestDefault(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"elasticsearch", "journal", "memory", "mongodb", "postgres", "sqlite", "surrealdb"}, r.Names())

	reg, err := r.Lookup("journal")
	require.NoError(t, err)
	assert.Equal(t, models.ProtocolReduced, reg.Protocol)

	reg, err = r.Lookup("mongodb")
	require.NoError(t, err)
	assert.Equal(t, models.ProtocolFull, reg.Protocol)

	_, err = r.Lookup("redis")
	assert.ErrorIs(t, err, constants.ErrUnknownBackend)
}

func TestOpenMemory(t *testing.T) {
	ctx := context.Background()
	a, err := Default().Open(ctx, "memory", backend.Options{Namespace: "docs", StalenessGuard: true})
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.Equal(t, models.ProtocolFull, a.Protocol())
	_, bare := a.(*memory.Adapter)
	assert.False(t, bare, "guarded adapter wraps the backend")
	assert.IsType(t, &memory.Adapter{}, backend.Unwrap(a))
}
