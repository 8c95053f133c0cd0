package backend_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/backend/backendtest"
	"github.com/surrealdb/surrealmirror/pkg/backend/journal"
	"github.com/surrealdb/surrealmirror/pkg/backend/memory"
	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

func TestRegistry(t *testing.T) {
	r, err := backend.NewRegistry(memory.Registration)
	require.NoError(t, err)
	assert.Equal(t, []string{"memory"}, r.Names())

	_, err = r.Lookup("cassandra")
	assert.ErrorIs(t, err, constants.ErrUnknownBackend)

	a, err := r.Open(context.Background(), "memory", backend.Options{StalenessGuard: true})
	require.NoError(t, err)
	assert.Equal(t, models.ProtocolFull, a.Protocol())
	assert.IsType(t, &memory.Adapter{}, backend.Unwrap(a))
}

func TestRegistryRejectsBadRegistrations(t *testing.T) {
	_, err := backend.NewRegistry(memory.Registration, memory.Registration)
	assert.Error(t, err)

	bad := memory.Registration
	bad.Protocol = 0
	_, err = backend.NewRegistry(bad)
	assert.Error(t, err)

	bad = memory.Registration
	bad.New = nil
	_, err = backend.NewRegistry(bad)
	assert.Error(t, err)
}

func TestRegistryChecksDeclaredProtocol(t *testing.T) {
	lying := memory.Registration
	lying.Name = "lying"
	lying.Protocol = models.ProtocolReduced

	r, err := backend.NewRegistry(lying)
	require.NoError(t, err)
	_, err = r.Open(context.Background(), "lying", backend.Options{})
	assert.Error(t, err)
}

func TestStalenessGuard(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	a := backend.WithStalenessGuard(inner, logger.Nop())
	assert.Same(t, a, backend.WithStalenessGuard(a, logger.Nop()))

	require.NoError(t, a.ApplyUpsert(ctx, backendtest.Message(t, `{"type":"upsert","data":{"_id":"1","a":1},"ts":[100,0]}`)))
	require.NoError(t, a.ApplyDelete(ctx, backendtest.Message(t, `{"type":"delete","data":{"_id":"1"},"ts":[102,0]}`)))

	// older than the delete: skipped, the record stays deleted
	require.NoError(t, a.ApplyUpsert(ctx, backendtest.Message(t, `{"type":"upsert","data":{"_id":"1","a":9},"ts":[101,0]}`)))
	assert.Equal(t, 0, inner.Len())

	// same timestamp as the stored checkpoint: applied again
	require.NoError(t, a.ApplyUpsert(ctx, backendtest.Message(t, `{"type":"upsert","data":{"_id":"1","a":3},"ts":[102,0]}`)))
	doc, ok, err := inner.Fetch(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), doc["a"])
}

func TestNormalizeDocument(t *testing.T) {
	ev := backendtest.Message(t, `{"type":"update","data":{"_id":"1","$set":{"_last_modified":"2022-01-01T00:00:00.000000"}},"ts":[1,0]}`)
	out, err := backend.NormalizeDocument(ev)
	require.NoError(t, err)

	set := out.Payload[models.OperatorSet].(map[string]any)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), set[models.LastModifiedField])
	assert.IsType(t, "", ev.Payload[models.OperatorSet].(map[string]any)[models.LastModifiedField])

	bad := backendtest.Message(t, `{"type":"upsert","data":{"_id":"1","_last_modified":"not a date"},"ts":[1,0]}`)
	_, err = backend.NormalizeDocument(bad)
	assert.Error(t, err)
}

func TestNamespaces(t *testing.T) {
	db, coll, err := backend.SplitNamespace("shop.orders.archive")
	require.NoError(t, err)
	assert.Equal(t, "shop", db)
	assert.Equal(t, "orders.archive", coll)

	_, _, err = backend.SplitNamespace("orders")
	assert.ErrorIs(t, err, constants.ErrInvalidNamespace)

	assert.Equal(t, "orders_ts", backend.CheckpointName("orders"))
	assert.NoError(t, backend.ValidateIdentifier("orders_2024"))
	assert.ErrorIs(t, backend.ValidateIdentifier("orders; drop table x"), constants.ErrInvalidNamespace)
}

func TestReducedRejects(t *testing.T) {
	var r backend.Reduced
	assert.Equal(t, models.ProtocolReduced, r.Protocol())
	assert.ErrorIs(t, r.ApplyUpdate(context.Background(), nil), constants.ErrUnsupported)
	assert.ErrorIs(t, r.ApplyDelete(context.Background(), nil), constants.ErrUnsupported)
	_, err := r.IDsSince(context.Background(), models.Timestamp{})
	assert.ErrorIs(t, err, constants.ErrUnsupported)
}

func TestAsProvisionerLooksThroughWrappers(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "journal")
	j, err := journal.Open(ctx, backend.Options{URL: dir, Namespace: "docs"})
	require.NoError(t, err)
	a := backend.WithStalenessGuard(j, logger.Nop())
	defer a.Close(ctx)

	_, direct := a.(backend.Provisioner)
	assert.False(t, direct, "the guard hides the provisioner")

	p, ok := backend.AsProvisioner(a)
	require.True(t, ok)
	require.NoError(t, p.Provision(ctx))
	assert.DirExists(t, dir)

	_, ok = backend.AsProvisioner(backend.WithStalenessGuard(memory.New(), logger.Nop()))
	assert.False(t, ok)
}
