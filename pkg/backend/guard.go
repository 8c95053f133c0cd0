package backend

import (
	"context"

	"github.com/surrealdb/surrealmirror/pkg/checkpoint"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

// WithStalenessGuard wraps a so that a mutation older than the checkpoint
// already recorded for its identity is skipped entirely: neither applied nor
// checkpointed. Redelivery of the exact same timestamp is still applied.
func WithStalenessGuard(a Adapter, log logger.Logger) Adapter {
	if _, ok := a.(*guarded); ok {
		return a
	}
	return &guarded{Adapter: a, log: log}
}

type guarded struct {
	Adapter
	log logger.Logger
}

// Unwrap returns the guarded adapter.
func (g *guarded) Unwrap() Adapter {
	return g.Adapter
}

func (g *guarded) stale(ctx context.Context, ev *models.ChangeEvent) (bool, error) {
	if !g.Protocol().Supports(ev.Operation) {
		return false, nil
	}
	stale, err := checkpoint.IsStale(ctx, g.Checkpoints(), ev.ID, ev.Timestamp)
	if err != nil {
		return false, err
	}
	if stale {
		g.log.Debug("skipping stale mutation",
			"operation", string(ev.Operation),
			"identity", ev.ID,
			"ts", ev.Timestamp.String())
	}
	return stale, nil
}

func (g *guarded) ApplyUpsert(ctx context.Context, ev *models.ChangeEvent) error {
	if stale, err := g.stale(ctx, ev); stale || err != nil {
		return err
	}
	return g.Adapter.ApplyUpsert(ctx, ev)
}

func (g *guarded) ApplyUpdate(ctx context.Context, ev *models.ChangeEvent) error {
	if stale, err := g.stale(ctx, ev); stale || err != nil {
		return err
	}
	return g.Adapter.ApplyUpdate(ctx, ev)
}

func (g *guarded) ApplyDelete(ctx context.Context, ev *models.ChangeEvent) error {
	if stale, err := g.stale(ctx, ev); stale || err != nil {
		return err
	}
	return g.Adapter.ApplyDelete(ctx, ev)
}
