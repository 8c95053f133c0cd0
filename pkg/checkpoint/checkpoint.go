// Package checkpoint records, per identity, the mirror timestamp last applied
// to a backend so that a new session can resume where the previous one left
// off.
package checkpoint

import (
	"context"

	"github.com/surrealdb/surrealmirror/pkg/models"
)

// Checkpoint is the stored progress for one identity.
type Checkpoint struct {
	ID        string
	Timestamp models.Timestamp
}

// Store persists checkpoints for a single namespace.
type Store interface {
	// Save records ts for id unless a newer timestamp is already stored.
	// The stored timestamp for an identity never decreases.
	Save(ctx context.Context, id string, ts models.Timestamp) error

	// Get returns the stored timestamp for id. ok is false when none exists.
	Get(ctx context.Context, id string) (ts models.Timestamp, ok bool, err error)

	// Latest returns the maximum stored timestamp. ok is false for an empty
	// store.
	Latest(ctx context.Context) (ts models.Timestamp, ok bool, err error)

	// Since returns every identity whose stored timestamp is strictly greater
	// than ts, excluding the heartbeat identity.
	Since(ctx context.Context, ts models.Timestamp) ([]string, error)
}

// IsStale reports whether an event at ts for id is older than what s already
// recorded, meaning a newer mutation for the same identity was applied.
// Heartbeats are never stale.
func IsStale(ctx context.Context, s Store, id string, ts models.Timestamp) (bool, error) {
	if id == models.NoopIdentity {
		return false, nil
	}
	stored, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return ts.Before(stored), nil
}
