// Package backend defines the contract every downstream store implements to
// receive the mirror's change stream.
//
// An Adapter owns its native connection and its checkpoint storage. It is
// called sequentially by a single session and makes no promise about
// concurrent use. Native errors are returned as they are; the session wraps
// them as adapter failures and never retries a single event.
package backend

import (
	"context"
	"time"

	"github.com/surrealdb/surrealmirror/pkg/checkpoint"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

type Adapter interface {
	// Protocol is the static capability tier of the implementation.
	Protocol() models.ProtocolKind

	// InitialPoint returns the newest modification time of any record in the
	// primary structure. ok is false when the store holds no records.
	InitialPoint(ctx context.Context) (t time.Time, ok bool, err error)

	// LatestCheckpoint returns the newest recorded checkpoint.
	LatestCheckpoint(ctx context.Context) (ts models.Timestamp, ok bool, err error)

	// ApplyUpsert replaces or inserts the record, then records the checkpoint.
	ApplyUpsert(ctx context.Context, ev *models.ChangeEvent) error
	// ApplyUpdate merges a $set/$unset payload into the record. A missing
	// record is not an error; the checkpoint is still recorded.
	ApplyUpdate(ctx context.Context, ev *models.ChangeEvent) error
	// ApplyDelete removes the record. A missing record is not an error.
	ApplyDelete(ctx context.Context, ev *models.ChangeEvent) error
	// ApplyNoop records the heartbeat checkpoint only.
	ApplyNoop(ctx context.Context, ev *models.ChangeEvent) error

	// IDsSince returns the identities checkpointed strictly after ts.
	IDsSince(ctx context.Context, ts models.Timestamp) ([]string, error)

	// Normalize converts wire identities and values into the store's native
	// types. It must not modify ev or touch the store.
	Normalize(ev *models.ChangeEvent) (*models.ChangeEvent, error)

	// Checkpoints exposes the adapter's checkpoint storage.
	Checkpoints() checkpoint.Store

	Close(ctx context.Context) error
}

// Provisioner is implemented by adapters able to create their primary and
// checkpoint structures.
type Provisioner interface {
	Provision(ctx context.Context) error
}

// Options configures a backend instance.
type Options struct {
	// URL addresses the downstream store. Its meaning is backend specific.
	URL string
	// Namespace selects the primary structure. Checkpoints live next to it
	// under CheckpointName(Namespace).
	Namespace string
	Logger    logger.Logger
	// StalenessGuard skips mutations older than the identity's checkpoint.
	StalenessGuard bool
}

func (o Options) logger() logger.Logger {
	if o.Logger == nil {
		return logger.Nop()
	}
	return o.Logger
}

// Factory opens a backend instance.
type Factory func(ctx context.Context, opts Options) (Adapter, error)

// Registration describes one backend implementation.
type Registration struct {
	Name        string
	Protocol    models.ProtocolKind
	Description string
	New         Factory
}
