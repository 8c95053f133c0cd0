// Package memory is a full-protocol backend that keeps documents and
// checkpoints in process memory. It is used by tests and dry runs.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/checkpoint"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

const Name = "memory"

var Registration = backend.Registration{
	Name:        Name,
	Protocol:    models.ProtocolFull,
	Description: "in-process documents and checkpoints, lost on exit",
	New: func(_ context.Context, _ backend.Options) (backend.Adapter, error) {
		return New(), nil
	},
}

type Adapter struct {
	mu          sync.RWMutex
	docs        map[string]map[string]any
	checkpoints *checkpoint.Memory
}

func New() *Adapter {
	return &Adapter{
		docs:        make(map[string]map[string]any),
		checkpoints: checkpoint.NewMemory(),
	}
}

func (a *Adapter) Protocol() models.ProtocolKind {
	return models.ProtocolFull
}

func (a *Adapter) InitialPoint(_ context.Context) (time.Time, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var (
		newest time.Time
		found  bool
	)
	for _, doc := range a.docs {
		t, ok := doc[models.LastModifiedField].(time.Time)
		if ok && (!found || t.After(newest)) {
			newest, found = t, true
		}
	}
	return newest, found, nil
}

func (a *Adapter) LatestCheckpoint(ctx context.Context) (models.Timestamp, bool, error) {
	return a.checkpoints.Latest(ctx)
}

func (a *Adapter) ApplyUpsert(ctx context.Context, ev *models.ChangeEvent) error {
	a.mu.Lock()
	a.docs[ev.ID] = ev.Document()
	a.mu.Unlock()
	return a.checkpoints.Save(ctx, ev.ID, ev.Timestamp)
}

func (a *Adapter) ApplyUpdate(ctx context.Context, ev *models.ChangeEvent) error {
	u, err := models.ParseUpdate(ev.Payload)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if doc, ok := a.docs[ev.ID]; ok {
		a.docs[ev.ID] = models.ApplyUpdate(doc, u)
	}
	a.mu.Unlock()
	return a.checkpoints.Save(ctx, ev.ID, ev.Timestamp)
}

func (a *Adapter) ApplyDelete(ctx context.Context, ev *models.ChangeEvent) error {
	a.mu.Lock()
	delete(a.docs, ev.ID)
	a.mu.Unlock()
	return a.checkpoints.Save(ctx, ev.ID, ev.Timestamp)
}

func (a *Adapter) ApplyNoop(ctx context.Context, ev *models.ChangeEvent) error {
	return a.checkpoints.Save(ctx, models.NoopIdentity, ev.Timestamp)
}

func (a *Adapter) IDsSince(ctx context.Context, ts models.Timestamp) ([]string, error) {
	return a.checkpoints.Since(ctx, ts)
}

func (a *Adapter) Normalize(ev *models.ChangeEvent) (*models.ChangeEvent, error) {
	return backend.NormalizeDocument(ev)
}

func (a *Adapter) Checkpoints() checkpoint.Store {
	return a.checkpoints
}

// Fetch returns a copy of the stored document for id.
func (a *Adapter) Fetch(_ context.Context, id string) (map[string]any, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	doc, ok := a.docs[id]
	return maps.Clone(doc), ok, nil
}

// Len returns the number of stored documents.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.docs)
}

func (a *Adapter) Close(context.Context) error {
	return nil
}
