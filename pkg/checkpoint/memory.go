package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/surrealdb/surrealmirror/pkg/models"
)

// Memory is a Store held in process memory.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]models.Timestamp
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]models.Timestamp)}
}

func (m *Memory) Save(_ context.Context, id string, ts models.Timestamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.rows[id]; ok && ts.Before(cur) {
		return nil
	}
	m.rows[id] = ts
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Timestamp, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ts, ok := m.rows[id]
	return ts, ok, nil
}

func (m *Memory) Latest(_ context.Context) (models.Timestamp, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		latest models.Timestamp
		found  bool
	)
	for _, ts := range m.rows {
		if !found || ts.After(latest) {
			latest, found = ts, true
		}
	}
	return latest, found, nil
}

func (m *Memory) Since(_ context.Context, ts models.Timestamp) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0)
	for id, stored := range m.rows {
		if id != models.NoopIdentity && stored.After(ts) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Snapshot returns a copy of every stored checkpoint, ordered by identity.
func (m *Memory) Snapshot() []Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Checkpoint, 0, len(m.rows))
	for id, ts := range m.rows {
		out = append(out, Checkpoint{ID: id, Timestamp: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
