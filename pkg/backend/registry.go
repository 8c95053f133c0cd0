package backend

import (
	"context"
	"fmt"
	"sort"

	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

// Registry maps backend names to their registrations. It is populated once
// at startup and only read afterwards.
type Registry struct {
	entries map[string]Registration
}

// NewRegistry builds a registry from regs. Names must be unique and every
// registration must declare a protocol and a factory.
func NewRegistry(regs ...Registration) (*Registry, error) {
	r := &Registry{entries: make(map[string]Registration, len(regs))}
	for _, reg := range regs {
		if reg.Name == "" || reg.New == nil {
			return nil, fmt.Errorf("backend registration %q is incomplete", reg.Name)
		}
		if reg.Protocol != models.ProtocolReduced && reg.Protocol != models.ProtocolFull {
			return nil, fmt.Errorf("backend %q declares unknown protocol %d", reg.Name, reg.Protocol)
		}
		if _, dup := r.entries[reg.Name]; dup {
			return nil, fmt.Errorf("backend %q registered twice", reg.Name)
		}
		r.entries[reg.Name] = reg
	}
	return r, nil
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (Registration, error) {
	reg, ok := r.entries[name]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %q", constants.ErrUnknownBackend, name)
	}
	return reg, nil
}

// Names returns every registered backend name in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates an adapter through the named registration and applies the
// staleness guard when opts ask for it.
func (r *Registry) Open(ctx context.Context, name string, opts Options) (Adapter, error) {
	reg, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	a, err := reg.New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open backend %s: %w", name, err)
	}
	if a.Protocol() != reg.Protocol {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("backend %s reports protocol %s but registered %s", name, a.Protocol(), reg.Protocol)
	}
	if opts.StalenessGuard {
		a = WithStalenessGuard(a, opts.logger())
	}
	return a, nil
}
