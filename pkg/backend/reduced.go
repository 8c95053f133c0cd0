package backend

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

// Reduced is embedded by adapters implementing the reduced protocol. It
// rejects the full-only operations with constants.ErrUnsupported.
type Reduced struct{}

func (Reduced) Protocol() models.ProtocolKind {
	return models.ProtocolReduced
}

func (Reduced) ApplyUpdate(context.Context, *models.ChangeEvent) error {
	return fmt.Errorf("%w: %s", constants.ErrUnsupported, models.OpUpdate)
}

func (Reduced) ApplyDelete(context.Context, *models.ChangeEvent) error {
	return fmt.Errorf("%w: %s", constants.ErrUnsupported, models.OpDelete)
}

func (Reduced) IDsSince(context.Context, models.Timestamp) ([]string, error) {
	return nil, fmt.Errorf("%w: %s", constants.ErrUnsupported, models.RequestIDsSinceTimestamp)
}

// Unwrap returns the innermost adapter beneath any wrappers.
func Unwrap(a Adapter) Adapter {
	for {
		w, ok := a.(interface{ Unwrap() Adapter })
		if !ok {
			return a
		}
		a = w.Unwrap()
	}
}

// AsProvisioner returns the Provisioner implemented by a, looking through
// wrappers.
func AsProvisioner(a Adapter) (Provisioner, bool) {
	p, ok := Unwrap(a).(Provisioner)
	return p, ok
}
