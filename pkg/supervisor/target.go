package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/connection"
	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/session"
)

// Target is one mirror relayed into one backend.
type Target struct {
	Name string
	// Backend is the registered backend name.
	Backend        string
	BackendOptions backend.Options
	Connection     *connection.Config
	// Session holds the session tunables. Its Connection, Dialer, Adapter
	// and Backend fields are filled per attempt.
	Session  session.Config
	Registry *backend.Registry
	Dialer   connection.Dialer
	Logger   logger.Logger
}

// Attempt opens a fresh adapter and runs one session over it. The adapter
// is closed when the session ends.
func (t *Target) Attempt(ctx context.Context) error {
	opts := t.BackendOptions
	if opts.Logger == nil {
		opts.Logger = t.Logger
	}
	adapter, err := t.Registry.Open(ctx, t.Backend, opts)
	if err != nil {
		if isConfig(err) || errors.Is(err, constants.ErrAdapter) {
			return err
		}
		return fmt.Errorf("%w: %w", constants.ErrAdapter, err)
	}
	defer func() {
		if err := adapter.Close(context.WithoutCancel(ctx)); err != nil {
			t.log().Warn("closing backend", "backend", t.Backend, "error", err)
		}
	}()

	cfg := t.Session
	cfg.Connection = t.Connection
	cfg.Dialer = t.Dialer
	cfg.Adapter = adapter
	cfg.Backend = t.Backend
	if cfg.Logger == nil {
		cfg.Logger = t.log()
	}
	s, err := session.New(cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", constants.ErrConfig, err)
	}
	return s.Run(ctx)
}

func (t *Target) log() logger.Logger {
	if t.Logger == nil {
		return logger.Nop()
	}
	return t.Logger
}
