package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealmirror/internal/fakemirror"
	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/backend/registry"
	"github.com/surrealdb/surrealmirror/pkg/connection"
	"github.com/surrealdb/surrealmirror/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealmirror/pkg/constants"
)

// scripted returns an attempt func yielding errs in order, then blocking
// until ctx is cancelled.
func scripted(errs ...error) (AttemptFunc, *int) {
	calls := 0
	return func(ctx context.Context) error {
		calls++
		if calls <= len(errs) {
			return errs[calls-1]
		}
		<-ctx.Done()
		return nil
	}, &calls
}

func TestSuperviseRestartsTransientFailures(t *testing.T) {
	attempt, calls := scripted(constants.ErrConnectionLost, constants.ErrHandshake, nil)
	s := &Supervisor{Attempt: attempt, Retryer: NewFixedDelayRetryer(time.Millisecond, 0)}

	require.NoError(t, s.Supervise(context.Background()))
	assert.Equal(t, 3, *calls)
}

func TestSuperviseStopsOnAuthorization(t *testing.T) {
	attempt, calls := scripted(constants.ErrAuthorization)
	s := &Supervisor{Attempt: attempt, Retryer: NewFixedDelayRetryer(time.Millisecond, 0)}

	err := s.Supervise(context.Background())
	require.ErrorIs(t, err, constants.ErrAuthorization)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, ExitAuthorization, ExitCode(err))
}

func TestSuperviseAdapterFailure(t *testing.T) {
	t.Run("restarts", func(t *testing.T) {
		attempt, calls := scripted(constants.ErrAdapter, nil)
		s := &Supervisor{Attempt: attempt, Retryer: NewFixedDelayRetryer(time.Millisecond, 0), RestartOnAdapterFailure: true}

		require.NoError(t, s.Supervise(context.Background()))
		assert.Equal(t, 2, *calls)
	})

	t.Run("exits", func(t *testing.T) {
		attempt, calls := scripted(constants.ErrAdapter, nil)
		s := &Supervisor{Attempt: attempt, Retryer: NewFixedDelayRetryer(time.Millisecond, 0)}

		require.ErrorIs(t, s.Supervise(context.Background()), constants.ErrAdapter)
		assert.Equal(t, 1, *calls)
	})
}

func TestSuperviseGivesUp(t *testing.T) {
	attempt, calls := scripted(constants.ErrConnectionLost, constants.ErrConnectionLost, constants.ErrConnectionLost)
	s := &Supervisor{Attempt: attempt, Retryer: NewFixedDelayRetryer(time.Millisecond, 2)}

	err := s.Supervise(context.Background())
	require.ErrorIs(t, err, constants.ErrConnectionLost)
	assert.Contains(t, err.Error(), "gave up after 2 restarts")
	assert.Equal(t, 3, *calls)
}

func TestSuperviseResetsAfterStableRun(t *testing.T) {
	inner, calls := scripted(constants.ErrConnectionLost, constants.ErrConnectionLost, constants.ErrConnectionLost, nil)
	attempt := func(ctx context.Context) error {
		time.Sleep(time.Millisecond)
		return inner(ctx)
	}
	s := &Supervisor{
		Attempt: attempt,
		// one restart allowed, but every run counts as stable
		Retryer:     NewFixedDelayRetryer(time.Millisecond, 1),
		StableAfter: time.Microsecond,
	}

	require.NoError(t, s.Supervise(context.Background()))
	assert.Equal(t, 4, *calls)
}

func TestSuperviseCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempt, calls := scripted(constants.ErrConnectionLost)
	s := &Supervisor{
		Attempt: attempt,
		Retryer: NewFixedDelayRetryer(time.Hour, 0),
		sleep: func(ctx context.Context, d time.Duration) error {
			assert.Equal(t, time.Hour, d)
			cancel()
			return sleepContext(ctx, d)
		},
	}

	require.NoError(t, s.Supervise(ctx))
	assert.Equal(t, 1, *calls)
}

func TestRunAll(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		a, _ := scripted(nil)
		b, _ := scripted(constants.ErrClosed, nil)
		retry := NewFixedDelayRetryer(time.Millisecond, 0)

		require.NoError(t, RunAll(context.Background(),
			&Supervisor{Name: "a", Attempt: a, Retryer: retry},
			&Supervisor{Name: "b", Attempt: b, Retryer: retry},
		))
	})

	t.Run("fatal stops the others", func(t *testing.T) {
		idle, _ := scripted()
		bad, _ := scripted(constants.ErrProtocolViolation)

		err := RunAll(context.Background(),
			&Supervisor{Name: "idle", Attempt: idle},
			&Supervisor{Name: "bad", Attempt: bad},
		)
		require.ErrorIs(t, err, constants.ErrProtocolViolation)
	})
}

func newTarget(t *testing.T, server *fakemirror.Server, backendName string) *Target {
	t.Helper()
	conn, err := connection.NewConfig(server.URL())
	require.NoError(t, err)
	conn.Token = "secret"
	return &Target{
		Name:           "test",
		Backend:        backendName,
		BackendOptions: backend.Options{Namespace: "docs", StalenessGuard: true},
		Connection:     conn,
		Registry:       registry.Default(),
		Dialer:         gorillaws.Dialer{},
	}
}

func TestTargetAttempt(t *testing.T) {
	server := fakemirror.NewServer("127.0.0.1:0", nil)
	server.Token = "secret"
	server.AddScript(
		fakemirror.Request(map[string]any{"type": "protocol-request"}),
		fakemirror.Close(1000, "done"),
	)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	err := newTarget(t, server, "memory").Attempt(context.Background())
	require.ErrorIs(t, err, constants.ErrConnectionLost)
	assert.Equal(t, Retry, Classify(err, false))
	assert.Equal(t, []map[string]any{{"type": "protocol-request", "data": "full"}}, server.Replies())
}

func TestTargetUnknownBackend(t *testing.T) {
	server := fakemirror.NewServer("127.0.0.1:0", nil)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	err := newTarget(t, server, "nope").Attempt(context.Background())
	require.ErrorIs(t, err, constants.ErrUnknownBackend)
	assert.Equal(t, ExitConfig, ExitCode(err))
	assert.Zero(t, server.Connections())
}

func TestSuperviseTarget(t *testing.T) {
	server := fakemirror.NewServer("127.0.0.1:0", nil)
	server.Token = "secret"
	server.AddScript(fakemirror.Drop())
	server.AddScript(fakemirror.Request(map[string]any{"type": "timestamp-request"}))
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	s := &Supervisor{
		Name:    "test",
		Attempt: newTarget(t, server, "memory").Attempt,
		Retryer: NewFixedDelayRetryer(time.Millisecond, 0),
	}
	go func() { done <- s.Supervise(ctx) }()

	replies, err := server.WaitReplies(1, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"type": "timestamp-request", "data": ""}, replies[0])
	assert.Equal(t, 2, server.Connections())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal(errors.New("supervisor did not stop"))
	}
}
