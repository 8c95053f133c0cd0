// Package supervisor restarts relay sessions until they end cleanly or
// fail in a way a restart cannot fix.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/surrealdb/surrealmirror/pkg/logger"
)

// DefaultStableAfter is how long a session must run before the backoff
// starts over.
const DefaultStableAfter = time.Minute

// AttemptFunc runs one session to its end.
type AttemptFunc func(ctx context.Context) error

// Supervisor runs one relay target.
type Supervisor struct {
	// Name identifies the target in logs.
	Name    string
	Attempt AttemptFunc
	Retryer Retryer

	// RestartOnAdapterFailure restarts sessions that ended with an
	// adapter error. The restarted session resumes from the checkpoint.
	RestartOnAdapterFailure bool

	// StableAfter overrides DefaultStableAfter.
	StableAfter time.Duration
	Logger      logger.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Supervise runs attempts until one ends cleanly, one fails fatally or the
// retryer gives up. It returns nil when ctx is cancelled.
func (s *Supervisor) Supervise(ctx context.Context) error {
	log := s.log()
	retryer := s.Retryer
	if retryer == nil {
		retryer = NewExponentialBackoffRetryer()
	}
	stableAfter := s.StableAfter
	if stableAfter <= 0 {
		stableAfter = DefaultStableAfter
	}
	sleep := s.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	restarts := 0
	for {
		started := time.Now()
		err := s.Attempt(ctx)
		if ctx.Err() != nil {
			log.Info("relay stopped")
			return nil
		}

		outcome := Classify(err, s.RestartOnAdapterFailure)
		switch outcome {
		case Clean:
			log.Info("relay finished")
			return nil
		case Fatal:
			log.Error("relay failed", "error", err, "exit_code", ExitCode(err))
			return err
		}

		if time.Since(started) >= stableAfter {
			restarts = 0
			retryer.Reset()
		}
		delay, ok := retryer.NextDelay(restarts, err)
		if !ok {
			log.Error("giving up on relay", "restarts", restarts, "error", err)
			return fmt.Errorf("gave up after %d restarts: %w", restarts, err)
		}
		restarts++
		log.Warn("restarting relay", "restart", restarts, "delay", delay, "error", err)

		if err := sleep(ctx, delay); err != nil {
			log.Info("relay stopped")
			return nil
		}
	}
}

func (s *Supervisor) log() logger.Logger {
	l := s.Logger
	if l == nil {
		l = logger.Nop()
	}
	if s.Name != "" {
		l = logger.With(l, "target", s.Name)
	}
	return l
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunAll supervises every target concurrently. The first fatal failure
// stops the others and is returned.
func RunAll(ctx context.Context, sups ...*Supervisor) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sups {
		g.Go(func() error {
			return s.Supervise(ctx)
		})
	}
	return g.Wait()
}
