// Package session relays one mirror connection into one backend.
//
// A Session dials the mirror, answers its control requests and applies its
// mutations strictly one at a time. The next message is not received until
// the current one, including its checkpoint write, has been handled. Errors
// are never corrected locally: a failed session returns and the supervisor
// decides whether to start a new one, which resumes through the mirror's
// init-point and timestamp requests.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/connection"
	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/models"
	"github.com/surrealdb/surrealmirror/pkg/telemetry"
)

const (
	// DefaultReportInterval is also the longest allowed interval.
	DefaultReportInterval = time.Second
	DefaultOpTimeout      = 30 * time.Second
)

// Config wires a session. Connection, Dialer and Adapter are required.
type Config struct {
	Connection *connection.Config
	Dialer     connection.Dialer
	Adapter    backend.Adapter
	// Backend names the adapter in logs and spans.
	Backend string

	// OpTimeout bounds every adapter call. Zero uses DefaultOpTimeout and a
	// negative value disables the bound.
	OpTimeout time.Duration
	// ReportInterval is how often throughput is logged. Values above one
	// second are clamped.
	ReportInterval time.Duration
	NoopErrors     NoopPolicy

	Logger logger.Logger
	Tracer trace.Tracer
}

// Session is a single attempt at relaying the mirror stream.
// A Session runs once; the supervisor creates a new one per attempt.
type Session struct {
	id       string
	cfg      Config
	adapter  backend.Adapter
	log      logger.Logger
	tracer   trace.Tracer
	handlers map[models.MessageType]handler
	meter    *meter

	state atomic.Int32
	ran   atomic.Bool
}

func New(cfg Config) (*Session, error) {
	if cfg.Connection == nil {
		return nil, errors.New("session: connection config is required")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("session: dialer is required")
	}
	if cfg.Adapter == nil {
		return nil, errors.New("session: adapter is required")
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.ReportInterval <= 0 || cfg.ReportInterval > DefaultReportInterval {
		cfg.ReportInterval = DefaultReportInterval
	}
	if cfg.NoopErrors == "" {
		cfg.NoopErrors = NoopFail
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Tracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	id := uuid.NewString()
	s := &Session{
		id:      id,
		cfg:     cfg,
		adapter: cfg.Adapter,
		log:     logger.With(cfg.Logger, "session", id, "backend", cfg.Backend),
		tracer:  cfg.Tracer,
	}
	s.meter = newMeter(cfg.ReportInterval, s.log)
	s.handlers = s.dispatchTable()
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// drain moves a live session to Draining. The message being handled, if
// any, still completes.
func (s *Session) drain() {
	for _, from := range []State{Negotiating, Streaming} {
		if s.state.CompareAndSwap(int32(from), int32(Draining)) {
			s.log.Info("draining session")
			return
		}
	}
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("session state", "from", prev.String(), "to", st.String())
	}
}

// Run connects and relays until ctx is cancelled or the session fails.
//
// Cancellation is a clean end: the message being handled is finished, the
// connection is closed and Run returns nil. Any other end returns an error
// wrapping one of the constants taxonomy errors.
func (s *Session) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return errors.New("session: Run called twice")
	}

	s.setState(Connecting)
	ch, err := s.cfg.Dialer.Dial(ctx, s.cfg.Connection)
	if err != nil {
		if ctx.Err() != nil {
			s.setState(Closed)
			return nil
		}
		if errors.Is(err, constants.ErrAuthorization) {
			s.setState(Rejected)
			s.log.Error("mirror rejected the credential", "error", err)
			return err
		}
		s.setState(Closed)
		return err
	}

	s.setState(Negotiating)
	s.log.Info("connected to mirror", "url", s.cfg.Connection.URL.Redacted())

	s.meter.start()
	defer s.meter.halt()

	stop := context.AfterFunc(ctx, s.drain)
	err = s.stream(ctx, ch)
	stop()
	if ctx.Err() != nil {
		s.drain()
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.closeTimeout())
	defer cancel()
	if cerr := ch.Close(closeCtx); cerr != nil {
		s.log.Debug("closing mirror connection", "error", cerr)
	}
	s.setState(Closed)

	if err != nil {
		s.log.Error("session ended", "error", err, "applied", s.meter.total.Load())
		return err
	}
	s.log.Info("session drained", "applied", s.meter.total.Load())
	return nil
}

func (s *Session) closeTimeout() time.Duration {
	if s.cfg.Connection.CloseTimeout > 0 {
		return s.cfg.Connection.CloseTimeout
	}
	return connection.DefaultCloseTimeout
}

// stream is the receive loop. It returns nil when ctx is cancelled.
func (s *Session) stream(ctx context.Context, ch connection.Channel) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		raw, err := ch.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := s.handle(ctx, ch, raw); err != nil {
			return err
		}
	}
}
