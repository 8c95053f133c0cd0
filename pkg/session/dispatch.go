package session

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/surrealdb/surrealmirror/pkg/connection"
	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

// handler answers one decoded message. The result is sent back for control
// requests and ignored for mutations.
type handler func(ctx context.Context, in *models.Inbound) (any, error)

// dispatchTable maps every message type to its handler. Types the adapter's
// protocol does not support are left out.
func (s *Session) dispatchTable() map[models.MessageType]handler {
	all := map[models.MessageType]handler{
		models.OpUpsert: s.mutation(s.adapter.ApplyUpsert),
		models.OpUpdate: s.mutation(s.adapter.ApplyUpdate),
		models.OpDelete: s.mutation(s.adapter.ApplyDelete),
		models.OpNoop:   s.mutation(s.adapter.ApplyNoop),

		models.RequestProtocol:          s.protocol,
		models.RequestTimestamp:         s.timestamp,
		models.RequestInitialPoint:      s.initialPoint,
		models.RequestIDsSinceTimestamp: s.idsSince,
	}

	protocol := s.adapter.Protocol()
	table := make(map[models.MessageType]handler, len(all))
	for typ, h := range all {
		if protocol.Supports(typ) {
			table[typ] = h
		}
	}
	return table
}

// handle decodes and dispatches one message and sends the reply of a
// control request.
//
// The adapter call runs on a context detached from ctx so that cancellation
// never interrupts a mutation between its write and its checkpoint. It is
// bounded by the operation timeout instead.
func (s *Session) handle(ctx context.Context, ch connection.Channel, raw map[string]any) error {
	in, err := models.ParseMessage(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", constants.ErrProtocolViolation, err)
	}
	h, ok := s.handlers[in.Type]
	if !ok {
		return fmt.Errorf("%w: %s over the %s protocol: %w", constants.ErrProtocolViolation, in.Type, s.adapter.Protocol(), constants.ErrUnsupported)
	}
	if in.Event != nil {
		s.state.CompareAndSwap(int32(Negotiating), int32(Streaming))
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	opCtx, span := s.tracer.Start(opCtx, "mirror."+string(in.Type), trace.WithAttributes(s.attributes(in)...))
	defer span.End()

	result, err := h(opCtx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if in.Type == models.OpNoop && s.cfg.NoopErrors == NoopContinue {
			s.log.Warn("heartbeat checkpoint failed, continuing", "ts", in.Event.Timestamp.String(), "error", err)
			return nil
		}
		return s.failure(in, err)
	}

	if in.Event != nil {
		s.meter.add()
		return nil
	}

	if err := ch.Send(opCtx, in.Reply(result)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("reply to %s: %w", in.Type, err)
	}
	return nil
}

func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if s.cfg.OpTimeout < 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, s.cfg.OpTimeout)
}

func (s *Session) attributes(in *models.Inbound) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("mirror.type", string(in.Type)),
		attribute.String("mirror.session", s.id),
		attribute.String("mirror.backend", s.cfg.Backend),
	}
	if ev := in.Event; ev != nil {
		attrs = append(attrs,
			attribute.String("mirror.id", ev.ID),
			attribute.String("mirror.ts", ev.Timestamp.String()),
		)
	}
	return attrs
}

// failure classifies a handler error. Malformed payloads are protocol
// violations and everything else the adapter returns is an adapter failure.
func (s *Session) failure(in *models.Inbound, err error) error {
	if errors.Is(err, models.ErrMalformed) || errors.Is(err, constants.ErrUnsupported) {
		return fmt.Errorf("%w: %s: %w", constants.ErrProtocolViolation, in.Type, err)
	}
	if ev := in.Event; ev != nil {
		return fmt.Errorf("%w: %s %s at %s: %w", constants.ErrAdapter, in.Type, ev.ID, ev.Timestamp, err)
	}
	return fmt.Errorf("%w: %s: %w", constants.ErrAdapter, in.Type, err)
}

// mutation normalizes the event before handing it to apply.
func (s *Session) mutation(apply func(context.Context, *models.ChangeEvent) error) handler {
	return func(ctx context.Context, in *models.Inbound) (any, error) {
		ev, err := s.adapter.Normalize(in.Event)
		if err != nil {
			return nil, fmt.Errorf("%w: normalize %s: %w", models.ErrMalformed, in.Event.ID, err)
		}
		return nil, apply(ctx, ev)
	}
}

func (s *Session) protocol(context.Context, *models.Inbound) (any, error) {
	return s.adapter.Protocol().String(), nil
}

// timestamp answers with the newest checkpoint as [t, i], or "" when none
// was recorded.
func (s *Session) timestamp(ctx context.Context, _ *models.Inbound) (any, error) {
	ts, ok, err := s.adapter.LatestCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return "", nil
	}
	return ts.Wire(), nil
}

// initialPoint answers with the newest modification time in the store, or
// "" when it is empty.
func (s *Session) initialPoint(ctx context.Context, _ *models.Inbound) (any, error) {
	t, ok, err := s.adapter.InitialPoint(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return "", nil
	}
	return models.FormatLastModified(t), nil
}

func (s *Session) idsSince(ctx context.Context, in *models.Inbound) (any, error) {
	ids, err := s.adapter.IDsSince(ctx, *in.Request.Since)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
