// Package backendtest is a conformance suite run against every backend
// implementation.
package backendtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/surrealdb/surrealmirror/internal/codec"
	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

// Fetcher reads back a stored document, without its identity field.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (doc map[string]any, ok bool, err error)
}

// Suite exercises the backend contract. Open must return an empty,
// provisioned adapter that also implements Fetcher.
type Suite struct {
	suite.Suite
	Open func(t *testing.T) backend.Adapter

	adapter backend.Adapter
}

// Run runs the suite against adapters produced by open.
func Run(t *testing.T, open func(t *testing.T) backend.Adapter) {
	suite.Run(t, &Suite{Open: open})
}

// Message decodes a wire message and returns its change event.
func Message(t *testing.T, raw string) *models.ChangeEvent {
	t.Helper()
	obj, err := codec.DecodeMessage(codec.JSON(), []byte(raw))
	require.NoError(t, err)
	in, err := models.ParseMessage(obj)
	require.NoError(t, err)
	require.NotNil(t, in.Event, "not a mutation: %s", raw)
	return in.Event
}

func (s *Suite) SetupTest() {
	s.adapter = s.Open(s.T())
	_, ok := s.adapter.(Fetcher)
	s.Require().True(ok, "%T does not implement Fetcher", s.adapter)
}

func (s *Suite) TearDownTest() {
	s.Require().NoError(s.adapter.Close(context.Background()))
}

func (s *Suite) event(raw string) *models.ChangeEvent {
	ev, err := s.adapter.Normalize(Message(s.T(), raw))
	s.Require().NoError(err)
	return ev
}

func (s *Suite) apply(a backend.Adapter, ev *models.ChangeEvent) {
	ctx := context.Background()
	var err error
	switch ev.Operation {
	case models.OpUpsert:
		err = a.ApplyUpsert(ctx, ev)
	case models.OpUpdate:
		err = a.ApplyUpdate(ctx, ev)
	case models.OpDelete:
		err = a.ApplyDelete(ctx, ev)
	case models.OpNoop:
		err = a.ApplyNoop(ctx, ev)
	}
	s.Require().NoError(err, "%s %s", ev.Operation, ev.ID)
}

func (s *Suite) fetch(id string) (map[string]any, bool) {
	doc, ok, err := s.adapter.(Fetcher).Fetch(context.Background(), id)
	s.Require().NoError(err)
	return doc, ok
}

func (s *Suite) checkpoint(id string) models.Timestamp {
	ts, ok, err := s.adapter.Checkpoints().Get(context.Background(), id)
	s.Require().NoError(err)
	s.Require().True(ok, "no checkpoint for %s", id)
	return ts
}

func (s *Suite) full() bool {
	return s.adapter.Protocol() == models.ProtocolFull
}

func (s *Suite) requireFull() {
	if !s.full() {
		s.T().Skip("reduced protocol")
	}
}

func (s *Suite) TestEmptyStore() {
	ctx := context.Background()

	_, ok, err := s.adapter.InitialPoint(ctx)
	s.Require().NoError(err)
	s.False(ok)

	_, ok, err = s.adapter.LatestCheckpoint(ctx)
	s.Require().NoError(err)
	s.False(ok)

	if s.full() {
		ids, err := s.adapter.IDsSince(ctx, models.Timestamp{})
		s.Require().NoError(err)
		s.Empty(ids)
	}
}

func (s *Suite) TestUpsertThenUpdate() {
	s.requireFull()

	upsert := s.event(`{"type":"upsert","data":{"_id":"1","a":1},"ts":[100,0]}`)
	update := s.event(`{"type":"update","data":{"_id":"1","$set":{"a":2}},"ts":[101,0]}`)
	s.apply(s.adapter, upsert)
	s.apply(s.adapter, update)

	doc, ok := s.fetch("1")
	s.Require().True(ok)
	s.Equal(map[string]any{"a": int64(2)}, doc)
	s.Equal(models.Timestamp{T: 101}, s.checkpoint("1"))

	// A guarded replay of the older upsert is skipped.
	s.apply(backend.WithStalenessGuard(s.adapter, logger.Nop()), upsert)
	doc, _ = s.fetch("1")
	s.Equal(map[string]any{"a": int64(2)}, doc)

	// Unguarded, the record is overwritten but the checkpoint never regresses.
	s.apply(s.adapter, upsert)
	s.Equal(models.Timestamp{T: 101}, s.checkpoint("1"))
}

func (s *Suite) TestUpdateUnset() {
	s.requireFull()

	s.apply(s.adapter, s.event(`{"type":"upsert","data":{"_id":"u","a":1,"b":{"c":1,"d":2}},"ts":[1,0]}`))
	s.apply(s.adapter, s.event(`{"type":"update","data":{"_id":"u","$set":{"b.c":5},"$unset":{"b.d":true,"a":true}},"ts":[2,0]}`))

	doc, ok := s.fetch("u")
	s.Require().True(ok)
	s.Equal(map[string]any{"b": map[string]any{"c": int64(5)}}, doc)
}

func (s *Suite) TestLargeIdentitiesStayDistinct() {
	s.apply(s.adapter, s.event(`{"type":"upsert","data":{"_id":9007199254740993,"n":1},"ts":[10,0]}`))
	s.apply(s.adapter, s.event(`{"type":"upsert","data":{"_id":9007199254740992,"n":2},"ts":[11,0]}`))

	doc, ok := s.fetch("9007199254740993")
	s.Require().True(ok)
	s.Equal(map[string]any{"n": int64(1)}, doc)

	doc, ok = s.fetch("9007199254740992")
	s.Require().True(ok)
	s.Equal(map[string]any{"n": int64(2)}, doc)

	s.Equal(models.Timestamp{T: 10}, s.checkpoint("9007199254740993"))
	s.Equal(models.Timestamp{T: 11}, s.checkpoint("9007199254740992"))
}

func (s *Suite) TestUpdateMissingRecord() {
	s.requireFull()

	s.apply(s.adapter, s.event(`{"type":"update","data":{"_id":"ghost","$set":{"a":2}},"ts":[70,0]}`))

	_, ok := s.fetch("ghost")
	s.False(ok)
	s.Equal(models.Timestamp{T: 70}, s.checkpoint("ghost"))
}

func (s *Suite) TestDeleteMissingRecord() {
	s.requireFull()

	s.apply(s.adapter, s.event(`{"type":"delete","data":{"_id":"2"},"ts":[50,0]}`))

	_, ok := s.fetch("2")
	s.False(ok)
	s.Equal(models.Timestamp{T: 50}, s.checkpoint("2"))
}

func (s *Suite) TestDeleteExistingRecord() {
	s.requireFull()

	s.apply(s.adapter, s.event(`{"type":"upsert","data":{"_id":"3","a":1},"ts":[10,0]}`))
	s.apply(s.adapter, s.event(`{"type":"delete","data":{"_id":"3"},"ts":[11,0]}`))

	_, ok := s.fetch("3")
	s.False(ok)
	s.Equal(models.Timestamp{T: 11}, s.checkpoint("3"))
}

func (s *Suite) TestNoopThenTimestamp() {
	ctx := context.Background()

	s.apply(s.adapter, s.event(`{"type":"noop","data":{"msg":"periodic noop"},"ts":[200,0]}`))

	ts, ok, err := s.adapter.LatestCheckpoint(ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(models.Timestamp{T: 200}, ts)
	s.Equal(models.Timestamp{T: 200}, s.checkpoint(models.NoopIdentity))

	s.apply(s.adapter, s.event(`{"type":"noop","ts":[200,5]}`))
	ts, _, err = s.adapter.LatestCheckpoint(ctx)
	s.Require().NoError(err)
	s.Equal(models.Timestamp{T: 200, I: 5}, ts)
}

func (s *Suite) TestReplayIsIdempotent() {
	var stream []string
	if s.full() {
		stream = []string{
			`{"type":"upsert","data":{"_id":"r","a":1},"ts":[100,0]}`,
			`{"type":"update","data":{"_id":"r","$set":{"b":2}},"ts":[101,0]}`,
			`{"type":"upsert","data":{"_id":"r","a":3,"b":2},"ts":[102,0]}`,
			`{"type":"update","data":{"_id":"r","$unset":["b"]},"ts":[103,0]}`,
			`{"type":"upsert","data":{"_id":"gone","x":1},"ts":[104,0]}`,
			`{"type":"delete","data":{"_id":"gone"},"ts":[105,0]}`,
		}
	} else {
		stream = []string{
			`{"type":"upsert","data":{"_id":"r","a":1},"ts":[100,0]}`,
			`{"type":"upsert","data":{"_id":"r","a":3},"ts":[102,0]}`,
			`{"type":"noop","ts":[103,0]}`,
		}
	}

	run := func() {
		for _, raw := range stream {
			s.apply(s.adapter, s.event(raw))
		}
	}

	run()
	first, ok := s.fetch("r")
	s.Require().True(ok)
	firstTS := s.checkpoint("r")

	run()
	second, ok := s.fetch("r")
	s.Require().True(ok)
	s.Equal(first, second)
	s.Equal(firstTS, s.checkpoint("r"))
	s.Equal(map[string]any{"a": int64(3)}, second)

	if s.full() {
		_, ok = s.fetch("gone")
		s.False(ok)
		s.Equal(models.Timestamp{T: 105}, s.checkpoint("gone"))
	}
}

func (s *Suite) TestCheckpointIsMonotonic() {
	seen := models.Timestamp{}
	for _, ts := range [][2]uint32{{10, 0}, {12, 3}, {11, 9}, {12, 3}, {12, 2}, {13, 0}, {1, 0}} {
		ev := s.event(`{"type":"upsert","data":{"_id":"m","v":1},"ts":[0,0]}`)
		ev.Timestamp = models.Timestamp{T: ts[0], I: ts[1]}
		s.apply(s.adapter, ev)

		stored := s.checkpoint("m")
		s.False(stored.Before(seen), "checkpoint went from %s to %s", seen, stored)
		seen = stored
	}
	s.Equal(models.Timestamp{T: 13}, seen)
}

func (s *Suite) TestIDsSince() {
	s.requireFull()
	ctx := context.Background()

	s.apply(s.adapter, s.event(`{"type":"upsert","data":{"_id":"a"},"ts":[10,0]}`))
	s.apply(s.adapter, s.event(`{"type":"upsert","data":{"_id":"b"},"ts":[10,1]}`))
	s.apply(s.adapter, s.event(`{"type":"delete","data":{"_id":"c"},"ts":[12,0]}`))
	s.apply(s.adapter, s.event(`{"type":"noop","ts":[20,0]}`))

	ids, err := s.adapter.IDsSince(ctx, models.Timestamp{})
	s.Require().NoError(err)
	s.ElementsMatch([]string{"a", "b", "c"}, ids)

	ids, err = s.adapter.IDsSince(ctx, models.Timestamp{T: 10})
	s.Require().NoError(err)
	s.ElementsMatch([]string{"b", "c"}, ids)

	ids, err = s.adapter.IDsSince(ctx, models.Timestamp{T: 12})
	s.Require().NoError(err)
	s.Empty(ids)

	ids, err = s.adapter.IDsSince(ctx, models.Timestamp{T: 99})
	s.Require().NoError(err)
	s.Empty(ids)
}

func (s *Suite) TestInitialPoint() {
	ctx := context.Background()

	s.apply(s.adapter, s.event(`{"type":"upsert","data":{"_id":"old","_last_modified":"2021-05-01T10:00:00.000000"},"ts":[1,0]}`))
	s.apply(s.adapter, s.event(`{"type":"upsert","data":{"_id":"new","_last_modified":"2021-05-02T08:30:15.250000"},"ts":[2,0]}`))
	s.apply(s.adapter, s.event(`{"type":"upsert","data":{"_id":"plain","a":1},"ts":[3,0]}`))

	t, ok, err := s.adapter.InitialPoint(ctx)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.True(time.Date(2021, 5, 2, 8, 30, 15, 250000000, time.UTC).Equal(t), "got %s", t)
	s.Equal("2021-05-02T08:30:15.250000", models.FormatLastModified(t))
}

func (s *Suite) TestReducedRejectsFullOperations() {
	if s.full() {
		s.T().Skip("full protocol")
	}
	ctx := context.Background()

	err := s.adapter.ApplyUpdate(ctx, s.event(`{"type":"update","data":{"_id":"1","$set":{"a":2}},"ts":[1,0]}`))
	s.ErrorIs(err, constants.ErrUnsupported)

	err = s.adapter.ApplyDelete(ctx, s.event(`{"type":"delete","data":{"_id":"1"},"ts":[1,0]}`))
	s.ErrorIs(err, constants.ErrUnsupported)

	_, err = s.adapter.IDsSince(ctx, models.Timestamp{})
	s.ErrorIs(err, constants.ErrUnsupported)

	_, ok, err := s.adapter.Checkpoints().Get(ctx, "1")
	s.Require().NoError(err)
	s.False(ok, "rejected operations must not record checkpoints")
}

func (s *Suite) TestNormalizeIsPure() {
	ev := Message(s.T(), `{"type":"upsert","data":{"_id":"p","_last_modified":"2021-05-01T10:00:00.000000"},"ts":[1,0]}`)
	out, err := s.adapter.Normalize(ev)
	s.Require().NoError(err)

	s.IsType("", ev.Payload[models.LastModifiedField])
	s.IsType(time.Time{}, out.Payload[models.LastModifiedField])
	s.Equal(ev.ID, out.ID)
	s.Equal(ev.Timestamp, out.Timestamp)

	_, ok, err := s.adapter.Checkpoints().Get(context.Background(), "p")
	s.Require().NoError(err)
	s.False(ok)
}
