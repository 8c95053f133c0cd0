// Package mongodb is a full-protocol backend for MongoDB.
//
// The namespace has the form database.collection. Checkpoints are kept in
// the collection's "_ts" sibling as {_id: identity, ts: Timestamp} with a
// sparse index on ts.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/surrealdb/surrealmirror/internal/codec"
	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/checkpoint"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

const Name = "mongodb"

var Registration = backend.Registration{
	Name:        Name,
	Protocol:    models.ProtocolFull,
	Description: "MongoDB; url is a mongodb:// URI, namespace is database.collection",
	New: func(ctx context.Context, opts backend.Options) (backend.Adapter, error) {
		return Open(ctx, opts)
	},
}

type Adapter struct {
	client      *mongo.Client
	coll        *mongo.Collection
	checkpoints *Checkpoints
	log         logger.Logger
}

func Open(ctx context.Context, opts backend.Options) (*Adapter, error) {
	dbName, collName, err := backend.SplitNamespace(opts.Namespace)
	if err != nil {
		return nil, err
	}
	if opts.URL == "" {
		return nil, errors.New("mongodb: url is empty")
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URL))
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb: ping: %w", err)
	}

	db := client.Database(dbName)
	return &Adapter{
		client:      client,
		coll:        db.Collection(collName),
		checkpoints: &Checkpoints{coll: db.Collection(backend.CheckpointName(collName))},
		log:         log,
	}, nil
}

func (a *Adapter) Provision(ctx context.Context) error {
	_, err := a.checkpoints.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "ts", Value: 1}},
		Options: options.Index().SetSparse(true),
	})
	if err != nil {
		return fmt.Errorf("mongodb: index %s: %w", a.checkpoints.coll.Name(), err)
	}

	_, err = a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: models.LastModifiedField, Value: -1}},
		Options: options.Index().SetSparse(true),
	})
	if err != nil {
		return fmt.Errorf("mongodb: index %s: %w", a.coll.Name(), err)
	}
	a.log.Info("provisioned mongodb indexes", "collection", a.coll.Name(), "checkpoints", a.checkpoints.coll.Name())
	return nil
}

func (a *Adapter) Protocol() models.ProtocolKind {
	return models.ProtocolFull
}

func (a *Adapter) InitialPoint(ctx context.Context) (time.Time, bool, error) {
	var newest struct {
		LastModified time.Time `bson:"_last_modified"`
	}
	err := a.coll.FindOne(ctx,
		bson.M{models.LastModifiedField: bson.M{"$type": "date"}},
		options.FindOne().
			SetSort(bson.D{{Key: models.LastModifiedField, Value: -1}}).
			SetProjection(bson.M{models.LastModifiedField: 1}),
	).Decode(&newest)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("mongodb: initial point: %w", err)
	}
	return newest.LastModified.UTC(), true, nil
}

func (a *Adapter) LatestCheckpoint(ctx context.Context) (models.Timestamp, bool, error) {
	return a.checkpoints.Latest(ctx)
}

func (a *Adapter) ApplyUpsert(ctx context.Context, ev *models.ChangeEvent) error {
	_, err := a.coll.ReplaceOne(ctx,
		bson.M{"_id": ev.Key},
		bson.M(ev.Document()),
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb: replace %s: %w", ev.ID, err)
	}
	return a.checkpoints.Save(ctx, ev.ID, ev.Timestamp)
}

func (a *Adapter) ApplyUpdate(ctx context.Context, ev *models.ChangeEvent) error {
	u, err := models.ParseUpdate(ev.Payload)
	if err != nil {
		return err
	}
	if !u.IsEmpty() {
		if _, err := a.coll.UpdateOne(ctx, bson.M{"_id": ev.Key}, updateDocument(u)); err != nil {
			return fmt.Errorf("mongodb: update %s: %w", ev.ID, err)
		}
	}
	return a.checkpoints.Save(ctx, ev.ID, ev.Timestamp)
}

func (a *Adapter) ApplyDelete(ctx context.Context, ev *models.ChangeEvent) error {
	if _, err := a.coll.DeleteOne(ctx, bson.M{"_id": ev.Key}); err != nil {
		return fmt.Errorf("mongodb: delete %s: %w", ev.ID, err)
	}
	return a.checkpoints.Save(ctx, ev.ID, ev.Timestamp)
}

func (a *Adapter) ApplyNoop(ctx context.Context, ev *models.ChangeEvent) error {
	return a.checkpoints.Save(ctx, models.NoopIdentity, ev.Timestamp)
}

func (a *Adapter) IDsSince(ctx context.Context, ts models.Timestamp) ([]string, error) {
	return a.checkpoints.Since(ctx, ts)
}

// Normalize parses modification times and converts the identity into the
// key stored as _id: ObjectIDs for 24 character hex strings and int64 for
// integral numbers. Integers outside the int64 range become Decimal128.
func (a *Adapter) Normalize(ev *models.ChangeEvent) (*models.ChangeEvent, error) {
	out, err := backend.NormalizeDocument(ev)
	if err != nil {
		return nil, err
	}
	out.Key = nativeKey(ev.Key)
	out.Payload = bsonValue(out.Payload).(map[string]any)
	return out, nil
}

func nativeKey(key any) any {
	switch k := key.(type) {
	case string:
		if len(k) == 24 {
			if oid, err := primitive.ObjectIDFromHex(k); err == nil {
				return oid
			}
		}
		return k
	case float64:
		if k == math.Trunc(k) && math.Abs(k) < 1<<53 {
			return int64(k)
		}
		return k
	default:
		return bsonNumber(key)
	}
}

// bsonNumber maps integers BSON has no native type for onto Decimal128.
func bsonNumber(v any) any {
	switch n := v.(type) {
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n)
		}
		return decimal(strconv.FormatUint(n, 10))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		return decimal(n.String())
	default:
		return v
	}
}

func decimal(s string) any {
	d, err := primitive.ParseDecimal128(s)
	if err != nil {
		return s
	}
	return d
}

func bsonValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = bsonValue(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = bsonValue(val)
		}
		return out
	default:
		return bsonNumber(v)
	}
}

func updateDocument(u models.Update) bson.M {
	doc := bson.M{}
	if len(u.Set) > 0 {
		doc["$set"] = bson.M(u.Set)
	}
	if len(u.Unset) > 0 {
		unset := bson.M{}
		for _, field := range u.Unset {
			unset[field] = ""
		}
		doc["$unset"] = unset
	}
	return doc
}

func (a *Adapter) Checkpoints() checkpoint.Store {
	return a.checkpoints
}

// Fetch returns the document stored under id, falling back to the integer
// key when id is numeric.
func (a *Adapter) Fetch(ctx context.Context, id string) (map[string]any, bool, error) {
	doc, ok, err := a.find(ctx, nativeKey(id))
	if err != nil || ok {
		return doc, ok, err
	}
	if n, perr := strconv.ParseInt(id, 10, 64); perr == nil {
		return a.find(ctx, n)
	}
	return nil, false, nil
}

func (a *Adapter) find(ctx context.Context, key any) (map[string]any, bool, error) {
	var doc bson.M
	err := a.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	delete(doc, "_id")
	return plain(doc).(map[string]any), true, nil
}

// plain converts driver document types into the generic shapes the rest of
// the relay uses.
func plain(v any) any {
	switch x := v.(type) {
	case bson.M:
		return plain(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = plain(val)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		return plain([]any(x))
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = plain(val)
		}
		return out
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Decimal128:
		return codec.Number(json.Number(x.String()))
	case int32:
		return int64(x)
	default:
		return v
	}
}

func (a *Adapter) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
