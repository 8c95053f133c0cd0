package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/surrealdb/surrealmirror/pkg/models"
)

type checkpointDoc struct {
	ID string              `bson:"_id"`
	TS primitive.Timestamp `bson:"ts"`
}

func toBSON(ts models.Timestamp) primitive.Timestamp {
	return primitive.Timestamp{T: ts.T, I: ts.I}
}

func fromBSON(ts primitive.Timestamp) models.Timestamp {
	return models.Timestamp{T: ts.T, I: ts.I}
}

// Checkpoints is the "_ts" collection of a namespace.
type Checkpoints struct {
	coll *mongo.Collection
}

// Save relies on $max, which keeps the stored timestamp when it is newer.
func (c *Checkpoints) Save(ctx context.Context, id string, ts models.Timestamp) error {
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$max": bson.M{"ts": toBSON(ts)}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb: save checkpoint %s: %w", id, err)
	}
	return nil
}

func (c *Checkpoints) Get(ctx context.Context, id string) (models.Timestamp, bool, error) {
	var doc checkpointDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Timestamp{}, false, nil
	}
	if err != nil {
		return models.Timestamp{}, false, fmt.Errorf("mongodb: get checkpoint %s: %w", id, err)
	}
	return fromBSON(doc.TS), true, nil
}

func (c *Checkpoints) Latest(ctx context.Context) (models.Timestamp, bool, error) {
	var doc checkpointDoc
	err := c.coll.FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "ts", Value: -1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Timestamp{}, false, nil
	}
	if err != nil {
		return models.Timestamp{}, false, fmt.Errorf("mongodb: latest checkpoint: %w", err)
	}
	return fromBSON(doc.TS), true, nil
}

func (c *Checkpoints) Since(ctx context.Context, ts models.Timestamp) ([]string, error) {
	cur, err := c.coll.Find(ctx,
		bson.M{"ts": bson.M{"$gt": toBSON(ts)}, "_id": bson.M{"$ne": models.NoopIdentity}},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("mongodb: ids since %s: %w", ts, err)
	}
	defer cur.Close(ctx)

	ids := make([]string, 0)
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}
