package sync

import (
	"context"

	"turnaround-service/internal/domain/entity"
	"turnaround-service/internal/domain/repository"
	"turnaround-service/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBackend implements SyncBackend over a mongo collection with a
// change stream. One document per flight key holding the full
// snapshot; ReplaceOne upserts give the last-writer-wins semantics
// the adapter expects.
type MongoBackend struct {
	collection *mongo.Collection
	logger     logger.Logger
}

// NewMongoBackend creates a sync backend on the turnarounds collection
func NewMongoBackend(db *mongo.Database, log logger.Logger) repository.SyncBackend {
	return &MongoBackend{
		collection: db.Collection("turnarounds"),
		logger:     log,
	}
}

// Write stores the full snapshot under its flight key
func (b *MongoBackend) Write(ctx context.Context, snap entity.Snapshot) error {
	opts := options.Replace().SetUpsert(true)
	_, err := b.collection.ReplaceOne(ctx, bson.M{"_id": snap.FlightKey}, snap, opts)
	return err
}

// Delete removes the value for a key
func (b *MongoBackend) Delete(ctx context.Context, key entity.FlightKey) error {
	_, err := b.collection.DeleteOne(ctx, bson.M{"_id": key.String()})
	return err
}

// Watch opens a change stream preceded by a full scan of current
// values. Delete operations are not forwarded: archives travel as a
// final snapshot with the archived flag set, written before the
// delete.
func (b *MongoBackend) Watch(ctx context.Context) (<-chan entity.Snapshot, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"operationType": bson.M{"$in": bson.A{"insert", "replace", "update"}},
		}}},
	}
	csOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := b.collection.Watch(ctx, pipeline, csOpts)
	if err != nil {
		return nil, err
	}

	// Full scan after the stream opens so nothing written in between
	// is missed; the adapter's revision guard drops duplicates.
	cursor, err := b.collection.Find(ctx, bson.M{})
	if err != nil {
		stream.Close(context.Background())
		return nil, err
	}
	var initial []entity.Snapshot
	if err := cursor.All(ctx, &initial); err != nil {
		stream.Close(context.Background())
		return nil, err
	}

	out := make(chan entity.Snapshot)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		for _, snap := range initial {
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}

		for stream.Next(ctx) {
			var change struct {
				FullDocument entity.Snapshot `bson:"fullDocument"`
			}
			if err := stream.Decode(&change); err != nil {
				b.logger.Error("Failed to decode change stream event", "error", err)
				continue
			}
			if change.FullDocument.FlightKey == "" {
				continue
			}
			select {
			case out <- change.FullDocument:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			b.logger.Error("Change stream terminated", "error", err)
		}
	}()
	return out, nil
}
