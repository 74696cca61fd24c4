package repository

import (
	"context"
	"errors"

	"turnaround-service/internal/domain/entity"
	"turnaround-service/internal/domain/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoArchiveRepository implements ArchiveRepository
type MongoArchiveRepository struct {
	collection *mongo.Collection
}

// NewMongoArchiveRepository creates a new archive repository
func NewMongoArchiveRepository(db *mongo.Database) repository.ArchiveRepository {
	collection := db.Collection("turnaround_archive")

	// Index on airline for reporting queries; _id is the flight key.
	ctx := context.Background()
	airlineIndex := mongo.IndexModel{
		Keys: bson.M{"airline": 1},
	}
	collection.Indexes().CreateOne(ctx, airlineIndex)

	return &MongoArchiveRepository{
		collection: collection,
	}
}

// Store writes the final snapshot of an archived turnaround. Repeated
// archives of the same key overwrite.
func (r *MongoArchiveRepository) Store(ctx context.Context, snap entity.Snapshot) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": snap.FlightKey}, snap, opts)
	return err
}

// FindByKey returns the archived snapshot for a flight key, or nil if
// the flight was never archived.
func (r *MongoArchiveRepository) FindByKey(ctx context.Context, key entity.FlightKey) (*entity.Snapshot, error) {
	var snap entity.Snapshot
	err := r.collection.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
