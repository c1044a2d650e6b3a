package db

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stratafi-io/yield-vault-engine/internal/db/model"
)

func (db *Database) SaveSnapshot(
	ctx context.Context, snapshotDoc *model.SnapshotDocument,
) error {
	_, err := db.collection(model.SnapshotCollection).
		InsertOne(ctx, snapshotDoc)
	return err
}

// GetLatestSnapshot returns the newest snapshot for a component.
func (db *Database) GetLatestSnapshot(
	ctx context.Context, component string,
) (*model.SnapshotDocument, error) {
	filter := bson.M{"component": component}
	opts := options.FindOne().SetSort(bson.D{{Key: "taken_at", Value: -1}})

	var snapshot model.SnapshotDocument
	err := db.collection(model.SnapshotCollection).
		FindOne(ctx, filter, opts).Decode(&snapshot)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &NotFoundError{
				Key:     component,
				Message: "no snapshot found for component",
			}
		}
		return nil, err
	}
	return &snapshot, nil
}
