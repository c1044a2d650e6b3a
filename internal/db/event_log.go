package db

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stratafi-io/yield-vault-engine/internal/db/model"
)

func (db *Database) SaveEvent(
	ctx context.Context, eventDoc *model.EventDocument,
) error {
	_, err := db.collection(model.EventLogCollection).
		InsertOne(ctx, eventDoc)
	if err != nil {
		var writeErr mongo.WriteException
		if errors.As(err, &writeErr) {
			for _, e := range writeErr.WriteErrors {
				if mongo.IsDuplicateKeyError(e) {
					return &DuplicateKeyError{
						Key:     eventDoc.EventID,
						Message: "event already recorded",
					}
				}
			}
		}
		return err
	}
	return nil
}

// GetEvents returns the most recent event log entries for a component,
// newest first.
func (db *Database) GetEvents(
	ctx context.Context, component string, limit int64,
) ([]model.EventDocument, error) {
	filter := bson.M{"component": component}
	opts := options.Find().
		SetSort(bson.D{{Key: "emitted_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := db.collection(model.EventLogCollection).
		Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []model.EventDocument
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}
