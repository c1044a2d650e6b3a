package db

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stratafi-io/yield-vault-engine/internal/db/model"
)

func (db *Database) SaveDistribution(
	ctx context.Context, distributionDoc *model.DistributionDocument,
) error {
	_, err := db.collection(model.DistributionCollection).
		InsertOne(ctx, distributionDoc)
	if err != nil {
		var writeErr mongo.WriteException
		if errors.As(err, &writeErr) {
			for _, e := range writeErr.WriteErrors {
				if mongo.IsDuplicateKeyError(e) {
					return &DuplicateKeyError{
						Key:     distributionDoc.TxID,
						Message: "distribution already recorded",
					}
				}
			}
		}
		return err
	}
	return nil
}

// GetDistributions returns the most recent distribution records for a
// component, newest first.
func (db *Database) GetDistributions(
	ctx context.Context, component string, limit int64,
) ([]model.DistributionDocument, error) {
	filter := bson.M{"component": component}
	opts := options.Find().
		SetSort(bson.D{{Key: "executed_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := db.collection(model.DistributionCollection).
		Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var distributions []model.DistributionDocument
	if err := cursor.All(ctx, &distributions); err != nil {
		return nil, err
	}
	return distributions, nil
}

// PruneDistributions deletes records older than the cutoff and returns how
// many were removed.
func (db *Database) PruneDistributions(
	ctx context.Context, component string, before time.Time,
) (int64, error) {
	filter := bson.M{
		"component":   component,
		"executed_at": bson.M{"$lt": before},
	}
	result, err := db.collection(model.DistributionCollection).
		DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}
