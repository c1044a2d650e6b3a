package db

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stratafi-io/yield-vault-engine/internal/db/model"
	"github.com/stratafi-io/yield-vault-engine/internal/types"
)

// SavePosition upserts the split-position mirror for its owner.
func (db *Database) SavePosition(
	ctx context.Context, positionDoc *model.SplitPositionDocument,
) error {
	filter := bson.M{"_id": positionDoc.Owner}
	update := bson.M{"$set": positionDoc}
	opts := options.Update().SetUpsert(true)

	_, err := db.collection(model.SplitPositionCollection).
		UpdateOne(ctx, filter, update, opts)
	return err
}

func (db *Database) GetPosition(
	ctx context.Context, owner string,
) (*model.SplitPositionDocument, error) {
	filter := bson.M{"_id": owner}

	var position model.SplitPositionDocument
	err := db.collection(model.SplitPositionCollection).
		FindOne(ctx, filter).Decode(&position)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &NotFoundError{
				Key:     owner,
				Message: "no split position found for owner",
			}
		}
		return nil, err
	}
	return &position, nil
}

// GetLivePositions returns every position still in the split state.
func (db *Database) GetLivePositions(
	ctx context.Context,
) ([]model.SplitPositionDocument, error) {
	filter := bson.M{"state": types.PositionSplit.String()}

	cursor, err := db.collection(model.SplitPositionCollection).
		Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var positions []model.SplitPositionDocument
	if err := cursor.All(ctx, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}
