package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stratafi-io/yield-vault-engine/internal/config"
)

const setupTimeout = 30 * time.Second

var collectionIndexes = map[string][]mongo.IndexModel{
	DistributionCollection: {
		{Keys: bson.D{{Key: "tx_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "component", Value: 1}, {Key: "executed_at", Value: -1}}},
	},
	SnapshotCollection: {
		{Keys: bson.D{{Key: "component", Value: 1}, {Key: "taken_at", Value: -1}}},
	},
	EventLogCollection: {
		{Keys: bson.D{{Key: "event_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "component", Value: 1}, {Key: "emitted_at", Value: -1}}},
	},
	SplitPositionCollection: {
		{Keys: bson.D{{Key: "state", Value: 1}}},
	},
}

// Setup creates the collections and their indexes. Safe to run repeatedly.
func Setup(ctx context.Context, cfg *config.DbConfig) error {
	credential := options.Credential{
		Username: cfg.Username,
		Password: cfg.Password,
	}
	clientOps := options.Client().ApplyURI(cfg.Address).SetAuth(credential)
	client, err := mongo.Connect(ctx, clientOps)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	database := client.Database(cfg.DbName)
	for name, indexes := range collectionIndexes {
		if err := createCollection(ctx, database, name); err != nil {
			return err
		}
		if len(indexes) == 0 {
			continue
		}
		if _, err := database.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return err
		}
	}

	return client.Disconnect(ctx)
}

func createCollection(ctx context.Context, database *mongo.Database, name string) error {
	// CreateCollection errors when the collection already exists; listing
	// first keeps Setup idempotent.
	names, err := database.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return err
	}
	if len(names) > 0 {
		return nil
	}
	return database.CreateCollection(ctx, name)
}
