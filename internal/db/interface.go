package db

import (
	"context"
	"time"

	"github.com/stratafi-io/yield-vault-engine/internal/db/model"
)

type DbInterface interface {
	Ping(ctx context.Context) error
	Shutdown(ctx context.Context) error

	SaveDistribution(ctx context.Context, distributionDoc *model.DistributionDocument) error
	GetDistributions(ctx context.Context, component string, limit int64) ([]model.DistributionDocument, error)
	PruneDistributions(ctx context.Context, component string, before time.Time) (int64, error)

	SaveSnapshot(ctx context.Context, snapshotDoc *model.SnapshotDocument) error
	GetLatestSnapshot(ctx context.Context, component string) (*model.SnapshotDocument, error)

	SaveEvent(ctx context.Context, eventDoc *model.EventDocument) error
	GetEvents(ctx context.Context, component string, limit int64) ([]model.EventDocument, error)

	SavePosition(ctx context.Context, positionDoc *model.SplitPositionDocument) error
	GetPosition(ctx context.Context, owner string) (*model.SplitPositionDocument, error)
	GetLivePositions(ctx context.Context) ([]model.SplitPositionDocument, error)
}
