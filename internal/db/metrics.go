package db

import (
	"context"
	"time"

	"github.com/stratafi-io/yield-vault-engine/internal/db/model"
	"github.com/stratafi-io/yield-vault-engine/internal/observability/metrics"
)

type DbWithMetrics struct {
	db DbInterface
}

func NewDbWithMetrics(db DbInterface) *DbWithMetrics {
	return &DbWithMetrics{db: db}
}

func (d *DbWithMetrics) Ping(ctx context.Context) error {
	return d.db.Ping(ctx)
}

func (d *DbWithMetrics) Shutdown(ctx context.Context) error {
	return d.db.Shutdown(ctx)
}

func (d *DbWithMetrics) SaveDistribution(ctx context.Context, distributionDoc *model.DistributionDocument) error {
	return d.run("SaveDistribution", func() error {
		return d.db.SaveDistribution(ctx, distributionDoc)
	})
}

func (d *DbWithMetrics) GetDistributions(ctx context.Context, component string, limit int64) (result []model.DistributionDocument, err error) {
	//nolint:errcheck
	d.run("GetDistributions", func() error {
		result, err = d.db.GetDistributions(ctx, component, limit)
		return err
	})
	return
}

func (d *DbWithMetrics) PruneDistributions(ctx context.Context, component string, before time.Time) (pruned int64, err error) {
	//nolint:errcheck
	d.run("PruneDistributions", func() error {
		pruned, err = d.db.PruneDistributions(ctx, component, before)
		return err
	})
	return
}

func (d *DbWithMetrics) SaveSnapshot(ctx context.Context, snapshotDoc *model.SnapshotDocument) error {
	return d.run("SaveSnapshot", func() error {
		return d.db.SaveSnapshot(ctx, snapshotDoc)
	})
}

func (d *DbWithMetrics) GetLatestSnapshot(ctx context.Context, component string) (result *model.SnapshotDocument, err error) {
	//nolint:errcheck
	d.run("GetLatestSnapshot", func() error {
		result, err = d.db.GetLatestSnapshot(ctx, component)
		return err
	})
	return
}

func (d *DbWithMetrics) SaveEvent(ctx context.Context, eventDoc *model.EventDocument) error {
	return d.run("SaveEvent", func() error {
		return d.db.SaveEvent(ctx, eventDoc)
	})
}

func (d *DbWithMetrics) GetEvents(ctx context.Context, component string, limit int64) (result []model.EventDocument, err error) {
	//nolint:errcheck
	d.run("GetEvents", func() error {
		result, err = d.db.GetEvents(ctx, component, limit)
		return err
	})
	return
}

func (d *DbWithMetrics) SavePosition(ctx context.Context, positionDoc *model.SplitPositionDocument) error {
	return d.run("SavePosition", func() error {
		return d.db.SavePosition(ctx, positionDoc)
	})
}

func (d *DbWithMetrics) GetPosition(ctx context.Context, owner string) (result *model.SplitPositionDocument, err error) {
	//nolint:errcheck
	d.run("GetPosition", func() error {
		result, err = d.db.GetPosition(ctx, owner)
		return err
	})
	return
}

func (d *DbWithMetrics) GetLivePositions(ctx context.Context) (result []model.SplitPositionDocument, err error) {
	//nolint:errcheck
	d.run("GetLivePositions", func() error {
		result, err = d.db.GetLivePositions(ctx)
		return err
	})
	return
}

// run executes the passed lambda and reports its latency, method name and
// outcome. It returns the lambda's error for convenience.
func (d *DbWithMetrics) run(method string, f func() error) error {
	startTime := time.Now()
	err := f()
	duration := time.Since(startTime)

	metrics.ObserveDbLatency(method, duration, err != nil)
	return err
}
