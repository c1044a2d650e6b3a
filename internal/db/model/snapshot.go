package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const SnapshotCollection = "snapshot"

// StrategyBalanceDocument is one strategy's observed balance inside a
// snapshot.
type StrategyBalanceDocument struct {
	StrategyID string `bson:"strategy_id"`
	WeightBp   uint32 `bson:"weight_bp"`
	Balance    string `bson:"balance"`
}

// SnapshotDocument is a point-in-time record of a component's totals,
// written by the sync poller. Amounts are decimal strings to keep the full
// big-integer precision.
type SnapshotDocument struct {
	ID                primitive.ObjectID        `bson:"_id,omitempty"`
	Component         string                    `bson:"component"`
	TotalShares       string                    `bson:"total_shares"`
	TotalAssets       string                    `bson:"total_assets"`
	IdleBalance       string                    `bson:"idle_balance"`
	PricePerFullShare string                    `bson:"price_per_full_share"`
	Strategies        []StrategyBalanceDocument `bson:"strategies,omitempty"`
	TakenAt           time.Time                 `bson:"taken_at"`
}
