package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const DistributionCollection = "distribution"

// HolderPayoutDocument is one holder's slice inside a distribution record.
type HolderPayoutDocument struct {
	Account string `bson:"account"`
	Amount  string `bson:"amount"`
}

// DistributionDocument is one executed yield distribution, append-only and
// pruned by the configured retention.
type DistributionDocument struct {
	ID          primitive.ObjectID     `bson:"_id,omitempty"`
	TxID        string                 `bson:"tx_id"`
	Component   string                 `bson:"component"`
	TotalAmount string                 `bson:"total_amount"`
	Compounded  bool                   `bson:"compounded"`
	Holders     []HolderPayoutDocument `bson:"holders,omitempty"`
	ExecutedAt  time.Time              `bson:"executed_at"`
}
