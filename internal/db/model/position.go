package model

import (
	"time"
)

const SplitPositionCollection = "split_position"

// SplitPositionDocument is the crash-recoverable mirror of one split
// position, keyed by owner. Amounts are decimal strings.
type SplitPositionDocument struct {
	Owner             string    `bson:"_id"`
	LockedShares      string    `bson:"locked_shares"`
	YieldClaim        string    `bson:"yield_claim"`
	YieldClaimAtSplit string    `bson:"yield_claim_at_split"`
	Principal         string    `bson:"principal"`
	PrincipalAtSplit  string    `bson:"principal_at_split"`
	BaselinePrice     string    `bson:"baseline_price"`
	State             string    `bson:"state"`
	SplitAt           time.Time `bson:"split_at"`
	Maturity          time.Time `bson:"maturity"`
}
