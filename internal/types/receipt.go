package types

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Receipt is returned by every successful mutating operation: a transaction
// identifier plus the resulting amount in whatever unit the operation
// denominates its result (shares minted, assets paid out, yield distributed).
type Receipt struct {
	TxID   string
	Amount sdkmath.Int
}

func NewReceipt(amount sdkmath.Int) *Receipt {
	return &Receipt{
		TxID:   uuid.New().String(),
		Amount: amount,
	}
}
