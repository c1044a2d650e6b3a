package strategy

import (
	"context"

	sdkmath "cosmossdk.io/math"
)

// Strategy is the pluggable yield-source contract. Concrete strategies are
// supplied externally; the engine never inspects the concrete type. Balance
// reports the full current amount including accrued yield, and Withdraw
// returns the amount it actually managed to pull, which may be less than
// requested.
type Strategy interface {
	// Denom identifies the asset the strategy accepts, used to reject
	// mismatched-asset swaps.
	Denom() string

	Deposit(ctx context.Context, amount sdkmath.Int) error
	Withdraw(ctx context.Context, amount sdkmath.Int) (sdkmath.Int, error)
	Balance(ctx context.Context) (sdkmath.Int, error)

	// APY reports the strategy's current annualized yield estimate in basis
	// points. It is a spot value, not a guarantee.
	APY(ctx context.Context) (uint32, error)
}

// Harvester is implemented by yield sources whose accrued yield must be
// explicitly realized. Positions that do not implement it are treated as
// continuously compounding.
type Harvester interface {
	Harvest(ctx context.Context) (sdkmath.Int, error)
}
