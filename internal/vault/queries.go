package vault

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
)

// Read-only queries. They observe the last-committed snapshot under the read
// lock and never touch strategies.

// StrategyInfo is the query-side view of a strategy slot.
type StrategyInfo struct {
	ID       string
	WeightBp uint32
}

func (v *ShareVault) Name() string {
	return v.cfg.Name
}

func (v *ShareVault) AccountID() string {
	return v.cfg.AccountID
}

func (v *ShareVault) AssetDenom() string {
	return v.cfg.AssetDenom
}

func (v *ShareVault) AssetDecimals() uint8 {
	return v.cfg.AssetDecimals
}

func (v *ShareVault) SharesOf(account string) sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sharesOfLocked(account)
}

func (v *ShareVault) AllowanceOf(owner, spender string) sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.allowanceLocked(owner, spender)
}

func (v *ShareVault) TotalShares() sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.TotalShares
}

func (v *ShareVault) TotalAssets() sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.TotalAssets
}

func (v *ShareVault) IdleBalance() sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.IdleBalance
}

func (v *ShareVault) LastSync() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.LastSync
}

func (v *ShareVault) Paused() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Paused
}

// PricePerFullShare reports the asset units backing one full (10^18) share
// at the last-committed totals.
func (v *ShareVault) PricePerFullShare() sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pricePerFullShareLocked()
}

// AssetsForShares values a share amount at the last-committed exchange rate.
func (v *ShareVault) AssetsForShares(shares sdkmath.Int) sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.assetsForSharesLocked(shares)
}

func (v *ShareVault) Strategies() []StrategyInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()

	infos := make([]StrategyInfo, 0, len(v.state.Strategies))
	for _, ref := range v.state.Strategies {
		infos = append(infos, StrategyInfo{ID: ref.ID, WeightBp: ref.WeightBp})
	}
	return infos
}

// StrategyBalance pairs a strategy slot with its live reported balance.
type StrategyBalance struct {
	ID       string
	WeightBp uint32
	Balance  sdkmath.Int
}

// StrategyBalances reports each strategy's live balance. Unlike the other
// queries this calls out to the strategies, so it is meant for the
// operational snapshot path, not the hot path.
func (v *ShareVault) StrategyBalances(ctx context.Context) ([]StrategyBalance, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	balances := make([]StrategyBalance, 0, len(v.state.Strategies))
	for _, ref := range v.state.Strategies {
		balance, err := ref.Strategy.Balance(ctx)
		if err != nil {
			return nil, fmt.Errorf("strategy %s balance: %w", ref.ID, err)
		}
		balances = append(balances, StrategyBalance{ID: ref.ID, WeightBp: ref.WeightBp, Balance: balance})
	}
	return balances, nil
}
