package compounder

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/stratafi-io/yield-vault-engine/internal/vaultmath"
)

// Read-only queries against the last-committed snapshot.

func (c *CompoundingVault) Name() string {
	return c.cfg.Name
}

func (c *CompoundingVault) AccountID() string {
	return c.cfg.AccountID
}

func (c *CompoundingVault) AssetDenom() string {
	return c.cfg.AssetDenom
}

func (c *CompoundingVault) SharesOf(account string) sdkmath.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sharesOfLocked(account)
}

func (c *CompoundingVault) TotalShares() sdkmath.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.TotalShares
}

func (c *CompoundingVault) TotalAssets() sdkmath.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalAssetsLocked()
}

func (c *CompoundingVault) TotalYieldHarvested() sdkmath.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.TotalYieldHarvested
}

func (c *CompoundingVault) LastHarvest() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.LastHarvest
}

func (c *CompoundingVault) ClaimableRewards(account string) sdkmath.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rewardOfLocked(account)
}

// PricePerFullShare reports the asset units backing one full (10^18) share.
// Monotonically non-decreasing between fee-bearing withdrawals because every
// price computation runs after harvested yield is folded in.
func (c *CompoundingVault) PricePerFullShare() sdkmath.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return vaultmath.PricePerFullShare(c.totalAssetsLocked(), c.state.TotalShares, c.scalar)
}

// APY passes through the single strategy's spot estimate.
func (c *CompoundingVault) APY(ctx context.Context) (uint32, error) {
	return c.strat.APY(ctx)
}
