package splitter

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/stratafi-io/yield-vault-engine/internal/types"
	"github.com/stratafi-io/yield-vault-engine/internal/vaultmath"
)

// UserInfo is a read-only snapshot of one split position.
type UserInfo struct {
	Owner             string
	LockedShares      sdkmath.Int
	YieldClaim        sdkmath.Int
	YieldClaimAtSplit sdkmath.Int
	Principal         sdkmath.Int
	PrincipalAtSplit  sdkmath.Int
	BaselinePrice     sdkmath.Int
	SplitAt           time.Time
	Maturity          time.Time
	State             types.PositionState
	PendingYield      sdkmath.Int
}

func (o *Orchestrator) Name() string {
	return o.cfg.Name
}

func (o *Orchestrator) AccountID() string {
	return o.cfg.AccountID
}

// GetUserInfo reports the position held by user, or nil when no split was
// ever made for them.
func (o *Orchestrator) GetUserInfo(user string) *UserInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()

	pos := o.state.Positions[user]
	if pos == nil {
		return nil
	}
	info := &UserInfo{
		Owner:             pos.Owner,
		LockedShares:      pos.LockedShares,
		YieldClaim:        pos.YieldClaim,
		YieldClaimAtSplit: pos.YieldClaimAtSplit,
		Principal:         pos.Principal,
		PrincipalAtSplit:  pos.PrincipalAtSplit,
		BaselinePrice:     pos.BaselinePrice,
		SplitAt:           pos.SplitAt,
		Maturity:          pos.Maturity,
		State:             pos.State,
		PendingYield:      sdkmath.ZeroInt(),
	}
	if pos.State == types.PositionSplit {
		info.PendingYield = o.accruedValueLocked(pos, o.vault.PricePerFullShare())
	}
	return info
}

// PendingYield values the yield user's position has accrued above its
// baseline at the vault's last-synced price. Zero for closed positions.
func (o *Orchestrator) PendingYield(user string) sdkmath.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	pos := o.state.Positions[user]
	if pos == nil || pos.State != types.PositionSplit {
		return sdkmath.ZeroInt()
	}
	return o.accruedValueLocked(pos, o.vault.PricePerFullShare())
}

// NeedsLiquidationProtection reports whether user's backing collateral has
// dropped below the committed principal, which opens early redemption.
func (o *Orchestrator) NeedsLiquidationProtection(user string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	pos := o.state.Positions[user]
	if pos == nil || pos.State != types.PositionSplit {
		return false
	}
	return o.needsProtectionLocked(pos)
}

func (o *Orchestrator) TotalSplit() sdkmath.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.TotalSplit
}

func (o *Orchestrator) BackingReserve() sdkmath.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.BackingReserve
}

func (o *Orchestrator) DistributionInterval() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.DistributionInterval
}

func (o *Orchestrator) LastDistribution() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.LastDistribution
}

func (o *Orchestrator) Paused() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Paused
}

// Positions snapshots every known position, including closed ones, for the
// operational mirror.
func (o *Orchestrator) Positions() []UserInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()

	price := o.vault.PricePerFullShare()
	infos := make([]UserInfo, 0, len(o.state.Positions))
	for _, pos := range o.state.Positions {
		info := UserInfo{
			Owner:             pos.Owner,
			LockedShares:      pos.LockedShares,
			YieldClaim:        pos.YieldClaim,
			YieldClaimAtSplit: pos.YieldClaimAtSplit,
			Principal:         pos.Principal,
			PrincipalAtSplit:  pos.PrincipalAtSplit,
			BaselinePrice:     pos.BaselinePrice,
			SplitAt:           pos.SplitAt,
			Maturity:          pos.Maturity,
			State:             pos.State,
			PendingYield:      sdkmath.ZeroInt(),
		}
		if pos.State == types.PositionSplit {
			info.PendingYield = o.accruedValueLocked(pos, price)
		}
		infos = append(infos, info)
	}
	return infos
}

// CollateralValue values all locked shares at the vault's last-synced price.
func (o *Orchestrator) CollateralValue() sdkmath.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return vaultmath.ValueAtPrice(o.state.TotalSplit, o.vault.PricePerFullShare())
}
