package portfolio

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/stratafi-io/yield-vault-engine/internal/vaultmath"
)

// Read-only queries against the last-committed snapshot.

// PositionWeight compares one position's actual share of deployed assets
// against its target.
type PositionWeight struct {
	ID          string
	TargetBp    uint32
	ActualBp    uint32
	DeviationBp uint32
	Balance     sdkmath.Int
}

// RebalanceInfo is the drift report behind manual and opportunistic
// rebalancing.
type RebalanceInfo struct {
	Positions       []PositionWeight
	MaxDeviationBp  uint32
	CanRebalance    bool
	LastRebalance   time.Time
	NextRebalanceAt time.Time
}

func (p *Rebalancer) Name() string {
	return p.cfg.Name
}

func (p *Rebalancer) AccountID() string {
	return p.cfg.AccountID
}

func (p *Rebalancer) AssetDenom() string {
	return p.cfg.AssetDenom
}

func (p *Rebalancer) SharesOf(account string) sdkmath.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sharesOfLocked(account)
}

func (p *Rebalancer) TotalShares() sdkmath.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.TotalShares
}

// NetAssetValue is the idle buffer plus every position's last-observed
// balance.
func (p *Rebalancer) NetAssetValue() sdkmath.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.navLocked()
}

func (p *Rebalancer) IdleBalance() sdkmath.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.IdleBalance
}

func (p *Rebalancer) LastHarvest() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.LastHarvest
}

// PricePerFullShare reports the asset units backing one full (10^18)
// portfolio token.
func (p *Rebalancer) PricePerFullShare() sdkmath.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return vaultmath.PricePerFullShare(p.navLocked(), p.state.TotalShares, p.scalar)
}

// GetRebalanceInfo reports per-position drift from target weight and whether
// the opportunistic trigger would fire right now.
func (p *Rebalancer) GetRebalanceInfo() RebalanceInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	deployed := p.deployedLocked()
	info := RebalanceInfo{
		LastRebalance:   p.state.LastRebalance,
		NextRebalanceAt: p.state.LastRebalance.Add(p.cfg.MinRebalanceInterval),
	}
	for _, pos := range p.state.Positions {
		actual := vaultmath.WeightBp(pos.LastBalance, deployed)
		dev := vaultmath.AbsDiffBp(actual, pos.WeightBp)
		if dev > info.MaxDeviationBp {
			info.MaxDeviationBp = dev
		}
		info.Positions = append(info.Positions, PositionWeight{
			ID:          pos.ID,
			TargetBp:    pos.WeightBp,
			ActualBp:    actual,
			DeviationBp: dev,
			Balance:     pos.LastBalance,
		})
	}
	info.CanRebalance = info.MaxDeviationBp > p.cfg.ThresholdBp &&
		!p.now().Before(info.NextRebalanceAt)
	return info
}
