package splitter

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stratafi-io/yield-vault-engine/internal/observability/metrics"
	"github.com/stratafi-io/yield-vault-engine/internal/types"
	"github.com/stratafi-io/yield-vault-engine/internal/vaultmath"
)

// HolderPayout is one yield-claim holder's slice of a distribution.
type HolderPayout struct {
	Account string
	Amount  sdkmath.Int
}

// DistributionResult describes one executed (or compounded) distribution.
// The operational layer persists these as append-only records.
type DistributionResult struct {
	TxID        string
	At          time.Time
	TotalAmount sdkmath.Int
	Compounded  bool
	Holders     []HolderPayout
}

// DistributeYield settles the yield accrued by the locked vault shares since
// the last distribution. Time-gated: running it again before the configured
// interval has elapsed is rejected with a state error and the caller may
// retry once the gate opens.
//
// In payout mode the accrued yield is realized by stripping the yield share
// of each position's locked shares, withdrawing them from the vault and
// paying the proceeds to yield-claim holders pro-rata to their balances. In
// auto-compound mode the yield stays locked and simply re-baselines each
// position, growing the yield-claim backing; totals below the configured
// threshold defer to the next cycle.
func (o *Orchestrator) DistributeYield(ctx context.Context, caller string) (result *DistributionResult, err error) {
	const op = "distribute_yield"
	defer o.observe(op, o.now(), &err)
	defer o.flushEvents(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Paused {
		return nil, types.NewStateError(op, "orchestrator is paused")
	}
	now := o.now()
	if !o.state.LastDistribution.IsZero() {
		nextDue := o.state.LastDistribution.Add(o.state.DistributionInterval)
		if now.Before(nextDue) {
			return nil, types.NewStateError(op,
				fmt.Sprintf("distribution not due until %s", nextDue.UTC().Format(time.RFC3339)))
		}
	}

	// Commit the inner vault sync before observing its price.
	if err := o.vault.Sync(ctx); err != nil {
		return nil, err
	}
	price := o.vault.PricePerFullShare()

	totalYield := sdkmath.ZeroInt()
	totalYieldClaim := sdkmath.ZeroInt()
	for _, pos := range o.state.Positions {
		if pos.State != types.PositionSplit {
			continue
		}
		totalYield = totalYield.Add(o.accruedValueLocked(pos, price))
		totalYieldClaim = totalYieldClaim.Add(pos.YieldClaim)
	}
	if !totalYield.IsPositive() {
		log.Ctx(ctx).Debug().Msg("No yield accrued since last distribution")
		return &DistributionResult{TxID: uuid.New().String(), At: now, TotalAmount: sdkmath.ZeroInt()}, nil
	}

	if o.cfg.AutoCompound {
		if totalYield.LT(o.cfg.CompoundThreshold) {
			log.Ctx(ctx).Debug().
				Str("yield", totalYield.String()).
				Str("threshold", o.cfg.CompoundThreshold.String()).
				Msg("Yield below compound threshold, deferring distribution")
			return &DistributionResult{TxID: uuid.New().String(), At: now, TotalAmount: sdkmath.ZeroInt()}, nil
		}
		return o.compoundLocked(ctx, now, price, totalYield)
	}
	return o.payoutLocked(ctx, now, price, totalYieldClaim)
}

// compoundLocked leaves the yield shares locked and re-baselines every live
// position, so the accrued yield keeps backing the yield-claim side.
func (o *Orchestrator) compoundLocked(ctx context.Context, now time.Time, price, totalYield sdkmath.Int) (*DistributionResult, error) {
	for _, pos := range o.state.Positions {
		if pos.State != types.PositionSplit {
			continue
		}
		pos.BaselinePrice = price
	}
	o.state.LastDistribution = now

	result := &DistributionResult{
		TxID:        uuid.New().String(),
		At:          now,
		TotalAmount: totalYield,
		Compounded:  true,
	}
	metrics.IncDistributions()
	o.emit(ctx, types.EventYieldDistributed, map[string]string{
		"tx_id":      result.TxID,
		"amount":     totalYield.String(),
		"compounded": "true",
	})
	return result, nil
}

// payoutLocked realizes the accrued yield in the underlying asset and pays
// it out pro-rata to yield-claim balances.
func (o *Orchestrator) payoutLocked(ctx context.Context, now time.Time, price, totalYieldClaim sdkmath.Int) (*DistributionResult, error) {
	const op = "distribute_yield"

	// Strip each position's yield shares: the shares whose value exceeds the
	// baseline the position last settled at. Flooring the strip keeps the
	// principal backing intact.
	totalStrip := sdkmath.ZeroInt()
	strips := make(map[string]sdkmath.Int)
	for owner, pos := range o.state.Positions {
		if pos.State != types.PositionSplit {
			continue
		}
		delta := price.Sub(pos.BaselinePrice)
		if !delta.IsPositive() {
			continue
		}
		strip := vaultmath.ProRata(pos.LockedShares, delta, price)
		if strip.IsPositive() {
			strips[owner] = strip
			totalStrip = totalStrip.Add(strip)
		}
	}
	if !totalStrip.IsPositive() {
		return &DistributionResult{TxID: uuid.New().String(), At: now, TotalAmount: sdkmath.ZeroInt()}, nil
	}

	withdrawal, err := o.vault.Withdraw(ctx, o.cfg.AccountID, totalStrip, o.cfg.AccountID, o.cfg.AccountID)
	if err != nil {
		return nil, err
	}
	payout := withdrawal.Amount

	for owner, strip := range strips {
		pos := o.state.Positions[owner]
		pos.LockedShares = pos.LockedShares.Sub(strip)
		pos.BaselinePrice = price
	}
	o.state.TotalSplit = o.state.TotalSplit.Sub(totalStrip)

	result := &DistributionResult{
		TxID:        uuid.New().String(),
		At:          now,
		TotalAmount: payout,
	}
	distributed := sdkmath.ZeroInt()
	for owner, pos := range o.state.Positions {
		if pos.State != types.PositionSplit || !pos.YieldClaim.IsPositive() {
			continue
		}
		cut := vaultmath.ProRata(payout, pos.YieldClaim, totalYieldClaim)
		if !cut.IsPositive() {
			continue
		}
		if err := o.ledger.Transfer(o.cfg.AccountID, owner, cut); err != nil {
			return nil, types.NewInvariantError(op, fmt.Sprintf("payout to %s failed: %v", owner, err))
		}
		distributed = distributed.Add(cut)
		result.Holders = append(result.Holders, HolderPayout{Account: owner, Amount: cut})
	}

	// Rounding dust rolls into the principal backing reserve.
	dust := payout.Sub(distributed)
	if dust.IsPositive() {
		o.state.BackingReserve = o.state.BackingReserve.Add(dust)
	}
	o.state.LastDistribution = now

	metrics.IncDistributions()
	o.emit(ctx, types.EventYieldDistributed, map[string]string{
		"tx_id":      result.TxID,
		"amount":     payout.String(),
		"holders":    fmt.Sprintf("%d", len(result.Holders)),
		"compounded": "false",
	})
	return result, nil
}

// accruedValueLocked values a position's yield accrued above its baseline.
func (o *Orchestrator) accruedValueLocked(pos *Position, price sdkmath.Int) sdkmath.Int {
	delta := price.Sub(pos.BaselinePrice)
	if !delta.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return vaultmath.ValueAtPrice(pos.LockedShares, delta)
}
