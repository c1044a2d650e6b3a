package portfolio

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/stratafi-io/yield-vault-engine/internal/observability/metrics"
	"github.com/stratafi-io/yield-vault-engine/internal/strategy"
	"github.com/stratafi-io/yield-vault-engine/internal/types"
	"github.com/stratafi-io/yield-vault-engine/internal/vaultmath"
)

// HarvestAllPositions runs the yield-realization step of every position that
// has one. Harvests fan out concurrently, the fold back into portfolio state
// stays serialized under the instance lock. Positions without an explicit
// harvest step compound on their own and contribute zero. Afterwards the
// current weighted APY is pushed into the rolling sample window. The receipt
// amount is the total yield realized.
func (p *Rebalancer) HarvestAllPositions(ctx context.Context) (receipt *types.Receipt, err error) {
	const op = "harvest_all_positions"
	defer p.observe(op, p.now(), &err)
	defer p.flushEvents(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	type harvested struct {
		id     string
		amount sdkmath.Int
	}
	workers := pool.NewWithResults[harvested]()
	for _, pos := range p.state.Positions {
		h, ok := pos.Strategy.(strategy.Harvester)
		if !ok {
			continue
		}
		id := pos.ID
		workers.Go(func() harvested {
			amount, err := h.Harvest(ctx)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).
					Str("position", id).
					Msg("Position harvest failed")
				return harvested{id: id, amount: sdkmath.ZeroInt()}
			}
			return harvested{id: id, amount: amount}
		})
	}

	total := sdkmath.ZeroInt()
	for _, h := range workers.Wait() {
		total = total.Add(h.amount)
	}

	if err := p.syncLocked(ctx); err != nil {
		return nil, err
	}
	p.sampleAPYLocked(ctx)
	p.state.LastHarvest = p.now()
	if total.IsInt64() {
		metrics.AddHarvestedYield(p.cfg.Name, float64(total.Int64()))
	}

	receipt = types.NewReceipt(total)
	p.emit(ctx, types.EventPositionsHarvested, map[string]string{
		"tx_id":  receipt.TxID,
		"amount": total.String(),
	})
	return receipt, nil
}

// sampleAPYLocked appends the spot weighted APY to the bounded sample
// window. A position whose APY call fails drops out of the sample together
// with its weight, so the positions that did respond are not diluted. A
// cycle where no position responds records no sample at all.
func (p *Rebalancer) sampleAPYLocked(ctx context.Context) {
	weighted := uint64(0)
	denominator := uint64(vaultmath.MaxBasisPoints)
	responded := false
	for _, pos := range p.state.Positions {
		apy, err := pos.Strategy.APY(ctx)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str("position", pos.ID).
				Msg("Position APY unavailable, excluding its weight from the sample")
			denominator -= uint64(pos.WeightBp)
			continue
		}
		responded = true
		weighted += uint64(apy) * uint64(pos.WeightBp)
	}
	if !responded || denominator == 0 {
		return
	}
	sample := uint32(weighted / denominator)

	p.state.APYSamples = append(p.state.APYSamples, sample)
	if len(p.state.APYSamples) > p.cfg.APYWindow {
		p.state.APYSamples = p.state.APYSamples[len(p.state.APYSamples)-p.cfg.APYWindow:]
	}
}

// WeightedAPY is the simple moving average over the rolling sample window,
// in basis points. Zero until the first harvest records a sample.
func (p *Rebalancer) WeightedAPY() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.state.APYSamples) == 0 {
		return 0
	}
	sum := uint64(0)
	for _, s := range p.state.APYSamples {
		sum += uint64(s)
	}
	return uint32(sum / uint64(len(p.state.APYSamples)))
}

// APY is the spot weight-blended APY across positions, bypassing the sample
// window.
func (p *Rebalancer) APY(ctx context.Context) (uint32, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	weighted := uint64(0)
	for _, pos := range p.state.Positions {
		apy, err := pos.Strategy.APY(ctx)
		if err != nil {
			return 0, fmt.Errorf("position %s apy: %w", pos.ID, err)
		}
		weighted += uint64(apy) * uint64(pos.WeightBp)
	}
	return uint32(weighted / uint64(vaultmath.MaxBasisPoints)), nil
}
