package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/stratafi-io/yield-vault-engine/internal/ledger"
	"github.com/stratafi-io/yield-vault-engine/internal/observability/metrics"
	"github.com/stratafi-io/yield-vault-engine/internal/strategy"
	"github.com/stratafi-io/yield-vault-engine/internal/types"
	"github.com/stratafi-io/yield-vault-engine/internal/vaultmath"
)

// Rebalancer holds up to four yield positions at target weights, issues
// portfolio tokens against their combined net asset value and drifts them
// back to target when the deviation and the time gate allow it.

const (
	// MaxPositions caps the active position count.
	MaxPositions = 4

	// DefaultAPYWindow bounds the rolling weighted-APY sample buffer.
	DefaultAPYWindow = 24
)

type Config struct {
	Name          string
	AccountID     string
	Operator      string
	AssetDenom    string
	AssetDecimals uint8

	// ThresholdBp is the max-deviation trigger for opportunistic rebalancing.
	ThresholdBp uint32

	// MinRebalanceInterval gates how often an opportunistic rebalance may run.
	// ForceRebalance ignores it.
	MinRebalanceInterval time.Duration

	// APYWindow is the rolling sample count behind WeightedAPY.
	APYWindow int
}

func (cfg *Config) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("portfolio name must be set")
	}
	if cfg.AccountID == "" {
		return fmt.Errorf("portfolio account id must be set")
	}
	if cfg.Operator == "" {
		return fmt.Errorf("portfolio operator must be set")
	}
	if cfg.AssetDenom == "" {
		return fmt.Errorf("asset denom must be set")
	}
	if cfg.AssetDecimals > 18 {
		return fmt.Errorf("asset decimals %d exceed share decimals", cfg.AssetDecimals)
	}
	if cfg.ThresholdBp == 0 || cfg.ThresholdBp > vaultmath.MaxBasisPoints {
		return fmt.Errorf("rebalance threshold %d outside (0, %d]", cfg.ThresholdBp, vaultmath.MaxBasisPoints)
	}
	if cfg.MinRebalanceInterval <= 0 {
		return fmt.Errorf("min rebalance interval must be positive")
	}
	if cfg.APYWindow <= 0 {
		return fmt.Errorf("apy window must be positive")
	}
	return nil
}

// PositionRef is one live position. LastBalance is the balance observed by
// the last sync and is what queries and weight math read.
type PositionRef struct {
	ID          string
	WeightBp    uint32
	Strategy    strategy.Strategy
	LastBalance sdkmath.Int
}

// State is the explicit store backing one rebalancer instance.
type State struct {
	TotalShares   sdkmath.Int
	IdleBalance   sdkmath.Int
	Shares        map[string]sdkmath.Int
	Positions     []*PositionRef
	APYSamples    []uint32
	LastRebalance time.Time
	LastHarvest   time.Time
}

func NewState() *State {
	return &State{
		TotalShares: sdkmath.ZeroInt(),
		IdleBalance: sdkmath.ZeroInt(),
		Shares:      make(map[string]sdkmath.Int),
	}
}

type Rebalancer struct {
	mu     sync.RWMutex
	cfg    Config
	ledger ledger.Ledger
	state  *State
	sink   types.EventSink
	scalar sdkmath.Int
	now    func() time.Time

	// pending collects events queued under the lock; flushEvents delivers
	// them once the lock is released.
	pending []types.Event
}

func New(cfg Config, lgr ledger.Ledger, state *State, sink types.EventSink) (*Rebalancer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lgr == nil {
		return nil, fmt.Errorf("ledger must be set")
	}
	if state == nil {
		state = NewState()
	}
	if sink == nil {
		sink = types.NoopSink{}
	}
	return &Rebalancer{
		cfg:    cfg,
		ledger: lgr,
		state:  state,
		sink:   sink,
		scalar: vaultmath.ShareScalar(cfg.AssetDecimals),
		now:    time.Now,
	}, nil
}

// Issue mints tokenAmount portfolio tokens to receiver against the asset
// their share of net asset value is worth (1:1 at bootstrap), pulls that
// asset from caller and deploys it across positions by target weight. A
// rebalance runs opportunistically afterwards when deviation and the time
// gate allow. The receipt amount is the asset pulled.
func (p *Rebalancer) Issue(ctx context.Context, caller string, tokenAmount sdkmath.Int, receiver string) (receipt *types.Receipt, err error) {
	const op = "issue"
	defer p.observe(op, p.now(), &err)
	defer p.flushEvents(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !tokenAmount.IsPositive() {
		return nil, types.NewValidationError(op, "token amount must be positive")
	}
	if receiver == "" {
		return nil, types.NewValidationError(op, "receiver must be set")
	}

	if err := p.syncLocked(ctx); err != nil {
		return nil, err
	}
	var assetAmount sdkmath.Int
	if p.state.TotalShares.IsZero() {
		assetAmount = tokenAmount.Quo(p.scalar)
	} else {
		assetAmount = vaultmath.AssetsForShares(tokenAmount, p.navLocked(), p.state.TotalShares)
	}
	if !assetAmount.IsPositive() {
		return nil, types.NewValidationError(op, "token amount too small for one asset unit")
	}

	if err := p.ledger.Transfer(caller, p.cfg.AccountID, assetAmount); err != nil {
		return nil, types.NewValidationError(op, fmt.Sprintf("asset transfer failed: %v", err))
	}
	p.deployLocked(ctx, assetAmount)

	p.state.Shares[receiver] = p.sharesOfLocked(receiver).Add(tokenAmount)
	p.state.TotalShares = p.state.TotalShares.Add(tokenAmount)

	p.maybeRebalanceLocked(ctx)

	receipt = types.NewReceipt(assetAmount)
	p.emit(ctx, types.EventPortfolioIssued, map[string]string{
		"tx_id":    receipt.TxID,
		"receiver": receiver,
		"tokens":   tokenAmount.String(),
		"assets":   assetAmount.String(),
	})
	return receipt, nil
}

// Redeem burns caller's portfolio tokens and pays out their share of net
// asset value, pulling from positions proportional to their balances when
// the idle buffer does not cover it.
func (p *Rebalancer) Redeem(ctx context.Context, caller string, tokenAmount sdkmath.Int, receiver string) (receipt *types.Receipt, err error) {
	const op = "redeem"
	defer p.observe(op, p.now(), &err)
	defer p.flushEvents(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !tokenAmount.IsPositive() {
		return nil, types.NewValidationError(op, "token amount must be positive")
	}
	if receiver == "" {
		return nil, types.NewValidationError(op, "receiver must be set")
	}
	if p.sharesOfLocked(caller).LT(tokenAmount) {
		return nil, types.NewAuthorizationError(op,
			fmt.Sprintf("balance %s does not cover %s", p.sharesOfLocked(caller).String(), tokenAmount.String()))
	}

	if err := p.syncLocked(ctx); err != nil {
		return nil, err
	}
	assets := vaultmath.AssetsForShares(tokenAmount, p.navLocked(), p.state.TotalShares)
	if !assets.IsPositive() {
		return nil, types.NewValidationError(op, "token amount too small for one asset unit")
	}

	if err := p.gatherLocked(ctx, assets); err != nil {
		return nil, err
	}

	p.state.Shares[caller] = p.state.Shares[caller].Sub(tokenAmount)
	if p.state.Shares[caller].IsZero() {
		delete(p.state.Shares, caller)
	}
	p.state.TotalShares = p.state.TotalShares.Sub(tokenAmount)
	p.state.IdleBalance = p.state.IdleBalance.Sub(assets)

	if err := p.ledger.Transfer(p.cfg.AccountID, receiver, assets); err != nil {
		return nil, types.NewInvariantError(op, fmt.Sprintf("payout transfer failed: %v", err))
	}

	receipt = types.NewReceipt(assets)
	p.emit(ctx, types.EventPortfolioRedeemed, map[string]string{
		"tx_id":    receipt.TxID,
		"receiver": receiver,
		"tokens":   tokenAmount.String(),
		"assets":   assets.String(),
	})
	return receipt, nil
}

// AddPosition registers a new position at the given target weight.
func (p *Rebalancer) AddPosition(ctx context.Context, caller, id string, weightBp uint32, strat strategy.Strategy) (err error) {
	const op = "add_position"
	defer p.observe(op, p.now(), &err)
	defer p.flushEvents(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireOperator(op, caller); err != nil {
		return err
	}
	if id == "" || strat == nil {
		return types.NewValidationError(op, "position id and strategy must be set")
	}
	if p.findPositionLocked(id) != nil {
		return types.NewValidationError(op, fmt.Sprintf("position %s already exists", id))
	}
	if strat.Denom() != p.cfg.AssetDenom {
		return types.NewInvariantError(op,
			fmt.Sprintf("position asset %s does not match portfolio asset %s", strat.Denom(), p.cfg.AssetDenom))
	}
	if len(p.state.Positions) >= MaxPositions {
		return types.NewInvariantError(op, fmt.Sprintf("position count cap %d reached", MaxPositions))
	}
	if p.totalWeightLocked()+weightBp > vaultmath.MaxBasisPoints {
		return types.NewInvariantError(op,
			fmt.Sprintf("total weight %d would exceed %d bp", p.totalWeightLocked()+weightBp, vaultmath.MaxBasisPoints))
	}

	p.state.Positions = append(p.state.Positions, &PositionRef{
		ID:          id,
		WeightBp:    weightBp,
		Strategy:    strat,
		LastBalance: sdkmath.ZeroInt(),
	})
	p.emit(ctx, types.EventPositionAdded, map[string]string{
		"position": id,
		"weight":   fmt.Sprintf("%d", weightBp),
	})
	return nil
}

// RemovePosition fully exits the position into the idle buffer and removes
// it. The freed weight stays unallocated until the operator reassigns it.
func (p *Rebalancer) RemovePosition(ctx context.Context, caller, id string) (err error) {
	const op = "remove_position"
	defer p.observe(op, p.now(), &err)
	defer p.flushEvents(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireOperator(op, caller); err != nil {
		return err
	}
	pos := p.findPositionLocked(id)
	if pos == nil {
		return types.NewValidationError(op, fmt.Sprintf("position %s not found", id))
	}

	balance, err := pos.Strategy.Balance(ctx)
	if err != nil {
		return types.NewLiquidityError(op, fmt.Sprintf("position %s balance unavailable: %v", id, err))
	}
	if balance.IsPositive() {
		got, err := pos.Strategy.Withdraw(ctx, balance)
		if err != nil {
			return types.NewLiquidityError(op, fmt.Sprintf("position %s exit failed: %v", id, err))
		}
		if got.LT(balance) {
			return types.NewLiquidityError(op,
				fmt.Sprintf("position %s returned %s of %s on exit", id, got.String(), balance.String()))
		}
		p.state.IdleBalance = p.state.IdleBalance.Add(got)
	}

	kept := p.state.Positions[:0]
	for _, ref := range p.state.Positions {
		if ref.ID != id {
			kept = append(kept, ref)
		}
	}
	p.state.Positions = kept

	p.emit(ctx, types.EventPositionRemoved, map[string]string{
		"position": id,
		"exited":   balance.String(),
	})
	return nil
}

// UpdateAllocation replaces the target weights of the named positions.
func (p *Rebalancer) UpdateAllocation(ctx context.Context, caller string, weights map[string]uint32) (err error) {
	const op = "update_allocation"
	defer p.observe(op, p.now(), &err)
	defer p.flushEvents(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireOperator(op, caller); err != nil {
		return err
	}
	if len(weights) == 0 {
		return types.NewValidationError(op, "no weights supplied")
	}

	total := uint32(0)
	for _, pos := range p.state.Positions {
		w, ok := weights[pos.ID]
		if !ok {
			w = pos.WeightBp
		}
		total += w
	}
	for id := range weights {
		if p.findPositionLocked(id) == nil {
			return types.NewValidationError(op, fmt.Sprintf("position %s not found", id))
		}
	}
	if total > vaultmath.MaxBasisPoints {
		return types.NewInvariantError(op, fmt.Sprintf("total weight %d exceeds %d bp", total, vaultmath.MaxBasisPoints))
	}

	for id, w := range weights {
		p.findPositionLocked(id).WeightBp = w
	}
	p.emit(ctx, types.EventWeightsUpdated, map[string]string{
		"updated": fmt.Sprintf("%d", len(weights)),
		"total":   fmt.Sprintf("%d", total),
	})
	return nil
}

// ForceRebalance drives every position back to its target weight regardless
// of deviation or the time gate.
func (p *Rebalancer) ForceRebalance(ctx context.Context, caller string) (err error) {
	const op = "force_rebalance"
	defer p.observe(op, p.now(), &err)
	defer p.flushEvents(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireOperator(op, caller); err != nil {
		return err
	}
	if err := p.syncLocked(ctx); err != nil {
		return err
	}
	return p.rebalanceLocked(ctx)
}

// Sync refreshes every position's observed balance so drift queries and the
// rebalance gate see current numbers.
func (p *Rebalancer) Sync(ctx context.Context) (err error) {
	const op = "sync"
	defer p.observe(op, p.now(), &err)
	defer p.flushEvents(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncLocked(ctx)
}

// maybeRebalanceLocked is the opportunistic path: below threshold or inside
// the minimum interval it is a no-op, and its own failures never fail the
// mutation that triggered it.
func (p *Rebalancer) maybeRebalanceLocked(ctx context.Context) {
	if p.maxDeviationLocked() <= p.cfg.ThresholdBp {
		return
	}
	if p.now().Sub(p.state.LastRebalance) < p.cfg.MinRebalanceInterval {
		return
	}
	if err := p.rebalanceLocked(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("portfolio", p.cfg.Name).
			Msg("Opportunistic rebalance failed")
	}
}

// rebalanceLocked withdraws over-allocated positions into the idle buffer,
// then tops up under-allocated ones from it.
func (p *Rebalancer) rebalanceLocked(ctx context.Context) error {
	const op = "rebalance"

	deployed := p.deployedLocked()
	pot := deployed.Add(p.state.IdleBalance)

	for _, pos := range p.state.Positions {
		target := vaultmath.BasisPoints(pot, pos.WeightBp)
		if pos.LastBalance.LTE(target) {
			continue
		}
		excess := pos.LastBalance.Sub(target)
		got, err := pos.Strategy.Withdraw(ctx, excess)
		if err != nil {
			return types.NewLiquidityError(op, fmt.Sprintf("position %s withdraw failed: %v", pos.ID, err))
		}
		pos.LastBalance = pos.LastBalance.Sub(got)
		p.state.IdleBalance = p.state.IdleBalance.Add(got)
	}
	for _, pos := range p.state.Positions {
		target := vaultmath.BasisPoints(pot, pos.WeightBp)
		if pos.LastBalance.GTE(target) || !p.state.IdleBalance.IsPositive() {
			continue
		}
		topUp := vaultmath.Min(target.Sub(pos.LastBalance), p.state.IdleBalance)
		if err := pos.Strategy.Deposit(ctx, topUp); err != nil {
			return types.NewLiquidityError(op, fmt.Sprintf("position %s deposit failed: %v", pos.ID, err))
		}
		pos.LastBalance = pos.LastBalance.Add(topUp)
		p.state.IdleBalance = p.state.IdleBalance.Sub(topUp)
	}

	p.state.LastRebalance = p.now()
	metrics.IncRebalances()
	metrics.RecordRebalanceDeviation(p.cfg.Name, float64(p.maxDeviationLocked()))
	p.emit(ctx, types.EventPortfolioRebalanced, map[string]string{
		"deviation": fmt.Sprintf("%d", p.maxDeviationLocked()),
		"positions": fmt.Sprintf("%d", len(p.state.Positions)),
	})
	return nil
}

// deployLocked spreads amount across positions by target weight. A position
// that rejects its portion leaves it in the idle buffer.
func (p *Rebalancer) deployLocked(ctx context.Context, amount sdkmath.Int) {
	remaining := amount
	for _, pos := range p.state.Positions {
		portion := vaultmath.BasisPoints(amount, pos.WeightBp)
		portion = vaultmath.Min(portion, remaining)
		if !portion.IsPositive() {
			continue
		}
		if err := pos.Strategy.Deposit(ctx, portion); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str("position", pos.ID).
				Str("amount", portion.String()).
				Msg("Position deposit failed, keeping funds idle")
			continue
		}
		pos.LastBalance = pos.LastBalance.Add(portion)
		remaining = remaining.Sub(portion)
	}
	p.state.IdleBalance = p.state.IdleBalance.Add(remaining)
}

// gatherLocked pulls assets into the idle buffer until it covers amount,
// drawing from positions proportional to their balances and then draining
// whatever is left position by position.
func (p *Rebalancer) gatherLocked(ctx context.Context, amount sdkmath.Int) error {
	const op = "redeem"

	if p.state.IdleBalance.GTE(amount) {
		return nil
	}
	need := amount.Sub(p.state.IdleBalance)
	deployed := p.deployedLocked()

	if deployed.IsPositive() {
		for _, pos := range p.state.Positions {
			take := vaultmath.Min(vaultmath.ProRata(need, pos.LastBalance, deployed), pos.LastBalance)
			if !take.IsPositive() {
				continue
			}
			got, err := pos.Strategy.Withdraw(ctx, take)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).
					Str("position", pos.ID).
					Msg("Position withdraw failed during gather")
				continue
			}
			pos.LastBalance = pos.LastBalance.Sub(got)
			p.state.IdleBalance = p.state.IdleBalance.Add(got)
		}
	}
	for _, pos := range p.state.Positions {
		if p.state.IdleBalance.GTE(amount) {
			break
		}
		take := vaultmath.Min(amount.Sub(p.state.IdleBalance), pos.LastBalance)
		if !take.IsPositive() {
			continue
		}
		got, err := pos.Strategy.Withdraw(ctx, take)
		if err != nil {
			continue
		}
		pos.LastBalance = pos.LastBalance.Sub(got)
		p.state.IdleBalance = p.state.IdleBalance.Add(got)
	}

	if p.state.IdleBalance.LT(amount) {
		return types.NewLiquidityError(op,
			fmt.Sprintf("positions returned %s of requested %s", p.state.IdleBalance.String(), amount.String()))
	}
	return nil
}

// syncLocked refreshes every position's observed balance.
func (p *Rebalancer) syncLocked(ctx context.Context) error {
	for _, pos := range p.state.Positions {
		balance, err := pos.Strategy.Balance(ctx)
		if err != nil {
			return types.NewLiquidityError("sync", fmt.Sprintf("position %s balance unavailable: %v", pos.ID, err))
		}
		pos.LastBalance = balance
	}
	nav := p.navLocked()
	if nav.IsInt64() && p.state.TotalShares.IsInt64() {
		metrics.RecordTotals(p.cfg.Name, float64(nav.Int64()), float64(p.state.TotalShares.Int64()))
	}
	return nil
}

func (p *Rebalancer) requireOperator(op, caller string) error {
	if caller != p.cfg.Operator {
		return types.NewAuthorizationError(op, fmt.Sprintf("caller %s is not the operator", caller))
	}
	return nil
}

func (p *Rebalancer) findPositionLocked(id string) *PositionRef {
	for _, pos := range p.state.Positions {
		if pos.ID == id {
			return pos
		}
	}
	return nil
}

func (p *Rebalancer) totalWeightLocked() uint32 {
	total := uint32(0)
	for _, pos := range p.state.Positions {
		total += pos.WeightBp
	}
	return total
}

func (p *Rebalancer) deployedLocked() sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, pos := range p.state.Positions {
		total = total.Add(pos.LastBalance)
	}
	return total
}

func (p *Rebalancer) navLocked() sdkmath.Int {
	return p.state.IdleBalance.Add(p.deployedLocked())
}

// maxDeviationLocked is the largest gap between a position's actual and
// target weight, measured against the deployed total.
func (p *Rebalancer) maxDeviationLocked() uint32 {
	deployed := p.deployedLocked()
	maxDev := uint32(0)
	for _, pos := range p.state.Positions {
		actual := vaultmath.WeightBp(pos.LastBalance, deployed)
		if dev := vaultmath.AbsDiffBp(actual, pos.WeightBp); dev > maxDev {
			maxDev = dev
		}
	}
	return maxDev
}

func (p *Rebalancer) sharesOfLocked(account string) sdkmath.Int {
	if shares, ok := p.state.Shares[account]; ok {
		return shares
	}
	return sdkmath.ZeroInt()
}

// emit queues an event while the instance lock is held. Delivery happens in
// flushEvents after the lock is released, so a slow sink never holds up
// queries against the last-committed snapshot.
func (p *Rebalancer) emit(ctx context.Context, eventType types.EventType, attributes map[string]string) {
	p.pending = append(p.pending, types.NewEvent(eventType, p.cfg.Name, attributes))
}

func (p *Rebalancer) flushEvents(ctx context.Context) {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, event := range pending {
		p.sink.Emit(ctx, event)
	}
}

func (p *Rebalancer) observe(op string, start time.Time, err *error) {
	metrics.RecordOperationDuration(p.cfg.Name, op, time.Since(start), err != nil && *err != nil)
}
