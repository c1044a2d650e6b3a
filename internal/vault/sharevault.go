package vault

import (
	"context"
	"fmt"
	"sort"
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

// ShareVault pools a single asset across a weighted list of strategies and
// issues proportional ownership shares. Yield accrues by re-pricing existing
// shares against the strategies' reported balances; no shares are minted or
// burned by a sync.
//
// Every mutating operation runs to completion under the instance lock, so a
// call either commits in full or fails with no state change. Queries serve
// the last-committed snapshot.

type Config struct {
	Name          string
	AccountID     string
	Operator      string
	AssetDenom    string
	AssetDecimals uint8
	MaxStrategies int
}

func (cfg *Config) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("vault name must be set")
	}
	if cfg.AccountID == "" {
		return fmt.Errorf("vault account id must be set")
	}
	if cfg.Operator == "" {
		return fmt.Errorf("vault operator must be set")
	}
	if cfg.AssetDenom == "" {
		return fmt.Errorf("vault asset denom must be set")
	}
	if cfg.AssetDecimals > vaultmath.ShareDecimals {
		return fmt.Errorf("asset decimals %d exceed share decimals", cfg.AssetDecimals)
	}
	if cfg.MaxStrategies <= 0 || cfg.MaxStrategies > 4 {
		return fmt.Errorf("max strategies must be within [1, 4], got %d", cfg.MaxStrategies)
	}
	return nil
}

// StrategyRef is one weighted slot in the vault's strategy list.
type StrategyRef struct {
	ID       string
	WeightBp uint32
	Strategy strategy.Strategy
}

// State is the explicit store backing one vault instance. It is injected at
// construction; the engine holds no hidden globals.
type State struct {
	TotalShares sdkmath.Int
	TotalAssets sdkmath.Int
	IdleBalance sdkmath.Int
	Shares      map[string]sdkmath.Int
	Allowances  map[string]map[string]sdkmath.Int
	Strategies  []*StrategyRef
	LastSync    time.Time
	Paused      bool
}

func NewState() *State {
	return &State{
		TotalShares: sdkmath.ZeroInt(),
		TotalAssets: sdkmath.ZeroInt(),
		IdleBalance: sdkmath.ZeroInt(),
		Shares:      make(map[string]sdkmath.Int),
		Allowances:  make(map[string]map[string]sdkmath.Int),
	}
}

type ShareVault struct {
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

func New(cfg Config, lgr ledger.Ledger, state *State, sink types.EventSink) (*ShareVault, error) {
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
	return &ShareVault{
		cfg:    cfg,
		ledger: lgr,
		state:  state,
		sink:   sink,
		scalar: vaultmath.ShareScalar(cfg.AssetDecimals),
		now:    time.Now,
	}, nil
}

// Deposit converts amount into shares at the current exchange rate, deploys
// the amount across active strategies proportionally to their target weights
// and mints the shares to receiver. Integer rounding remainders stay idle in
// the vault. The receipt amount is the shares minted.
func (v *ShareVault) Deposit(ctx context.Context, caller string, amount sdkmath.Int, receiver string) (receipt *types.Receipt, err error) {
	const op = "deposit"
	defer v.observe(op, v.now(), &err)
	defer v.flushEvents(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state.Paused {
		return nil, types.NewStateError(op, "vault is paused")
	}
	if !amount.IsPositive() {
		return nil, types.NewValidationError(op, "amount must be positive")
	}
	if receiver == "" {
		return nil, types.NewValidationError(op, "receiver must be set")
	}

	if err := v.syncLocked(ctx); err != nil {
		return nil, err
	}

	shares := vaultmath.SharesForDeposit(amount, v.state.TotalAssets, v.state.TotalShares, v.scalar)
	if !shares.IsPositive() {
		return nil, types.NewValidationError(op, "amount too small to mint shares at current exchange rate")
	}

	if err := v.ledger.Transfer(caller, v.cfg.AccountID, amount); err != nil {
		return nil, types.NewValidationError(op, fmt.Sprintf("asset transfer from %s failed: %v", caller, err))
	}

	// Deploy proportionally to target weights. A strategy that rejects its
	// portion does not fail the deposit: the portion stays idle and remains
	// part of the vault's assets.
	deployed := sdkmath.ZeroInt()
	for _, ref := range v.strategiesByWeightLocked() {
		portion := vaultmath.BasisPoints(amount, ref.WeightBp)
		if !portion.IsPositive() {
			continue
		}
		if err := ref.Strategy.Deposit(ctx, portion); err != nil {
			log.Ctx(ctx).Warn().
				Err(err).
				Str("strategy", ref.ID).
				Str("portion", portion.String()).
				Msg("Strategy rejected deposit portion, keeping it idle")
			continue
		}
		deployed = deployed.Add(portion)
	}

	v.state.IdleBalance = v.state.IdleBalance.Add(amount.Sub(deployed))
	v.state.TotalAssets = v.state.TotalAssets.Add(amount)
	v.state.TotalShares = v.state.TotalShares.Add(shares)
	v.state.Shares[receiver] = v.sharesOfLocked(receiver).Add(shares)

	receipt = types.NewReceipt(shares)
	v.emit(ctx, types.EventSharesMinted, map[string]string{
		"tx_id":    receipt.TxID,
		"receiver": receiver,
		"shares":   shares.String(),
		"amount":   amount.String(),
	})
	return receipt, nil
}

// Withdraw burns shares owned by owner (caller must be the owner or hold an
// allowance) and pays out the matching assets to receiver. Assets are pulled
// from idle balance first, then from strategies in descending weight order.
// The receipt amount is the assets paid out.
func (v *ShareVault) Withdraw(ctx context.Context, caller string, shares sdkmath.Int, receiver, owner string) (receipt *types.Receipt, err error) {
	const op = "withdraw"
	defer v.observe(op, v.now(), &err)
	defer v.flushEvents(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state.Paused {
		return nil, types.NewStateError(op, "vault is paused")
	}
	if !shares.IsPositive() {
		return nil, types.NewValidationError(op, "shares must be positive")
	}
	if receiver == "" || owner == "" {
		return nil, types.NewValidationError(op, "receiver and owner must be set")
	}

	ownerShares := v.sharesOfLocked(owner)
	if ownerShares.LT(shares) {
		return nil, types.NewAuthorizationError(op,
			fmt.Sprintf("owner %s holds %s shares, needs %s", owner, ownerShares.String(), shares.String()))
	}
	usesAllowance := caller != owner
	if usesAllowance {
		allowance := v.allowanceLocked(owner, caller)
		if allowance.LT(shares) {
			return nil, types.NewAuthorizationError(op,
				fmt.Sprintf("allowance of %s for %s covers %s shares, needs %s",
					owner, caller, allowance.String(), shares.String()))
		}
	}

	if err := v.syncLocked(ctx); err != nil {
		return nil, err
	}

	assets := vaultmath.AssetsForShares(shares, v.state.TotalAssets, v.state.TotalShares)
	if !assets.IsPositive() {
		return nil, types.NewValidationError(op, "shares too small to redeem at current exchange rate")
	}

	if err := v.gatherLocked(ctx, assets, op); err != nil {
		return nil, err
	}

	v.state.Shares[owner] = ownerShares.Sub(shares)
	if usesAllowance {
		v.state.Allowances[owner][caller] = v.allowanceLocked(owner, caller).Sub(shares)
	}
	v.state.TotalShares = v.state.TotalShares.Sub(shares)
	v.state.TotalAssets = v.state.TotalAssets.Sub(assets)
	v.state.IdleBalance = v.state.IdleBalance.Sub(assets)

	if err := v.ledger.Transfer(v.cfg.AccountID, receiver, assets); err != nil {
		// The gather step moved funds into the vault account, so a transfer
		// failure here is a custody-layer bug.
		return nil, types.NewInvariantError(op, fmt.Sprintf("payout transfer failed: %v", err))
	}

	receipt = types.NewReceipt(assets)
	v.emit(ctx, types.EventSharesBurned, map[string]string{
		"tx_id":    receipt.TxID,
		"owner":    owner,
		"receiver": receiver,
		"shares":   shares.String(),
		"assets":   assets.String(),
	})
	return receipt, nil
}

// gatherLocked makes sure at least want assets sit idle in the vault account,
// pulling the shortfall from strategies in descending weight order. Funds
// pulled before a shortfall is detected stay idle; they remain part of
// TotalAssets, so accounting is unchanged on failure.
func (v *ShareVault) gatherLocked(ctx context.Context, want sdkmath.Int, op string) error {
	need := want.Sub(v.state.IdleBalance)
	if !need.IsPositive() {
		return nil
	}
	for _, ref := range v.strategiesByWeightLocked() {
		balance, err := ref.Strategy.Balance(ctx)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("strategy", ref.ID).Msg("Skipping strategy with failing balance report")
			continue
		}
		take := vaultmath.Min(need, balance)
		if !take.IsPositive() {
			continue
		}
		got, err := ref.Strategy.Withdraw(ctx, take)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("strategy", ref.ID).Msg("Strategy withdrawal failed, trying remaining strategies")
			continue
		}
		v.state.IdleBalance = v.state.IdleBalance.Add(got)
		need = need.Sub(got)
		if !need.IsPositive() {
			return nil
		}
	}
	return types.NewLiquidityError(op,
		fmt.Sprintf("strategies short by %s of %s requested", need.String(), want.String()))
}

// TransferShares moves shares between accounts without touching assets.
func (v *ShareVault) TransferShares(ctx context.Context, caller, receiver string, shares sdkmath.Int) (receipt *types.Receipt, err error) {
	const op = "transfer_shares"
	defer v.observe(op, v.now(), &err)
	defer v.flushEvents(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	if !shares.IsPositive() {
		return nil, types.NewValidationError(op, "shares must be positive")
	}
	if receiver == "" {
		return nil, types.NewValidationError(op, "receiver must be set")
	}
	callerShares := v.sharesOfLocked(caller)
	if callerShares.LT(shares) {
		return nil, types.NewAuthorizationError(op,
			fmt.Sprintf("caller %s holds %s shares, needs %s", caller, callerShares.String(), shares.String()))
	}

	v.state.Shares[caller] = callerShares.Sub(shares)
	v.state.Shares[receiver] = v.sharesOfLocked(receiver).Add(shares)

	receipt = types.NewReceipt(shares)
	v.emit(ctx, types.EventSharesTransferred, map[string]string{
		"tx_id":    receipt.TxID,
		"sender":   caller,
		"receiver": receiver,
		"shares":   shares.String(),
	})
	return receipt, nil
}

// Approve lets spender withdraw up to shares on behalf of owner.
func (v *ShareVault) Approve(ctx context.Context, owner, spender string, shares sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if owner == "" || spender == "" {
		return types.NewValidationError("approve", "owner and spender must be set")
	}
	if shares.IsNegative() {
		return types.NewValidationError("approve", "shares must not be negative")
	}
	if v.state.Allowances[owner] == nil {
		v.state.Allowances[owner] = make(map[string]sdkmath.Int)
	}
	v.state.Allowances[owner][spender] = shares
	return nil
}

// Sync recomputes total assets as idle balance plus the sum of every
// strategy's reported balance. Existing shares are re-priced; none are minted
// or burned. This is the compounding mechanism.
func (v *ShareVault) Sync(ctx context.Context) (err error) {
	const op = "sync"
	defer v.observe(op, v.now(), &err)
	defer v.flushEvents(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	before := v.state.TotalAssets
	if err := v.syncLocked(ctx); err != nil {
		return err
	}

	v.emit(ctx, types.EventYieldSynced, map[string]string{
		"total_assets_before": before.String(),
		"total_assets_after":  v.state.TotalAssets.String(),
	})
	return nil
}

func (v *ShareVault) syncLocked(ctx context.Context) error {
	total := v.state.IdleBalance
	for _, ref := range v.state.Strategies {
		balance, err := ref.Strategy.Balance(ctx)
		if err != nil {
			return types.NewStateError("sync",
				fmt.Sprintf("strategy %s balance report failed: %v", ref.ID, err))
		}
		total = total.Add(balance)
	}
	v.state.TotalAssets = total
	v.state.LastSync = v.now()
	return nil
}

// AddStrategy registers a new weighted strategy. The active weight total may
// never exceed 100% and the strategy count is capped by configuration.
func (v *ShareVault) AddStrategy(ctx context.Context, caller, id string, strat strategy.Strategy, weightBp uint32) (err error) {
	const op = "add_strategy"
	defer v.observe(op, v.now(), &err)
	defer v.flushEvents(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOperator(op, caller); err != nil {
		return err
	}
	if id == "" || strat == nil {
		return types.NewValidationError(op, "strategy id and implementation must be set")
	}
	if v.findStrategyLocked(id) != nil {
		return types.NewValidationError(op, fmt.Sprintf("strategy %s already registered", id))
	}
	if strat.Denom() != v.cfg.AssetDenom {
		return types.NewInvariantError(op,
			fmt.Sprintf("strategy asset %s does not match vault asset %s", strat.Denom(), v.cfg.AssetDenom))
	}
	if len(v.state.Strategies) >= v.cfg.MaxStrategies {
		return types.NewInvariantError(op,
			fmt.Sprintf("strategy count cap of %d reached", v.cfg.MaxStrategies))
	}
	if v.totalWeightLocked()+weightBp > vaultmath.MaxBasisPoints {
		return types.NewInvariantError(op,
			fmt.Sprintf("total weight %dbp would exceed %dbp",
				v.totalWeightLocked()+weightBp, vaultmath.MaxBasisPoints))
	}

	v.state.Strategies = append(v.state.Strategies, &StrategyRef{
		ID:       id,
		WeightBp: weightBp,
		Strategy: strat,
	})
	v.emit(ctx, types.EventStrategyAdded, map[string]string{
		"strategy":  id,
		"weight_bp": fmt.Sprintf("%d", weightBp),
	})
	return nil
}

// RemoveStrategy fully exits the strategy into the idle balance and drops it
// from the list. The freed weight stays unallocated until the operator
// explicitly reassigns it with UpdateAllocation; it is never silently
// redistributed.
func (v *ShareVault) RemoveStrategy(ctx context.Context, caller, id string) (err error) {
	const op = "remove_strategy"
	defer v.observe(op, v.now(), &err)
	defer v.flushEvents(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOperator(op, caller); err != nil {
		return err
	}
	ref := v.findStrategyLocked(id)
	if ref == nil {
		return types.NewValidationError(op, fmt.Sprintf("unknown strategy %s", id))
	}

	balance, err := ref.Strategy.Balance(ctx)
	if err != nil {
		return types.NewStateError(op, fmt.Sprintf("strategy %s balance report failed: %v", id, err))
	}
	if balance.IsPositive() {
		got, err := ref.Strategy.Withdraw(ctx, balance)
		if err != nil {
			return types.NewStateError(op, fmt.Sprintf("strategy %s exit failed: %v", id, err))
		}
		if got.LT(balance) {
			return types.NewLiquidityError(op,
				fmt.Sprintf("strategy %s returned %s of %s on exit", id, got.String(), balance.String()))
		}
		v.state.IdleBalance = v.state.IdleBalance.Add(got)
	}

	for i, candidate := range v.state.Strategies {
		if candidate.ID == id {
			v.state.Strategies = append(v.state.Strategies[:i], v.state.Strategies[i+1:]...)
			break
		}
	}
	v.emit(ctx, types.EventStrategyRemoved, map[string]string{
		"strategy": id,
		"exited":   balance.String(),
	})
	return nil
}

// UpdateAllocation reassigns a strategy's target weight.
func (v *ShareVault) UpdateAllocation(ctx context.Context, caller, id string, weightBp uint32) (err error) {
	const op = "update_allocation"
	defer v.observe(op, v.now(), &err)
	defer v.flushEvents(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOperator(op, caller); err != nil {
		return err
	}
	ref := v.findStrategyLocked(id)
	if ref == nil {
		return types.NewValidationError(op, fmt.Sprintf("unknown strategy %s", id))
	}
	if v.totalWeightLocked()-ref.WeightBp+weightBp > vaultmath.MaxBasisPoints {
		return types.NewInvariantError(op,
			fmt.Sprintf("total weight would exceed %dbp", vaultmath.MaxBasisPoints))
	}

	previous := ref.WeightBp
	ref.WeightBp = weightBp
	v.emit(ctx, types.EventAllocationUpdated, map[string]string{
		"strategy":           id,
		"weight_bp":          fmt.Sprintf("%d", weightBp),
		"previous_weight_bp": fmt.Sprintf("%d", previous),
	})
	return nil
}

// APY reports the weighted average of the strategies' APYs by target weight.
// Unallocated weight counts as zero yield. Spot estimate only.
func (v *ShareVault) APY(ctx context.Context) (uint32, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	weighted := uint64(0)
	for _, ref := range v.state.Strategies {
		apy, err := ref.Strategy.APY(ctx)
		if err != nil {
			return 0, types.NewStateError("apy",
				fmt.Sprintf("strategy %s apy report failed: %v", ref.ID, err))
		}
		weighted += uint64(apy) * uint64(ref.WeightBp)
	}
	return uint32(weighted / uint64(vaultmath.MaxBasisPoints)), nil
}

// Pause freezes deposits and withdrawals. EmergencyWithdraw stays available.
func (v *ShareVault) Pause(ctx context.Context, caller string) error {
	defer v.flushEvents(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOperator("pause", caller); err != nil {
		return err
	}
	v.state.Paused = true
	v.emit(ctx, types.EventPaused, nil)
	return nil
}

func (v *ShareVault) Unpause(ctx context.Context, caller string) error {
	defer v.flushEvents(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOperator("unpause", caller); err != nil {
		return err
	}
	v.state.Paused = false
	v.emit(ctx, types.EventUnpaused, nil)
	return nil
}

// EmergencyWithdraw pulls every strategy balance into the vault's idle
// balance. Strategies stay registered. Works while paused.
func (v *ShareVault) EmergencyWithdraw(ctx context.Context, caller string) (receipt *types.Receipt, err error) {
	const op = "emergency_withdraw"
	defer v.observe(op, v.now(), &err)
	defer v.flushEvents(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireOperator(op, caller); err != nil {
		return nil, err
	}

	pulled := sdkmath.ZeroInt()
	for _, ref := range v.state.Strategies {
		balance, err := ref.Strategy.Balance(ctx)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("strategy", ref.ID).Msg("Emergency withdraw: balance report failed")
			continue
		}
		if !balance.IsPositive() {
			continue
		}
		got, err := ref.Strategy.Withdraw(ctx, balance)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("strategy", ref.ID).Msg("Emergency withdraw: strategy withdrawal failed")
			continue
		}
		v.state.IdleBalance = v.state.IdleBalance.Add(got)
		pulled = pulled.Add(got)
	}
	if err := v.syncLocked(ctx); err != nil {
		return nil, err
	}

	receipt = types.NewReceipt(pulled)
	v.emit(ctx, types.EventEmergencyWithdraw, map[string]string{
		"tx_id":  receipt.TxID,
		"pulled": pulled.String(),
	})
	return receipt, nil
}

func (v *ShareVault) requireOperator(op, caller string) error {
	if caller != v.cfg.Operator {
		return types.NewAuthorizationError(op, fmt.Sprintf("caller %s is not the operator", caller))
	}
	return nil
}

func (v *ShareVault) findStrategyLocked(id string) *StrategyRef {
	for _, ref := range v.state.Strategies {
		if ref.ID == id {
			return ref
		}
	}
	return nil
}

func (v *ShareVault) totalWeightLocked() uint32 {
	total := uint32(0)
	for _, ref := range v.state.Strategies {
		total += ref.WeightBp
	}
	return total
}

// strategiesByWeightLocked returns the strategies in descending target weight
// order, stable for equal weights.
func (v *ShareVault) strategiesByWeightLocked() []*StrategyRef {
	refs := make([]*StrategyRef, len(v.state.Strategies))
	copy(refs, v.state.Strategies)
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].WeightBp > refs[j].WeightBp
	})
	return refs
}

func (v *ShareVault) pricePerFullShareLocked() sdkmath.Int {
	return vaultmath.PricePerFullShare(v.state.TotalAssets, v.state.TotalShares, v.scalar)
}

func (v *ShareVault) assetsForSharesLocked(shares sdkmath.Int) sdkmath.Int {
	if v.state.TotalShares.IsZero() {
		return vaultmath.ValueAtPrice(shares, v.pricePerFullShareLocked())
	}
	return vaultmath.AssetsForShares(shares, v.state.TotalAssets, v.state.TotalShares)
}

func (v *ShareVault) sharesOfLocked(account string) sdkmath.Int {
	if shares, ok := v.state.Shares[account]; ok {
		return shares
	}
	return sdkmath.ZeroInt()
}

func (v *ShareVault) allowanceLocked(owner, spender string) sdkmath.Int {
	if byOwner, ok := v.state.Allowances[owner]; ok {
		if allowance, ok := byOwner[spender]; ok {
			return allowance
		}
	}
	return sdkmath.ZeroInt()
}

// emit queues an event while the instance lock is held. Delivery happens in
// flushEvents after the lock is released, so a slow sink never holds up
// queries against the last-committed snapshot.
func (v *ShareVault) emit(ctx context.Context, eventType types.EventType, attributes map[string]string) {
	v.pending = append(v.pending, types.NewEvent(eventType, v.cfg.Name, attributes))
}

func (v *ShareVault) flushEvents(ctx context.Context) {
	v.mu.Lock()
	pending := v.pending
	v.pending = nil
	v.mu.Unlock()

	for _, event := range pending {
		v.sink.Emit(ctx, event)
	}
}

func (v *ShareVault) observe(op string, start time.Time, err *error) {
	metrics.RecordOperationDuration(v.cfg.Name, op, time.Since(start), err != nil && *err != nil)
}
