package compounder

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

// CompoundingVault owns exactly one strategy and folds accrued yield into
// principal before any share-price computation touches it: every deposit and
// withdrawal harvests first, so the price per share is monotonically
// non-decreasing between fee-bearing withdrawals.

// Harvest incentive payout policy. The reference behavior accrues incentives
// to an operator-claimable pool; direct payment to the harvest caller is the
// alternative.
const (
	PayoutModeOperatorPool = "operator-pool"
	PayoutModeCaller       = "caller"

	// MaxWithdrawalFeeBp caps the configurable withdrawal fee at 5%.
	MaxWithdrawalFeeBp = uint32(500)
)

type Config struct {
	Name               string
	AccountID          string
	Operator           string
	AssetDenom         string
	AssetDecimals      uint8
	WithdrawalFeeBp    uint32
	HarvestIncentiveBp uint32
	PayoutMode         string
}

func (cfg *Config) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("compounder name must be set")
	}
	if cfg.AccountID == "" {
		return fmt.Errorf("compounder account id must be set")
	}
	if cfg.Operator == "" {
		return fmt.Errorf("compounder operator must be set")
	}
	if cfg.AssetDenom == "" {
		return fmt.Errorf("compounder asset denom must be set")
	}
	if cfg.WithdrawalFeeBp > MaxWithdrawalFeeBp {
		return fmt.Errorf("withdrawal fee %dbp exceeds cap of %dbp", cfg.WithdrawalFeeBp, MaxWithdrawalFeeBp)
	}
	if cfg.HarvestIncentiveBp >= vaultmath.MaxBasisPoints {
		return fmt.Errorf("harvest incentive %dbp must be below %dbp", cfg.HarvestIncentiveBp, vaultmath.MaxBasisPoints)
	}
	if cfg.PayoutMode != PayoutModeOperatorPool && cfg.PayoutMode != PayoutModeCaller {
		return fmt.Errorf("payout mode must be %q or %q, got %q", PayoutModeOperatorPool, PayoutModeCaller, cfg.PayoutMode)
	}
	return nil
}

// State is the explicit store backing one compounder instance.
type State struct {
	TotalShares sdkmath.Int
	Shares      map[string]sdkmath.Int

	// AccountedBalance is the last harvested balance tracked at the
	// strategy; the delta against the strategy's live balance is the
	// pending yield.
	AccountedBalance sdkmath.Int

	// CashReserve is asset held directly in the vault account: retained
	// withdrawal fees, which accrue to remaining shareholders.
	CashReserve sdkmath.Int

	// RewardPool holds claimable harvest incentives per beneficiary, backed
	// by RewardReserve in the vault account. Excluded from share pricing.
	RewardPool    map[string]sdkmath.Int
	RewardReserve sdkmath.Int

	TotalYieldHarvested sdkmath.Int
	LastHarvest         time.Time
}

func NewState() *State {
	return &State{
		TotalShares:         sdkmath.ZeroInt(),
		Shares:              make(map[string]sdkmath.Int),
		AccountedBalance:    sdkmath.ZeroInt(),
		CashReserve:         sdkmath.ZeroInt(),
		RewardPool:          make(map[string]sdkmath.Int),
		RewardReserve:       sdkmath.ZeroInt(),
		TotalYieldHarvested: sdkmath.ZeroInt(),
	}
}

type CompoundingVault struct {
	mu     sync.RWMutex
	cfg    Config
	ledger ledger.Ledger
	strat  strategy.Strategy
	state  *State
	sink   types.EventSink
	scalar sdkmath.Int
	now    func() time.Time

	// pending collects events queued under the lock; flushEvents delivers
	// them once the lock is released.
	pending []types.Event
}

func New(cfg Config, lgr ledger.Ledger, strat strategy.Strategy, state *State, sink types.EventSink) (*CompoundingVault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lgr == nil {
		return nil, fmt.Errorf("ledger must be set")
	}
	if strat == nil {
		return nil, fmt.Errorf("strategy must be set")
	}
	if strat.Denom() != cfg.AssetDenom {
		return nil, fmt.Errorf("strategy asset %s does not match vault asset %s", strat.Denom(), cfg.AssetDenom)
	}
	if state == nil {
		state = NewState()
	}
	if sink == nil {
		sink = types.NoopSink{}
	}
	return &CompoundingVault{
		cfg:    cfg,
		ledger: lgr,
		strat:  strat,
		state:  state,
		sink:   sink,
		scalar: vaultmath.ShareScalar(cfg.AssetDecimals),
		now:    time.Now,
	}, nil
}

// Deposit harvests pending yield, mints shares at the post-harvest price and
// deploys the full amount into the strategy. The receipt amount is the
// shares minted.
func (c *CompoundingVault) Deposit(ctx context.Context, caller string, amount sdkmath.Int) (receipt *types.Receipt, err error) {
	const op = "deposit"
	defer c.observe(op, c.now(), &err)
	defer c.flushEvents(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !amount.IsPositive() {
		return nil, types.NewValidationError(op, "amount must be positive")
	}
	if caller == "" {
		return nil, types.NewValidationError(op, "caller must be set")
	}

	if err := c.harvestLocked(ctx, caller); err != nil {
		return nil, err
	}

	shares := vaultmath.SharesForDeposit(amount, c.totalAssetsLocked(), c.state.TotalShares, c.scalar)
	if !shares.IsPositive() {
		return nil, types.NewValidationError(op, "amount too small to mint shares at current exchange rate")
	}

	if err := c.ledger.Transfer(caller, c.cfg.AccountID, amount); err != nil {
		return nil, types.NewValidationError(op, fmt.Sprintf("asset transfer from %s failed: %v", caller, err))
	}
	if err := c.strat.Deposit(ctx, amount); err != nil {
		// single strategy, nothing to fall back to: undo the pull
		if undoErr := c.ledger.Transfer(c.cfg.AccountID, caller, amount); undoErr != nil {
			return nil, types.NewInvariantError(op, fmt.Sprintf("refund after failed deploy failed: %v", undoErr))
		}
		return nil, types.NewStateError(op, fmt.Sprintf("strategy rejected deposit: %v", err))
	}

	c.state.AccountedBalance = c.state.AccountedBalance.Add(amount)
	c.state.TotalShares = c.state.TotalShares.Add(shares)
	c.state.Shares[caller] = c.sharesOfLocked(caller).Add(shares)

	receipt = types.NewReceipt(shares)
	c.emit(ctx, types.EventSharesMinted, map[string]string{
		"tx_id":    receipt.TxID,
		"receiver": caller,
		"shares":   shares.String(),
		"amount":   amount.String(),
	})
	return receipt, nil
}

// Withdraw harvests pending yield, burns shares at the post-harvest price,
// deducts the configured withdrawal fee and pays out the net assets. The fee
// stays in the vault and accrues to the remaining shareholders. The receipt
// amount is the net assets paid out.
func (c *CompoundingVault) Withdraw(ctx context.Context, caller string, shares sdkmath.Int) (receipt *types.Receipt, err error) {
	const op = "withdraw"
	defer c.observe(op, c.now(), &err)
	defer c.flushEvents(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !shares.IsPositive() {
		return nil, types.NewValidationError(op, "shares must be positive")
	}
	ownerShares := c.sharesOfLocked(caller)
	if ownerShares.LT(shares) {
		return nil, types.NewAuthorizationError(op,
			fmt.Sprintf("caller %s holds %s shares, needs %s", caller, ownerShares.String(), shares.String()))
	}

	if err := c.harvestLocked(ctx, caller); err != nil {
		return nil, err
	}

	assets := vaultmath.AssetsForShares(shares, c.totalAssetsLocked(), c.state.TotalShares)
	if !assets.IsPositive() {
		return nil, types.NewValidationError(op, "shares too small to redeem at current exchange rate")
	}
	fee := vaultmath.BasisPoints(assets, c.cfg.WithdrawalFeeBp)
	net := assets.Sub(fee)

	// Cash already in the vault account covers part of the payout, the rest
	// is realized from the strategy.
	needFromStrategy := assets.Sub(vaultmath.Min(assets, c.state.CashReserve))
	if needFromStrategy.IsPositive() {
		got, err := c.strat.Withdraw(ctx, needFromStrategy)
		if err != nil {
			return nil, types.NewStateError(op, fmt.Sprintf("strategy withdrawal failed: %v", err))
		}
		c.state.AccountedBalance = c.state.AccountedBalance.Sub(got)
		c.state.CashReserve = c.state.CashReserve.Add(got)
		if got.LT(needFromStrategy) {
			return nil, types.NewLiquidityError(op,
				fmt.Sprintf("strategy returned %s of %s requested", got.String(), needFromStrategy.String()))
		}
	}

	c.state.Shares[caller] = ownerShares.Sub(shares)
	c.state.TotalShares = c.state.TotalShares.Sub(shares)
	c.state.CashReserve = c.state.CashReserve.Sub(net)

	if err := c.ledger.Transfer(c.cfg.AccountID, caller, net); err != nil {
		return nil, types.NewInvariantError(op, fmt.Sprintf("payout transfer failed: %v", err))
	}

	receipt = types.NewReceipt(net)
	c.emit(ctx, types.EventSharesBurned, map[string]string{
		"tx_id":  receipt.TxID,
		"owner":  caller,
		"shares": shares.String(),
		"assets": net.String(),
		"fee":    fee.String(),
	})
	return receipt, nil
}

// Harvest realizes the yield accrued since the last harvest and folds it
// into the accounted balance. Permissionless: anyone may trigger it. A slice
// of the pending yield is reserved as the harvest incentive and, depending
// on configuration, either paid to the caller immediately or accrued to the
// operator-claimable pool. The receipt amount is the gross yield harvested.
func (c *CompoundingVault) Harvest(ctx context.Context, caller string) (receipt *types.Receipt, err error) {
	const op = "harvest"
	defer c.observe(op, c.now(), &err)
	defer c.flushEvents(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.state.TotalYieldHarvested
	if err := c.harvestLocked(ctx, caller); err != nil {
		return nil, err
	}
	return types.NewReceipt(c.state.TotalYieldHarvested.Sub(before)), nil
}

func (c *CompoundingVault) harvestLocked(ctx context.Context, beneficiary string) error {
	balance, err := c.strat.Balance(ctx)
	if err != nil {
		return types.NewStateError("harvest", fmt.Sprintf("strategy balance report failed: %v", err))
	}
	pending := balance.Sub(c.state.AccountedBalance)
	if !pending.IsPositive() {
		return nil
	}

	incentive := vaultmath.BasisPoints(pending, c.cfg.HarvestIncentiveBp)
	if incentive.IsPositive() {
		got, err := c.strat.Withdraw(ctx, incentive)
		if err != nil {
			return types.NewStateError("harvest", fmt.Sprintf("incentive withdrawal failed: %v", err))
		}
		incentive = got
		switch c.cfg.PayoutMode {
		case PayoutModeCaller:
			if err := c.ledger.Transfer(c.cfg.AccountID, beneficiary, incentive); err != nil {
				return types.NewInvariantError("harvest", fmt.Sprintf("incentive payout failed: %v", err))
			}
		default:
			pool := c.cfg.Operator
			c.state.RewardPool[pool] = c.rewardOfLocked(pool).Add(incentive)
			c.state.RewardReserve = c.state.RewardReserve.Add(incentive)
		}
	}

	c.state.AccountedBalance = balance.Sub(incentive)
	c.state.TotalYieldHarvested = c.state.TotalYieldHarvested.Add(pending)
	c.state.LastHarvest = c.now()

	metrics.AddHarvestedYield(c.cfg.Name, float64(pending.Int64()))
	c.emit(ctx, types.EventYieldHarvested, map[string]string{
		"pending":     pending.String(),
		"incentive":   incentive.String(),
		"beneficiary": beneficiary,
	})
	return nil
}

// ClaimHarvestRewards pays out the caller's accrued harvest incentives.
func (c *CompoundingVault) ClaimHarvestRewards(ctx context.Context, caller string) (receipt *types.Receipt, err error) {
	const op = "claim_harvest_rewards"
	defer c.observe(op, c.now(), &err)
	defer c.flushEvents(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	amount := c.rewardOfLocked(caller)
	if !amount.IsPositive() {
		return nil, types.NewStateError(op, "nothing to claim")
	}

	c.state.RewardPool[caller] = sdkmath.ZeroInt()
	c.state.RewardReserve = c.state.RewardReserve.Sub(amount)
	if err := c.ledger.Transfer(c.cfg.AccountID, caller, amount); err != nil {
		return nil, types.NewInvariantError(op, fmt.Sprintf("reward payout failed: %v", err))
	}

	receipt = types.NewReceipt(amount)
	c.emit(ctx, types.EventHarvestRewardsClaimed, map[string]string{
		"tx_id":   receipt.TxID,
		"account": caller,
		"amount":  amount.String(),
	})
	return receipt, nil
}

// SetStrategy migrates the full balance from the current strategy into a new
// one. The new strategy must hold the same asset.
func (c *CompoundingVault) SetStrategy(ctx context.Context, caller string, newStrat strategy.Strategy) (err error) {
	const op = "set_strategy"
	defer c.observe(op, c.now(), &err)
	defer c.flushEvents(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.cfg.Operator {
		return types.NewAuthorizationError(op, fmt.Sprintf("caller %s is not the operator", caller))
	}
	if newStrat == nil {
		return types.NewValidationError(op, "strategy must be set")
	}
	if newStrat.Denom() != c.cfg.AssetDenom {
		return types.NewInvariantError(op,
			fmt.Sprintf("strategy asset %s does not match vault asset %s", newStrat.Denom(), c.cfg.AssetDenom))
	}

	// Realize pending yield with the old strategy before moving balances.
	if err := c.harvestLocked(ctx, caller); err != nil {
		return err
	}

	balance, err := c.strat.Balance(ctx)
	if err != nil {
		return types.NewStateError(op, fmt.Sprintf("old strategy balance report failed: %v", err))
	}
	migrated := sdkmath.ZeroInt()
	if balance.IsPositive() {
		got, err := c.strat.Withdraw(ctx, balance)
		if err != nil {
			return types.NewStateError(op, fmt.Sprintf("old strategy exit failed: %v", err))
		}
		if got.LT(balance) {
			return types.NewLiquidityError(op,
				fmt.Sprintf("old strategy returned %s of %s on exit", got.String(), balance.String()))
		}
		if err := newStrat.Deposit(ctx, got); err != nil {
			return types.NewStateError(op, fmt.Sprintf("new strategy rejected migrated balance: %v", err))
		}
		migrated = got
	}

	c.strat = newStrat
	c.state.AccountedBalance = migrated
	c.emit(ctx, types.EventStrategySwapped, map[string]string{
		"migrated": migrated.String(),
	})

	log.Ctx(ctx).Info().
		Str("component", c.cfg.Name).
		Str("migrated", migrated.String()).
		Msg("Strategy swapped")
	return nil
}

func (c *CompoundingVault) totalAssetsLocked() sdkmath.Int {
	return c.state.AccountedBalance.Add(c.state.CashReserve)
}

func (c *CompoundingVault) sharesOfLocked(account string) sdkmath.Int {
	if shares, ok := c.state.Shares[account]; ok {
		return shares
	}
	return sdkmath.ZeroInt()
}

func (c *CompoundingVault) rewardOfLocked(account string) sdkmath.Int {
	if reward, ok := c.state.RewardPool[account]; ok {
		return reward
	}
	return sdkmath.ZeroInt()
}

// emit queues an event while the instance lock is held. Delivery happens in
// flushEvents after the lock is released, so a slow sink never holds up
// queries against the last-committed snapshot.
func (c *CompoundingVault) emit(ctx context.Context, eventType types.EventType, attributes map[string]string) {
	c.pending = append(c.pending, types.NewEvent(eventType, c.cfg.Name, attributes))
}

func (c *CompoundingVault) flushEvents(ctx context.Context) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, event := range pending {
		c.sink.Emit(ctx, event)
	}
}

func (c *CompoundingVault) observe(op string, start time.Time, err *error) {
	metrics.RecordOperationDuration(c.cfg.Name, op, time.Since(start), err != nil && *err != nil)
}
