package splitter

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/stratafi-io/yield-vault-engine/internal/ledger"
	"github.com/stratafi-io/yield-vault-engine/internal/observability/metrics"
	"github.com/stratafi-io/yield-vault-engine/internal/types"
	"github.com/stratafi-io/yield-vault-engine/internal/vault"
	"github.com/stratafi-io/yield-vault-engine/internal/vaultmath"
)

// Orchestrator splits ShareVault shares into a yield-claim token and a
// principal token. The yield-claim side keeps tracking vault yield and is
// paid through periodic, time-gated distributions; the principal side is
// redeemable at maturity from a pre-funded backing reserve, or earlier when
// the backing collateral has dropped below the committed principal
// (liquidation protection).
//
// Underlying custody: locked vault shares sit on the orchestrator's vault
// account, asset payouts flow through its ledger account.

const (
	// Distribution interval bounds from the data model: one hour to one day.
	MinDistributionInterval = time.Hour
	MaxDistributionInterval = 24 * time.Hour

	// DefaultMaturityHorizon is the fixed 365-day principal maturity clock.
	DefaultMaturityHorizon = 365 * 24 * time.Hour
)

type Config struct {
	Name                 string
	AccountID            string
	Operator             string
	MaturityHorizon      time.Duration
	DistributionInterval time.Duration
	AutoCompound         bool

	// CompoundThreshold defers an auto-compounding distribution whose total
	// yield is below this many asset units to the next cycle.
	CompoundThreshold sdkmath.Int
}

func (cfg *Config) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("splitter name must be set")
	}
	if cfg.AccountID == "" {
		return fmt.Errorf("splitter account id must be set")
	}
	if cfg.Operator == "" {
		return fmt.Errorf("splitter operator must be set")
	}
	if cfg.MaturityHorizon <= 0 {
		return fmt.Errorf("maturity horizon must be positive")
	}
	if cfg.DistributionInterval < MinDistributionInterval || cfg.DistributionInterval > MaxDistributionInterval {
		return fmt.Errorf("distribution interval %s outside [%s, %s]",
			cfg.DistributionInterval, MinDistributionInterval, MaxDistributionInterval)
	}
	if cfg.CompoundThreshold.IsNil() || cfg.CompoundThreshold.IsNegative() {
		return fmt.Errorf("compound threshold must be zero or positive")
	}
	return nil
}

// Position is one user's split. YieldClaim starts 1:1 with the locked
// shares, Principal is fixed at the asset value observed at split time.
// BaselinePrice is the share price the last distribution settled at; the
// delta against the current price is the position's pending yield.
// YieldClaimAtSplit and PrincipalAtSplit never change after the split and
// anchor the ratio every recombination settles at.
type Position struct {
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
}

// State is the explicit store backing one orchestrator instance.
type State struct {
	Positions            map[string]*Position
	TotalSplit           sdkmath.Int
	BackingReserve       sdkmath.Int
	LastDistribution     time.Time
	DistributionInterval time.Duration
	Paused               bool
}

func NewState(distributionInterval time.Duration) *State {
	return &State{
		Positions:            make(map[string]*Position),
		TotalSplit:           sdkmath.ZeroInt(),
		BackingReserve:       sdkmath.ZeroInt(),
		DistributionInterval: distributionInterval,
	}
}

type Orchestrator struct {
	mu     sync.RWMutex
	cfg    Config
	vault  *vault.ShareVault
	ledger ledger.Ledger
	state  *State
	sink   types.EventSink
	now    func() time.Time

	// pending collects events queued under the lock; flushEvents delivers
	// them once the lock is released.
	pending []types.Event
}

func New(cfg Config, v *vault.ShareVault, lgr ledger.Ledger, state *State, sink types.EventSink) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("share vault must be set")
	}
	if lgr == nil {
		return nil, fmt.Errorf("ledger must be set")
	}
	if state == nil {
		state = NewState(cfg.DistributionInterval)
	}
	if sink == nil {
		sink = types.NoopSink{}
	}
	return &Orchestrator{
		cfg:    cfg,
		vault:  v,
		ledger: lgr,
		state:  state,
		sink:   sink,
		now:    time.Now,
	}, nil
}

// SplitYield locks the caller's vault shares and mints the two sides of the
// split to receiver: yield-claim tokens 1:1 with the locked shares and
// principal tokens equal to the shares' current asset value. The first split
// of a position starts its 365-day maturity clock. A receiver with a live
// split must recombine or redeem before splitting again. The receipt amount
// is the yield-claim tokens minted.
func (o *Orchestrator) SplitYield(ctx context.Context, caller string, vaultShares sdkmath.Int, receiver string) (receipt *types.Receipt, err error) {
	const op = "split_yield"
	defer o.observe(op, o.now(), &err)
	defer o.flushEvents(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Paused {
		return nil, types.NewStateError(op, "orchestrator is paused")
	}
	if !vaultShares.IsPositive() {
		return nil, types.NewValidationError(op, "shares must be positive")
	}
	if receiver == "" {
		return nil, types.NewValidationError(op, "receiver must be set")
	}
	if existing := o.state.Positions[receiver]; existing != nil && !existing.State.Terminal() {
		return nil, types.NewStateError(op,
			fmt.Sprintf("receiver %s already holds a live split, recombine or redeem first", receiver))
	}

	// Commit the inner vault mutation first, then observe its price.
	if err := o.vault.Sync(ctx); err != nil {
		return nil, err
	}
	price := o.vault.PricePerFullShare()
	principal := vaultmath.ValueAtPrice(vaultShares, price)
	if !principal.IsPositive() {
		return nil, types.NewValidationError(op, "shares too small to establish a principal value")
	}

	if _, err := o.vault.TransferShares(ctx, caller, o.cfg.AccountID, vaultShares); err != nil {
		return nil, err
	}

	now := o.now()
	o.state.Positions[receiver] = &Position{
		Owner:             receiver,
		LockedShares:      vaultShares,
		YieldClaim:        vaultShares,
		YieldClaimAtSplit: vaultShares,
		Principal:         principal,
		PrincipalAtSplit:  principal,
		BaselinePrice:     price,
		SplitAt:           now,
		Maturity:          now.Add(o.cfg.MaturityHorizon),
		State:             types.PositionSplit,
	}
	o.state.TotalSplit = o.state.TotalSplit.Add(vaultShares)

	receipt = types.NewReceipt(vaultShares)
	o.emit(ctx, types.EventPositionSplit, map[string]string{
		"tx_id":     receipt.TxID,
		"owner":     receiver,
		"shares":    vaultShares.String(),
		"principal": principal.String(),
		"maturity":  now.Add(o.cfg.MaturityHorizon).UTC().Format(time.RFC3339),
	})
	return receipt, nil
}

// RecombineYield burns a yield-claim amount together with the proportional
// principal amount and returns the matching originally locked shares to
// receiver. The share amount comes from the position's own bookkeeping, not
// from the current price. The receipt amount is the shares returned.
func (o *Orchestrator) RecombineYield(ctx context.Context, caller string, yieldClaimAmount sdkmath.Int, receiver string) (receipt *types.Receipt, err error) {
	const op = "recombine_yield"
	defer o.observe(op, o.now(), &err)
	defer o.flushEvents(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if !yieldClaimAmount.IsPositive() {
		return nil, types.NewValidationError(op, "yield-claim amount must be positive")
	}
	if receiver == "" {
		return nil, types.NewValidationError(op, "receiver must be set")
	}
	pos := o.state.Positions[caller]
	if pos == nil || pos.State != types.PositionSplit {
		return nil, types.NewStateError(op, fmt.Sprintf("no live split for %s", caller))
	}
	if pos.YieldClaim.LT(yieldClaimAmount) {
		return nil, types.NewAuthorizationError(op,
			fmt.Sprintf("yield-claim balance %s does not cover %s", pos.YieldClaim.String(), yieldClaimAmount.String()))
	}
	// The burn settles at the split-time ratio: the position must hold
	// principal covering its whole remaining claim at that ratio, so
	// principal already redeemed against the reserve cannot be re-covered
	// by the leftover yield-claim balance.
	principalAtRatio := vaultmath.ProRata(pos.PrincipalAtSplit, pos.YieldClaim, pos.YieldClaimAtSplit)
	if pos.Principal.LT(principalAtRatio) {
		return nil, types.NewAuthorizationError(op,
			fmt.Sprintf("principal balance %s does not cover the %s required at the split ratio",
				pos.Principal.String(), principalAtRatio.String()))
	}
	remainingClaim := pos.YieldClaim.Sub(yieldClaimAmount)
	requiredPrincipal := principalAtRatio.Sub(
		vaultmath.ProRata(pos.PrincipalAtSplit, remainingClaim, pos.YieldClaimAtSplit))

	sharesBack := vaultmath.ProRata(pos.LockedShares, yieldClaimAmount, pos.YieldClaim)
	if !sharesBack.IsPositive() {
		return nil, types.NewValidationError(op, "amount too small to release shares")
	}

	pos.YieldClaim = pos.YieldClaim.Sub(yieldClaimAmount)
	pos.Principal = pos.Principal.Sub(requiredPrincipal)
	pos.LockedShares = pos.LockedShares.Sub(sharesBack)
	o.state.TotalSplit = o.state.TotalSplit.Sub(sharesBack)
	if pos.YieldClaim.IsZero() {
		pos.State = types.PositionRecombined
	}

	if _, err := o.vault.TransferShares(ctx, o.cfg.AccountID, receiver, sharesBack); err != nil {
		return nil, types.NewInvariantError(op, fmt.Sprintf("locked share release failed: %v", err))
	}

	receipt = types.NewReceipt(sharesBack)
	o.emit(ctx, types.EventPositionRecombined, map[string]string{
		"tx_id":            receipt.TxID,
		"owner":            caller,
		"yield_claim":      yieldClaimAmount.String(),
		"principal_burned": requiredPrincipal.String(),
		"shares_returned":  sharesBack.String(),
	})
	return receipt, nil
}

// Redeem pays out principal tokens from the pre-funded backing reserve.
// Before maturity it succeeds only while the position needs liquidation
// protection; after maturity it always succeeds. Fully redeemed positions
// close, and their remaining locked shares revert to the operator as the
// reserve's backstop. The receipt amount is the assets paid out.
func (o *Orchestrator) Redeem(ctx context.Context, caller string, amount sdkmath.Int, receiver string) (receipt *types.Receipt, err error) {
	const op = "redeem"
	defer o.observe(op, o.now(), &err)
	defer o.flushEvents(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Paused {
		return nil, types.NewStateError(op, "orchestrator is paused")
	}
	if !amount.IsPositive() {
		return nil, types.NewValidationError(op, "amount must be positive")
	}
	if receiver == "" {
		return nil, types.NewValidationError(op, "receiver must be set")
	}
	pos := o.state.Positions[caller]
	if pos == nil || pos.State != types.PositionSplit {
		return nil, types.NewStateError(op, fmt.Sprintf("no live split for %s", caller))
	}
	if pos.Principal.LT(amount) {
		return nil, types.NewAuthorizationError(op,
			fmt.Sprintf("principal balance %s does not cover %s", pos.Principal.String(), amount.String()))
	}

	now := o.now()
	matured := !now.Before(pos.Maturity)
	if !matured && !o.needsProtectionLocked(pos) {
		return nil, types.NewStateError(op, "position not yet mature and principal backing is intact")
	}
	if o.state.BackingReserve.LT(amount) {
		return nil, types.NewLiquidityError(op,
			fmt.Sprintf("backing reserve holds %s, needs %s", o.state.BackingReserve.String(), amount.String()))
	}

	o.state.BackingReserve = o.state.BackingReserve.Sub(amount)
	pos.Principal = pos.Principal.Sub(amount)
	if err := o.ledger.Transfer(o.cfg.AccountID, receiver, amount); err != nil {
		return nil, types.NewInvariantError(op, fmt.Sprintf("reserve payout failed: %v", err))
	}

	if pos.Principal.IsZero() {
		// Position closes: the yield-claim side dies with it and the locked
		// shares back the reserve via the operator.
		if pos.LockedShares.IsPositive() {
			if _, err := o.vault.TransferShares(ctx, o.cfg.AccountID, o.cfg.Operator, pos.LockedShares); err != nil {
				return nil, types.NewInvariantError(op, fmt.Sprintf("backstop share transfer failed: %v", err))
			}
			o.state.TotalSplit = o.state.TotalSplit.Sub(pos.LockedShares)
			pos.LockedShares = sdkmath.ZeroInt()
		}
		pos.YieldClaim = sdkmath.ZeroInt()
		if matured {
			pos.State = types.PositionMaturedRedeemed
		} else {
			pos.State = types.PositionProtectedRedeemed
		}
	}

	receipt = types.NewReceipt(amount)
	o.emit(ctx, types.EventPrincipalRedeemed, map[string]string{
		"tx_id":   receipt.TxID,
		"owner":   caller,
		"amount":  amount.String(),
		"matured": fmt.Sprintf("%t", matured),
		"state":   pos.State.String(),
	})
	return receipt, nil
}

// FundReserve moves assets from the operator into the principal backing
// reserve.
func (o *Orchestrator) FundReserve(ctx context.Context, caller string, amount sdkmath.Int) (err error) {
	const op = "fund_reserve"
	defer o.observe(op, o.now(), &err)
	defer o.flushEvents(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireOperator(op, caller); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return types.NewValidationError(op, "amount must be positive")
	}
	if err := o.ledger.Transfer(caller, o.cfg.AccountID, amount); err != nil {
		return types.NewValidationError(op, fmt.Sprintf("reserve funding transfer failed: %v", err))
	}
	o.state.BackingReserve = o.state.BackingReserve.Add(amount)

	o.emit(ctx, types.EventReserveFunded, map[string]string{
		"amount":  amount.String(),
		"reserve": o.state.BackingReserve.String(),
	})
	return nil
}

// SetDistributionInterval adjusts the time gate within the allowed bounds.
func (o *Orchestrator) SetDistributionInterval(ctx context.Context, caller string, interval time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireOperator("set_distribution_interval", caller); err != nil {
		return err
	}
	if interval < MinDistributionInterval || interval > MaxDistributionInterval {
		return types.NewValidationError("set_distribution_interval",
			fmt.Sprintf("interval %s outside [%s, %s]", interval, MinDistributionInterval, MaxDistributionInterval))
	}
	o.state.DistributionInterval = interval
	return nil
}

// Pause freezes splitting, distribution and principal redemption.
// Recombination stays open so users can always unwind.
func (o *Orchestrator) Pause(ctx context.Context, caller string) error {
	defer o.flushEvents(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireOperator("pause", caller); err != nil {
		return err
	}
	o.state.Paused = true
	o.emit(ctx, types.EventPaused, nil)
	return nil
}

func (o *Orchestrator) Unpause(ctx context.Context, caller string) error {
	defer o.flushEvents(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireOperator("unpause", caller); err != nil {
		return err
	}
	o.state.Paused = false
	o.emit(ctx, types.EventUnpaused, nil)
	return nil
}

// EmergencyWithdraw moves every locked vault share back to the operator.
// Position bookkeeping is left in place for the operational layer to settle.
func (o *Orchestrator) EmergencyWithdraw(ctx context.Context, caller string) (receipt *types.Receipt, err error) {
	const op = "emergency_withdraw"
	defer o.observe(op, o.now(), &err)
	defer o.flushEvents(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.requireOperator(op, caller); err != nil {
		return nil, err
	}
	locked := o.vault.SharesOf(o.cfg.AccountID)
	if locked.IsPositive() {
		if _, err := o.vault.TransferShares(ctx, o.cfg.AccountID, o.cfg.Operator, locked); err != nil {
			return nil, types.NewInvariantError(op, fmt.Sprintf("share evacuation failed: %v", err))
		}
	}

	receipt = types.NewReceipt(locked)
	o.emit(ctx, types.EventEmergencyWithdraw, map[string]string{
		"tx_id":  receipt.TxID,
		"shares": locked.String(),
	})
	return receipt, nil
}

func (o *Orchestrator) requireOperator(op, caller string) error {
	if caller != o.cfg.Operator {
		return types.NewAuthorizationError(op, fmt.Sprintf("caller %s is not the operator", caller))
	}
	return nil
}

// needsProtectionLocked reports whether the position's backing collateral
// has dropped below its committed principal.
func (o *Orchestrator) needsProtectionLocked(pos *Position) bool {
	backing := vaultmath.ValueAtPrice(pos.LockedShares, o.vault.PricePerFullShare())
	return backing.LT(pos.Principal)
}

// emit queues an event while the instance lock is held. Delivery happens in
// flushEvents after the lock is released, so a slow sink never holds up
// queries against the last-committed snapshot.
func (o *Orchestrator) emit(ctx context.Context, eventType types.EventType, attributes map[string]string) {
	o.pending = append(o.pending, types.NewEvent(eventType, o.cfg.Name, attributes))
}

func (o *Orchestrator) flushEvents(ctx context.Context) {
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	for _, event := range pending {
		o.sink.Emit(ctx, event)
	}
}

func (o *Orchestrator) observe(op string, start time.Time, err *error) {
	metrics.RecordOperationDuration(o.cfg.Name, op, time.Since(start), err != nil && *err != nil)
}
