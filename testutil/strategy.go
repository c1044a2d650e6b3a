package testutil

import (
	"context"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/stratafi-io/yield-vault-engine/internal/ledger"
)

// FakeStrategy is a deterministic yield source for tests. It tracks its
// deployed balance as a plain number; the asset itself stays on the owning
// engine's custody account, so InjectYield credits that account to keep the
// ledger able to pay the yield out later.
type FakeStrategy struct {
	mu      sync.Mutex
	lgr     *ledger.InMemory
	custody string
	denom   string
	apy     uint32
	balance sdkmath.Int

	depositErr  error
	withdrawErr error
	apyErr      error

	// WithdrawCap limits how much a single Withdraw returns, for simulating
	// illiquid strategies. Nil means unlimited.
	withdrawCap *sdkmath.Int
}

func NewFakeStrategy(lgr *ledger.InMemory, custody, denom string, apy uint32) *FakeStrategy {
	return &FakeStrategy{
		lgr:     lgr,
		custody: custody,
		denom:   denom,
		apy:     apy,
		balance: sdkmath.ZeroInt(),
	}
}

func (f *FakeStrategy) Denom() string {
	return f.denom
}

func (f *FakeStrategy) Deposit(ctx context.Context, amount sdkmath.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.depositErr != nil {
		return f.depositErr
	}
	f.balance = f.balance.Add(amount)
	return nil
}

func (f *FakeStrategy) Withdraw(ctx context.Context, amount sdkmath.Int) (sdkmath.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.withdrawErr != nil {
		return sdkmath.ZeroInt(), f.withdrawErr
	}
	got := amount
	if got.GT(f.balance) {
		got = f.balance
	}
	if f.withdrawCap != nil && got.GT(*f.withdrawCap) {
		got = *f.withdrawCap
	}
	f.balance = f.balance.Sub(got)
	return got, nil
}

func (f *FakeStrategy) Balance(ctx context.Context) (sdkmath.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *FakeStrategy) APY(ctx context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.apyErr != nil {
		return 0, f.apyErr
	}
	return f.apy, nil
}

// InjectYield simulates external yield: the strategy's reported balance
// grows and the matching asset is credited to the custody account.
func (f *FakeStrategy) InjectYield(amount sdkmath.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lgr.Credit(f.custody, amount); err != nil {
		return err
	}
	f.balance = f.balance.Add(amount)
	return nil
}

func (f *FakeStrategy) SetAPY(apy uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apy = apy
}

func (f *FakeStrategy) FailDeposits(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depositErr = err
}

func (f *FakeStrategy) FailAPY(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apyErr = err
}

func (f *FakeStrategy) FailWithdrawals(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawErr = err
}

func (f *FakeStrategy) CapWithdrawals(cap sdkmath.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawCap = &cap
}
