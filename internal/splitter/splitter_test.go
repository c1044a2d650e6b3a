package splitter

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratafi-io/yield-vault-engine/internal/ledger"
	"github.com/stratafi-io/yield-vault-engine/internal/types"
	"github.com/stratafi-io/yield-vault-engine/internal/vault"
	"github.com/stratafi-io/yield-vault-engine/testutil"
)

const (
	vaultAccount    = "vault-main"
	splitterAccount = "splitter-main"
	operator        = "operator"
	denom           = "uusd"
)

var scalar = sdkmath.NewIntWithDecimal(1, 12)

type splitterFixture struct {
	orch   *Orchestrator
	vault  *vault.ShareVault
	ledger *ledger.InMemory
	strat  *testutil.FakeStrategy
	clock  time.Time
}

func newSplitterFixture(t *testing.T, autoCompound bool, compoundThreshold int64) *splitterFixture {
	t.Helper()

	lgr := ledger.NewInMemory()
	v, err := vault.New(vault.Config{
		Name:          "usd-vault",
		AccountID:     vaultAccount,
		Operator:      operator,
		AssetDenom:    denom,
		AssetDecimals: 6,
		MaxStrategies: 1,
	}, lgr, nil, nil)
	require.NoError(t, err)

	strat := testutil.NewFakeStrategy(lgr, vaultAccount, denom, 1500)
	require.NoError(t, v.AddStrategy(context.Background(), operator, "lending", strat, 10_000))

	orch, err := New(Config{
		Name:                 "usd-splitter",
		AccountID:            splitterAccount,
		Operator:             operator,
		MaturityHorizon:      DefaultMaturityHorizon,
		DistributionInterval: 6 * time.Hour,
		AutoCompound:         autoCompound,
		CompoundThreshold:    sdkmath.NewInt(compoundThreshold),
	}, v, lgr, nil, nil)
	require.NoError(t, err)

	f := &splitterFixture{
		orch:   orch,
		vault:  v,
		ledger: lgr,
		strat:  strat,
		clock:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	orch.now = func() time.Time { return f.clock }
	return f
}

func (f *splitterFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// depositAndSplit funds the user, deposits into the vault and splits the full
// share balance.
func (f *splitterFixture) depositAndSplit(t *testing.T, user string, amount int64) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.ledger.Credit(user, sdkmath.NewInt(amount)))
	_, err := f.vault.Deposit(ctx, user, sdkmath.NewInt(amount), user)
	require.NoError(t, err)
	_, err = f.orch.SplitYield(ctx, user, f.vault.SharesOf(user), user)
	require.NoError(t, err)
}

func TestSplitYield(t *testing.T) {
	ctx := context.Background()

	t.Run("locks shares and mints both sides", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		f.depositAndSplit(t, "alice", 1_000)

		wantShares := sdkmath.NewInt(1_000).Mul(scalar)
		info := f.orch.GetUserInfo("alice")
		require.NotNil(t, info)
		assert.Equal(t, wantShares, info.LockedShares)
		assert.Equal(t, wantShares, info.YieldClaim)
		assert.Equal(t, sdkmath.NewInt(1_000), info.Principal)
		assert.Equal(t, types.PositionSplit, info.State)
		assert.Equal(t, f.clock.Add(DefaultMaturityHorizon), info.Maturity)

		assert.True(t, f.vault.SharesOf("alice").IsZero())
		assert.Equal(t, wantShares, f.vault.SharesOf(splitterAccount))
		assert.Equal(t, wantShares, f.orch.TotalSplit())
	})

	t.Run("a live split blocks a second one", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		f.depositAndSplit(t, "alice", 1_000)

		require.NoError(t, f.ledger.Credit("alice", sdkmath.NewInt(500)))
		_, err := f.vault.Deposit(ctx, "alice", sdkmath.NewInt(500), "alice")
		require.NoError(t, err)

		_, err = f.orch.SplitYield(ctx, "alice", f.vault.SharesOf("alice"), "alice")
		assert.True(t, types.IsStateError(err))
	})

	t.Run("rejects callers without vault shares", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		_, err := f.orch.SplitYield(ctx, "nobody", sdkmath.NewInt(1).Mul(scalar), "nobody")
		assert.True(t, types.IsAuthorizationError(err))
	})
}

func TestRecombineYield(t *testing.T) {
	ctx := context.Background()

	t.Run("burns both sides proportionally and releases shares", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		f.depositAndSplit(t, "alice", 1_000)

		half := sdkmath.NewInt(500).Mul(scalar)
		receipt, err := f.orch.RecombineYield(ctx, "alice", half, "alice")
		require.NoError(t, err)
		assert.Equal(t, half, receipt.Amount)
		assert.Equal(t, half, f.vault.SharesOf("alice"))

		info := f.orch.GetUserInfo("alice")
		assert.Equal(t, sdkmath.NewInt(500), info.Principal)
		assert.Equal(t, half, info.YieldClaim)
		assert.Equal(t, types.PositionSplit, info.State)

		// burning the rest closes the position
		_, err = f.orch.RecombineYield(ctx, "alice", half, "alice")
		require.NoError(t, err)
		assert.Equal(t, types.PositionRecombined, f.orch.GetUserInfo("alice").State)
		assert.Equal(t, sdkmath.NewInt(1_000).Mul(scalar), f.vault.SharesOf("alice"))
		assert.True(t, f.orch.TotalSplit().IsZero())
	})

	t.Run("a closed position can split again", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		f.depositAndSplit(t, "alice", 1_000)

		all := sdkmath.NewInt(1_000).Mul(scalar)
		_, err := f.orch.RecombineYield(ctx, "alice", all, "alice")
		require.NoError(t, err)

		_, err = f.orch.SplitYield(ctx, "alice", all, "alice")
		assert.NoError(t, err)
	})

	t.Run("rejects without a live split or beyond the balance", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		_, err := f.orch.RecombineYield(ctx, "alice", sdkmath.NewInt(1), "alice")
		assert.True(t, types.IsStateError(err))

		f.depositAndSplit(t, "alice", 1_000)
		_, err = f.orch.RecombineYield(ctx, "alice", sdkmath.NewInt(2_000).Mul(scalar), "alice")
		assert.True(t, types.IsAuthorizationError(err))
	})

	t.Run("redeemed principal blocks recombining the freed claim", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		f.depositAndSplit(t, "alice", 1_000)

		require.NoError(t, f.ledger.Credit(operator, sdkmath.NewInt(1_000)))
		require.NoError(t, f.orch.FundReserve(ctx, operator, sdkmath.NewInt(1_000)))
		f.advance(DefaultMaturityHorizon + time.Hour)

		_, err := f.orch.Redeem(ctx, "alice", sdkmath.NewInt(999), "alice")
		require.NoError(t, err)

		// with 999 of 1,000 principal paid out of the reserve, the remaining
		// claim is no longer covered at the split ratio: neither the full
		// balance nor a thin slice of it can buy the locked shares back
		_, err = f.orch.RecombineYield(ctx, "alice", sdkmath.NewInt(1_000).Mul(scalar), "alice")
		assert.True(t, types.IsAuthorizationError(err))
		_, err = f.orch.RecombineYield(ctx, "alice", sdkmath.NewInt(1).Mul(scalar), "alice")
		assert.True(t, types.IsAuthorizationError(err))

		assert.True(t, f.vault.SharesOf("alice").IsZero())
		assert.Equal(t, sdkmath.NewInt(999), f.ledger.BalanceOf("alice"))

		// redeeming the rest of the principal is still the way out
		receipt, err := f.orch.Redeem(ctx, "alice", sdkmath.NewInt(1), "alice")
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(1), receipt.Amount)
		assert.Equal(t, types.PositionMaturedRedeemed, f.orch.GetUserInfo("alice").State)
	})
}

func TestRedeem(t *testing.T) {
	ctx := context.Background()

	t.Run("before maturity with intact backing is rejected", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		f.depositAndSplit(t, "alice", 1_000)

		_, err := f.orch.Redeem(ctx, "alice", sdkmath.NewInt(1_000), "alice")
		assert.True(t, types.IsStateError(err))
	})

	t.Run("after maturity pays from the funded reserve and closes", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		f.depositAndSplit(t, "alice", 1_000)

		require.NoError(t, f.ledger.Credit(operator, sdkmath.NewInt(1_000)))
		require.NoError(t, f.orch.FundReserve(ctx, operator, sdkmath.NewInt(1_000)))

		f.advance(DefaultMaturityHorizon + time.Hour)

		receipt, err := f.orch.Redeem(ctx, "alice", sdkmath.NewInt(1_000), "alice")
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(1_000), receipt.Amount)
		assert.Equal(t, sdkmath.NewInt(1_000), f.ledger.BalanceOf("alice"))

		info := f.orch.GetUserInfo("alice")
		assert.Equal(t, types.PositionMaturedRedeemed, info.State)
		assert.True(t, info.LockedShares.IsZero())
		assert.True(t, info.YieldClaim.IsZero())
		// the freed collateral backstops the reserve via the operator
		assert.Equal(t, sdkmath.NewInt(1_000).Mul(scalar), f.vault.SharesOf(operator))
		assert.True(t, f.orch.TotalSplit().IsZero())
	})

	t.Run("an unfunded reserve fails the redemption", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		f.depositAndSplit(t, "alice", 1_000)
		f.advance(DefaultMaturityHorizon + time.Hour)

		_, err := f.orch.Redeem(ctx, "alice", sdkmath.NewInt(1_000), "alice")
		assert.True(t, types.IsLiquidityError(err))
	})

	t.Run("a collateral shortfall opens early redemption", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		f.depositAndSplit(t, "alice", 1_000)

		// simulate a strategy loss and let the vault reprice
		_, err := f.strat.Withdraw(ctx, sdkmath.NewInt(200))
		require.NoError(t, err)
		require.NoError(t, f.vault.Sync(ctx))
		require.True(t, f.orch.NeedsLiquidationProtection("alice"))

		require.NoError(t, f.ledger.Credit(operator, sdkmath.NewInt(1_000)))
		require.NoError(t, f.orch.FundReserve(ctx, operator, sdkmath.NewInt(1_000)))

		receipt, err := f.orch.Redeem(ctx, "alice", sdkmath.NewInt(1_000), "alice")
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(1_000), receipt.Amount)
		assert.Equal(t, types.PositionProtectedRedeemed, f.orch.GetUserInfo("alice").State)
	})
}

func TestDistributeYield(t *testing.T) {
	ctx := context.Background()

	t.Run("pays holders pro-rata and rolls dust into the reserve", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		f.depositAndSplit(t, "alice", 2_000)
		f.depositAndSplit(t, "bob", 1_000)

		require.NoError(t, f.strat.InjectYield(sdkmath.NewInt(300)))

		result, err := f.orch.DistributeYield(ctx, operator)
		require.NoError(t, err)

		// 300 of yield on 3,300 of assets realizes 299 after flooring
		assert.Equal(t, sdkmath.NewInt(299), result.TotalAmount)
		assert.False(t, result.Compounded)
		assert.Len(t, result.Holders, 2)
		assert.Equal(t, sdkmath.NewInt(199), f.ledger.BalanceOf("alice"))
		assert.Equal(t, sdkmath.NewInt(99), f.ledger.BalanceOf("bob"))
		assert.Equal(t, sdkmath.NewInt(1), f.orch.BackingReserve())

		// baselines settle at the new price, so nothing is pending anymore
		assert.True(t, f.orch.PendingYield("alice").IsZero())
		assert.True(t, f.orch.PendingYield("bob").IsZero())

		// yield-claim balances survive the strip untouched
		assert.Equal(t, sdkmath.NewInt(2_000).Mul(scalar), f.orch.GetUserInfo("alice").YieldClaim)
	})

	t.Run("the time gate rejects early re-runs", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		f.depositAndSplit(t, "alice", 1_000)
		require.NoError(t, f.strat.InjectYield(sdkmath.NewInt(100)))

		_, err := f.orch.DistributeYield(ctx, operator)
		require.NoError(t, err)

		_, err = f.orch.DistributeYield(ctx, operator)
		require.True(t, types.IsStateError(err))

		f.advance(6*time.Hour + time.Minute)
		_, err = f.orch.DistributeYield(ctx, operator)
		assert.NoError(t, err)
	})

	t.Run("no accrued yield is a zero-amount result, not an error", func(t *testing.T) {
		f := newSplitterFixture(t, false, 0)
		f.depositAndSplit(t, "alice", 1_000)

		result, err := f.orch.DistributeYield(ctx, operator)
		require.NoError(t, err)
		assert.True(t, result.TotalAmount.IsZero())
		assert.True(t, f.orch.LastDistribution().IsZero())
	})
}

func TestAutoCompound(t *testing.T) {
	ctx := context.Background()
	f := newSplitterFixture(t, true, 500)
	f.depositAndSplit(t, "alice", 1_000)

	t.Run("yield below the threshold defers", func(t *testing.T) {
		require.NoError(t, f.strat.InjectYield(sdkmath.NewInt(300)))

		result, err := f.orch.DistributeYield(ctx, operator)
		require.NoError(t, err)
		assert.True(t, result.TotalAmount.IsZero())
		assert.True(t, f.orch.LastDistribution().IsZero())
	})

	t.Run("above the threshold it re-baselines without unlocking shares", func(t *testing.T) {
		require.NoError(t, f.strat.InjectYield(sdkmath.NewInt(300)))

		result, err := f.orch.DistributeYield(ctx, operator)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(600), result.TotalAmount)
		assert.True(t, result.Compounded)

		info := f.orch.GetUserInfo("alice")
		assert.Equal(t, sdkmath.NewInt(1_000).Mul(scalar), info.LockedShares)
		assert.Equal(t, sdkmath.NewInt(1_600_000), info.BaselinePrice)
		assert.True(t, f.orch.PendingYield("alice").IsZero())
		assert.Equal(t, f.clock, f.orch.LastDistribution())
	})
}

func TestSplitterPause(t *testing.T) {
	ctx := context.Background()
	f := newSplitterFixture(t, false, 0)
	f.depositAndSplit(t, "alice", 1_000)

	require.NoError(t, f.orch.Pause(ctx, operator))

	_, err := f.orch.SplitYield(ctx, "alice", sdkmath.NewInt(1).Mul(scalar), "alice")
	assert.True(t, types.IsStateError(err))
	_, err = f.orch.Redeem(ctx, "alice", sdkmath.NewInt(100), "alice")
	assert.True(t, types.IsStateError(err))
	_, err = f.orch.DistributeYield(ctx, operator)
	assert.True(t, types.IsStateError(err))

	// unwinding stays possible while paused
	_, err = f.orch.RecombineYield(ctx, "alice", sdkmath.NewInt(1_000).Mul(scalar), "alice")
	assert.NoError(t, err)

	require.NoError(t, f.orch.Unpause(ctx, operator))
	_, err = f.orch.SplitYield(ctx, "alice", f.vault.SharesOf("alice"), "alice")
	assert.NoError(t, err)
}

func TestSetDistributionInterval(t *testing.T) {
	ctx := context.Background()
	f := newSplitterFixture(t, false, 0)

	require.NoError(t, f.orch.SetDistributionInterval(ctx, operator, 12*time.Hour))
	assert.Equal(t, 12*time.Hour, f.orch.DistributionInterval())

	err := f.orch.SetDistributionInterval(ctx, operator, 30*time.Minute)
	assert.True(t, types.IsValidationError(err))
	err = f.orch.SetDistributionInterval(ctx, operator, 48*time.Hour)
	assert.True(t, types.IsValidationError(err))
	err = f.orch.SetDistributionInterval(ctx, "alice", 12*time.Hour)
	assert.True(t, types.IsAuthorizationError(err))
}

func TestSplitterConfigValidate(t *testing.T) {
	base := Config{
		Name:                 "usd-splitter",
		AccountID:            splitterAccount,
		Operator:             operator,
		MaturityHorizon:      DefaultMaturityHorizon,
		DistributionInterval: 6 * time.Hour,
		CompoundThreshold:    sdkmath.ZeroInt(),
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"missing name", func(cfg *Config) { cfg.Name = "" }},
		{"missing account", func(cfg *Config) { cfg.AccountID = "" }},
		{"missing operator", func(cfg *Config) { cfg.Operator = "" }},
		{"zero maturity horizon", func(cfg *Config) { cfg.MaturityHorizon = 0 }},
		{"interval below bound", func(cfg *Config) { cfg.DistributionInterval = 30 * time.Minute }},
		{"interval above bound", func(cfg *Config) { cfg.DistributionInterval = 48 * time.Hour }},
		{"nil compound threshold", func(cfg *Config) { cfg.CompoundThreshold = sdkmath.Int{} }},
		{"negative compound threshold", func(cfg *Config) { cfg.CompoundThreshold = sdkmath.NewInt(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
