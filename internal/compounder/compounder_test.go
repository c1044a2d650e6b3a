package compounder

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratafi-io/yield-vault-engine/internal/ledger"
	"github.com/stratafi-io/yield-vault-engine/internal/types"
	"github.com/stratafi-io/yield-vault-engine/testutil"
)

const (
	compAccount = "compounder-main"
	operator    = "operator"
	denom       = "uusd"
)

var scalar = sdkmath.NewIntWithDecimal(1, 12)

type compFixture struct {
	comp   *CompoundingVault
	ledger *ledger.InMemory
	strat  *testutil.FakeStrategy
}

func newCompFixture(t *testing.T, feeBp, incentiveBp uint32, payoutMode string) *compFixture {
	t.Helper()

	lgr := ledger.NewInMemory()
	require.NoError(t, lgr.Credit("alice", sdkmath.NewInt(100_000)))
	require.NoError(t, lgr.Credit("bob", sdkmath.NewInt(100_000)))

	strat := testutil.NewFakeStrategy(lgr, compAccount, denom, 1500)
	comp, err := New(Config{
		Name:               "usd-compounder",
		AccountID:          compAccount,
		Operator:           operator,
		AssetDenom:         denom,
		AssetDecimals:      6,
		WithdrawalFeeBp:    feeBp,
		HarvestIncentiveBp: incentiveBp,
		PayoutMode:         payoutMode,
	}, lgr, strat, nil, nil)
	require.NoError(t, err)

	return &compFixture{comp: comp, ledger: lgr, strat: strat}
}

func TestCompounderDeposit(t *testing.T) {
	ctx := context.Background()
	f := newCompFixture(t, 0, 0, PayoutModeOperatorPool)

	receipt, err := f.comp.Deposit(ctx, "alice", sdkmath.NewInt(10_000))
	require.NoError(t, err)

	wantShares := sdkmath.NewInt(10_000).Mul(scalar)
	assert.Equal(t, wantShares, receipt.Amount)
	assert.Equal(t, wantShares, f.comp.SharesOf("alice"))
	assert.Equal(t, sdkmath.NewInt(10_000), f.comp.TotalAssets())
	assert.Equal(t, sdkmath.NewInt(1_000_000), f.comp.PricePerFullShare())

	_, err = f.comp.Deposit(ctx, "alice", sdkmath.ZeroInt())
	assert.True(t, types.IsValidationError(err))
}

func TestHarvestFoldsYieldIntoPrice(t *testing.T) {
	ctx := context.Background()
	f := newCompFixture(t, 0, 0, PayoutModeOperatorPool)

	_, err := f.comp.Deposit(ctx, "alice", sdkmath.NewInt(10_000))
	require.NoError(t, err)

	require.NoError(t, f.strat.InjectYield(sdkmath.NewInt(1_000)))

	receipt, err := f.comp.Harvest(ctx, "keeper")
	require.NoError(t, err)

	assert.Equal(t, sdkmath.NewInt(1_000), receipt.Amount)
	assert.Equal(t, sdkmath.NewInt(11_000), f.comp.TotalAssets())
	assert.Equal(t, sdkmath.NewInt(1_100_000), f.comp.PricePerFullShare())
	assert.Equal(t, sdkmath.NewInt(1_000), f.comp.TotalYieldHarvested())
	// supply untouched
	assert.Equal(t, sdkmath.NewInt(10_000).Mul(scalar), f.comp.TotalShares())
}

func TestHarvestWithoutPendingYieldIsANoop(t *testing.T) {
	ctx := context.Background()
	f := newCompFixture(t, 0, 500, PayoutModeOperatorPool)

	_, err := f.comp.Deposit(ctx, "alice", sdkmath.NewInt(10_000))
	require.NoError(t, err)

	receipt, err := f.comp.Harvest(ctx, "keeper")
	require.NoError(t, err)
	assert.True(t, receipt.Amount.IsZero())
	assert.True(t, f.comp.TotalYieldHarvested().IsZero())
}

func TestHarvestIncentive(t *testing.T) {
	ctx := context.Background()

	t.Run("operator-pool mode accrues a claimable reward", func(t *testing.T) {
		f := newCompFixture(t, 0, 1000, PayoutModeOperatorPool)
		_, err := f.comp.Deposit(ctx, "alice", sdkmath.NewInt(10_000))
		require.NoError(t, err)
		require.NoError(t, f.strat.InjectYield(sdkmath.NewInt(1_000)))

		receipt, err := f.comp.Harvest(ctx, "keeper")
		require.NoError(t, err)

		// gross yield on the receipt, 10% carved out of the price
		assert.Equal(t, sdkmath.NewInt(1_000), receipt.Amount)
		assert.Equal(t, sdkmath.NewInt(10_900), f.comp.TotalAssets())
		assert.Equal(t, sdkmath.NewInt(100), f.comp.ClaimableRewards(operator))
		assert.True(t, f.comp.ClaimableRewards("keeper").IsZero())

		claim, err := f.comp.ClaimHarvestRewards(ctx, operator)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(100), claim.Amount)
		assert.Equal(t, sdkmath.NewInt(100), f.ledger.BalanceOf(operator))
		assert.True(t, f.comp.ClaimableRewards(operator).IsZero())

		_, err = f.comp.ClaimHarvestRewards(ctx, operator)
		assert.True(t, types.IsStateError(err))
	})

	t.Run("caller mode pays the harvester immediately", func(t *testing.T) {
		f := newCompFixture(t, 0, 1000, PayoutModeCaller)
		_, err := f.comp.Deposit(ctx, "alice", sdkmath.NewInt(10_000))
		require.NoError(t, err)
		require.NoError(t, f.strat.InjectYield(sdkmath.NewInt(1_000)))

		_, err = f.comp.Harvest(ctx, "keeper")
		require.NoError(t, err)

		assert.Equal(t, sdkmath.NewInt(100), f.ledger.BalanceOf("keeper"))
		assert.True(t, f.comp.ClaimableRewards(operator).IsZero())
	})
}

func TestCompounderWithdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("fee is retained and accrues to remaining holders", func(t *testing.T) {
		f := newCompFixture(t, 100, 0, PayoutModeOperatorPool)
		_, err := f.comp.Deposit(ctx, "alice", sdkmath.NewInt(10_000))
		require.NoError(t, err)

		receipt, err := f.comp.Withdraw(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar))
		require.NoError(t, err)

		// 1% fee on 10,000
		assert.Equal(t, sdkmath.NewInt(9_900), receipt.Amount)
		assert.Equal(t, sdkmath.NewInt(99_900), f.ledger.BalanceOf("alice"))
		assert.True(t, f.comp.TotalShares().IsZero())
		assert.Equal(t, sdkmath.NewInt(100), f.comp.TotalAssets())
	})

	t.Run("withdrawal harvests pending yield first", func(t *testing.T) {
		f := newCompFixture(t, 0, 0, PayoutModeOperatorPool)
		_, err := f.comp.Deposit(ctx, "alice", sdkmath.NewInt(10_000))
		require.NoError(t, err)
		require.NoError(t, f.strat.InjectYield(sdkmath.NewInt(1_000)))

		receipt, err := f.comp.Withdraw(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(11_000), receipt.Amount)
	})

	t.Run("cannot burn more shares than held", func(t *testing.T) {
		f := newCompFixture(t, 0, 0, PayoutModeOperatorPool)
		_, err := f.comp.Deposit(ctx, "alice", sdkmath.NewInt(10_000))
		require.NoError(t, err)

		_, err = f.comp.Withdraw(ctx, "bob", sdkmath.NewInt(1).Mul(scalar))
		assert.True(t, types.IsAuthorizationError(err))
	})
}

func TestPriceNeverDecreasesAcrossEntries(t *testing.T) {
	ctx := context.Background()
	f := newCompFixture(t, 0, 0, PayoutModeOperatorPool)

	_, err := f.comp.Deposit(ctx, "alice", sdkmath.NewInt(10_000))
	require.NoError(t, err)
	require.NoError(t, f.strat.InjectYield(sdkmath.NewInt(900)))

	// bob's deposit harvests first, so he buys in at the post-yield price and
	// alice's claim is untouched
	_, err = f.comp.Deposit(ctx, "bob", sdkmath.NewInt(10_900))
	require.NoError(t, err)

	assert.Equal(t, f.comp.SharesOf("alice"), f.comp.SharesOf("bob"))
	assert.Equal(t, sdkmath.NewInt(1_090_000), f.comp.PricePerFullShare())
}

func TestSetStrategy(t *testing.T) {
	ctx := context.Background()

	t.Run("migrates the full balance after a final harvest", func(t *testing.T) {
		f := newCompFixture(t, 0, 0, PayoutModeOperatorPool)
		_, err := f.comp.Deposit(ctx, "alice", sdkmath.NewInt(10_000))
		require.NoError(t, err)
		require.NoError(t, f.strat.InjectYield(sdkmath.NewInt(500)))

		next := testutil.NewFakeStrategy(f.ledger, compAccount, denom, 2500)
		require.NoError(t, f.comp.SetStrategy(ctx, operator, next))

		oldBalance, err := f.strat.Balance(ctx)
		require.NoError(t, err)
		newBalance, err := next.Balance(ctx)
		require.NoError(t, err)

		assert.True(t, oldBalance.IsZero())
		assert.Equal(t, sdkmath.NewInt(10_500), newBalance)
		assert.Equal(t, sdkmath.NewInt(10_500), f.comp.TotalAssets())

		apy, err := f.comp.APY(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint32(2500), apy)
	})

	t.Run("rejects non-operator callers", func(t *testing.T) {
		f := newCompFixture(t, 0, 0, PayoutModeOperatorPool)
		next := testutil.NewFakeStrategy(f.ledger, compAccount, denom, 2500)
		err := f.comp.SetStrategy(ctx, "alice", next)
		assert.True(t, types.IsAuthorizationError(err))
	})

	t.Run("rejects an asset mismatch", func(t *testing.T) {
		f := newCompFixture(t, 0, 0, PayoutModeOperatorPool)
		wrong := testutil.NewFakeStrategy(f.ledger, compAccount, "ueur", 2500)
		err := f.comp.SetStrategy(ctx, operator, wrong)
		assert.True(t, types.IsInvariantError(err))
	})
}

func TestCompounderConfigValidate(t *testing.T) {
	base := Config{
		Name:               "usd-compounder",
		AccountID:          compAccount,
		Operator:           operator,
		AssetDenom:         denom,
		AssetDecimals:      6,
		WithdrawalFeeBp:    100,
		HarvestIncentiveBp: 500,
		PayoutMode:         PayoutModeOperatorPool,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"missing name", func(cfg *Config) { cfg.Name = "" }},
		{"missing account", func(cfg *Config) { cfg.AccountID = "" }},
		{"missing operator", func(cfg *Config) { cfg.Operator = "" }},
		{"missing denom", func(cfg *Config) { cfg.AssetDenom = "" }},
		{"fee above cap", func(cfg *Config) { cfg.WithdrawalFeeBp = 501 }},
		{"incentive at 100%", func(cfg *Config) { cfg.HarvestIncentiveBp = 10_000 }},
		{"unknown payout mode", func(cfg *Config) { cfg.PayoutMode = "burn" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
