package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratafi-io/yield-vault-engine/internal/compounder"
	"github.com/stratafi-io/yield-vault-engine/internal/ledger"
	"github.com/stratafi-io/yield-vault-engine/internal/types"
	"github.com/stratafi-io/yield-vault-engine/internal/vault"
	"github.com/stratafi-io/yield-vault-engine/testutil"
)

const (
	portfolioAccount = "portfolio-main"
	operator         = "operator"
	denom            = "uusd"
)

var scalar = sdkmath.NewIntWithDecimal(1, 12)

type portfolioFixture struct {
	reb    *Rebalancer
	ledger *ledger.InMemory
	strats map[string]*testutil.FakeStrategy
	clock  time.Time
}

// newPortfolioFixture builds a rebalancer with three positions weighted
// 40/30/30 and a 200bp drift threshold.
func newPortfolioFixture(t *testing.T) *portfolioFixture {
	t.Helper()

	lgr := ledger.NewInMemory()
	require.NoError(t, lgr.Credit("alice", sdkmath.NewInt(100_000)))

	reb, err := New(Config{
		Name:                 "usd-portfolio",
		AccountID:            portfolioAccount,
		Operator:             operator,
		AssetDenom:           denom,
		AssetDecimals:        6,
		ThresholdBp:          200,
		MinRebalanceInterval: time.Hour,
		APYWindow:            4,
	}, lgr, nil, nil)
	require.NoError(t, err)

	f := &portfolioFixture{
		reb:    reb,
		ledger: lgr,
		strats: map[string]*testutil.FakeStrategy{
			"alpha": testutil.NewFakeStrategy(lgr, portfolioAccount, denom, 1000),
			"beta":  testutil.NewFakeStrategy(lgr, portfolioAccount, denom, 2000),
			"gamma": testutil.NewFakeStrategy(lgr, portfolioAccount, denom, 3000),
		},
		clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	reb.now = func() time.Time { return f.clock }

	ctx := context.Background()
	require.NoError(t, reb.AddPosition(ctx, operator, "alpha", 4000, f.strats["alpha"]))
	require.NoError(t, reb.AddPosition(ctx, operator, "beta", 3000, f.strats["beta"]))
	require.NoError(t, reb.AddPosition(ctx, operator, "gamma", 3000, f.strats["gamma"]))
	return f
}

func (f *portfolioFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *portfolioFixture) positionBalance(t *testing.T, id string) sdkmath.Int {
	t.Helper()
	balance, err := f.strats[id].Balance(context.Background())
	require.NoError(t, err)
	return balance
}

func TestIssue(t *testing.T) {
	ctx := context.Background()

	t.Run("bootstrap issues 1:1 and deploys by weight", func(t *testing.T) {
		f := newPortfolioFixture(t)

		receipt, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
		require.NoError(t, err)

		assert.Equal(t, sdkmath.NewInt(10_000), receipt.Amount)
		assert.Equal(t, sdkmath.NewInt(10_000).Mul(scalar), f.reb.SharesOf("alice"))
		assert.Equal(t, sdkmath.NewInt(10_000), f.reb.NetAssetValue())
		assert.Equal(t, sdkmath.NewInt(1_000_000), f.reb.PricePerFullShare())
		assert.True(t, f.reb.IdleBalance().IsZero())

		assert.Equal(t, sdkmath.NewInt(4_000), f.positionBalance(t, "alpha"))
		assert.Equal(t, sdkmath.NewInt(3_000), f.positionBalance(t, "beta"))
		assert.Equal(t, sdkmath.NewInt(3_000), f.positionBalance(t, "gamma"))
	})

	t.Run("later issues price tokens at net asset value", func(t *testing.T) {
		f := newPortfolioFixture(t)
		_, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
		require.NoError(t, err)

		require.NoError(t, f.strats["alpha"].InjectYield(sdkmath.NewInt(1_000)))

		receipt, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(1_000).Mul(scalar), "alice")
		require.NoError(t, err)

		// 1,000 tokens of an 11,000 NAV on 10,000 tokens costs 1,100
		assert.Equal(t, sdkmath.NewInt(1_100), receipt.Amount)
		assert.Equal(t, sdkmath.NewInt(11_000).Mul(scalar), f.reb.TotalShares())
	})

	t.Run("a rejecting position keeps its portion idle", func(t *testing.T) {
		f := newPortfolioFixture(t)
		f.strats["gamma"].FailDeposits(errors.New("venue offline"))

		_, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(3_000), f.reb.IdleBalance())
		assert.Equal(t, sdkmath.NewInt(10_000), f.reb.NetAssetValue())
	})

	t.Run("rejects bad input", func(t *testing.T) {
		f := newPortfolioFixture(t)
		_, err := f.reb.Issue(ctx, "alice", sdkmath.ZeroInt(), "alice")
		assert.True(t, types.IsValidationError(err))
		_, err = f.reb.Issue(ctx, "alice", sdkmath.NewInt(1), "alice")
		assert.True(t, types.IsValidationError(err))
	})
}

func TestRedeemPortfolio(t *testing.T) {
	ctx := context.Background()

	t.Run("pays out the token share of net asset value", func(t *testing.T) {
		f := newPortfolioFixture(t)
		_, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
		require.NoError(t, err)

		receipt, err := f.reb.Redeem(ctx, "alice", sdkmath.NewInt(4_000).Mul(scalar), "alice")
		require.NoError(t, err)

		assert.Equal(t, sdkmath.NewInt(4_000), receipt.Amount)
		assert.Equal(t, sdkmath.NewInt(94_000), f.ledger.BalanceOf("alice"))
		assert.Equal(t, sdkmath.NewInt(6_000).Mul(scalar), f.reb.TotalShares())
		assert.Equal(t, sdkmath.NewInt(6_000), f.reb.NetAssetValue())
	})

	t.Run("illiquid positions fail the redemption with tokens intact", func(t *testing.T) {
		f := newPortfolioFixture(t)
		_, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
		require.NoError(t, err)

		for _, strat := range f.strats {
			strat.FailWithdrawals(errors.New("locked"))
		}

		_, err = f.reb.Redeem(ctx, "alice", sdkmath.NewInt(4_000).Mul(scalar), "alice")
		require.True(t, types.IsLiquidityError(err))
		assert.Equal(t, sdkmath.NewInt(10_000).Mul(scalar), f.reb.SharesOf("alice"))
	})

	t.Run("rejects burns beyond the balance", func(t *testing.T) {
		f := newPortfolioFixture(t)
		_, err := f.reb.Redeem(ctx, "alice", sdkmath.NewInt(1).Mul(scalar), "alice")
		assert.True(t, types.IsAuthorizationError(err))
	})
}

func TestDriftDetectionAndForceRebalance(t *testing.T) {
	ctx := context.Background()
	f := newPortfolioFixture(t)

	_, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
	require.NoError(t, err)

	// yield concentrated in one position drifts 40/30/30 to 60/20/20
	require.NoError(t, f.strats["alpha"].InjectYield(sdkmath.NewInt(5_000)))
	require.NoError(t, f.reb.Sync(ctx))

	info := f.reb.GetRebalanceInfo()
	assert.Equal(t, uint32(2000), info.MaxDeviationBp)
	assert.True(t, info.CanRebalance)
	for _, pos := range info.Positions {
		if pos.ID == "alpha" {
			assert.Equal(t, uint32(6000), pos.ActualBp)
			assert.Equal(t, uint32(2000), pos.DeviationBp)
		}
	}

	require.NoError(t, f.reb.ForceRebalance(ctx, operator))

	assert.Equal(t, sdkmath.NewInt(6_000), f.positionBalance(t, "alpha"))
	assert.Equal(t, sdkmath.NewInt(4_500), f.positionBalance(t, "beta"))
	assert.Equal(t, sdkmath.NewInt(4_500), f.positionBalance(t, "gamma"))
	assert.True(t, f.reb.IdleBalance().IsZero())
	assert.Equal(t, uint32(0), f.reb.GetRebalanceInfo().MaxDeviationBp)

	err = f.reb.ForceRebalance(ctx, "alice")
	assert.True(t, types.IsAuthorizationError(err))
}

func TestOpportunisticRebalanceGate(t *testing.T) {
	ctx := context.Background()
	f := newPortfolioFixture(t)

	_, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
	require.NoError(t, err)
	require.NoError(t, f.reb.ForceRebalance(ctx, operator))

	require.NoError(t, f.strats["alpha"].InjectYield(sdkmath.NewInt(5_000)))

	// drifted beyond threshold, but still inside the minimum interval
	f.advance(10 * time.Minute)
	_, err = f.reb.Issue(ctx, "alice", sdkmath.NewInt(1_500).Mul(scalar), "alice")
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(9_900), f.positionBalance(t, "alpha"))

	// once the gate opens, the next mutation drifts everything back to target
	f.advance(2 * time.Hour)
	_, err = f.reb.Issue(ctx, "alice", sdkmath.NewInt(1_500).Mul(scalar), "alice")
	require.NoError(t, err)

	assert.Equal(t, sdkmath.NewInt(7_800), f.positionBalance(t, "alpha"))
	assert.Equal(t, sdkmath.NewInt(5_850), f.positionBalance(t, "beta"))
	assert.Equal(t, sdkmath.NewInt(5_850), f.positionBalance(t, "gamma"))
}

func TestPositionManagement(t *testing.T) {
	ctx := context.Background()

	t.Run("weight and count caps are enforced without mutation", func(t *testing.T) {
		f := newPortfolioFixture(t)

		overweight := testutil.NewFakeStrategy(f.ledger, portfolioAccount, denom, 500)
		err := f.reb.AddPosition(ctx, operator, "delta", 500, overweight)
		require.True(t, types.IsInvariantError(err))

		zeroWeight := testutil.NewFakeStrategy(f.ledger, portfolioAccount, denom, 500)
		require.NoError(t, f.reb.AddPosition(ctx, operator, "delta", 0, zeroWeight))

		fifth := testutil.NewFakeStrategy(f.ledger, portfolioAccount, denom, 500)
		err = f.reb.AddPosition(ctx, operator, "epsilon", 0, fifth)
		require.True(t, types.IsInvariantError(err))
		assert.Len(t, f.reb.GetRebalanceInfo().Positions, 4)
	})

	t.Run("duplicate ids and asset mismatches are rejected", func(t *testing.T) {
		f := newPortfolioFixture(t)

		dup := testutil.NewFakeStrategy(f.ledger, portfolioAccount, denom, 500)
		err := f.reb.AddPosition(ctx, operator, "alpha", 0, dup)
		assert.True(t, types.IsValidationError(err))

		wrong := testutil.NewFakeStrategy(f.ledger, portfolioAccount, "ueur", 500)
		err = f.reb.AddPosition(ctx, operator, "fx", 0, wrong)
		assert.True(t, types.IsInvariantError(err))
	})

	t.Run("removing a position exits it into the idle buffer", func(t *testing.T) {
		f := newPortfolioFixture(t)
		_, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
		require.NoError(t, err)

		require.NoError(t, f.reb.RemovePosition(ctx, operator, "gamma"))

		assert.Equal(t, sdkmath.NewInt(3_000), f.reb.IdleBalance())
		assert.Equal(t, sdkmath.NewInt(10_000), f.reb.NetAssetValue())
		assert.Len(t, f.reb.GetRebalanceInfo().Positions, 2)
	})

	t.Run("a partial exit blocks the removal", func(t *testing.T) {
		f := newPortfolioFixture(t)
		_, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
		require.NoError(t, err)

		f.strats["gamma"].CapWithdrawals(sdkmath.NewInt(100))
		err = f.reb.RemovePosition(ctx, operator, "gamma")
		assert.True(t, types.IsLiquidityError(err))
	})

	t.Run("allocation updates validate the combined total", func(t *testing.T) {
		f := newPortfolioFixture(t)

		err := f.reb.UpdateAllocation(ctx, operator, map[string]uint32{"alpha": 8000})
		require.True(t, types.IsInvariantError(err))

		err = f.reb.UpdateAllocation(ctx, operator, map[string]uint32{"omega": 100})
		require.True(t, types.IsValidationError(err))

		require.NoError(t, f.reb.UpdateAllocation(ctx, operator, map[string]uint32{
			"alpha": 5000,
			"beta":  2500,
			"gamma": 2500,
		}))
		for _, pos := range f.reb.GetRebalanceInfo().Positions {
			if pos.ID == "alpha" {
				assert.Equal(t, uint32(5000), pos.TargetBp)
			}
		}
	})
}

func TestHarvestAllPositions(t *testing.T) {
	ctx := context.Background()

	t.Run("records an APY sample even without harvesters", func(t *testing.T) {
		f := newPortfolioFixture(t)
		_, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
		require.NoError(t, err)

		receipt, err := f.reb.HarvestAllPositions(ctx)
		require.NoError(t, err)

		assert.True(t, receipt.Amount.IsZero())
		// 10% * 40% + 20% * 30% + 30% * 30%
		assert.Equal(t, uint32(1900), f.reb.WeightedAPY())
		assert.Equal(t, f.clock, f.reb.LastHarvest())
	})

	t.Run("a failing APY position drops out of the sample with its weight", func(t *testing.T) {
		f := newPortfolioFixture(t)
		_, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
		require.NoError(t, err)

		f.strats["alpha"].FailAPY(errors.New("oracle offline"))

		_, err = f.reb.HarvestAllPositions(ctx)
		require.NoError(t, err)

		// beta and gamma answer: (20% * 30% + 30% * 30%) over their 60% weight
		assert.Equal(t, uint32(2500), f.reb.WeightedAPY())
	})

	t.Run("a cycle where no position answers records no sample", func(t *testing.T) {
		f := newPortfolioFixture(t)
		_, err := f.reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
		require.NoError(t, err)

		for _, strat := range f.strats {
			strat.FailAPY(errors.New("oracle offline"))
		}

		_, err = f.reb.HarvestAllPositions(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), f.reb.WeightedAPY())
	})

	t.Run("realizes pending yield through a compounder position", func(t *testing.T) {
		lgr := ledger.NewInMemory()
		require.NoError(t, lgr.Credit("alice", sdkmath.NewInt(100_000)))

		inner := testutil.NewFakeStrategy(lgr, "compounder-main", denom, 1500)
		comp, err := compounder.New(compounder.Config{
			Name:          "usd-compounder",
			AccountID:     "compounder-main",
			Operator:      operator,
			AssetDenom:    denom,
			AssetDecimals: 6,
			PayoutMode:    compounder.PayoutModeOperatorPool,
		}, lgr, inner, nil, nil)
		require.NoError(t, err)

		reb, err := New(Config{
			Name:                 "usd-portfolio",
			AccountID:            portfolioAccount,
			Operator:             operator,
			AssetDenom:           denom,
			AssetDecimals:        6,
			ThresholdBp:          200,
			MinRebalanceInterval: time.Hour,
			APYWindow:            4,
		}, lgr, nil, nil)
		require.NoError(t, err)
		require.NoError(t, reb.AddPosition(ctx, operator, "compounder",
			10_000, NewCompounderPosition(comp, portfolioAccount)))

		_, err = reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
		require.NoError(t, err)
		require.NoError(t, inner.InjectYield(sdkmath.NewInt(1_000)))

		receipt, err := reb.HarvestAllPositions(ctx)
		require.NoError(t, err)

		assert.Equal(t, sdkmath.NewInt(1_000), receipt.Amount)
		assert.Equal(t, sdkmath.NewInt(11_000), reb.NetAssetValue())
		assert.Equal(t, uint32(1500), reb.WeightedAPY())
	})
}

func TestVaultBackedPosition(t *testing.T) {
	ctx := context.Background()

	lgr := ledger.NewInMemory()
	require.NoError(t, lgr.Credit("alice", sdkmath.NewInt(100_000)))

	v, err := vault.New(vault.Config{
		Name:          "usd-vault",
		AccountID:     "vault-main",
		Operator:      operator,
		AssetDenom:    denom,
		AssetDecimals: 6,
		MaxStrategies: 1,
	}, lgr, nil, nil)
	require.NoError(t, err)
	inner := testutil.NewFakeStrategy(lgr, "vault-main", denom, 1200)
	require.NoError(t, v.AddStrategy(ctx, operator, "lending", inner, 10_000))

	reb, err := New(Config{
		Name:                 "usd-portfolio",
		AccountID:            portfolioAccount,
		Operator:             operator,
		AssetDenom:           denom,
		AssetDecimals:        6,
		ThresholdBp:          200,
		MinRebalanceInterval: time.Hour,
		APYWindow:            4,
	}, lgr, nil, nil)
	require.NoError(t, err)
	require.NoError(t, reb.AddPosition(ctx, operator, "vault",
		10_000, NewVaultPosition(v, portfolioAccount)))

	_, err = reb.Issue(ctx, "alice", sdkmath.NewInt(10_000).Mul(scalar), "alice")
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(10_000).Mul(scalar), v.SharesOf(portfolioAccount))

	// vault yield flows through the adapter's balance report
	require.NoError(t, inner.InjectYield(sdkmath.NewInt(1_000)))
	require.NoError(t, reb.Sync(ctx))
	assert.Equal(t, sdkmath.NewInt(11_000), reb.NetAssetValue())

	// redemption burns exactly the vault shares covering the payout
	receipt, err := reb.Redeem(ctx, "alice", sdkmath.NewInt(5_000).Mul(scalar), "alice")
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(5_500), receipt.Amount)
	assert.Equal(t, sdkmath.NewInt(95_500), lgr.BalanceOf("alice"))
	assert.Equal(t, sdkmath.NewInt(5_000).Mul(scalar), v.SharesOf(portfolioAccount))
}

func TestPortfolioConfigValidate(t *testing.T) {
	base := Config{
		Name:                 "usd-portfolio",
		AccountID:            portfolioAccount,
		Operator:             operator,
		AssetDenom:           denom,
		AssetDecimals:        6,
		ThresholdBp:          200,
		MinRebalanceInterval: time.Hour,
		APYWindow:            24,
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
		{"zero threshold", func(cfg *Config) { cfg.ThresholdBp = 0 }},
		{"threshold above 100%", func(cfg *Config) { cfg.ThresholdBp = 10_001 }},
		{"zero interval", func(cfg *Config) { cfg.MinRebalanceInterval = 0 }},
		{"zero apy window", func(cfg *Config) { cfg.APYWindow = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
