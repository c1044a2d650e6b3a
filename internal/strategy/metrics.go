package strategy

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/stratafi-io/yield-vault-engine/internal/observability/metrics"
)

// StrategyWithMetrics decorates a Strategy with per-method latency and
// outcome metrics.
type StrategyWithMetrics struct {
	name  string
	inner Strategy
}

func WithMetrics(name string, inner Strategy) *StrategyWithMetrics {
	return &StrategyWithMetrics{name: name, inner: inner}
}

func (s *StrategyWithMetrics) Denom() string {
	return s.inner.Denom()
}

func (s *StrategyWithMetrics) Deposit(ctx context.Context, amount sdkmath.Int) error {
	return s.run("Deposit", func() error {
		return s.inner.Deposit(ctx, amount)
	})
}

func (s *StrategyWithMetrics) Withdraw(ctx context.Context, amount sdkmath.Int) (result sdkmath.Int, err error) {
	//nolint:errcheck
	s.run("Withdraw", func() error {
		result, err = s.inner.Withdraw(ctx, amount)
		return err
	})
	return
}

func (s *StrategyWithMetrics) Balance(ctx context.Context) (result sdkmath.Int, err error) {
	//nolint:errcheck
	s.run("Balance", func() error {
		result, err = s.inner.Balance(ctx)
		return err
	})
	return
}

func (s *StrategyWithMetrics) APY(ctx context.Context) (result uint32, err error) {
	//nolint:errcheck
	s.run("APY", func() error {
		result, err = s.inner.APY(ctx)
		return err
	})
	return
}

func (s *StrategyWithMetrics) Harvest(ctx context.Context) (result sdkmath.Int, err error) {
	harvester, ok := s.inner.(Harvester)
	if !ok {
		return sdkmath.ZeroInt(), nil
	}
	//nolint:errcheck
	s.run("Harvest", func() error {
		result, err = harvester.Harvest(ctx)
		return err
	})
	return
}

func (s *StrategyWithMetrics) run(method string, f func() error) error {
	start := time.Now()
	err := f()
	duration := time.Since(start)

	metrics.RecordStrategyCallLatency(s.name, method, duration, err != nil)
	return err
}
