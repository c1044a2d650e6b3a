package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stratafi-io/yield-vault-engine/internal/utils/poller"
)

// StartRebalancePoller checks portfolio drift and rebalances when the
// deviation threshold and the minimum interval both allow it.
func (s *Service) StartRebalancePoller(ctx context.Context) {
	rebalancePoller := poller.NewPoller(
		"rebalance",
		s.cfg.Pollers.RebalancePollingInterval,
		s.rebalancePortfolio,
	)
	go rebalancePoller.Start(ctx)
}

func (s *Service) rebalancePortfolio(ctx context.Context) error {
	info := s.portfolio.GetRebalanceInfo()
	if !info.CanRebalance {
		log.Ctx(ctx).Debug().
			Uint32("max_deviation_bp", info.MaxDeviationBp).
			Time("next_rebalance_at", info.NextRebalanceAt).
			Msg("Portfolio within tolerance or rebalance gate closed")
		return nil
	}

	if err := s.portfolio.ForceRebalance(ctx, s.cfg.Portfolio.Operator); err != nil {
		return fmt.Errorf("failed to rebalance portfolio: %w", err)
	}
	log.Ctx(ctx).Info().
		Uint32("max_deviation_bp", info.MaxDeviationBp).
		Msg("Portfolio rebalanced")
	return nil
}
