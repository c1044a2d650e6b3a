package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stratafi-io/yield-vault-engine/internal/utils/poller"
)

// StartHarvestPoller realizes pending yield in the compounder and across
// the portfolio's positions.
func (s *Service) StartHarvestPoller(ctx context.Context) {
	harvestPoller := poller.NewPoller(
		"harvest",
		s.cfg.Pollers.HarvestPollingInterval,
		s.harvestYield,
	)
	go harvestPoller.Start(ctx)
}

func (s *Service) harvestYield(ctx context.Context) error {
	receipt, err := s.compounder.Harvest(ctx, s.cfg.Compounder.Operator)
	if err != nil {
		return fmt.Errorf("failed to harvest compounder: %w", err)
	}
	if receipt.Amount.IsPositive() {
		log.Ctx(ctx).Info().
			Str("tx_id", receipt.TxID).
			Str("amount", receipt.Amount.String()).
			Msg("Compounder yield harvested")
	}

	portfolioReceipt, err := s.portfolio.HarvestAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to harvest portfolio positions: %w", err)
	}
	if portfolioReceipt.Amount.IsPositive() {
		log.Ctx(ctx).Info().
			Str("tx_id", portfolioReceipt.TxID).
			Str("amount", portfolioReceipt.Amount.String()).
			Msg("Portfolio positions harvested")
	}
	return nil
}
