package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stratafi-io/yield-vault-engine/internal/db/model"
	"github.com/stratafi-io/yield-vault-engine/internal/observability/metrics"
	"github.com/stratafi-io/yield-vault-engine/internal/utils/poller"
)

// StartSyncPoller drives the vault's yield sync and writes the totals
// snapshots for the vault, the compounder and the portfolio.
func (s *Service) StartSyncPoller(ctx context.Context) {
	syncPoller := poller.NewPoller(
		"sync",
		s.cfg.Pollers.SyncPollingInterval,
		s.syncEngines,
	)
	go syncPoller.Start(ctx)
}

func (s *Service) syncEngines(ctx context.Context) error {
	if err := s.vault.Sync(ctx); err != nil {
		return fmt.Errorf("failed to sync vault: %w", err)
	}
	if err := s.snapshotVault(ctx); err != nil {
		return err
	}
	if err := s.snapshotCompounder(ctx); err != nil {
		return err
	}
	if err := s.portfolio.Sync(ctx); err != nil {
		return fmt.Errorf("failed to sync portfolio: %w", err)
	}
	return s.snapshotPortfolio(ctx)
}

func (s *Service) snapshotVault(ctx context.Context) error {
	strategyBalances, err := s.vault.StrategyBalances(ctx)
	if err != nil {
		return fmt.Errorf("failed to read vault strategy balances: %w", err)
	}
	strategies := make([]model.StrategyBalanceDocument, 0, len(strategyBalances))
	for _, sb := range strategyBalances {
		strategies = append(strategies, model.StrategyBalanceDocument{
			StrategyID: sb.ID,
			WeightBp:   sb.WeightBp,
			Balance:    sb.Balance.String(),
		})
	}

	price := s.vault.PricePerFullShare()
	doc := &model.SnapshotDocument{
		Component:         s.vault.Name(),
		TotalShares:       s.vault.TotalShares().String(),
		TotalAssets:       s.vault.TotalAssets().String(),
		IdleBalance:       s.vault.IdleBalance().String(),
		PricePerFullShare: price.String(),
		Strategies:        strategies,
		TakenAt:           s.vault.LastSync(),
	}
	if err := s.db.SaveSnapshot(ctx, doc); err != nil {
		return fmt.Errorf("failed to save vault snapshot: %w", err)
	}
	if price.IsInt64() {
		metrics.RecordSharePrice(s.vault.Name(), float64(price.Int64()))
	}

	log.Ctx(ctx).Debug().
		Str("component", s.vault.Name()).
		Str("total_assets", doc.TotalAssets).
		Str("price", doc.PricePerFullShare).
		Msg("Vault snapshot saved")
	return nil
}

func (s *Service) snapshotCompounder(ctx context.Context) error {
	doc := &model.SnapshotDocument{
		Component:         s.compounder.Name(),
		TotalShares:       s.compounder.TotalShares().String(),
		TotalAssets:       s.compounder.TotalAssets().String(),
		IdleBalance:       "0",
		PricePerFullShare: s.compounder.PricePerFullShare().String(),
		TakenAt:           s.compounder.LastHarvest(),
	}
	if err := s.db.SaveSnapshot(ctx, doc); err != nil {
		return fmt.Errorf("failed to save compounder snapshot: %w", err)
	}
	return nil
}

func (s *Service) snapshotPortfolio(ctx context.Context) error {
	info := s.portfolio.GetRebalanceInfo()
	positions := make([]model.StrategyBalanceDocument, 0, len(info.Positions))
	for _, pos := range info.Positions {
		positions = append(positions, model.StrategyBalanceDocument{
			StrategyID: pos.ID,
			WeightBp:   pos.TargetBp,
			Balance:    pos.Balance.String(),
		})
	}

	doc := &model.SnapshotDocument{
		Component:         s.portfolio.Name(),
		TotalShares:       s.portfolio.TotalShares().String(),
		TotalAssets:       s.portfolio.NetAssetValue().String(),
		IdleBalance:       s.portfolio.IdleBalance().String(),
		PricePerFullShare: s.portfolio.PricePerFullShare().String(),
		Strategies:        positions,
		TakenAt:           s.portfolio.LastHarvest(),
	}
	if err := s.db.SaveSnapshot(ctx, doc); err != nil {
		return fmt.Errorf("failed to save portfolio snapshot: %w", err)
	}
	return nil
}
