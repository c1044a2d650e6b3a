package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stratafi-io/yield-vault-engine/internal/db/model"
	"github.com/stratafi-io/yield-vault-engine/internal/types"
	"github.com/stratafi-io/yield-vault-engine/internal/utils/poller"
)

// StartDistributionPoller invokes the orchestrator's yield distribution on a
// schedule. The distribution interval gate lives in the engine; the poller
// just keeps knocking and treats "not due yet" as routine.
func (s *Service) StartDistributionPoller(ctx context.Context) {
	distributionPoller := poller.NewPoller(
		"distribution",
		s.cfg.Pollers.DistributionPollingInterval,
		s.distributeYield,
	)
	go distributionPoller.Start(ctx)
}

func (s *Service) distributeYield(ctx context.Context) error {
	result, err := s.splitter.DistributeYield(ctx, s.cfg.Splitter.Operator)
	if err != nil {
		if types.IsStateError(err) {
			log.Ctx(ctx).Debug().Err(err).Msg("Distribution not executed")
			return nil
		}
		return fmt.Errorf("failed to distribute yield: %w", err)
	}
	if !result.TotalAmount.IsPositive() {
		return nil
	}

	holders := make([]model.HolderPayoutDocument, 0, len(result.Holders))
	for _, h := range result.Holders {
		holders = append(holders, model.HolderPayoutDocument{
			Account: h.Account,
			Amount:  h.Amount.String(),
		})
	}
	doc := &model.DistributionDocument{
		TxID:        result.TxID,
		Component:   s.splitter.Name(),
		TotalAmount: result.TotalAmount.String(),
		Compounded:  result.Compounded,
		Holders:     holders,
		ExecutedAt:  result.At,
	}
	if err := s.db.SaveDistribution(ctx, doc); err != nil {
		return fmt.Errorf("failed to save distribution record: %w", err)
	}

	if err := s.mirrorPositions(ctx); err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.cfg.Db.DistributionRetention)
	pruned, err := s.db.PruneDistributions(ctx, s.splitter.Name(), cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune distribution records: %w", err)
	}
	if pruned > 0 {
		log.Ctx(ctx).Debug().Int64("pruned", pruned).Msg("Pruned old distribution records")
	}

	log.Ctx(ctx).Info().
		Str("tx_id", result.TxID).
		Str("amount", result.TotalAmount.String()).
		Bool("compounded", result.Compounded).
		Int("holders", len(result.Holders)).
		Msg("Yield distribution executed")
	return nil
}

// mirrorPositions writes the crash-recoverable copy of every split position.
func (s *Service) mirrorPositions(ctx context.Context) error {
	for _, pos := range s.splitter.Positions() {
		doc := &model.SplitPositionDocument{
			Owner:             pos.Owner,
			LockedShares:      pos.LockedShares.String(),
			YieldClaim:        pos.YieldClaim.String(),
			YieldClaimAtSplit: pos.YieldClaimAtSplit.String(),
			Principal:         pos.Principal.String(),
			PrincipalAtSplit:  pos.PrincipalAtSplit.String(),
			BaselinePrice:     pos.BaselinePrice.String(),
			State:             pos.State.String(),
			SplitAt:           pos.SplitAt,
			Maturity:          pos.Maturity,
		}
		if err := s.db.SavePosition(ctx, doc); err != nil {
			return fmt.Errorf("failed to mirror position for %s: %w", pos.Owner, err)
		}
	}
	return nil
}
