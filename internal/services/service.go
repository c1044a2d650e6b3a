package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/stratafi-io/yield-vault-engine/internal/compounder"
	"github.com/stratafi-io/yield-vault-engine/internal/config"
	"github.com/stratafi-io/yield-vault-engine/internal/db"
	"github.com/stratafi-io/yield-vault-engine/internal/ledger"
	"github.com/stratafi-io/yield-vault-engine/internal/portfolio"
	"github.com/stratafi-io/yield-vault-engine/internal/queue"
	"github.com/stratafi-io/yield-vault-engine/internal/splitter"
	"github.com/stratafi-io/yield-vault-engine/internal/vault"
)

// Service wires the accounting engines to their operational collaborators
// and drives every time-gated operation through pollers. The engines never
// schedule themselves.
type Service struct {
	cfg          *config.Config
	db           db.DbInterface
	queueManager *queue.QueueManager
	ledger       ledger.Ledger
	vault        *vault.ShareVault
	compounder   *compounder.CompoundingVault
	splitter     *splitter.Orchestrator
	portfolio    *portfolio.Rebalancer
}

func NewService(
	cfg *config.Config,
	db db.DbInterface,
	qm *queue.QueueManager,
	lgr ledger.Ledger,
	v *vault.ShareVault,
	c *compounder.CompoundingVault,
	o *splitter.Orchestrator,
	p *portfolio.Rebalancer,
) *Service {
	return &Service{
		cfg:          cfg,
		db:           db,
		queueManager: qm,
		ledger:       lgr,
		vault:        v,
		compounder:   c,
		splitter:     o,
		portfolio:    p,
	}
}

// StartEngineSync launches the pollers and blocks until the context is
// cancelled.
func (s *Service) StartEngineSync(ctx context.Context) {
	s.StartSyncPoller(ctx)
	s.StartDistributionPoller(ctx)
	s.StartHarvestPoller(ctx)
	s.StartRebalancePoller(ctx)

	<-ctx.Done()
	log.Ctx(ctx).Info().Msg("Engine sync stopped due to context cancellation")
	if s.queueManager != nil {
		s.queueManager.Shutdown()
	}
}
