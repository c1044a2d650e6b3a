package cli

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stratafi-io/yield-vault-engine/internal/compounder"
	"github.com/stratafi-io/yield-vault-engine/internal/config"
	"github.com/stratafi-io/yield-vault-engine/internal/db"
	dbmodel "github.com/stratafi-io/yield-vault-engine/internal/db/model"
	"github.com/stratafi-io/yield-vault-engine/internal/ledger"
	"github.com/stratafi-io/yield-vault-engine/internal/observability/metrics"
	"github.com/stratafi-io/yield-vault-engine/internal/observability/tracing"
	"github.com/stratafi-io/yield-vault-engine/internal/portfolio"
	"github.com/stratafi-io/yield-vault-engine/internal/queue"
	"github.com/stratafi-io/yield-vault-engine/internal/services"
	"github.com/stratafi-io/yield-vault-engine/internal/splitter"
	"github.com/stratafi-io/yield-vault-engine/internal/strategy"
	"github.com/stratafi-io/yield-vault-engine/internal/vault"
)

func StartServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start-server",
		Short: "Starts the yield vault engine server",
		Args:  cobra.ExactArgs(0),
		RunE:  startServer,
	}

	return cmd
}

func startServer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ctx = tracing.InjectTraceID(ctx)
	log := log.Ctx(ctx)

	// load config
	cfgPath := GetConfigPath()
	cfg, err := config.New(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg(fmt.Sprintf("error while loading config file: %s", cfgPath))
	}

	err = dbmodel.Setup(ctx, &cfg.Db)
	if err != nil {
		log.Fatal().Err(err).Msg("error while setting up db model")
	}

	// create new db client
	var dbClient db.DbInterface
	dbClient, err = db.New(ctx, cfg.Db)
	if err != nil {
		log.Fatal().Err(err).Msg("error while creating db client")
	}
	dbClient = db.NewDbWithMetrics(dbClient)

	// Create a basic zap logger
	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatal().Err(err).Msg("error while creating zap logger")
	}
	defer func() {
		if err := zapLogger.Sync(); err != nil {
			log.Warn().Err(err).Msg("error while syncing zap logger")
		}
	}()

	queueManager, err := queue.NewQueueManager(&cfg.Queue, zapLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize queue manager")
	}

	sink := services.NewEventRecorder(dbClient, queueManager)
	custodyLedger := ledger.NewInMemory()

	shareVault, err := vault.New(vault.Config{
		Name:          cfg.Vault.Name,
		AccountID:     cfg.Vault.AccountID,
		Operator:      cfg.Vault.Operator,
		AssetDenom:    cfg.Vault.AssetDenom,
		AssetDecimals: cfg.Vault.AssetDecimals,
		MaxStrategies: cfg.Vault.MaxStrategies,
	}, custodyLedger, nil, sink)
	if err != nil {
		log.Fatal().Err(err).Msg("error while creating share vault")
	}

	// The compounder auto-compounds the multi-strategy vault: its single
	// strategy is the vault itself, driven through the position adapter.
	compounderStrategy := strategy.WithMetrics(
		cfg.Vault.Name,
		portfolio.NewVaultPosition(shareVault, cfg.Compounder.AccountID),
	)
	compoundingVault, err := compounder.New(compounder.Config{
		Name:               cfg.Compounder.Name,
		AccountID:          cfg.Compounder.AccountID,
		Operator:           cfg.Compounder.Operator,
		AssetDenom:         cfg.Compounder.AssetDenom,
		AssetDecimals:      cfg.Compounder.AssetDecimals,
		WithdrawalFeeBp:    cfg.Compounder.WithdrawalFeeBp,
		HarvestIncentiveBp: cfg.Compounder.HarvestIncentiveBp,
		PayoutMode:         cfg.Compounder.HarvestPayoutMode,
	}, custodyLedger, compounderStrategy, nil, sink)
	if err != nil {
		log.Fatal().Err(err).Msg("error while creating compounding vault")
	}

	orchestrator, err := splitter.New(splitter.Config{
		Name:                 cfg.Splitter.Name,
		AccountID:            cfg.Splitter.AccountID,
		Operator:             cfg.Splitter.Operator,
		MaturityHorizon:      cfg.Splitter.MaturityHorizon,
		DistributionInterval: cfg.Splitter.DistributionInterval,
		AutoCompound:         cfg.Splitter.AutoCompound,
		CompoundThreshold:    sdkmath.NewInt(cfg.Splitter.CompoundThreshold),
	}, shareVault, custodyLedger, nil, sink)
	if err != nil {
		log.Fatal().Err(err).Msg("error while creating yield split orchestrator")
	}

	rebalancer, err := portfolio.New(portfolio.Config{
		Name:                 cfg.Portfolio.Name,
		AccountID:            cfg.Portfolio.AccountID,
		Operator:             cfg.Portfolio.Operator,
		AssetDenom:           cfg.Portfolio.AssetDenom,
		AssetDecimals:        cfg.Portfolio.AssetDecimals,
		ThresholdBp:          cfg.Portfolio.RebalanceThresholdBp,
		MinRebalanceInterval: cfg.Portfolio.MinRebalanceInterval,
		APYWindow:            cfg.Portfolio.ApyWindow,
	}, custodyLedger, nil, sink)
	if err != nil {
		log.Fatal().Err(err).Msg("error while creating portfolio rebalancer")
	}

	service := services.NewService(
		cfg,
		dbClient,
		queueManager,
		custodyLedger,
		shareVault,
		compoundingVault,
		orchestrator,
		rebalancer,
	)

	// initialize metrics with the metrics port from config
	metricsPort := cfg.Metrics.GetMetricsPort()
	metrics.Init(metricsPort)

	service.StartEngineSync(ctx)
	return nil
}
