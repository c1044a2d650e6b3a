package cli

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stratafi-io/yield-vault-engine/internal/config"
	"github.com/stratafi-io/yield-vault-engine/internal/db"
)

// DumpStateCmd prints the persisted operational state of one component:
// its latest snapshot, recent distributions and recent events.
func DumpStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump-state [component]",
		Short: "Dumps the persisted state of a component",
		Args:  cobra.ExactArgs(1),
		RunE:  dumpState,
	}

	cmd.Flags().Int64("limit", 20, "Number of records to dump per collection")

	return cmd
}

func dumpState(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	component := args[0]

	limit, err := cmd.Flags().GetInt64("limit")
	if err != nil {
		return err
	}

	cfg, err := config.New(GetConfigPath())
	if err != nil {
		return err
	}
	dbClient, err := db.New(ctx, cfg.Db)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to disconnect db client")
		}
	}()

	snapshot, err := dbClient.GetLatestSnapshot(ctx, component)
	if err != nil && !db.IsNotFoundError(err) {
		return err
	}
	if snapshot != nil {
		spew.Dump(snapshot)
	}

	distributions, err := dbClient.GetDistributions(ctx, component, limit)
	if err != nil {
		return err
	}
	spew.Dump(distributions)

	events, err := dbClient.GetEvents(ctx, component, limit)
	if err != nil {
		return err
	}
	spew.Dump(events)

	return nil
}
