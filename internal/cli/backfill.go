package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"eth-spike-alerts/internal/app"
)

var (
	backfillFrom   uint64
	backfillTo     uint64
	backfillStep   uint64
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Warm the baseline from historical windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillTo == 0 {
			return fmt.Errorf("--to-block must be provided")
		}
		if backfillFrom > backfillTo {
			return fmt.Errorf("--from-block must not be after --to-block")
		}

		opts := app.BackfillOptions{
			FromBlock: backfillFrom,
			ToBlock:   backfillTo,
			Step:      backfillStep,
			DryRun:    backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().Uint64Var(&backfillFrom, "from-block", 0, "End block of the first window")
	backfillCmd.Flags().Uint64Var(&backfillTo, "to-block", 0, "End block of the last window")
	backfillCmd.Flags().Uint64Var(&backfillStep, "step", 0, "Blocks between window ends (defaults to window size)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Compute without saving state")
}
