package app

import (
	"context"
	"fmt"
	"os"

	"eth-spike-alerts/internal/service"
)

// BackfillOptions configure the baseline warm-up.
type BackfillOptions struct {
	FromBlock uint64
	ToBlock   uint64
	Step      uint64
	DryRun    bool
}

// Backfill warms the persisted baseline from historical windows.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	sess, err := a.openSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer sess.Close()

	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入状态")
	}

	res, err := sess.monitor.Backfill(ctx, service.BackfillOptions{
		FromBlock: opts.FromBlock,
		ToBlock:   opts.ToBlock,
		Step:      opts.Step,
		DryRun:    opts.DryRun,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "windows: %d\nmean: %.4f\nstd: %.4f\nsaved: %t\n",
		res.Windows, res.Baseline.Mean, res.Baseline.Std(), res.Saved)
	return nil
}
