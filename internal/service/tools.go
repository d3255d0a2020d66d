package service

import (
	"context"
	"errors"
	"fmt"

	"eth-spike-alerts/internal/alerting"
	"eth-spike-alerts/internal/detector"
)

// BackfillOptions configure a baseline warm-up over historical windows.
type BackfillOptions struct {
	FromBlock uint64
	ToBlock   uint64
	Step      uint64
	DryRun    bool
}

// BackfillResult summarises a warm-up run.
type BackfillResult struct {
	Windows  int
	Baseline detector.Baseline
	Saved    bool
}

// Backfill folds the counts of windows ending at FromBlock, FromBlock+Step, …
// ToBlock into the baseline. It never alerts and leaves the dedup cursor
// alone. Any failure discards the whole run.
func (m *Monitor) Backfill(ctx context.Context, opts BackfillOptions) (BackfillResult, error) {
	if opts.FromBlock > opts.ToBlock {
		return BackfillResult{}, fmt.Errorf("from block %d is after to block %d", opts.FromBlock, opts.ToBlock)
	}
	step := opts.Step
	if step == 0 {
		step = m.opts.WindowBlocks
	}

	est := detector.NewEstimator(m.opts.Alpha)
	est.Restore(m.estimator.Baseline())

	var res BackfillResult
	for end := opts.FromBlock; ; end += step {
		w := detector.WindowFor(end, m.opts.WindowBlocks)
		count, err := m.sampler.Sample(ctx, w)
		if err != nil {
			return BackfillResult{}, fmt.Errorf("backfill window %s: %w", w, err)
		}
		b := est.Update(count)
		res.Windows++
		m.logger.Debug().Str("window", w.String()).Uint64("count", count).Float64("mean", b.Mean).Float64("std", b.Std()).Msg("backfill window")

		if opts.ToBlock-end < step {
			break
		}
	}
	res.Baseline = est.Baseline()

	if opts.DryRun {
		m.logger.Info().Int("windows", res.Windows).Float64("mean", res.Baseline.Mean).Float64("std", res.Baseline.Std()).Msg("backfill dry run complete")
		return res, nil
	}

	m.estimator.Restore(res.Baseline)
	if err := m.persist(ctx); err != nil {
		return res, fmt.Errorf("persist backfilled baseline: %w", err)
	}
	res.Saved = true
	m.publishStatus(nil)
	m.logger.Info().Int("windows", res.Windows).Float64("mean", res.Baseline.Mean).Float64("std", res.Baseline.Std()).Msg("backfill complete")
	return res, nil
}

// SimulateOptions configure a dry evaluation of a hypothetical count.
type SimulateOptions struct {
	Count uint64
	// EndBlock labels the window; zero uses the current chain tip.
	EndBlock uint64
	Force    bool
}

// SimulateResult is what a cycle with the given count would have done.
type SimulateResult struct {
	Alert     alerting.Alert
	Baseline  detector.Baseline
	Decision  detector.Decision
	WouldEmit bool
	Sent      bool
}

// Simulate evaluates Count against the committed baseline without mutating
// it and sends the alert if it would fire (or Force is set).
func (m *Monitor) Simulate(ctx context.Context, opts SimulateOptions) (SimulateResult, error) {
	end := opts.EndBlock
	if end == 0 {
		tip, err := m.source.ChainTip(ctx)
		if err != nil {
			return SimulateResult{}, fmt.Errorf("fetch chain tip: %w", err)
		}
		end = tip
	}
	w := detector.WindowFor(end, m.opts.WindowBlocks)

	var res SimulateResult
	res.Baseline = m.estimator.Peek(opts.Count)
	res.Decision = detector.Decide(opts.Count, res.Baseline, m.opts.Thresholds)
	res.WouldEmit = res.Decision.IsAlert && detector.ShouldEmit(w.End, m.cursor)
	res.Alert = m.buildAlert(m.now(), w, opts.Count, res.Baseline, res.Decision)

	if !res.WouldEmit && !opts.Force {
		return res, nil
	}
	if m.notifier == nil {
		return res, errors.New("no notifier configured")
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.opts.SendTimeout)
	defer cancel()
	if err := m.notifier.Send(sendCtx, res.Alert); err != nil {
		return res, fmt.Errorf("send simulated alert: %w", err)
	}
	res.Sent = true
	return res, nil
}
