package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eth-spike-alerts/internal/alerting"
	"eth-spike-alerts/internal/chain"
	"eth-spike-alerts/internal/detector"
	"eth-spike-alerts/internal/metrics"
	"eth-spike-alerts/internal/scheduler"
	"eth-spike-alerts/internal/state"
	"eth-spike-alerts/internal/storage"
)

// Cycle stages, reported in CycleResult.Stage.
const (
	StageTip     = "tip"
	StageSample  = "sample"
	StageAlert   = "alert"
	StagePersist = "persist"
	StageDone    = "done"
)

// Options are the detection knobs of a Monitor.
type Options struct {
	WindowBlocks  uint64
	Alpha         float64
	Thresholds    detector.Thresholds
	Value         detector.ValueThreshold
	Concurrency   int
	Asset         string
	Network       string
	AlertsEnabled bool
	SendTimeout   time.Duration
	LockKey       int64
}

// Deps are the collaborators of a Monitor. Notifier, History, Alerts and
// Locker are optional.
type Deps struct {
	Source   chain.DataSource
	State    state.Store
	Notifier alerting.Notifier
	History  storage.CycleStore
	Alerts   storage.AlertStore
	Locker   storage.AdvisoryLocker
	Logger   zerolog.Logger
	Now      func() time.Time
}

// CycleResult is the outcome of one poll cycle.
type CycleResult struct {
	ID       uuid.UUID
	At       time.Time
	Tip      uint64
	Window   detector.Window
	Count    uint64
	Baseline detector.Baseline
	Decision detector.Decision
	// Suppressed is set when the decision fired but the window end was
	// already alerted.
	Suppressed bool
	Alerted    bool
	AlertErr   error
	PersistErr error
	Err        error
	Stage      string

	delivery *delivery
}

// OK reports whether the cycle was fully evaluated.
func (r CycleResult) OK() bool { return r.Err == nil }

// Status is a snapshot of the monitor for the ops endpoint.
type Status struct {
	BaselineMean     *float64  `json:"baselineMean"`
	BaselineStd      *float64  `json:"baselineStd"`
	DedupCursor      *uint64   `json:"dedupCursor"`
	Cycles           uint64    `json:"cycles"`
	Failures         uint64    `json:"failures"`
	LastCycleAt      time.Time `json:"lastCycleAt,omitempty"`
	LastWindow       string    `json:"lastWindow,omitempty"`
	LastCount        uint64    `json:"lastCount"`
	LastAlertedBlock *uint64   `json:"lastAlertedBlock"`
	LastError        string    `json:"lastError,omitempty"`
}

// Monitor owns the baseline estimator and dedup cursor and runs poll cycles.
// Cycles must not overlap; the scheduler guarantees that.
type Monitor struct {
	opts     Options
	source   chain.DataSource
	sampler  *detector.Sampler
	store    state.Store
	notifier alerting.Notifier
	history  storage.CycleStore
	alerts   storage.AlertStore
	locker   storage.AdvisoryLocker
	logger   zerolog.Logger
	now      func() time.Time

	estimator *detector.Estimator
	cursor    *uint64

	mu     sync.RWMutex
	status Status
}

// New constructs a Monitor with an empty baseline. Call Load to restore state.
func New(opts Options, deps Deps) (*Monitor, error) {
	if deps.Source == nil {
		return nil, errors.New("service: data source is required")
	}
	if deps.State == nil {
		return nil, errors.New("service: state store is required")
	}
	if opts.WindowBlocks == 0 {
		return nil, errors.New("service: window size must be positive")
	}
	if opts.Alpha <= 0 || opts.Alpha > 1 {
		return nil, fmt.Errorf("service: alpha %v out of range (0, 1]", opts.Alpha)
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 20 * time.Second
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Monitor{
		opts:      opts,
		source:    deps.Source,
		sampler:   detector.NewSampler(deps.Source, opts.Value, opts.Concurrency),
		store:     deps.State,
		notifier:  deps.Notifier,
		history:   deps.History,
		alerts:    deps.Alerts,
		locker:    deps.Locker,
		logger:    deps.Logger.With().Str("component", "monitor").Logger(),
		now:       now,
		estimator: detector.NewEstimator(opts.Alpha),
	}, nil
}

// Load restores the baseline and cursor from the state store. Unreadable
// state falls back to empty.
func (m *Monitor) Load(ctx context.Context) state.Record {
	rec := state.LoadOrEmpty(ctx, m.store, m.logger)
	m.estimator.Restore(rec.Baseline())
	m.cursor = rec.Cursor()
	m.publishStatus(nil)

	b := m.estimator.Baseline()
	event := m.logger.Info().Bool("baseline_observed", b.Observed)
	if b.Observed {
		event = event.Float64("mean", b.Mean).Float64("std", b.Std())
	}
	if m.cursor != nil {
		event = event.Uint64("dedup_cursor", *m.cursor)
	}
	event.Msg("state loaded")
	return rec
}

// Baseline returns the committed baseline.
func (m *Monitor) Baseline() detector.Baseline { return m.estimator.Baseline() }

// Cursor returns a copy of the dedup cursor.
func (m *Monitor) Cursor() *uint64 { return copyCursor(m.cursor) }

// Run drives cycles with sched until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, sched *scheduler.Scheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return sched.Run(ctx, m.Tick)
}

// Tick adapts a cycle to scheduler.TickFunc, holding the advisory lock when
// configured. A failed cycle is returned so the scheduler logs it.
func (m *Monitor) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		m.logger.Debug().Time("at", at).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	res := m.RunCycle(ctx)
	if res.Err != nil {
		return fmt.Errorf("cycle %s failed at %s: %w", res.ID, res.Stage, res.Err)
	}
	return nil
}

// RunCycle samples the latest window, updates the baseline, alerts when the
// decision fires for a new window end, and persists the result.
//
// Tip or sampling failures leave the baseline and cursor untouched. A sink
// failure is reported in AlertErr; the baseline still commits but the cursor
// does not advance, so the next cycle on the same tip retries the alert.
func (m *Monitor) RunCycle(ctx context.Context) CycleResult {
	started := time.Now()
	res := CycleResult{ID: storage.NewCycleID(), At: m.now(), Stage: StageTip}

	res = m.evaluate(ctx, res)
	if res.Err != nil {
		status := "error"
		if errors.Is(res.Err, context.Canceled) {
			status = "cancelled"
		}
		metrics.RecordCycle(time.Since(started), status)
		m.publishStatus(&res)
		m.logger.Error().Err(res.Err).Str("cycle_id", res.ID.String()).Str("stage", res.Stage).Msg("cycle aborted")
		return res
	}

	// Commit the baseline before alerting, then alert, then persist.
	m.estimator.Restore(res.Baseline)
	if res.Decision.IsAlert {
		res.Stage = StageAlert
		if detector.ShouldEmit(res.Window.End, m.cursor) {
			m.alert(ctx, &res)
		} else {
			res.Suppressed = true
			metrics.RecordAlert(nil, true)
		}
	}

	res.Stage = StagePersist
	if err := m.persist(ctx); err != nil {
		res.PersistErr = err
		m.logger.Error().Err(err).Str("cycle_id", res.ID.String()).Msg("failed to persist state")
	}
	res.Stage = StageDone

	stored := m.recordHistory(ctx, res)
	m.recordAlert(ctx, res, stored)

	status := "ok"
	if res.Alerted {
		status = "alert"
	}
	metrics.RecordCycle(time.Since(started), status)
	metrics.RecordObservation(res.Tip, res.Count, res.Baseline.Mean, res.Decision.Std, res.Decision.Ratio, res.Decision.Z)
	m.publishStatus(&res)

	m.logger.Info().
		Str("cycle_id", res.ID.String()).
		Str("window", res.Window.String()).
		Uint64("count", res.Count).
		Float64("mean", res.Baseline.Mean).
		Float64("std", res.Decision.Std).
		Str("ratio", formatStat(res.Decision.Ratio)).
		Str("z", formatStat(res.Decision.Z)).
		Bool("alert", res.Decision.IsAlert).
		Bool("sent", res.Alerted).
		Bool("suppressed", res.Suppressed).
		Msg("cycle complete")

	return res
}

// evaluate runs tip, window, sample and decide without touching monitor state.
func (m *Monitor) evaluate(ctx context.Context, res CycleResult) CycleResult {
	tip, err := m.source.ChainTip(ctx)
	if err != nil {
		res.Err = fmt.Errorf("fetch chain tip: %w", err)
		return res
	}
	res.Tip = tip
	res.Window = detector.WindowFor(tip, m.opts.WindowBlocks)

	res.Stage = StageSample
	count, err := m.sampler.Sample(ctx, res.Window)
	if err != nil {
		res.Err = fmt.Errorf("sample window %s: %w", res.Window, err)
		return res
	}
	res.Count = count

	res.Baseline = m.estimator.Peek(count)
	res.Decision = detector.Decide(count, res.Baseline, m.opts.Thresholds)
	return res
}

func (m *Monitor) alert(ctx context.Context, res *CycleResult) {
	msg := m.buildAlert(res.At, res.Window, res.Count, res.Baseline, res.Decision)

	if !m.opts.AlertsEnabled || m.notifier == nil {
		m.logger.Warn().Str("window", res.Window.String()).Msg("alert fired but alerting is disabled")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.opts.SendTimeout)
	err := m.notifier.Send(sendCtx, msg)
	cancel()
	metrics.RecordAlert(err, false)
	res.delivery = &delivery{alert: msg, err: err}

	if err != nil {
		res.AlertErr = err
		m.logger.Error().Err(err).Str("window", res.Window.String()).Msg("failed to dispatch alert")
		return
	}

	end := res.Window.End
	m.cursor = &end
	res.Alerted = true
	// Save right away so a crash before PERSISTING cannot repeat the alert.
	if err := m.persist(ctx); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist dedup cursor after alert")
	}
}

func (m *Monitor) buildAlert(at time.Time, w detector.Window, count uint64, b detector.Baseline, d detector.Decision) alerting.Alert {
	return alerting.Alert{
		Time:      at,
		Window:    w,
		Count:     count,
		Mean:      b.Mean,
		Std:       d.Std,
		Ratio:     d.Ratio,
		Z:         d.Z,
		Threshold: m.opts.Value.Threshold(),
		Asset:     m.opts.Asset,
		Network:   m.opts.Network,
	}
}

func (m *Monitor) persist(ctx context.Context) error {
	rec := state.NewRecord(m.estimator.Baseline(), m.cursor, m.now())
	return m.store.Save(ctx, rec)
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.opts.LockKey == 0 || m.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func copyCursor(c *uint64) *uint64 {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}
