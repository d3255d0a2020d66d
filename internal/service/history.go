package service

import (
	"context"
	"math"
	"strconv"
	"time"

	"eth-spike-alerts/internal/alerting"
	"eth-spike-alerts/internal/metrics"
	"eth-spike-alerts/internal/storage"
)

const historyTimeout = 5 * time.Second

// delivery is an alert send attempt waiting to be audited.
type delivery struct {
	alert alerting.Alert
	err   error
}

// recordHistory stores the cycle and reports whether the row was written.
// Failures are logged and never fail the cycle.
func (m *Monitor) recordHistory(ctx context.Context, res CycleResult) bool {
	if m.history == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	err := m.history.InsertCycle(ctx, storage.CycleRecord{
		ID:             res.ID,
		CycleTS:        res.At,
		StartBlock:     res.Window.Start,
		EndBlock:       res.Window.End,
		HighValueCount: res.Count,
		BaselineMean:   res.Baseline.Mean,
		BaselineStd:    res.Decision.Std,
		Ratio:          storage.FiniteOrNil(res.Decision.Ratio),
		ZScore:         storage.FiniteOrNil(res.Decision.Z),
		Alerted:        res.Alerted,
	})
	metrics.RecordDatabaseQuery("insert_cycle", err)
	if err != nil {
		m.logger.Error().Err(err).Str("cycle_id", res.ID.String()).Msg("failed to persist cycle record")
		return false
	}
	return true
}

// recordAlert audits the cycle's delivery attempt. The row references the
// cycle only when the cycle row exists, since cycle_id is a foreign key.
func (m *Monitor) recordAlert(ctx context.Context, res CycleResult, cycleStored bool) {
	if m.alerts == nil || res.delivery == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	rec := storage.AlertRecord{
		EndBlock:  res.Window.End,
		Message:   alerting.RenderPlain(res.delivery.alert),
		Delivered: res.delivery.err == nil,
	}
	if cycleStored {
		id := res.ID
		rec.CycleID = &id
	}
	if sendErr := res.delivery.err; sendErr != nil {
		msg := sendErr.Error()
		rec.Error = &msg
	}
	_, err := m.alerts.InsertAlert(ctx, rec)
	metrics.RecordDatabaseQuery("insert_alert", err)
	if err != nil {
		m.logger.Error().Err(err).Uint64("end_block", res.Window.End).Msg("failed to persist alert record")
	}
}

func (m *Monitor) publishStatus(res *CycleResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.estimator.Baseline()
	if b.Observed {
		mean, std := b.Mean, b.Std()
		m.status.BaselineMean = &mean
		m.status.BaselineStd = &std
	} else {
		m.status.BaselineMean, m.status.BaselineStd = nil, nil
	}
	m.status.DedupCursor = copyCursor(m.cursor)

	if res == nil {
		return
	}
	m.status.Cycles++
	m.status.LastCycleAt = res.At
	if res.Err != nil {
		m.status.Failures++
		m.status.LastError = res.Err.Error()
		return
	}
	m.status.LastError = ""
	m.status.LastWindow = res.Window.String()
	m.status.LastCount = res.Count
	if res.Alerted {
		end := res.Window.End
		m.status.LastAlertedBlock = &end
	}
}

// Status returns a snapshot safe to read while a cycle runs.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	s.DedupCursor = copyCursor(s.DedupCursor)
	s.LastAlertedBlock = copyCursor(s.LastAlertedBlock)
	return s
}

// Ready reports whether at least one cycle completed.
func (m *Monitor) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Cycles > m.status.Failures
}

func formatStat(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
