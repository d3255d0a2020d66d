package service

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"eth-spike-alerts/internal/alerting"
	"eth-spike-alerts/internal/chain"
	"eth-spike-alerts/internal/detector"
	"eth-spike-alerts/internal/state"
	"eth-spike-alerts/internal/storage"
)

var tenEth = new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000))

type fakeSource struct {
	mu      sync.Mutex
	tip     uint64
	tipErr  error
	blocks  map[uint64]int // high-value tx per height
	failAt  map[uint64]error
	fetches int
}

func (f *fakeSource) ChainTip(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, f.tipErr
}

func (f *fakeSource) Block(ctx context.Context, height uint64) ([]chain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if err := f.failAt[height]; err != nil {
		return nil, err
	}
	txs := []chain.Transaction{{Hash: "small", Value: big.NewInt(1)}}
	for i := 0; i < f.blocks[height]; i++ {
		txs = append(txs, chain.Transaction{Hash: "big", Value: tenEth})
	}
	return txs, nil
}

func (f *fakeSource) setTip(tip uint64) {
	f.mu.Lock()
	f.tip = tip
	f.mu.Unlock()
}

type fakeNotifier struct {
	err  error
	sent []alerting.Alert
}

func (n *fakeNotifier) Send(ctx context.Context, a alerting.Alert) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, a)
	return nil
}

func testOptions() Options {
	return Options{
		WindowBlocks:  5,
		Alpha:         0.1,
		Thresholds:    detector.Thresholds{MinCount: 5, Z: 3, Ratio: 2},
		Value:         detector.NewValueThreshold(decimal.NewFromInt(10), 18),
		Concurrency:   3,
		Asset:         "ETH",
		Network:       "Ethereum",
		AlertsEnabled: true,
		SendTimeout:   time.Second,
	}
}

func newTestMonitor(t *testing.T, src *fakeSource, n alerting.Notifier) (*Monitor, *state.FileStore) {
	t.Helper()
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	m, err := New(testOptions(), Deps{Source: src, State: store, Notifier: n, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return m, store
}

func seed(t *testing.T, store state.Store, mean, variance float64, cursor *uint64) {
	t.Helper()
	rec := state.NewRecord(detector.Baseline{Mean: mean, Variance: variance, Observed: true}, cursor, time.Now())
	require.NoError(t, store.Save(context.Background(), rec))
}

// spikeSource places eight high-value transactions in blocks 96..100.
func spikeSource() *fakeSource {
	return &fakeSource{tip: 100, blocks: map[uint64]int{96: 2, 97: 2, 98: 2, 99: 1, 100: 1}}
}

func TestFirstCycleSeedsBaselineWithoutAlert(t *testing.T) {
	src := spikeSource()
	n := &fakeNotifier{}
	m, store := newTestMonitor(t, src, n)
	m.Load(context.Background())

	res := m.RunCycle(context.Background())
	require.True(t, res.OK())
	require.Equal(t, detector.Window{Start: 96, End: 100}, res.Window)
	require.Equal(t, uint64(8), res.Count)
	require.Equal(t, 8.0, res.Baseline.Mean)
	require.Equal(t, 0.0, res.Baseline.Variance)
	require.False(t, res.Decision.IsAlert)
	require.Empty(t, n.sent)
	require.Equal(t, 5, src.fetches)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec.BaselineMean)
	require.Equal(t, 8.0, *rec.BaselineMean)
	require.Nil(t, rec.DedupCursor)
}

func TestSpikeAlertsOncePerWindowEnd(t *testing.T) {
	src := spikeSource()
	n := &fakeNotifier{}
	m, store := newTestMonitor(t, src, n)
	seed(t, store, 2, 1, nil)
	m.Load(context.Background())

	res := m.RunCycle(context.Background())
	require.True(t, res.OK())
	require.True(t, res.Decision.IsAlert)
	require.True(t, res.Alerted)
	require.Len(t, n.sent, 1)
	require.Equal(t, uint64(100), n.sent[0].Window.End)
	require.Equal(t, uint64(8), n.sent[0].Count)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec.DedupCursor)
	require.Equal(t, uint64(100), *rec.DedupCursor)

	// Same tip: the baseline moves to ~3.14, ratio ~2.55 still fires, but the alert is suppressed.
	res = m.RunCycle(context.Background())
	require.True(t, res.OK())
	require.True(t, res.Decision.IsAlert)
	require.True(t, res.Suppressed)
	require.False(t, res.Alerted)
	require.Len(t, n.sent, 1)
	require.True(t, m.Ready())
	require.Equal(t, uint64(100), *m.Status().DedupCursor)
}

func TestSinkFailureKeepsCursorAndCommitsBaseline(t *testing.T) {
	src := spikeSource()
	n := &fakeNotifier{err: &alerting.SinkError{Channel: "telegram", StatusCode: 502}}
	m, store := newTestMonitor(t, src, n)
	seed(t, store, 2, 1, nil)
	m.Load(context.Background())

	res := m.RunCycle(context.Background())
	require.True(t, res.OK(), "sink failure must not fail the cycle")
	require.Error(t, res.AlertErr)
	var se *alerting.SinkError
	require.ErrorAs(t, res.AlertErr, &se)
	require.False(t, res.Alerted)
	require.Nil(t, m.Cursor())

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, rec.DedupCursor)
	require.InDelta(t, res.Baseline.Mean, *rec.BaselineMean, 1e-12)

	// Next cycle on the same tip retries delivery.
	n.err = nil
	res = m.RunCycle(context.Background())
	require.True(t, res.OK())
	require.True(t, res.Decision.IsAlert)
	require.True(t, res.Alerted)
	require.Len(t, n.sent, 1)
	require.Equal(t, uint64(100), *m.Cursor())
}

func TestSampleFailureLeavesStateUntouched(t *testing.T) {
	src := spikeSource()
	src.failAt = map[uint64]error{98: errors.New("boom")}
	n := &fakeNotifier{}
	m, store := newTestMonitor(t, src, n)
	seed(t, store, 2, 1, nil)
	m.Load(context.Background())
	before := m.Baseline()

	res := m.RunCycle(context.Background())
	require.False(t, res.OK())
	require.Equal(t, StageSample, res.Stage)
	require.Equal(t, before, m.Baseline())
	require.Empty(t, n.sent)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2.0, *rec.BaselineMean)

	require.Error(t, m.Tick(context.Background(), time.Now()))
}

func TestTipFailureAbortsCycle(t *testing.T) {
	src := &fakeSource{tipErr: chain.ErrDataSource}
	m, _ := newTestMonitor(t, src, &fakeNotifier{})
	m.Load(context.Background())

	res := m.RunCycle(context.Background())
	require.ErrorIs(t, res.Err, chain.ErrDataSource)
	require.Equal(t, StageTip, res.Stage)
	require.False(t, m.Baseline().Observed)
	require.Equal(t, 0, src.fetches)
	require.False(t, m.Ready())
}

func TestNewTipAlertsAgain(t *testing.T) {
	src := spikeSource()
	n := &fakeNotifier{}
	m, store := newTestMonitor(t, src, n)
	cursor := uint64(99)
	seed(t, store, 2, 1, &cursor)
	m.Load(context.Background())

	res := m.RunCycle(context.Background())
	require.True(t, res.Alerted)
	require.Equal(t, uint64(100), *m.Cursor())
}

func TestCorruptStateStartsEmpty(t *testing.T) {
	src := spikeSource()
	m, store := newTestMonitor(t, src, &fakeNotifier{})
	mean, variance := 2.0, -1.0
	require.NoError(t, store.Save(context.Background(), state.Record{BaselineMean: &mean, BaselineVariance: &variance}))

	m.Load(context.Background())
	require.False(t, m.Baseline().Observed)
}

func TestBackfillWarmsBaseline(t *testing.T) {
	src := &fakeSource{tip: 200, blocks: map[uint64]int{10: 1, 20: 3}}
	m, store := newTestMonitor(t, src, &fakeNotifier{})
	m.Load(context.Background())

	res, err := m.Backfill(context.Background(), BackfillOptions{FromBlock: 10, ToBlock: 20, Step: 5, DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 3, res.Windows)
	require.False(t, res.Saved)
	require.False(t, m.Baseline().Observed)

	res, err = m.Backfill(context.Background(), BackfillOptions{FromBlock: 10, ToBlock: 20, Step: 5})
	require.NoError(t, err)
	require.True(t, res.Saved)
	require.Equal(t, res.Baseline, m.Baseline())

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec.BaselineMean)
	require.Nil(t, rec.DedupCursor)
}

func TestBackfillRejectsInvertedRange(t *testing.T) {
	m, _ := newTestMonitor(t, spikeSource(), &fakeNotifier{})
	_, err := m.Backfill(context.Background(), BackfillOptions{FromBlock: 20, ToBlock: 10})
	require.Error(t, err)
}

func TestSimulateDoesNotMutate(t *testing.T) {
	src := spikeSource()
	n := &fakeNotifier{}
	m, store := newTestMonitor(t, src, n)
	seed(t, store, 2, 1, nil)
	m.Load(context.Background())
	before := m.Baseline()

	res, err := m.Simulate(context.Background(), SimulateOptions{Count: 1})
	require.NoError(t, err)
	require.False(t, res.WouldEmit)
	require.False(t, res.Sent)

	res, err = m.Simulate(context.Background(), SimulateOptions{Count: 1, Force: true, EndBlock: 42})
	require.NoError(t, err)
	require.True(t, res.Sent)
	require.Equal(t, uint64(42), n.sent[0].Window.End)

	res, err = m.Simulate(context.Background(), SimulateOptions{Count: 50})
	require.NoError(t, err)
	require.True(t, res.WouldEmit)
	require.True(t, res.Sent)

	require.Equal(t, before, m.Baseline())
	require.Nil(t, m.Cursor())
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(testOptions(), Deps{Logger: zerolog.Nop()})
	require.Error(t, err)

	opts := testOptions()
	opts.Alpha = 0
	store, _ := state.NewFileStore(filepath.Join(t.TempDir(), "s.json"))
	_, err = New(opts, Deps{Source: spikeSource(), State: store, Logger: zerolog.Nop()})
	require.Error(t, err)
}

type memHistory struct {
	cycles []storage.CycleRecord
	alerts []storage.AlertRecord
	err    error
}

func (h *memHistory) InsertCycle(ctx context.Context, c storage.CycleRecord) error {
	if h.err != nil {
		return h.err
	}
	h.cycles = append(h.cycles, c)
	return nil
}

func (h *memHistory) ListCyclesBetween(ctx context.Context, from, to time.Time) ([]storage.CycleRecord, error) {
	return h.cycles, nil
}

func (h *memHistory) ListRecentCycles(ctx context.Context, limit int) ([]storage.CycleRecord, error) {
	return h.cycles, nil
}

func (h *memHistory) InsertAlert(ctx context.Context, a storage.AlertRecord) (storage.AlertRecord, error) {
	h.alerts = append(h.alerts, a)
	return a, nil
}

func (h *memHistory) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return h.alerts, nil
}

func newHistoryMonitor(t *testing.T, src *fakeSource, n alerting.Notifier, h *memHistory) *Monitor {
	t.Helper()
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	seed(t, store, 2, 1, nil)

	m, err := New(testOptions(), Deps{Source: src, State: store, Notifier: n, History: h, Alerts: h, Logger: zerolog.Nop()})
	require.NoError(t, err)
	m.Load(context.Background())
	return m
}

func TestAlertRowReferencesCycle(t *testing.T) {
	h := &memHistory{}
	m := newHistoryMonitor(t, spikeSource(), &fakeNotifier{}, h)

	res := m.RunCycle(context.Background())
	require.True(t, res.Alerted)
	require.Len(t, h.cycles, 1)
	require.NotEqual(t, uuid.Nil, h.cycles[0].ID)
	require.True(t, h.cycles[0].Alerted)
	require.Len(t, h.alerts, 1)
	require.NotNil(t, h.alerts[0].CycleID)
	require.Equal(t, h.cycles[0].ID, *h.alerts[0].CycleID)
	require.Equal(t, res.ID, *h.alerts[0].CycleID)
	require.True(t, h.alerts[0].Delivered)
	require.Nil(t, h.alerts[0].Error)
}

func TestFailedDeliveryRowReferencesCycle(t *testing.T) {
	h := &memHistory{}
	m := newHistoryMonitor(t, spikeSource(), &fakeNotifier{err: errors.New("boom")}, h)

	res := m.RunCycle(context.Background())
	require.Error(t, res.AlertErr)
	require.Len(t, h.alerts, 1)
	require.Equal(t, res.ID, *h.alerts[0].CycleID)
	require.False(t, h.alerts[0].Delivered)
	require.NotNil(t, h.alerts[0].Error)
}

func TestAlertRowUnlinkedWhenCycleInsertFails(t *testing.T) {
	h := &memHistory{err: errors.New("db down")}
	m := newHistoryMonitor(t, spikeSource(), &fakeNotifier{}, h)

	res := m.RunCycle(context.Background())
	require.True(t, res.Alerted)
	require.Empty(t, h.cycles)
	require.Len(t, h.alerts, 1)
	require.Nil(t, h.alerts[0].CycleID)
}

func TestNoAlertRowWithoutDelivery(t *testing.T) {
	h := &memHistory{}
	m := newHistoryMonitor(t, &fakeSource{tip: 100}, &fakeNotifier{}, h)

	res := m.RunCycle(context.Background())
	require.True(t, res.OK())
	require.False(t, res.Decision.IsAlert)
	require.Len(t, h.cycles, 1)
	require.Empty(t, h.alerts)
}
