package app

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"eth-spike-alerts/internal/alerting"
	"eth-spike-alerts/internal/config"
	"eth-spike-alerts/internal/state"
	"eth-spike-alerts/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Scheduler: config.SchedulerConfig{Interval: 15 * time.Second},
		Chain: config.ChainConfig{
			Provider:    "etherscan",
			Concurrency: 2,
			Etherscan:   config.EtherscanConfig{APIKey: "key"},
		},
		Detector: config.DetectorConfig{
			WindowBlocks:   20,
			Alpha:          0.1,
			ZThreshold:     3,
			RatioThreshold: 2,
			MinCount:       20,
			ValueThreshold: decimal.NewFromInt(10),
			ValueDecimals:  18,
			Asset:          "ETH",
		},
		State: config.StateConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "state.json")},
		Alerting: config.AlertingConfig{
			Enabled:     true,
			Channels:    []string{"log"},
			SendTimeout: time.Second,
		},
		Export: config.ExportConfig{MaxDataPoints: 100},
	}
}

func sampleCycles(n int) []storage.CycleRecord {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]storage.CycleRecord, n)
	for i := range out {
		ratio := 1.0 + float64(i)/10
		out[i] = storage.CycleRecord{
			ID:             uuid.New(),
			CycleTS:        base.Add(time.Duration(i) * 15 * time.Second),
			StartBlock:     uint64(100 + i),
			EndBlock:       uint64(119 + i),
			HighValueCount: uint64(i % 7),
			BaselineMean:   3,
			BaselineStd:    1.5,
			Ratio:          &ratio,
		}
	}
	return out
}

func TestDownsampleCyclesKeepsEnds(t *testing.T) {
	cycles := sampleCycles(10)
	out := downsampleCycles(cycles, 4)
	require.Len(t, out, 4)
	require.Equal(t, cycles[0].ID, out[0].ID)
	require.Equal(t, cycles[9].ID, out[3].ID)

	require.Len(t, downsampleCycles(cycles, 20), 10)
	require.Len(t, downsampleCycles(cycles, 1), 1)
}

func TestWriteCyclesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "cycles.csv")
	cycles := sampleCycles(3)
	cycles[1].ZScore = nil
	require.NoError(t, writeCyclesCSV(path, cycles))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, "cycle_ts", rows[0][0])
	require.Equal(t, "119", rows[1][3])
	require.Equal(t, "", rows[2][8], "infinite z is exported empty")
}

func TestWriteCyclesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, writeCyclesPNG(path, sampleCycles(5)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	require.Error(t, writeCyclesPNG(path, sampleCycles(1)))
}

func TestResetStateKeepsCursor(t *testing.T) {
	cfg := testConfig(t)
	a := NewApp(cfg, zerolog.Nop())
	ctx := context.Background()

	st, err := state.NewFileStore(cfg.State.Path)
	require.NoError(t, err)
	mean, variance, cursor := 4.0, 2.0, uint64(77)
	require.NoError(t, st.Save(ctx, state.Record{BaselineMean: &mean, BaselineVariance: &variance, DedupCursor: &cursor}))

	require.NoError(t, a.ResetState(ctx, true))
	rec, err := st.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, rec.BaselineMean)
	require.Equal(t, uint64(77), *rec.DedupCursor)

	require.NoError(t, a.ResetState(ctx, false))
	rec, err = st.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, rec.DedupCursor)

	require.NoError(t, a.ShowState(ctx))
}

func TestNewNotifierChannels(t *testing.T) {
	cfg := testConfig(t)
	cfg.Alerting.Channels = []string{"log", "discord"}
	cfg.Alerting.Discord.WebhookURLs = []string{"http://a.invalid", "http://b.invalid"}
	a := NewApp(cfg, zerolog.Nop())

	n, closeFn, err := a.newNotifier()
	require.NoError(t, err)
	defer closeFn()
	multi, ok := n.(*alerting.Multi)
	require.True(t, ok)
	require.Equal(t, 3, multi.Len())

	cfg.Alerting.Channels = []string{"telegram"}
	_, _, err = a.newNotifier()
	require.Error(t, err, "telegram without token must fail")

	cfg.Alerting.Enabled = false
	n, _, err = a.newNotifier()
	require.NoError(t, err)
	require.Nil(t, n)
}

func TestNewDataSourceRequiresCredentials(t *testing.T) {
	cfg := testConfig(t)
	a := NewApp(cfg, zerolog.Nop())

	src, closeFn, err := a.newDataSource()
	require.NoError(t, err)
	require.NotNil(t, src)
	closeFn()

	cfg.Chain.Provider = "rpc"
	_, _, err = a.newDataSource()
	require.Error(t, err)

	cfg.Chain.RPC.URL = "http://127.0.0.1:8545"
	_, closeFn, err = a.newDataSource()
	require.NoError(t, err)
	closeFn()
}

func TestHistoryCommandsNeedDatabase(t *testing.T) {
	a := NewApp(testConfig(t), zerolog.Nop())
	ctx := context.Background()
	require.Error(t, a.Show(ctx, ShowOptions{Limit: 5}))
	require.Error(t, a.Export(ctx, ExportOptions{CSVPath: "x.csv"}))
	require.Error(t, a.Export(ctx, ExportOptions{}))
	require.Error(t, a.Migrate(storage.MigrateUp))
}
