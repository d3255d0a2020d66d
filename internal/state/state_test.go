package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"eth-spike-alerts/internal/detector"
)

func TestRecordRoundTripKeepsAbsence(t *testing.T) {
	rec := NewRecord(detector.Baseline{}, nil, time.Unix(0, 0))
	data, err := Encode(rec)
	require.NoError(t, err)
	require.Contains(t, string(data), `"baselineMean": null`)
	require.Contains(t, string(data), `"dedupCursor": null`)

	back, err := Decode(data)
	require.NoError(t, err)
	require.False(t, back.Baseline().Observed)
	require.Nil(t, back.Cursor())
}

func TestRecordZeroIsNotAbsent(t *testing.T) {
	cursor := uint64(0)
	rec := NewRecord(detector.Baseline{Mean: 0, Variance: 0, Observed: true}, &cursor, time.Now())
	data, err := Encode(rec)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	require.True(t, back.Baseline().Observed)
	require.NotNil(t, back.Cursor())
	require.Equal(t, uint64(0), *back.Cursor())
}

func TestDecodeLegacyKeys(t *testing.T) {
	rec, err := Decode([]byte(`{"ema_mean": 12.5, "ema_var": 3.25, "last_alert_block": 19000000}`))
	require.NoError(t, err)

	b := rec.Baseline()
	require.True(t, b.Observed)
	require.Equal(t, 12.5, b.Mean)
	require.Equal(t, 3.25, b.Variance)
	require.Equal(t, uint64(19000000), *rec.Cursor())
}

func TestDecodeGarbageIsCorrupt(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestValidate(t *testing.T) {
	mean, neg := 3.0, -1.0
	require.NoError(t, Record{}.Validate())
	require.ErrorIs(t, Record{BaselineMean: &mean}.Validate(), ErrCorrupt)
	require.ErrorIs(t, Record{BaselineMean: &mean, BaselineVariance: &neg}.Validate(), ErrCorrupt)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	rec, err := store.Load(ctx)
	require.NoError(t, err)
	require.False(t, rec.Baseline().Observed, "missing file is empty state")

	cursor := uint64(42)
	want := NewRecord(detector.Baseline{Mean: 2, Variance: 1, Observed: true}, &cursor, time.Now())
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want.Baseline(), got.Baseline())
	require.Equal(t, uint64(42), *got.Cursor())

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err), "temp file renamed away")
}

func TestLoadOrEmptyFallsBackOnCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	rec := LoadOrEmpty(context.Background(), store, zerolog.Nop())
	require.False(t, rec.Baseline().Observed)
	require.Nil(t, rec.Cursor())
}

func TestLoadOrEmptyDropsInvalidBaselineKeepsCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"baselineMean": 4, "baselineVariance": -2, "dedupCursor": 7}`), 0o644))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	rec := LoadOrEmpty(context.Background(), store, zerolog.Nop())
	require.False(t, rec.Baseline().Observed)
	require.Equal(t, uint64(7), *rec.Cursor())
}

func TestBadgerStore(t *testing.T) {
	store, err := openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	rec, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, rec.BaselineMean)

	want := NewRecord(detector.Baseline{Mean: 8.5, Variance: 0.25, Observed: true}, nil, time.Now())
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want.Baseline(), got.Baseline())
	require.Nil(t, got.Cursor())
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "etcd"})
	require.Error(t, err)
}
