package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"eth-spike-alerts/internal/storage"
)

// Export renders cycle history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	cycles, err := store.ListCyclesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		a.Logger.Info().Msg("no cycles found for export window")
		return nil
	}

	downsampled := downsampleCycles(cycles, opts.MaxPoints)
	a.Logger.Info().Int("total", len(cycles)).Int("exported", len(downsampled)).Msg("exporting cycles")

	if opts.CSVPath != "" {
		if err := writeCyclesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeCyclesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// downsampleCycles keeps max evenly spaced cycles, always including both ends.
func downsampleCycles(cycles []storage.CycleRecord, max int) []storage.CycleRecord {
	if max <= 0 || len(cycles) <= max {
		return cycles
	}
	if max == 1 {
		return cycles[len(cycles)-1:]
	}

	result := make([]storage.CycleRecord, 0, max)
	step := float64(len(cycles)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(cycles) {
			idx = len(cycles) - 1
		}
		result = append(result, cycles[idx])
	}
	return result
}

func writeCyclesCSV(path string, cycles []storage.CycleRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"cycle_ts", "cycle_id", "start_block", "end_block", "high_value_count", "baseline_mean", "baseline_std", "ratio", "z_score", "alerted"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, c := range cycles {
		record := []string{
			c.CycleTS.UTC().Format(time.RFC3339),
			c.ID.String(),
			strconv.FormatUint(c.StartBlock, 10),
			strconv.FormatUint(c.EndBlock, 10),
			strconv.FormatUint(c.HighValueCount, 10),
			strconv.FormatFloat(c.BaselineMean, 'f', -1, 64),
			strconv.FormatFloat(c.BaselineStd, 'f', -1, 64),
			csvOptional(c.Ratio),
			csvOptional(c.ZScore),
			strconv.FormatBool(c.Alerted),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func csvOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func writeCyclesPNG(path string, cycles []storage.CycleRecord) error {
	if len(cycles) < 2 {
		return errors.New("need at least two cycles to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(cycles))
	count := make([]float64, len(cycles))
	mean := make([]float64, len(cycles))
	upper := make([]float64, len(cycles))

	for i, c := range cycles {
		x[i] = c.CycleTS
		count[i] = float64(c.HighValueCount)
		mean[i] = c.BaselineMean
		upper[i] = c.BaselineMean + c.BaselineStd
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "High-value tx per window",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Count",
				XValues: x,
				YValues: count,
			},
			chart.TimeSeries{
				Name:    "EMA mean",
				XValues: x,
				YValues: mean,
			},
			chart.TimeSeries{
				Name:    "Mean + 1 std",
				XValues: x,
				YValues: upper,
				Style: chart.Style{
					StrokeDashArray: []float64{5, 5},
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
