package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent cycles, or recent alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer writer.Flush()

	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stdout, "no alerts found")
			return nil
		}
		fmt.Fprintln(writer, "Time (UTC)\tEnd block\tDelivered\tError")
		for _, al := range alerts {
			errMsg := ""
			if al.Error != nil {
				errMsg = sanitizeInline(*al.Error)
			}
			fmt.Fprintf(writer, "%s\t%d\t%t\t%s\n", al.CreatedAt.UTC().Format(time.RFC3339), al.EndBlock, al.Delivered, errMsg)
		}
		return nil
	}

	cycles, err := store.ListRecentCycles(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Fprintln(os.Stdout, "no cycles found")
		return nil
	}

	fmt.Fprintln(writer, "Time (UTC)\tWindow\tCount\tMean\tStd\tRatio\tZ\tAlerted")
	for _, c := range cycles {
		fmt.Fprintf(
			writer,
			"%s\t[%d..%d]\t%d\t%s\t%s\t%s\t%s\t%t\n",
			c.CycleTS.UTC().Format(time.RFC3339),
			c.StartBlock,
			c.EndBlock,
			c.HighValueCount,
			formatFloat(c.BaselineMean),
			formatFloat(c.BaselineStd),
			formatOptional(c.Ratio),
			formatOptional(c.ZScore),
			c.Alerted,
		)
	}
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// formatOptional renders NULL (infinite) statistics as "inf".
func formatOptional(v *float64) string {
	if v == nil {
		return "inf"
	}
	return formatFloat(*v)
}
