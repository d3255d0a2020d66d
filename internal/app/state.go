package app

import (
	"context"
	"fmt"
	"os"

	"eth-spike-alerts/internal/state"
)

// ShowState prints the persisted record as JSON.
func (a *App) ShowState(ctx context.Context) error {
	st, err := a.openState()
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if err := rec.Validate(); err != nil {
		a.Logger.Warn().Err(err).Msg("persisted baseline is invalid and will be ignored by run")
	}

	data, err := state.Encode(rec)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

// ResetState clears the baseline and, unless keepCursor is set, the dedup cursor.
func (a *App) ResetState(ctx context.Context, keepCursor bool) error {
	st, err := a.openState()
	if err != nil {
		return err
	}
	defer st.Close()

	var cursor *uint64
	if keepCursor {
		rec := state.LoadOrEmpty(ctx, st, a.Logger)
		cursor = rec.Cursor()
	}

	rec := state.Record{DedupCursor: cursor, UpdatedAt: nowUTC()}
	if err := st.Save(ctx, rec); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	a.Logger.Info().Bool("kept_cursor", keepCursor).Msg("state reset")
	return nil
}
