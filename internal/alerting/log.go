package alerting

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes alerts to the logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log sender.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Send logs the alert.
func (l *LogNotifier) Send(ctx context.Context, alert Alert) error {
	l.logger.Warn().
		Uint64("start_block", alert.Window.Start).
		Uint64("end_block", alert.Window.End).
		Uint64("count", alert.Count).
		Float64("mean", alert.Mean).
		Float64("std", alert.Std).
		Str("ratio", formatFloat(alert.Ratio)).
		Str("z", formatFloat(alert.Z)).
		Msg("spike alert")
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
