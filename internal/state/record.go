package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"eth-spike-alerts/internal/detector"
)

// ErrCorrupt indicates a persisted record that cannot be decoded.
var ErrCorrupt = errors.New("state: corrupt record")

// Record is the persisted baseline and dedup cursor. Nil fields mean
// "not yet observed", which is distinct from zero.
type Record struct {
	BaselineMean     *float64  `json:"baselineMean"`
	BaselineVariance *float64  `json:"baselineVariance"`
	DedupCursor      *uint64   `json:"dedupCursor"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// NewRecord snapshots a baseline and cursor.
func NewRecord(b detector.Baseline, cursor *uint64, now time.Time) Record {
	rec := Record{UpdatedAt: now.UTC()}
	if b.Observed {
		mean, variance := b.Mean, b.Variance
		rec.BaselineMean = &mean
		rec.BaselineVariance = &variance
	}
	if cursor != nil {
		c := *cursor
		rec.DedupCursor = &c
	}
	return rec
}

// Baseline converts the record back to a detector baseline.
func (r Record) Baseline() detector.Baseline {
	if r.BaselineMean == nil || r.BaselineVariance == nil {
		return detector.Baseline{}
	}
	return detector.Baseline{Mean: *r.BaselineMean, Variance: *r.BaselineVariance, Observed: true}
}

// Cursor returns a copy of the dedup cursor.
func (r Record) Cursor() *uint64 {
	if r.DedupCursor == nil {
		return nil
	}
	c := *r.DedupCursor
	return &c
}

// Validate checks the baseline fields are either both absent or a usable pair.
func (r Record) Validate() error {
	switch {
	case r.BaselineMean == nil && r.BaselineVariance == nil:
		return nil
	case r.BaselineMean == nil || r.BaselineVariance == nil:
		return fmt.Errorf("%w: baseline mean and variance must be set together", ErrCorrupt)
	}
	mean, variance := *r.BaselineMean, *r.BaselineVariance
	if math.IsNaN(mean) || math.IsInf(mean, 0) || mean < 0 {
		return fmt.Errorf("%w: invalid baseline mean %v", ErrCorrupt, mean)
	}
	if math.IsNaN(variance) || math.IsInf(variance, 0) || variance < 0 {
		return fmt.Errorf("%w: invalid baseline variance %v", ErrCorrupt, variance)
	}
	return nil
}

// wireRecord also accepts the key names written by the original Python bot.
type wireRecord struct {
	BaselineMean     *float64  `json:"baselineMean"`
	BaselineVariance *float64  `json:"baselineVariance"`
	DedupCursor      *uint64   `json:"dedupCursor"`
	UpdatedAt        time.Time `json:"updatedAt"`

	EMAMean        *float64 `json:"ema_mean"`
	EMAVar         *float64 `json:"ema_var"`
	LastAlertBlock *uint64  `json:"last_alert_block"`
}

// Decode parses a persisted record. Empty input is an empty record.
func Decode(data []byte) (Record, error) {
	if len(data) == 0 {
		return Record{}, nil
	}

	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	rec := Record{
		BaselineMean:     w.BaselineMean,
		BaselineVariance: w.BaselineVariance,
		DedupCursor:      w.DedupCursor,
		UpdatedAt:        w.UpdatedAt,
	}
	if rec.BaselineMean == nil && rec.BaselineVariance == nil {
		rec.BaselineMean, rec.BaselineVariance = w.EMAMean, w.EMAVar
	}
	if rec.DedupCursor == nil {
		rec.DedupCursor = w.LastAlertBlock
	}
	return rec, nil
}

// Encode serialises a record as indented JSON.
func Encode(r Record) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
