package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spikewatch_cycles_total",
			Help: "Total number of detection cycles",
		},
		[]string{"status"}, // ok, alert, error
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spikewatch_cycle_duration_seconds",
			Help:    "Duration of a detection cycle",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	HighValueCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spikewatch_high_value_tx_count",
			Help: "High-value transaction count in the latest window",
		},
	)

	ChainTip = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spikewatch_chain_tip",
			Help: "Latest observed block height",
		},
	)

	BaselineMean = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spikewatch_baseline_mean",
			Help: "EMA mean of the high-value count",
		},
	)

	BaselineStd = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spikewatch_baseline_std",
			Help: "EMA standard deviation of the high-value count",
		},
	)

	// Infinite values are exported as -1.
	SpikeRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spikewatch_ratio",
			Help: "Ratio of the latest count to the baseline mean",
		},
	)

	SpikeZScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spikewatch_z_score",
			Help: "Z-score of the latest count against the baseline",
		},
	)

	// Alert metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spikewatch_alerts_sent_total",
			Help: "Total number of alert delivery attempts",
		},
		[]string{"status"}, // success, error
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spikewatch_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by the dedup cursor",
		},
	)

	// Data source metrics
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spikewatch_source_requests_total",
			Help: "Total number of chain data source requests",
		},
		[]string{"op", "status"}, // tip/block, success/error
	)

	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spikewatch_source_request_duration_seconds",
			Help:    "Duration of chain data source requests",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spikewatch_database_queries_total",
			Help: "Total number of history database writes",
		},
		[]string{"operation", "status"},
	)
)

// RecordCycle records the outcome of one cycle.
func RecordCycle(duration time.Duration, status string) {
	CyclesTotal.WithLabelValues(status).Inc()
	CycleDuration.Observe(duration.Seconds())
}

// RecordObservation publishes the latest window statistics.
func RecordObservation(tip, count uint64, mean, std, ratio, z float64) {
	ChainTip.Set(float64(tip))
	HighValueCount.Set(float64(count))
	BaselineMean.Set(mean)
	BaselineStd.Set(std)
	SpikeRatio.Set(gaugeValue(ratio))
	SpikeZScore.Set(gaugeValue(z))
}

// RecordAlert records alert delivery. Suppressed alerts were never sent.
func RecordAlert(err error, suppressed bool) {
	if suppressed {
		AlertsSuppressed.Inc()
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	AlertsSent.WithLabelValues(status).Inc()
}

// RecordSourceRequest records a chain data source call.
func RecordSourceRequest(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SourceRequests.WithLabelValues(op, status).Inc()
	SourceRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDatabaseQuery records a history write.
func RecordDatabaseQuery(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueries.WithLabelValues(operation, status).Inc()
}

func gaugeValue(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return -1
	}
	return v
}
