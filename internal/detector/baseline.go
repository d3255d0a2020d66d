package detector

import "math"

// Baseline is the exponentially weighted mean and variance of past counts.
// Observed is false until the first count has been seen.
type Baseline struct {
	Mean     float64
	Variance float64
	Observed bool
}

// Std returns sqrt(max(variance, 0)).
func (b Baseline) Std() float64 {
	return math.Sqrt(math.Max(b.Variance, 0))
}

// Estimator maintains a Baseline with smoothing factor alpha in (0, 1].
//
// The variance term uses the deviation from the freshly updated mean, so a
// spike inflates it immediately and damps the z-score during sustained
// elevated regimes.
type Estimator struct {
	alpha    float64
	baseline Baseline
}

// NewEstimator returns an estimator with no observations.
func NewEstimator(alpha float64) *Estimator {
	return &Estimator{alpha: alpha}
}

// Alpha returns the smoothing factor.
func (e *Estimator) Alpha() float64 {
	return e.alpha
}

// Baseline returns the current estimate.
func (e *Estimator) Baseline() Baseline {
	return e.baseline
}

// Restore replaces the current estimate, e.g. with a persisted one.
func (e *Estimator) Restore(b Baseline) {
	e.baseline = b
}

// Update folds x into the baseline and returns the new estimate.
func (e *Estimator) Update(x uint64) Baseline {
	e.baseline = e.Peek(x)
	return e.baseline
}

// Peek returns what Update(x) would produce without changing the estimator.
func (e *Estimator) Peek(x uint64) Baseline {
	v := float64(x)
	prev := e.baseline
	if !prev.Observed {
		return Baseline{Mean: v, Variance: 0, Observed: true}
	}

	mean := e.alpha*v + (1-e.alpha)*prev.Mean
	dev := v - mean
	variance := (1-e.alpha)*prev.Variance + e.alpha*dev*dev
	return Baseline{Mean: mean, Variance: variance, Observed: true}
}
