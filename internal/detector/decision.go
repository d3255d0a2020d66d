package detector

import "math"

// stdEpsilon is the spread below which the baseline counts as flat.
const stdEpsilon = 1e-9

// Thresholds are the knobs of Decide.
type Thresholds struct {
	MinCount uint64
	Z        float64
	Ratio    float64
}

// Decision is the outcome of Decide. Ratio and Z are +Inf when the mean or
// the spread is degenerate.
type Decision struct {
	IsAlert bool
	Ratio   float64
	Z       float64
	Std     float64
}

// Decide reports whether current is a spike relative to b.
//
// A spike needs current >= MinCount and either current >= mean + Z*std or
// current >= mean*Ratio. On a flat baseline (std ~ 0) the z test only fires for
// counts strictly above the mean; on a zero mean the ratio test only fires for
// counts above zero.
func Decide(current uint64, b Baseline, t Thresholds) Decision {
	x := float64(current)
	std := b.Std()

	d := Decision{Ratio: math.Inf(1), Z: math.Inf(1), Std: std}
	if b.Mean > 0 {
		d.Ratio = x / b.Mean
	}
	if std > stdEpsilon {
		d.Z = (x - b.Mean) / std
	}

	var zHit bool
	if std > stdEpsilon {
		zHit = x >= b.Mean+t.Z*std
	} else {
		zHit = x > b.Mean
	}

	var ratioHit bool
	if b.Mean > 0 {
		ratioHit = x >= b.Mean*t.Ratio
	} else {
		ratioHit = x > 0
	}

	d.IsAlert = (zHit || ratioHit) && current >= t.MinCount
	return d
}
