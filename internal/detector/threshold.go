package detector

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ValueThreshold compares base-unit amounts against a decimal threshold
// expressed in whole asset units. The conversion is exact.
type ValueThreshold struct {
	threshold decimal.Decimal
	decimals  int32
}

// NewValueThreshold builds a threshold for an asset with the given number of
// fractional decimals (18 for ETH).
func NewValueThreshold(threshold decimal.Decimal, decimals int32) ValueThreshold {
	return ValueThreshold{threshold: threshold, decimals: decimals}
}

// Meets reports whether value, in base units, is >= the threshold. nil never meets.
func (t ValueThreshold) Meets(value *big.Int) bool {
	if value == nil {
		return false
	}
	return ToUnits(value, t.decimals).GreaterThanOrEqual(t.threshold)
}

// Threshold returns the configured threshold in asset units.
func (t ValueThreshold) Threshold() decimal.Decimal {
	return t.threshold
}

// ToUnits converts a base-unit amount to asset units.
func ToUnits(value *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(value, -decimals)
}
