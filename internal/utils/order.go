package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// TruncateShares converts a fractional share count into whole shares, always rounding toward zero.
func TruncateShares(quantity float64) int64 {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return 0
	}

	return int64(math.Trunc(quantity))
}

// SharesForNotional returns the whole number of shares a target notional buys at price.
// Fractions are truncated toward zero, so the returned notional never exceeds the target.
func SharesForNotional(notional float64, price float64) int64 {
	if !(price > 0) || !(notional > 0) || math.IsInf(notional, 0) || math.IsInf(price, 0) {
		return 0
	}

	shares := decimal.NewFromFloat(notional).Div(decimal.NewFromFloat(price))

	return shares.Truncate(0).IntPart()
}

// IsFinite reports whether value is neither NaN nor ±Inf.
func IsFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
