package wallet

import (
	"math"

	"github.com/shopspring/decimal"
)

// DefaultIsFinal is the value-scaled confirmation policy: larger transfers
// need proportionally more confirmations to bound double-spend risk. The
// required count is max(log10(usdValue) - 1, 1). An unknown or zero USD rate
// is never final. This is a heuristic, not a guarantee.
func DefaultIsFinal(value decimal.Decimal, confirmations int, rateUsd decimal.Decimal) bool {
	if !rateUsd.IsPositive() {
		return false
	}

	usdAmount, _ := value.Div(rateUsd).Float64()
	if usdAmount <= 0 {
		return false
	}

	required := math.Max(math.Log10(usdAmount)-1, 1)
	return float64(confirmations) >= required
}
