package pipeline

import (
	"stellar-bridge-go/internal/assets"
	"stellar-bridge-go/internal/models"

	"github.com/shopspring/decimal"
)

// CalculateFee quotes the fee for one transfer. Pure; the result is frozen
// into the Transaction record at observation time and never recomputed, so
// later funding-state changes cannot retroactively alter a quoted fee.
// Deposits to an unfunded destination additionally pay the account-creation
// fee; withdrawals never do.
func CalculateFee(txType models.TransactionType, amount decimal.Decimal, tier assets.FeeTier, needsFunding bool) decimal.Decimal {
	fee := amount.Mul(tier.Percent).Add(tier.Fixed)
	if txType == models.TypeDeposit && needsFunding {
		fee = fee.Add(tier.Create)
	}
	return fee
}
