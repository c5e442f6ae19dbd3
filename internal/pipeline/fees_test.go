package pipeline

import (
	"testing"

	"stellar-bridge-go/internal/assets"
	"stellar-bridge-go/internal/models"

	"github.com/shopspring/decimal"
)

func feeTier(t *testing.T, percent, fixed, create string) assets.FeeTier {
	t.Helper()
	return assets.FeeTier{
		Percent: decimal.RequireFromString(percent),
		Fixed:   decimal.RequireFromString(fixed),
		Create:  decimal.RequireFromString(create),
	}
}

func TestCalculateFeeDepositWithFunding(t *testing.T) {
	tier := feeTier(t, "0.001", "0.0001", "0.0001")
	amount := decimal.RequireFromString("1.0")

	fee := CalculateFee(models.TypeDeposit, amount, tier, true)

	expected := decimal.RequireFromString("0.0012")
	if !fee.Equal(expected) {
		t.Errorf("Expected fee %s, got %s", expected, fee)
	}
}

func TestCalculateFeeDepositWithoutFunding(t *testing.T) {
	tier := feeTier(t, "0.0001", "0.0001", "0.0001")
	amount := decimal.RequireFromString("1.0")

	fee := CalculateFee(models.TypeDeposit, amount, tier, false)

	expected := decimal.RequireFromString("0.0002")
	if !fee.Equal(expected) {
		t.Errorf("Expected fee %s, got %s", expected, fee)
	}
}

func TestCalculateFeeWithdrawalIgnoresFunding(t *testing.T) {
	tier := feeTier(t, "0.001", "0.0001", "0.5")
	amount := decimal.RequireFromString("10")

	withFunding := CalculateFee(models.TypeWithdrawal, amount, tier, true)
	withoutFunding := CalculateFee(models.TypeWithdrawal, amount, tier, false)

	expected := decimal.RequireFromString("0.0101")
	if !withFunding.Equal(expected) || !withoutFunding.Equal(expected) {
		t.Errorf("Expected withdrawal fee %s regardless of funding, got %s and %s",
			expected, withFunding, withoutFunding)
	}
}
