package wallet

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultIsFinalScalesWithValue(t *testing.T) {
	one := decimal.NewFromInt(1)

	// 100 USD needs a single confirmation.
	if !DefaultIsFinal(decimal.NewFromInt(100), 1, one) {
		t.Error("100 USD at 1 confirmation should be final")
	}
	if DefaultIsFinal(decimal.NewFromInt(100), 0, one) {
		t.Error("Zero confirmations is never final")
	}

	// 100k USD needs log10(1e5)-1 = 4 confirmations.
	if DefaultIsFinal(decimal.NewFromInt(100000), 3, one) {
		t.Error("100k USD at 3 confirmations should not be final")
	}
	if !DefaultIsFinal(decimal.NewFromInt(100000), 4, one) {
		t.Error("100k USD at 4 confirmations should be final")
	}

	// Small transfers still need at least one confirmation.
	if DefaultIsFinal(decimal.NewFromInt(1), 0, one) {
		t.Error("Floor of one confirmation ignored")
	}
	if !DefaultIsFinal(decimal.NewFromInt(1), 1, one) {
		t.Error("1 USD at 1 confirmation should be final")
	}
}

func TestDefaultIsFinalRequiresKnownRate(t *testing.T) {
	if DefaultIsFinal(decimal.NewFromInt(100), 10, decimal.Zero) {
		t.Error("Unknown rate must never be final")
	}
	if DefaultIsFinal(decimal.Zero, 10, decimal.NewFromInt(1)) {
		t.Error("Zero value must never be final")
	}
}
