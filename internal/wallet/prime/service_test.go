/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package prime

import (
	"context"
	"encoding/json"
	"testing"

	"stellar-bridge-go/internal/assets"
	"stellar-bridge-go/internal/wallet"

	"github.com/shopspring/decimal"
)

const testAssetsYaml = `
assets:
  - code: USDC
    chain: ethereum
    issuer: GISSUER
    distributor: GDIST
    channels: [GCHAN]
    rate_usd: "1"
    deposit:
      fee_percent: "0.001"
    withdrawal:
      fee_percent: "0.001"
    prime:
      wallet_id: wallet-usdc
      network: ethereum-mainnet
`

func testService(t *testing.T) *Service {
	t.Helper()
	cfg, err := assets.Parse([]byte(testAssetsYaml))
	if err != nil {
		t.Fatalf("Failed to parse test assets: %v", err)
	}
	return &Service{assets: cfg}
}

func TestBuildPaymentTxCarriesDestinationExtra(t *testing.T) {
	s := testService(t)

	built, err := s.BuildPaymentTx(context.Background(), []wallet.Recipient{
		{
			AddressOut:      "0xdest",
			AddressOutExtra: "12345",
			Amount:          decimal.RequireFromString("99.9"),
			Asset:           "USDC",
		},
		{
			AddressOut: "0xother",
			Amount:     decimal.RequireFromString("10"),
			Asset:      "USDC",
		},
	}, "GCHAN", 7000)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var intents []withdrawalIntent
	if err := json.Unmarshal([]byte(built.RawTx), &intents); err != nil {
		t.Fatalf("Intent list does not decode: %v", err)
	}
	if len(intents) != 2 {
		t.Fatalf("Expected 2 intents, got %d", len(intents))
	}

	// The memo/tag of a routed payout must survive into the intent.
	if intents[0].Destination != "0xdest" || intents[0].DestinationExtra != "12345" {
		t.Errorf("Routed leg lost its extra: %s / %q",
			intents[0].Destination, intents[0].DestinationExtra)
	}
	if intents[1].DestinationExtra != "" {
		t.Errorf("Plain leg grew an extra: %q", intents[1].DestinationExtra)
	}
	if intents[0].WalletId != "wallet-usdc" || intents[0].NetworkId != "ethereum-mainnet" {
		t.Errorf("Custody wiring wrong: wallet %s, network %s",
			intents[0].WalletId, intents[0].NetworkId)
	}
}

func TestBuildPaymentTxIsDeterministicPerSequence(t *testing.T) {
	s := testService(t)
	recipients := []wallet.Recipient{{
		AddressOut: "0xdest",
		Amount:     decimal.RequireFromString("50"),
		Asset:      "USDC",
	}}

	first, err := s.BuildPaymentTx(context.Background(), recipients, "GCHAN", 7000)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	second, err := s.BuildPaymentTx(context.Background(), recipients, "GCHAN", 7000)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	// A rebuilt batch for the same sequence places identical withdrawals.
	if first.Hash != second.Hash || first.RawTx != second.RawTx {
		t.Error("Rebuild for the same sequence produced a different intent list")
	}

	other, err := s.BuildPaymentTx(context.Background(), recipients, "GCHAN", 7001)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	var a, b []withdrawalIntent
	if err := json.Unmarshal([]byte(first.RawTx), &a); err != nil {
		t.Fatalf("Intent list does not decode: %v", err)
	}
	if err := json.Unmarshal([]byte(other.RawTx), &b); err != nil {
		t.Fatalf("Intent list does not decode: %v", err)
	}
	if a[0].IdempotencyKey == b[0].IdempotencyKey {
		t.Error("Different sequences share an idempotency key")
	}
}
