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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"stellar-bridge-go/internal/assets"
	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/wallet"

	"github.com/coinbase-samples/prime-sdk-go/balances"
	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

var _ wallet.Wallet = (*Service)(nil)

// How far back CheckTransaction searches custody activity for an inbound
// transfer. Notifications arrive within minutes; a day absorbs replays.
const transactionLookback = 24 * time.Hour

// Namespace for deriving deterministic withdrawal idempotency keys from
// (channel, sequence). Stable across releases; never change it.
var idempotencyNamespace = uuid.MustParse("6b1db2e4-6a46-4b93-9f0b-1f3c52a9c8d1")

// Service drives the custodial external rail. Deposits are observed on
// custody wallets, payouts are placed as custody withdrawals. The custodian
// holds the keys, so Sign is a passthrough and Submit does the real work.
type Service struct {
	client          client.RestClient
	walletsSvc      wallets.WalletsService
	transactionsSvc transactions.TransactionsService
	balancesSvc     balances.BalancesService
	cfg             models.PrimeConfig
	assets          *assets.Config
}

func NewService(creds *credentials.Credentials, cfg models.PrimeConfig, assetCfg *assets.Config) (*Service, error) {
	if cfg.PortfolioId == "" {
		return nil, fmt.Errorf("portfolio id cannot be empty")
	}

	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)

	return &Service{
		client:          restClient,
		walletsSvc:      wallets.NewWalletsService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
		balancesSvc:     balances.NewBalancesService(restClient),
		cfg:             cfg,
		assets:          assetCfg,
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			DualStack: true,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// GetNewAddress provisions a fresh deposit address on the asset's custody
// wallet. Custody hands out unique addresses, so no memo routing is needed
// on this rail.
func (s *Service) GetNewAddress(ctx context.Context, asset string) (string, error) {
	assetCfg, err := s.assets.Get(asset)
	if err != nil {
		return "", err
	}
	if assetCfg.Prime.WalletId == "" {
		return "", fmt.Errorf("asset %s has no custody wallet configured", asset)
	}

	request := &wallets.CreateWalletAddressRequest{
		PortfolioId: s.cfg.PortfolioId,
		WalletId:    assetCfg.Prime.WalletId,
		NetworkId:   assetCfg.Prime.Network,
	}

	response, err := s.walletsSvc.CreateWalletAddress(ctx, request)
	if err != nil {
		return "", fmt.Errorf("unable to create wallet address: %w", err)
	}

	zap.L().Info("Provisioned custody deposit address",
		zap.String("asset", asset),
		zap.String("wallet_id", assetCfg.Prime.WalletId),
		zap.String("address", response.Address))

	return response.Address, nil
}

// IsValidDestination does a shape check only. The custodian validates the
// address against the concrete network when the withdrawal is placed.
func (s *Service) IsValidDestination(_ context.Context, _, address, _ string) (bool, error) {
	address = strings.TrimSpace(address)
	if address == "" || strings.ContainsAny(address, " \t\n") {
		return false, nil
	}
	return len(address) >= 16, nil
}

// CheckAccount always reports a trusting, existing account. Custody rails
// have no opt-in trust concept.
func (s *Service) CheckAccount(_ context.Context, _, _ string) (wallet.AccountStatus, error) {
	return wallet.AccountStatus{Exists: true, Trusts: true}, nil
}

// CheckTransaction searches recent custody activity on the asset's wallet
// for a deposit matching the on-chain hash.
func (s *Service) CheckTransaction(ctx context.Context, asset, hash string) ([]wallet.TxOutput, error) {
	assetCfg, err := s.assets.Get(asset)
	if err != nil {
		return nil, err
	}

	request := &transactions.ListWalletTransactionsRequest{
		PortfolioId: s.cfg.PortfolioId,
		WalletId:    assetCfg.Prime.WalletId,
		Start:       time.Now().UTC().Add(-transactionLookback),
		Types:       []string{"DEPOSIT"},
		Pagination: &model.PaginationParams{
			Limit: 500,
		},
	}

	response, err := s.transactionsSvc.ListWalletTransactions(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("unable to list wallet transactions: %w", err)
	}

	var outputs []wallet.TxOutput
	for _, tx := range response.Transactions {
		if !matchesHash(tx, hash) {
			continue
		}

		value, err := decimal.NewFromString(tx.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse custody amount %q: %w", tx.Amount, err)
		}

		output := wallet.TxOutput{
			Asset:     asset,
			TxIn:      hash,
			TxInIndex: len(outputs),
			Value:     value,
		}
		if tx.TransferFrom != nil {
			output.AddressFrom = tx.TransferFrom.Address
		}
		if tx.TransferTo != nil {
			output.AddressIn = tx.TransferTo.Address
		}
		if tx.Status == "TRANSACTION_DONE" {
			output.Confirmations = 1
		}
		outputs = append(outputs, output)
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: %s", wallet.ErrTxNotFound, hash)
	}
	return outputs, nil
}

func matchesHash(tx *model.Transaction, hash string) bool {
	if strings.EqualFold(tx.TransactionId, hash) {
		return true
	}
	for _, id := range tx.BlockchainIds {
		if strings.EqualFold(id, hash) {
			return true
		}
	}
	return false
}

// GetBalance returns the custody wallet balance for the asset.
func (s *Service) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	assetCfg, err := s.assets.Get(asset)
	if err != nil {
		return decimal.Zero, err
	}

	request := &balances.GetWalletBalanceRequest{
		PortfolioId: s.cfg.PortfolioId,
		Id:          assetCfg.Prime.WalletId,
	}

	response, err := s.balancesSvc.GetWalletBalance(ctx, request)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to get wallet balance: %w", err)
	}
	if response.Balance == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(response.Balance.Amount)
}

// IsFinalYet trusts the custodian's settlement policy: custody applies its
// own per-network confirmation requirements before marking a transaction
// done, so anything reported with a confirmation is already irreversible.
func (s *Service) IsFinalYet(_ decimal.Decimal, confirmations int, _ decimal.Decimal) bool {
	return confirmations > 0
}

// ChannelAccount returns the custody wallet id. The (channel, sequence) pair
// keyed on it keeps withdrawal placement idempotent the same way a chain
// sequence number would.
func (s *Service) ChannelAccount(asset string) (string, error) {
	assetCfg, err := s.assets.Get(asset)
	if err != nil {
		return "", err
	}
	if assetCfg.Prime.WalletId == "" {
		return "", fmt.Errorf("asset %s has no custody wallet configured", asset)
	}
	return assetCfg.Prime.WalletId, nil
}

// GetSequence seeds the allocator with the current unix milli timestamp.
// Custody has no account sequence; a time seed keeps (channel, sequence)
// unique across restarts while the allocator guarantees monotonicity within
// a process.
func (s *Service) GetSequence(_ context.Context, _, _ string) (int64, error) {
	return time.Now().UnixMilli(), nil
}

// withdrawalIntent is the custody rail's "raw transaction": everything
// needed to place one withdrawal, frozen at build time.
type withdrawalIntent struct {
	WalletId         string `json:"wallet_id"`
	Symbol           string `json:"symbol"`
	NetworkId        string `json:"network_id,omitempty"`
	Destination      string `json:"destination"`
	DestinationExtra string `json:"destination_extra,omitempty"`
	Amount           string `json:"amount"`
	IdempotencyKey   string `json:"idempotency_key"`
}

// BuildPaymentTx freezes the payout legs into a serialized intent list. The
// idempotency key of each leg derives from (channel, sequence, leg), so a
// rebuilt batch for the same sequence places the same withdrawals.
func (s *Service) BuildPaymentTx(_ context.Context, recipients []wallet.Recipient, channel string, sequence int64) (wallet.BuiltTx, error) {
	if len(recipients) == 0 {
		return wallet.BuiltTx{}, fmt.Errorf("no recipients")
	}

	intents := make([]withdrawalIntent, 0, len(recipients))
	for i, recipient := range recipients {
		assetCfg, err := s.assets.Get(recipient.Asset)
		if err != nil {
			return wallet.BuiltTx{}, err
		}

		key := uuid.NewSHA1(idempotencyNamespace,
			[]byte(fmt.Sprintf("%s:%d:%d", channel, sequence, i))).String()

		intents = append(intents, withdrawalIntent{
			WalletId:         assetCfg.Prime.WalletId,
			Symbol:           assetCfg.Code,
			NetworkId:        assetCfg.Prime.Network,
			Destination:      recipient.AddressOut,
			DestinationExtra: recipient.AddressOutExtra,
			Amount:           recipient.Amount.String(),
			IdempotencyKey:   key,
		})
	}

	raw, err := json.Marshal(intents)
	if err != nil {
		return wallet.BuiltTx{}, fmt.Errorf("failed to encode withdrawal intents: %w", err)
	}

	digest := sha256.Sum256(raw)
	return wallet.BuiltTx{Hash: hex.EncodeToString(digest[:]), RawTx: string(raw)}, nil
}

// Sign is a passthrough. The custodian signs server-side under its own
// policy controls; there is no client-held key material on this rail.
func (s *Service) Sign(_ context.Context, rawTx, _ string) (string, error) {
	return rawTx, nil
}

// Submit places one custody withdrawal per intent. Idempotency keys make
// redelivery safe: the custodian returns the original activity instead of
// placing a duplicate.
func (s *Service) Submit(ctx context.Context, rawTx, _ string) (wallet.SubmitResult, error) {
	var intents []withdrawalIntent
	if err := json.Unmarshal([]byte(rawTx), &intents); err != nil {
		return wallet.SubmitResult{}, fmt.Errorf("failed to decode withdrawal intents: %w", err)
	}
	if len(intents) == 0 {
		return wallet.SubmitResult{}, fmt.Errorf("empty withdrawal intent list")
	}

	activityIds := make([]string, 0, len(intents))
	for _, intent := range intents {
		blockchainAddr := &model.BlockchainAddress{
			Address:           intent.Destination,
			AccountIdentifier: intent.DestinationExtra,
		}
		if intent.NetworkId != "" {
			blockchainAddr.Network = &model.NetworkDetails{
				Id: intent.NetworkId,
			}
		}

		request := &transactions.CreateWalletWithdrawalRequest{
			PortfolioId:       s.cfg.PortfolioId,
			SourceWalletId:    intent.WalletId,
			Amount:            intent.Amount,
			IdempotencyKey:    intent.IdempotencyKey,
			Symbol:            intent.Symbol,
			DestinationType:   "DESTINATION_BLOCKCHAIN",
			BlockchainAddress: blockchainAddr,
		}

		response, err := s.transactionsSvc.CreateWalletWithdrawal(ctx, request)
		if err != nil {
			return wallet.SubmitResult{}, fmt.Errorf("unable to create withdrawal: %w", err)
		}

		zap.L().Info("Custody withdrawal placed",
			zap.String("activity_id", response.ActivityId),
			zap.String("wallet_id", intent.WalletId),
			zap.String("symbol", intent.Symbol),
			zap.String("amount", intent.Amount),
			zap.String("destination", intent.Destination))

		activityIds = append(activityIds, response.ActivityId)
	}

	return wallet.SubmitResult{Hash: strings.Join(activityIds, ",")}, nil
}
