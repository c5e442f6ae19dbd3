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

package stellar

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"stellar-bridge-go/internal/assets"
	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy wallet.Wallet.
var _ wallet.Wallet = (*Service)(nil)

const (
	// 20 min validity window, enough for 10 submit attempts.
	paymentTimeoutSeconds = 1200

	minBaseFee = 100
	maxBaseFee = 10000
)

// Service is the settlement-owning chain driver. Outbound payouts of the
// representative token are built, signed and submitted here; inbound
// withdrawal payments (user returns tokens to the distributor) are observed
// here as well.
type Service struct {
	client  horizonclient.ClientInterface
	cfg     models.StellarConfig
	assets  *assets.Config
	secrets map[string]string
}

func NewService(cfg models.StellarConfig, assetCfg *assets.Config, secrets map[string]string) (*Service, error) {
	if cfg.HorizonURL == "" {
		return nil, fmt.Errorf("horizon URL cannot be empty")
	}
	if cfg.NetworkPassphrase == "" {
		return nil, fmt.Errorf("network passphrase cannot be empty")
	}

	return &Service{
		client:  &horizonclient.Client{HorizonURL: cfg.HorizonURL},
		cfg:     cfg,
		assets:  assetCfg,
		secrets: secrets,
	}, nil
}

// NewServiceWithClient wires an explicit horizon client. Used by tests.
func NewServiceWithClient(cfg models.StellarConfig, assetCfg *assets.Config, secrets map[string]string, client horizonclient.ClientInterface) *Service {
	return &Service{client: client, cfg: cfg, assets: assetCfg, secrets: secrets}
}

// GetNewAddress returns the distributor account: deposits on the settlement
// side all land on the distributor and are routed by memo id.
func (s *Service) GetNewAddress(_ context.Context, asset string) (string, error) {
	assetCfg, err := s.assets.Get(asset)
	if err != nil {
		return "", err
	}
	return assetCfg.Distributor, nil
}

func (s *Service) IsValidDestination(_ context.Context, _ string, address, addressExtra string) (bool, error) {
	if !strkey.IsValidEd25519PublicKey(address) {
		return false, nil
	}
	if addressExtra != "" {
		if _, err := strconv.ParseUint(addressExtra, 10, 64); err != nil {
			return false, nil
		}
	}
	return true, nil
}

// CheckAccount reports whether the destination account exists and holds a
// trustline for the asset.
func (s *Service) CheckAccount(_ context.Context, address, asset string) (wallet.AccountStatus, error) {
	assetCfg, err := s.assets.Get(asset)
	if err != nil {
		return wallet.AccountStatus{}, err
	}

	account, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return wallet.AccountStatus{}, nil
		}
		return wallet.AccountStatus{}, fmt.Errorf("failed to load account %s: %w", address, err)
	}

	status := wallet.AccountStatus{Exists: true}
	for _, balance := range account.Balances {
		if balance.Asset.Code == assetCfg.Code && balance.Asset.Issuer == assetCfg.Issuer {
			status.Trusts = true
			break
		}
	}
	return status, nil
}

// CheckTransaction enumerates payments of the given hash that pay the
// distributor in a bridged asset. Payments without a memo id cannot be
// routed to a withdrawal mapping and are skipped for manual refund handling.
func (s *Service) CheckTransaction(_ context.Context, asset, hash string) ([]wallet.TxOutput, error) {
	assetCfg, err := s.assets.Get(asset)
	if err != nil {
		return nil, err
	}

	tx, err := s.client.TransactionDetail(hash)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", wallet.ErrTxNotFound, hash)
		}
		return nil, fmt.Errorf("failed to load transaction %s: %w", hash, err)
	}

	page, err := s.client.Payments(horizonclient.OperationRequest{ForTransaction: hash})
	if err != nil {
		return nil, fmt.Errorf("failed to list payments of %s: %w", hash, err)
	}

	var outputs []wallet.TxOutput
	for i, record := range page.Embedded.Records {
		payment, ok := record.(operations.Payment)
		if !ok {
			continue
		}

		if payment.Asset.Code != assetCfg.Code || payment.Asset.Issuer != assetCfg.Issuer || payment.To != assetCfg.Distributor {
			continue
		}
		if tx.MemoType != "id" || tx.Memo == "" {
			// TODO: route memo-less payments into the refund flow.
			zap.L().Warn("Settlement payment without memo id, skipping",
				zap.String("hash", hash),
				zap.String("from", payment.From))
			continue
		}

		value, err := decimal.NewFromString(payment.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse payment amount %q: %w", payment.Amount, err)
		}

		outputs = append(outputs, wallet.TxOutput{
			Asset:          payment.Asset.Code,
			TxIn:           hash,
			TxInIndex:      i,
			AddressFrom:    payment.From,
			AddressIn:      payment.To,
			AddressInExtra: tx.Memo,
			Value:          value,
			Confirmations:  1,
		})
	}
	return outputs, nil
}

// GetBalance returns the circulating supply of the asset on the settlement
// side: total supply minus what still sits on the distributor and the
// configured excluded accounts.
func (s *Service) GetBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	assetCfg, err := s.assets.Get(asset)
	if err != nil {
		return decimal.Zero, err
	}

	distributorBalance, err := s.assetBalance(assetCfg.Distributor, assetCfg)
	if err != nil {
		return decimal.Zero, err
	}

	excluded := decimal.Zero
	for _, account := range assetCfg.ExcludedSupply {
		balance, err := s.assetBalance(account, assetCfg)
		if err != nil {
			// excluded accounts don't have to exist
			if horizonclient.IsNotFoundError(errors.Unwrap(err)) {
				continue
			}
			return decimal.Zero, err
		}
		excluded = excluded.Add(balance)
	}

	return assetCfg.Supply.Sub(excluded).Sub(distributorBalance), nil
}

func (s *Service) assetBalance(address string, assetCfg assets.AssetConfig) (decimal.Decimal, error) {
	account, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load account %s: %w", address, err)
	}
	for _, balance := range account.Balances {
		if balance.Asset.Type != "native" && balance.Asset.Code == assetCfg.Code && balance.Asset.Issuer == assetCfg.Issuer {
			return decimal.NewFromString(balance.Balance)
		}
	}
	return decimal.Zero, nil
}

// IsFinalYet always reports final: the settlement chain has instant finality
// by consensus.
func (s *Service) IsFinalYet(_ decimal.Decimal, _ int, _ decimal.Decimal) bool {
	return true
}

func (s *Service) ChannelAccount(asset string) (string, error) {
	assetCfg, err := s.assets.Get(asset)
	if err != nil {
		return "", err
	}
	return assetCfg.Channels[0], nil
}

// GetSequence reads the channel account's live sequence number. Called once
// per asset per process lifetime by the allocator's cold seed.
func (s *Service) GetSequence(_ context.Context, _ string, channel string) (int64, error) {
	account, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: channel})
	if err != nil {
		return 0, fmt.Errorf("failed to load channel account %s: %w", channel, err)
	}
	return account.Sequence, nil
}

// BuildPaymentTx constructs the unsigned outbound payment. Every recipient
// becomes one payment operation sourced from the distributor; the channel
// account only carries the sequence number.
func (s *Service) BuildPaymentTx(_ context.Context, recipients []wallet.Recipient, channel string, sequence int64) (wallet.BuiltTx, error) {
	if len(recipients) == 0 {
		return wallet.BuiltTx{}, fmt.Errorf("no recipients")
	}

	assetCfg, err := s.assets.Get(recipients[0].Asset)
	if err != nil {
		return wallet.BuiltTx{}, err
	}

	ops := make([]txnbuild.Operation, 0, len(recipients))
	for _, recipient := range recipients {
		ops = append(ops, &txnbuild.Payment{
			Destination:   recipient.AddressOut,
			Amount:        recipient.Amount.StringFixed(7),
			Asset:         txnbuild.CreditAsset{Code: assetCfg.Code, Issuer: assetCfg.Issuer},
			SourceAccount: assetCfg.Distributor,
		})
	}

	params := txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: channel, Sequence: sequence},
		IncrementSequenceNum: false,
		Operations:           ops,
		BaseFee:              s.moderateFee(),
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(paymentTimeoutSeconds)},
	}

	// Memo routing only works for single-recipient transactions; the batch
	// job shape allows more, the settlement rail does not (yet).
	if memo, err := recipientMemo(recipients[0]); err != nil {
		return wallet.BuiltTx{}, err
	} else if memo != nil {
		params.Memo = memo
	}

	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return wallet.BuiltTx{}, fmt.Errorf("failed to build payment transaction: %w", err)
	}

	hash, err := tx.HashHex(s.cfg.NetworkPassphrase)
	if err != nil {
		return wallet.BuiltTx{}, fmt.Errorf("failed to hash transaction: %w", err)
	}
	raw, err := tx.Base64()
	if err != nil {
		return wallet.BuiltTx{}, fmt.Errorf("failed to encode transaction: %w", err)
	}

	return wallet.BuiltTx{Hash: hash, RawTx: raw}, nil
}

func recipientMemo(recipient wallet.Recipient) (txnbuild.Memo, error) {
	if recipient.AddressOutExtra == "" {
		return nil, nil
	}
	switch recipient.AddressOutExtraType {
	case "id", "":
		id, err := strconv.ParseUint(recipient.AddressOutExtra, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid memo id %q: %w", recipient.AddressOutExtra, err)
		}
		return txnbuild.MemoID(id), nil
	case "text":
		return txnbuild.MemoText(recipient.AddressOutExtra), nil
	default:
		return nil, fmt.Errorf("unsupported memo type %q", recipient.AddressOutExtraType)
	}
}

// moderateFee estimates a per-operation base fee from recent fee stats,
// capped so a congestion spike cannot drain the channel account.
func (s *Service) moderateFee() int64 {
	if s.cfg.SkipFeeEstimation {
		return minBaseFee
	}
	feeStats, err := s.client.FeeStats()
	if err != nil {
		zap.L().Warn("Fee stats unavailable, using minimum base fee", zap.Error(err))
		return minBaseFee
	}
	fee := feeStats.FeeCharged.Mode
	if fee < minBaseFee {
		fee = minBaseFee
	}
	if fee > maxBaseFee {
		fee = maxBaseFee
	}
	return fee
}

// Sign signs with every distinct source key referenced by the transaction's
// operations. Missing secrets fail the whole batch; partial signing is never
// produced.
func (s *Service) Sign(_ context.Context, rawTx, _ string) (string, error) {
	generic, err := txnbuild.TransactionFromXDR(rawTx)
	if err != nil {
		return "", fmt.Errorf("failed to decode transaction: %w", err)
	}
	tx, ok := generic.Transaction()
	if !ok {
		return "", fmt.Errorf("unexpected transaction envelope type")
	}

	sources := []string{tx.SourceAccount().AccountID}
	for _, op := range tx.Operations() {
		source := op.GetSourceAccount()
		if source != "" && !contains(sources, source) {
			sources = append(sources, source)
		}
	}

	keypairs, err := s.keypairsFor(sources)
	if err != nil {
		return "", err
	}

	tx, err = tx.Sign(s.cfg.NetworkPassphrase, keypairs...)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx.Base64()
}

// Submit broadcasts the signed transaction. A bad-sequence rejection means a
// previous submission of this same single-use transaction was already
// accepted, and is reported as wallet.ErrTxAlreadyApplied.
func (s *Service) Submit(_ context.Context, rawTx, _ string) (wallet.SubmitResult, error) {
	resp, err := s.client.SubmitTransactionXDR(rawTx)
	if err != nil {
		if isBadSequence(err) {
			return wallet.SubmitResult{}, wallet.ErrTxAlreadyApplied
		}
		return wallet.SubmitResult{}, fmt.Errorf("failed to submit transaction: %w", err)
	}

	zap.L().Info("Transaction submitted",
		zap.String("hash", resp.Hash),
		zap.Int32("ledger", resp.Ledger))
	return wallet.SubmitResult{Hash: resp.Hash}, nil
}

func isBadSequence(err error) bool {
	var herr *horizonclient.Error
	if !errors.As(err, &herr) {
		return false
	}
	codes, cerr := herr.ResultCodes()
	if cerr != nil {
		return false
	}
	return codes.TransactionCode == "tx_bad_seq"
}

func (s *Service) keypairsFor(sources []string) ([]*keypair.Full, error) {
	keypairs := make([]*keypair.Full, 0, len(sources))
	for _, source := range sources {
		secret, ok := s.secrets[source]
		if !ok {
			return nil, fmt.Errorf("no signing key configured for account %s", source)
		}
		kp, err := keypair.ParseFull(secret)
		if err != nil {
			return nil, fmt.Errorf("invalid signing key for account %s: %w", source, err)
		}
		keypairs = append(keypairs, kp)
	}
	return keypairs, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
