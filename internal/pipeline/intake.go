package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"stellar-bridge-go/internal/assets"
	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/queue"
	"stellar-bridge-go/internal/rates"
	"stellar-bridge-go/internal/store"
	"stellar-bridge-go/internal/wallet"

	"go.uber.org/zap"
)

// ErrFinalityNotReached keeps a notification in the retry loop until every
// output has enough confirmations.
var ErrFinalityNotReached = errors.New("finality not reached")

// Intake turns an observed external hash into durable settlement records.
// It is the state machine's entry point and must stay idempotent under
// duplicate delivery: the (txIn, txInIndex) unique key dedups record
// creation, and duplicate deliveries advance state only.
type Intake struct {
	store     store.BridgeStore
	rails     Rails
	assets    *assets.Config
	rates     rates.Provider
	publisher Publisher
}

func NewIntake(s store.BridgeStore, rails Rails, assetCfg *assets.Config, rateProvider rates.Provider, publisher Publisher) *Intake {
	return &Intake{store: s, rails: rails, assets: assetCfg, rates: rateProvider, publisher: publisher}
}

// Handle processes one notification. It succeeds only when every output of
// the hash has reached a terminal routing decision; a still-confirming
// output returns ErrFinalityNotReached so the broker redelivers later.
func (i *Intake) Handle(ctx context.Context, body []byte) error {
	var job TempTxJob
	if err := json.Unmarshal(body, &job); err != nil {
		return queue.Permanent(fmt.Errorf("malformed intake job: %w", err))
	}
	if job.Chain == "" || job.Hash == "" {
		return queue.Permanent(fmt.Errorf("intake job missing chain or hash"))
	}

	txType := i.rails.TypeForChain(job.Chain)
	walletIn, walletOut := i.rails.Pair(txType)

	candidates := i.candidateAssets(txType, job.Chain)
	if len(candidates) == 0 {
		return queue.Permanent(fmt.Errorf("no configured asset for chain %s", job.Chain))
	}

	found := false
	pending := 0
	for _, assetCfg := range candidates {
		outputs, err := walletIn.CheckTransaction(ctx, assetCfg.Code, job.Hash)
		if errors.Is(err, wallet.ErrTxNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to inspect %s on %s: %w", job.Hash, assetCfg.Code, err)
		}
		found = true

		for _, output := range outputs {
			settled, err := i.processOutput(ctx, txType, walletIn, walletOut, assetCfg, output)
			if err != nil {
				return err
			}
			if !settled {
				pending++
			}
		}
	}

	if !found {
		// The rail may simply not have indexed the hash yet.
		return fmt.Errorf("%w: %s not found on any rail", wallet.ErrTxNotFound, job.Hash)
	}
	if pending > 0 {
		return fmt.Errorf("%w: %d outputs of %s still confirming", ErrFinalityNotReached, pending, job.Hash)
	}

	if err := i.store.DeleteTempTransaction(ctx, job.Chain, job.Hash); err != nil {
		return fmt.Errorf("failed to delete temp transaction: %w", err)
	}
	return nil
}

func (i *Intake) candidateAssets(txType models.TransactionType, chain string) []assets.AssetConfig {
	if txType == models.TypeWithdrawal {
		return i.assets.All()
	}
	var out []assets.AssetConfig
	for _, assetCfg := range i.assets.All() {
		if assetCfg.Chain == chain {
			out = append(out, assetCfg)
		}
	}
	return out
}

// processOutput settles one output of the notification: resolve its mapping,
// freeze economics, upsert the ledger record and route it onward. Returns
// false while the output is still waiting for confirmations.
func (i *Intake) processOutput(ctx context.Context, txType models.TransactionType,
	walletIn, walletOut wallet.Wallet, assetCfg assets.AssetConfig, output wallet.TxOutput) (bool, error) {

	m, err := i.lookupMapping(ctx, txType, assetCfg.Code, output)
	if errors.Is(err, store.ErrMappingNotFound) {
		// Payment to an address we never issued, or with an unroutable
		// memo. Left for the manual refund process.
		zap.L().Warn("Unroutable inbound payment",
			zap.String("asset", assetCfg.Code),
			zap.String("tx_in", output.TxIn),
			zap.Int("tx_in_index", output.TxInIndex),
			zap.String("address_in", output.AddressIn),
			zap.String("address_in_extra", output.AddressInExtra))
		return true, nil
	}
	if err != nil {
		return false, err
	}

	status, err := walletOut.CheckAccount(ctx, m.AddressOut, assetCfg.Code)
	if err != nil {
		return false, fmt.Errorf("failed to check destination account: %w", err)
	}

	tier := assetCfg.Deposit
	if txType == models.TypeWithdrawal {
		tier = assetCfg.Withdrawal
	}
	fee := CalculateFee(txType, output.Value, tier, !status.Exists)
	amountOut := output.Value.Sub(fee)
	rate := i.rates.RateUsd(assetCfg.Code)
	final := walletIn.IsFinalYet(output.Value, output.Confirmations, rate)

	state := models.StatePendingAnchor
	switch {
	case !rate.IsPositive():
		state = models.StateNoMarket
	case !amountOut.IsPositive():
		state = models.StateTooSmall
	case assetCfg.MaxAmount.IsPositive() && output.Value.GreaterThan(assetCfg.MaxAmount):
		state = models.StateTooLarge
	case txType == models.TypeDeposit && !status.Trusts:
		state = models.StatePendingTrust
	case !final:
		state = models.StatePendingExternal
	}

	tx := &models.Transaction{
		Type:            txType,
		State:           state,
		TxIn:            output.TxIn,
		TxInIndex:       output.TxInIndex,
		AddressFrom:     output.AddressFrom,
		AddressIn:       output.AddressIn,
		AddressInExtra:  output.AddressInExtra,
		AddressOut:      m.AddressOut,
		AddressOutExtra: m.AddressOutExtra,
		Asset:           assetCfg.Code,
		AmountIn:        output.Value,
		AmountFee:       fee,
		AmountOut:       amountOut,
		RateUsd:         rate,
	}

	created, err := i.store.UpsertTransaction(ctx, tx)
	if err != nil {
		return false, fmt.Errorf("failed to upsert transaction: %w", err)
	}
	if created {
		zap.L().Info("Settlement record created",
			zap.String("id", tx.Id),
			zap.String("type", string(txType)),
			zap.String("asset", assetCfg.Code),
			zap.String("tx_in", tx.TxIn),
			zap.Int("tx_in_index", tx.TxInIndex),
			zap.String("state", string(tx.State)))
	}

	// tx now reflects the persisted row, which a later stage may already
	// have advanced past us.
	switch tx.State {
	case models.StatePendingExternal:
		return false, nil
	case models.StatePendingAnchor:
		if tx.HasSequence() {
			return true, nil
		}
		if txType == models.TypeWithdrawal && assetCfg.WithdrawalBatching > 0 {
			// The batcher sweeps these on its own clock.
			return true, nil
		}
		if err := i.publisher.Publish(ctx, QueueBuild, BuildJob{
			TransactionIds: []string{tx.Id},
			Asset:          assetCfg.Code,
			Type:           txType,
		}); err != nil {
			return false, fmt.Errorf("failed to enqueue build job: %w", err)
		}
		return true, nil
	default:
		return true, nil
	}
}

func (i *Intake) lookupMapping(ctx context.Context, txType models.TransactionType,
	asset string, output wallet.TxOutput) (*models.AddressMapping, error) {

	var m *models.AddressMapping
	var err error
	if txType == models.TypeWithdrawal {
		ref, perr := strconv.ParseInt(output.AddressInExtra, 10, 64)
		if perr != nil {
			return nil, store.ErrMappingNotFound
		}
		m, err = i.store.FindMappingByRef(ctx, asset, ref)
	} else {
		m, err = i.store.FindMappingByAddressIn(ctx, asset, output.AddressIn)
	}
	if err != nil {
		return nil, err
	}
	if m.Direction != txType {
		return nil, store.ErrMappingNotFound
	}
	return m, nil
}
