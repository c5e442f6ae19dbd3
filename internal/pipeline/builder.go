package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/queue"
	"stellar-bridge-go/internal/sequence"
	"stellar-bridge-go/internal/store"
	"stellar-bridge-go/internal/wallet"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Builder assigns the outbound channel/sequence pair to a batch and builds
// the unsigned payment transaction covering every recipient in it.
type Builder struct {
	store     store.BridgeStore
	rails     Rails
	allocator *sequence.Allocator
	publisher Publisher
}

func NewBuilder(s store.BridgeStore, rails Rails, allocator *sequence.Allocator, publisher Publisher) *Builder {
	return &Builder{store: s, rails: rails, allocator: allocator, publisher: publisher}
}

func (b *Builder) Handle(ctx context.Context, body []byte) error {
	var job BuildJob
	if err := json.Unmarshal(body, &job); err != nil {
		return queue.Permanent(fmt.Errorf("malformed build job: %w", err))
	}
	if len(job.TransactionIds) == 0 {
		return queue.Permanent(fmt.Errorf("build job carries no transactions"))
	}

	txs, err := b.store.GetTransactionsByIds(ctx, job.TransactionIds)
	if err != nil {
		return fmt.Errorf("failed to load batch transactions: %w", err)
	}
	if len(txs) != len(job.TransactionIds) {
		return queue.Permanent(fmt.Errorf("build job references %d transactions, found %d",
			len(job.TransactionIds), len(txs)))
	}

	_, walletOut := b.rails.Pair(job.Type)

	channel, seq, err := b.channelAndSequence(ctx, walletOut, job, txs)
	if err != nil {
		return err
	}
	seqStr := strconv.FormatInt(seq, 10)

	if err := b.store.AssignSequence(ctx, job.TransactionIds, channel, seqStr); err != nil {
		if errors.Is(err, store.ErrSequenceConflict) {
			// Allocator bug. Retrying would repeat the collision.
			return queue.Permanent(err)
		}
		if errors.Is(err, store.ErrSequenceAssigned) {
			// A concurrent delivery of this batch persisted a pair first.
			// Adopt it instead of building at a second sequence.
			txs, err = b.store.GetTransactionsByIds(ctx, job.TransactionIds)
			if err != nil {
				return fmt.Errorf("failed to reload batch transactions: %w", err)
			}
			channel, seq, err = b.channelAndSequence(ctx, walletOut, job, txs)
			if err != nil {
				return err
			}
			seqStr = strconv.FormatInt(seq, 10)
			zap.L().Info("Adopted persisted sequence",
				zap.String("channel", channel),
				zap.String("sequence", seqStr))
		} else {
			return err
		}
	}

	log, err := b.store.InsertStageLog(ctx, models.StageBuilding, channel, seqStr)
	if errors.Is(err, store.ErrDuplicateStageLog) {
		zap.L().Info("Batch already built",
			zap.String("channel", channel),
			zap.String("sequence", seqStr))
		return nil
	}
	if err != nil {
		return err
	}

	recipients := make([]wallet.Recipient, 0, len(txs))
	totalChange := decimal.Zero
	for _, tx := range txs {
		recipients = append(recipients, wallet.Recipient{
			AddressOut:      tx.AddressOut,
			AddressOutExtra: tx.AddressOutExtra,
			Amount:          tx.AmountOut,
			Asset:           tx.Asset,
		})
		totalChange = totalChange.Add(tx.AmountOut)
	}

	built, err := walletOut.BuildPaymentTx(ctx, recipients, channel, seq)
	if err != nil {
		return fmt.Errorf("failed to build payment transaction: %w", err)
	}

	signJob := SignJob{
		Channel:     channel,
		Sequence:    seqStr,
		Hash:        built.Hash,
		RawTx:       built.RawTx,
		Asset:       job.Asset,
		Type:        job.Type,
		TotalChange: totalChange,
	}
	if err := b.publisher.Publish(ctx, QueueSign, signJob); err != nil {
		return fmt.Errorf("failed to enqueue sign job: %w", err)
	}

	output, _ := json.Marshal(map[string]interface{}{
		"hash":         built.Hash,
		"recipients":   len(recipients),
		"total_change": totalChange,
	})
	if err := b.store.CompleteStageLog(ctx, log.Id, string(output)); err != nil {
		return err
	}

	zap.L().Info("Outbound transaction built",
		zap.String("channel", channel),
		zap.String("sequence", seqStr),
		zap.String("hash", built.Hash),
		zap.Int("recipients", len(recipients)),
		zap.String("total_change", totalChange.String()))
	return nil
}

// channelAndSequence reuses a pair already persisted on the batch (a
// redelivered job after a partial crash) and allocates a fresh one
// otherwise. Mixing transactions with different assigned pairs into one job
// is a producer bug.
func (b *Builder) channelAndSequence(ctx context.Context, walletOut wallet.Wallet,
	job BuildJob, txs []models.Transaction) (string, int64, error) {

	var channel, seqStr string
	for _, tx := range txs {
		if !tx.HasSequence() {
			continue
		}
		if channel != "" && (tx.Channel != channel || tx.Sequence != seqStr) {
			return "", 0, queue.Permanent(fmt.Errorf("batch spans sequences %s:%s and %s:%s",
				channel, seqStr, tx.Channel, tx.Sequence))
		}
		channel, seqStr = tx.Channel, tx.Sequence
	}

	if channel != "" {
		seq, err := strconv.ParseInt(seqStr, 10, 64)
		if err != nil {
			return "", 0, queue.Permanent(fmt.Errorf("corrupt sequence %q: %w", seqStr, err))
		}
		return channel, seq, nil
	}

	channel, seq, err := b.allocator.Next(ctx, walletOut, job.Asset)
	if err != nil {
		return "", 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	return channel, seq, nil
}
