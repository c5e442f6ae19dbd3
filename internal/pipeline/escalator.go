package pipeline

import (
	"context"
	"encoding/json"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/store"

	"go.uber.org/zap"
)

// Escalator reacts to messages the broker gives up on. A dropped message
// would otherwise strand its transactions: rows with an assigned sequence are
// skipped by the withdrawal sweep, and rows already recorded are skipped by
// intake, so nothing ever retries them. The escalator moves those rows to
// the error state, where an operator can see and resolve them.
type Escalator struct {
	store store.BridgeStore
}

func NewEscalator(s store.BridgeStore) *Escalator {
	return &Escalator{store: s}
}

// HandleDrop is the queue.DropHandler for every pipeline queue. Best effort:
// failures here are logged, never propagated, because the message is being
// dropped regardless.
func (e *Escalator) HandleDrop(ctx context.Context, queueName string, body []byte) {
	switch queueName {
	case QueueBuild:
		e.escalateBuild(ctx, body)
	case QueueSign, QueueSubmit:
		e.escalateBatch(ctx, queueName, body)
	default:
		// Intake drops carry no settlement rows yet; the temp transaction
		// stays on record for a manual replay.
		zap.L().Warn("Dropped message had no correlated transactions",
			zap.String("queue", queueName))
	}
}

// escalateBuild handles a dropped build job. Rows that already carry a
// sequence are unreachable by the sweep and must be escalated; rows without
// one will be picked up by the next sweep and are left alone.
func (e *Escalator) escalateBuild(ctx context.Context, body []byte) {
	var job BuildJob
	if err := json.Unmarshal(body, &job); err != nil {
		zap.L().Error("Cannot decode dropped build job", zap.Error(err))
		return
	}

	txs, err := e.store.GetTransactionsByIds(ctx, job.TransactionIds)
	if err != nil {
		zap.L().Error("Cannot load transactions of dropped build job", zap.Error(err))
		return
	}

	seen := make(map[string]bool)
	for _, tx := range txs {
		if !tx.HasSequence() {
			continue
		}
		key := tx.Channel + ":" + tx.Sequence
		if seen[key] {
			continue
		}
		seen[key] = true
		e.escalate(ctx, QueueBuild, tx.Channel, tx.Sequence)
	}
}

// escalateBatch handles a dropped sign or submit job, which always names its
// pair. Depending on how far the batch got, its rows sit in pending_anchor
// or pending_stellar; both transitions are attempted.
func (e *Escalator) escalateBatch(ctx context.Context, queueName string, body []byte) {
	var job struct {
		Channel  string `json:"channel"`
		Sequence string `json:"sequence"`
	}
	if err := json.Unmarshal(body, &job); err != nil {
		zap.L().Error("Cannot decode dropped job",
			zap.String("queue", queueName),
			zap.Error(err))
		return
	}
	if job.Channel == "" || job.Sequence == "" {
		return
	}
	e.escalate(ctx, queueName, job.Channel, job.Sequence)
}

func (e *Escalator) escalate(ctx context.Context, queueName, channel, sequence string) {
	var moved int64
	for _, from := range []models.TransactionState{models.StatePendingAnchor, models.StatePendingStellar} {
		n, err := e.store.UpdateStateBySequence(ctx, channel, sequence, from, models.StateError)
		if err != nil {
			zap.L().Error("Failed to escalate dropped batch",
				zap.String("queue", queueName),
				zap.String("channel", channel),
				zap.String("sequence", sequence),
				zap.Error(err))
			return
		}
		moved += n
	}

	zap.L().Error("Batch escalated to error after dropped message",
		zap.String("queue", queueName),
		zap.String("channel", channel),
		zap.String("sequence", sequence),
		zap.Int64("transactions", moved))
}
