package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/queue"
	"stellar-bridge-go/internal/store"
	"stellar-bridge-go/internal/wallet"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const submitMaxTries = 5

// Submitter broadcasts the signed transaction. The pending_stellar
// transition happens before the network call, so a crash after submission
// still reads as "probably in flight" rather than silently reverting.
type Submitter struct {
	store store.BridgeStore
	rails Rails
}

func NewSubmitter(s store.BridgeStore, rails Rails) *Submitter {
	return &Submitter{store: s, rails: rails}
}

func (s *Submitter) Handle(ctx context.Context, body []byte) error {
	var job SubmitJob
	if err := json.Unmarshal(body, &job); err != nil {
		return queue.Permanent(fmt.Errorf("malformed submit job: %w", err))
	}

	log, err := s.store.InsertStageLog(ctx, models.StageSubmitting, job.Channel, job.Sequence)
	if errors.Is(err, store.ErrDuplicateStageLog) {
		zap.L().Info("Batch already submitted",
			zap.String("channel", job.Channel),
			zap.String("sequence", job.Sequence))
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.store.UpdateStateBySequence(ctx, job.Channel, job.Sequence,
		models.StatePendingAnchor, models.StatePendingStellar); err != nil {
		return err
	}

	_, walletOut := s.rails.Pair(job.Type)

	result, err := backoff.Retry(ctx, func() (wallet.SubmitResult, error) {
		res, serr := walletOut.Submit(ctx, job.RawTx, job.Asset)
		if errors.Is(serr, wallet.ErrTxAlreadyApplied) {
			// The sequence was already consumed on-chain: a previous
			// submission of this single-use transaction won.
			return res, backoff.Permanent(serr)
		}
		return res, serr
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(submitMaxTries))

	if err != nil && !errors.Is(err, wallet.ErrTxAlreadyApplied) {
		if _, cerr := s.store.UpdateStateBySequence(ctx, job.Channel, job.Sequence,
			models.StatePendingStellar, models.StateError); cerr != nil {
			return cerr
		}
		output, _ := json.Marshal(map[string]string{"error": err.Error()})
		if lerr := s.store.CompleteStageLog(ctx, log.Id, string(output)); lerr != nil {
			return lerr
		}
		zap.L().Error("Submission failed terminally",
			zap.String("channel", job.Channel),
			zap.String("sequence", job.Sequence),
			zap.String("hash", job.Hash),
			zap.Error(err))
		return queue.Permanent(fmt.Errorf("submission failed: %w", err))
	}

	txOut := result.Hash
	if txOut == "" {
		txOut = job.Hash
	}
	if _, err := s.store.CompleteTransactions(ctx, job.Channel, job.Sequence, txOut); err != nil {
		return err
	}

	output, _ := json.Marshal(map[string]interface{}{
		"tx_out":       txOut,
		"submitted_at": time.Now().UTC(),
	})
	if err := s.store.CompleteStageLog(ctx, log.Id, string(output)); err != nil {
		return err
	}

	zap.L().Info("Outbound transaction settled",
		zap.String("channel", job.Channel),
		zap.String("sequence", job.Sequence),
		zap.String("tx_out", txOut))
	return nil
}
