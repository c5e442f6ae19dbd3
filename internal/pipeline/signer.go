package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/queue"
	"stellar-bridge-go/internal/store"
	"stellar-bridge-go/internal/wallet"

	"go.uber.org/zap"
)

// ErrBalanceMismatch means the custodial balance cannot cover the
// obligations of a batch. Fatal: retrying repeats the same failing
// precondition, so the batch halts for operator intervention.
var ErrBalanceMismatch = errors.New("custodial balance mismatch")

// Signer performs the balance sanity check and signs the built transaction.
// No signature is ever produced for a batch that fails the check.
type Signer struct {
	store     store.BridgeStore
	rails     Rails
	publisher Publisher
}

func NewSigner(s store.BridgeStore, rails Rails, publisher Publisher) *Signer {
	return &Signer{store: s, rails: rails, publisher: publisher}
}

func (s *Signer) Handle(ctx context.Context, body []byte) error {
	var job SignJob
	if err := json.Unmarshal(body, &job); err != nil {
		return queue.Permanent(fmt.Errorf("malformed sign job: %w", err))
	}

	log, err := s.store.InsertStageLog(ctx, models.StageSigning, job.Channel, job.Sequence)
	if errors.Is(err, store.ErrDuplicateStageLog) {
		zap.L().Info("Batch already signed",
			zap.String("channel", job.Channel),
			zap.String("sequence", job.Sequence))
		return nil
	}
	if err != nil {
		return err
	}

	walletIn, walletOut := s.rails.Pair(job.Type)
	if err := s.checkBalances(ctx, walletIn, walletOut, job); err != nil {
		if errors.Is(err, ErrBalanceMismatch) {
			s.recordFailure(ctx, log.Id, err)
		}
		return err
	}

	signed, err := walletOut.Sign(ctx, job.RawTx, job.Asset)
	if err != nil {
		// Key material is local; a signature that fails once fails again.
		err = queue.Permanent(fmt.Errorf("failed to sign transaction: %w", err))
		s.recordFailure(ctx, log.Id, err)
		return err
	}

	submitJob := SubmitJob{
		Channel:  job.Channel,
		Sequence: job.Sequence,
		Hash:     job.Hash,
		RawTx:    signed,
		Asset:    job.Asset,
		Type:     job.Type,
	}
	if err := s.publisher.Publish(ctx, QueueSubmit, submitJob); err != nil {
		return fmt.Errorf("failed to enqueue submit job: %w", err)
	}

	output, _ := json.Marshal(map[string]string{"hash": job.Hash})
	if err := s.store.CompleteStageLog(ctx, log.Id, string(output)); err != nil {
		return err
	}

	zap.L().Info("Outbound transaction signed",
		zap.String("channel", job.Channel),
		zap.String("sequence", job.Sequence),
		zap.String("hash", job.Hash))
	return nil
}

// recordFailure closes the claimed signing log with the failure context so
// the halt is visible in the audit trail, not only in the process log.
func (s *Signer) recordFailure(ctx context.Context, logId string, cause error) {
	output, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := s.store.CompleteStageLog(ctx, logId, string(output)); err != nil {
		zap.L().Error("Failed to record signing failure",
			zap.String("log_id", logId),
			zap.Error(err))
	}
}

// checkBalances verifies the custodial books can cover this batch before any
// signature exists. Deposits mint settlement-side obligations backed by the
// external balance; withdrawals release external funds backed by returned
// tokens. Concurrent in-flight batches are not accounted for; this catches
// gross errors, not races.
func (s *Signer) checkBalances(ctx context.Context, walletIn, walletOut wallet.Wallet, job SignJob) error {
	balanceIn, err := walletIn.GetBalance(ctx, job.Asset)
	if err != nil {
		return fmt.Errorf("failed to read inbound balance: %w", err)
	}
	balanceOut, err := walletOut.GetBalance(ctx, job.Asset)
	if err != nil {
		return fmt.Errorf("failed to read outbound balance: %w", err)
	}

	var ok bool
	if job.Type == models.TypeDeposit {
		ok = balanceIn.GreaterThanOrEqual(balanceOut.Add(job.TotalChange))
	} else {
		ok = balanceIn.LessThanOrEqual(balanceOut.Sub(job.TotalChange))
	}
	if !ok {
		zap.L().Error("Balance sanity check failed, halting batch",
			zap.String("channel", job.Channel),
			zap.String("sequence", job.Sequence),
			zap.String("type", string(job.Type)),
			zap.String("asset", job.Asset),
			zap.String("balance_in", balanceIn.String()),
			zap.String("balance_out", balanceOut.String()),
			zap.String("total_change", job.TotalChange.String()))
		return queue.Permanent(fmt.Errorf("%w: in %s, out %s, change %s",
			ErrBalanceMismatch, balanceIn, balanceOut, job.TotalChange))
	}
	return nil
}
