package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InsertStageLog claims a pipeline stage attempt for one outbound
// (channel, sequence) pair. The unique constraint makes the insert the lock:
// a duplicate delivery of an already-completed stage fails with
// store.ErrDuplicateStageLog and is treated as already handled. A duplicate
// of an attempt that was claimed but never completed (worker crashed mid
// stage) re-claims the existing row so the redelivered job can finish it.
func (s *Service) InsertStageLog(ctx context.Context, stage, channel, sequence string) (*models.TransactionLog, error) {
	log := &models.TransactionLog{
		Id:        uuid.New().String(),
		Stage:     stage,
		Channel:   channel,
		Sequence:  sequence,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, queryInsertStageLog, log.Id, stage, channel, sequence)
	if err == nil {
		zap.L().Debug("Stage attempt claimed",
			zap.String("stage", stage),
			zap.String("channel", channel),
			zap.String("sequence", sequence))
		return log, nil
	}
	if !isUniqueViolation(err) {
		return nil, fmt.Errorf("failed to insert stage log: %w", err)
	}

	existing, gerr := s.getStageLog(ctx, stage, channel, sequence)
	if gerr != nil {
		return nil, gerr
	}
	if !existing.ProcessedAt.IsZero() {
		return nil, fmt.Errorf("%w: %s %s:%s", store.ErrDuplicateStageLog, stage, channel, sequence)
	}

	zap.L().Warn("Resuming incomplete stage attempt",
		zap.String("stage", stage),
		zap.String("channel", channel),
		zap.String("sequence", sequence),
		zap.String("id", existing.Id))
	return existing, nil
}

func (s *Service) getStageLog(ctx context.Context, stage, channel, sequence string) (*models.TransactionLog, error) {
	var log models.TransactionLog
	var processedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, queryGetStageLog, channel, sequence, stage).
		Scan(&log.Id, &log.Stage, &log.Channel, &log.Sequence, &log.CreatedAt, &processedAt, &log.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to read stage log: %w", err)
	}
	if processedAt.Valid {
		log.ProcessedAt = processedAt.Time
	}
	return &log, nil
}

// CompleteStageLog records the stage's raw output (or error context) and the
// processing timestamp. Append-only: rows are never deleted.
func (s *Service) CompleteStageLog(ctx context.Context, id string, output string) error {
	if _, err := s.db.ExecContext(ctx, queryCompleteStageLog, output, id); err != nil {
		return fmt.Errorf("failed to complete stage log: %w", err)
	}
	return nil
}
