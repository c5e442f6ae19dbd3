package database

import (
	"context"
	"fmt"

	"stellar-bridge-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SaveTempTransaction records an incoming notification for dedup. A second
// delivery of the same (chain, hash) surfaces as
// store.ErrDuplicateTempTransaction, which callers swallow.
func (s *Service) SaveTempTransaction(ctx context.Context, chain, hash string) error {
	_, err := s.db.ExecContext(ctx, queryInsertTempTransaction, uuid.New().String(), chain, hash)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", store.ErrDuplicateTempTransaction, chain, hash)
		}
		return fmt.Errorf("failed to insert temp transaction: %w", err)
	}

	zap.L().Debug("Temp transaction recorded",
		zap.String("chain", chain),
		zap.String("hash", hash))
	return nil
}

// DeleteTempTransaction removes the dedup row once every output of the hash
// has reached a terminal routing decision. Deleting an already-deleted row is
// a no-op.
func (s *Service) DeleteTempTransaction(ctx context.Context, chain, hash string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteTempTransaction, chain, hash); err != nil {
		return fmt.Errorf("failed to delete temp transaction: %w", err)
	}
	return nil
}
