package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UpsertTransaction inserts the settlement record for one observed output.
// A duplicate delivery (same tx_in, tx_in_index) only advances the lifecycle
// state; the frozen economic fields are never rewritten, and states already
// claimed by later pipeline stages are never regressed.
func (s *Service) UpsertTransaction(ctx context.Context, tx *models.Transaction) (bool, error) {
	if tx.Id == "" {
		tx.Id = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, queryInsertTransaction,
		tx.Id, string(tx.Type), string(tx.State), tx.TxIn, tx.TxInIndex, tx.TxOut,
		tx.AddressFrom, tx.AddressIn, tx.AddressInExtra, tx.AddressOut, tx.AddressOutExtra,
		tx.Asset, tx.AmountIn.String(), tx.AmountFee.String(), tx.AmountOut.String(),
		tx.RateUsd.String(), tx.Refunded)
	if err == nil {
		zap.L().Info("Transaction recorded",
			zap.String("id", tx.Id),
			zap.String("type", string(tx.Type)),
			zap.String("state", string(tx.State)),
			zap.String("tx_in", tx.TxIn),
			zap.Int("tx_in_index", tx.TxInIndex),
			zap.String("asset", tx.Asset),
			zap.String("amount_in", tx.AmountIn.String()),
			zap.String("amount_out", tx.AmountOut.String()))
		return true, nil
	}
	if !isUniqueViolation(err) {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	result, err := s.db.ExecContext(ctx, queryAdvanceTransactionState,
		string(tx.State), tx.TxIn, tx.TxInIndex)
	if err != nil {
		return false, fmt.Errorf("failed to advance duplicate transaction state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	zap.L().Debug("Duplicate transaction delivery, state advance only",
		zap.String("tx_in", tx.TxIn),
		zap.Int("tx_in_index", tx.TxInIndex),
		zap.String("state", string(tx.State)),
		zap.Int64("rows", rows))

	existing, err := s.GetTransaction(ctx, tx.TxIn, tx.TxInIndex)
	if err != nil {
		return false, err
	}
	*tx = *existing
	return false, nil
}

func (s *Service) GetTransaction(ctx context.Context, txIn string, txInIndex int) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx, querySelectTransaction+` WHERE tx_in = ? AND tx_in_index = ?`, txIn, txInIndex)
	tx, err := scanTransactionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTransactionNotFound
	}
	return tx, err
}

func (s *Service) GetTransactionsByIds(ctx context.Context, ids []string) ([]models.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		querySelectTransaction+` WHERE id IN (`+placeholders+`) ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return scanTransactions(rows)
}

// AssignSequence persists the channel/sequence pair onto every listed
// transaction that has no sequence yet. Rows of one batch share the pair;
// the per-row update is guarded by `sequence IS NULL` so a pair is written
// at most once per row. Two violations are distinguished: the pair already
// held by a row OUTSIDE the batch is the fatal store.ErrSequenceConflict
// (allocator handed one pair to two batches), while a batch row already
// holding a DIFFERENT pair is store.ErrSequenceAssigned (a concurrent
// delivery of the same batch won; callers reload and adopt its pair).
// Re-assigning the pair a batch already holds is a benign no-op.
func (s *Service) AssignSequence(ctx context.Context, ids []string, channel, sequence string) error {
	if len(ids) == 0 {
		return fmt.Errorf("no transaction ids to assign")
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	guardArgs := make([]interface{}, 0, len(ids)+2)
	guardArgs = append(guardArgs, channel, sequence)
	for _, id := range ids {
		guardArgs = append(guardArgs, id)
	}

	var foreign int
	err = dbTx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions
		 WHERE channel = ? AND sequence = ? AND id NOT IN (`+placeholders+`)`,
		guardArgs...).Scan(&foreign)
	if err != nil {
		return fmt.Errorf("failed to check sequence ownership: %w", err)
	}
	if foreign > 0 {
		return fmt.Errorf("%w: channel %s sequence %s", store.ErrSequenceConflict, channel, sequence)
	}

	var assigned int64
	for _, id := range ids {
		result, err := dbTx.ExecContext(ctx, queryAssignSequence, channel, sequence, id)
		if err != nil {
			return fmt.Errorf("failed to assign sequence to %s: %w", id, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		assigned += rows
	}

	if assigned != int64(len(ids)) {
		// Some rows were skipped by the `sequence IS NULL` guard. Skipped
		// rows already holding this exact pair are a redelivery; anything
		// else means another delivery assigned first.
		idArgs := make([]interface{}, 0, len(ids)+2)
		for _, id := range ids {
			idArgs = append(idArgs, id)
		}
		idArgs = append(idArgs, channel, sequence)

		var mismatched int
		err = dbTx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM transactions
			 WHERE id IN (`+placeholders+`)
			   AND (sequence IS NULL OR channel != ? OR sequence != ?)`,
			idArgs...).Scan(&mismatched)
		if err != nil {
			return fmt.Errorf("failed to verify sequence assignment: %w", err)
		}
		if mismatched > 0 {
			return fmt.Errorf("%w: channel %s sequence %s", store.ErrSequenceAssigned, channel, sequence)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sequence assignment: %w", err)
	}

	if assigned > 0 {
		zap.L().Info("Sequence assigned",
			zap.Strings("transaction_ids", ids),
			zap.String("channel", channel),
			zap.String("sequence", sequence))
	}
	return nil
}

// UpdateStateBySequence is the compare-and-swap transition: rows move from
// `from` to `to` only if they are still in `from`.
func (s *Service) UpdateStateBySequence(ctx context.Context, channel, sequence string, from, to models.TransactionState) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryUpdateStateBySequence,
		string(to), channel, sequence, string(from))
	if err != nil {
		return 0, fmt.Errorf("failed to update transaction state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	zap.L().Debug("Transaction state transition",
		zap.String("channel", channel),
		zap.String("sequence", sequence),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int64("rows", rows))
	return rows, nil
}

// CompleteTransactions is the terminal CAS: rows still in pending_stellar
// for the pair move to completed and record the outbound hash.
func (s *Service) CompleteTransactions(ctx context.Context, channel, sequence, txOut string) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryCompleteTransactions, txOut, channel, sequence)
	if err != nil {
		return 0, fmt.Errorf("failed to complete transactions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	zap.L().Info("Transactions completed",
		zap.String("channel", channel),
		zap.String("sequence", sequence),
		zap.String("tx_out", txOut),
		zap.Int64("rows", rows))
	return rows, nil
}

func (s *Service) PendingWithdrawals(ctx context.Context, asset string) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, queryPendingWithdrawals, asset)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending withdrawals: %w", err)
	}
	return scanTransactions(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(scanner rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	var txType, state string
	var amountIn, amountFee, amountOut, rateUsd string

	err := scanner.Scan(&tx.Id, &txType, &state, &tx.TxIn, &tx.TxInIndex, &tx.TxOut,
		&tx.AddressFrom, &tx.AddressIn, &tx.AddressInExtra, &tx.AddressOut, &tx.AddressOutExtra,
		&tx.Asset, &amountIn, &amountFee, &amountOut, &rateUsd,
		&tx.Channel, &tx.Sequence, &tx.Refunded, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}

	tx.Type = models.TransactionType(txType)
	tx.State = models.TransactionState(state)

	if tx.AmountIn, err = decimal.NewFromString(amountIn); err != nil {
		return nil, fmt.Errorf("failed to parse amount_in %q: %w", amountIn, err)
	}
	if tx.AmountFee, err = decimal.NewFromString(amountFee); err != nil {
		return nil, fmt.Errorf("failed to parse amount_fee %q: %w", amountFee, err)
	}
	if tx.AmountOut, err = decimal.NewFromString(amountOut); err != nil {
		return nil, fmt.Errorf("failed to parse amount_out %q: %w", amountOut, err)
	}
	if tx.RateUsd, err = decimal.NewFromString(rateUsd); err != nil {
		return nil, fmt.Errorf("failed to parse rate_usd %q: %w", rateUsd, err)
	}
	return &tx, nil
}

func scanTransactionRow(row *sql.Row) (*models.Transaction, error) {
	return scanTransaction(row)
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	var txs []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return txs, nil
}
