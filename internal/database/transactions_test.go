package database

import (
	"context"
	"errors"
	"testing"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/store"

	"github.com/shopspring/decimal"
)

func depositTx(txIn string, state models.TransactionState) *models.Transaction {
	return &models.Transaction{
		Type:        models.TypeDeposit,
		State:       state,
		TxIn:        txIn,
		TxInIndex:   0,
		AddressFrom: "0xsender",
		AddressIn:   "DEPOSIT-ADDR",
		AddressOut:  "GUSER",
		Asset:       "USDC",
		AmountIn:    decimal.RequireFromString("100"),
		AmountFee:   decimal.RequireFromString("0.1001"),
		AmountOut:   decimal.RequireFromString("99.8999"),
		RateUsd:     decimal.NewFromInt(1),
	}
}

func TestUpsertKeepsEconomicFieldsFrozen(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	inserted, err := s.UpsertTransaction(ctx, depositTx("tx-1", models.StatePendingExternal))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if !inserted {
		t.Fatal("Expected first upsert to insert")
	}

	// A replay carrying different amounts must not rewrite the record.
	replay := depositTx("tx-1", models.StatePendingAnchor)
	replay.AmountIn = decimal.RequireFromString("999")
	replay.AmountFee = decimal.RequireFromString("9")
	replay.AmountOut = decimal.RequireFromString("990")
	inserted, err = s.UpsertTransaction(ctx, replay)
	if err != nil {
		t.Fatalf("Replay upsert failed: %v", err)
	}
	if inserted {
		t.Fatal("Expected replay to be a duplicate")
	}

	stored, err := s.GetTransaction(ctx, "tx-1", 0)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !stored.AmountIn.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Replay rewrote amount_in: %s", stored.AmountIn)
	}
	if stored.State != models.StatePendingAnchor {
		t.Errorf("Replay should advance state, got %s", stored.State)
	}
	// The replay struct is refreshed with the persisted record.
	if !replay.AmountIn.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Caller struct not refreshed, amount_in %s", replay.AmountIn)
	}
}

func TestUpsertNeverRegressesClaimedStates(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	tx := depositTx("tx-2", models.StatePendingAnchor)
	if _, err := s.UpsertTransaction(ctx, tx); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.AssignSequence(ctx, []string{tx.Id}, "GCHAN", "77"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if _, err := s.UpdateStateBySequence(ctx, "GCHAN", "77", models.StatePendingAnchor, models.StatePendingStellar); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if _, err := s.CompleteTransactions(ctx, "GCHAN", "77", "out-hash"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// A late replay of the original notification arrives after completion.
	if _, err := s.UpsertTransaction(ctx, depositTx("tx-2", models.StatePendingAnchor)); err != nil {
		t.Fatalf("Late replay failed: %v", err)
	}
	stored, err := s.GetTransaction(ctx, "tx-2", 0)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if stored.State != models.StateCompleted {
		t.Errorf("Late replay regressed state to %s", stored.State)
	}
	if stored.TxOut != "out-hash" {
		t.Errorf("Late replay lost tx_out: %q", stored.TxOut)
	}
}

func TestAssignSequenceIsAppendOnly(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	tx := depositTx("tx-3", models.StatePendingAnchor)
	if _, err := s.UpsertTransaction(ctx, tx); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.AssignSequence(ctx, []string{tx.Id}, "GCHAN", "100"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	// Re-assigning the pair the row already holds is a redelivery no-op.
	if err := s.AssignSequence(ctx, []string{tx.Id}, "GCHAN", "100"); err != nil {
		t.Fatalf("Redelivered assign failed: %v", err)
	}

	// A different pair means another delivery assigned first; the caller
	// must be told so it can adopt the persisted pair.
	err := s.AssignSequence(ctx, []string{tx.Id}, "GCHAN", "200")
	if !errors.Is(err, store.ErrSequenceAssigned) {
		t.Fatalf("Expected ErrSequenceAssigned, got %v", err)
	}
	stored, err := s.GetTransaction(ctx, "tx-3", 0)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if stored.Channel != "GCHAN" || stored.Sequence != "100" {
		t.Errorf("Sequence was reassigned: %s:%s", stored.Channel, stored.Sequence)
	}
}

func TestAssignSequenceSharesPairAcrossBatch(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	first := depositTx("batch-1", models.StatePendingAnchor)
	second := depositTx("batch-2", models.StatePendingAnchor)
	for _, tx := range []*models.Transaction{first, second} {
		if _, err := s.UpsertTransaction(ctx, tx); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	// Every row of one batch carries the same pair.
	if err := s.AssignSequence(ctx, []string{first.Id, second.Id}, "GCHAN", "5001"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	for _, txIn := range []string{"batch-1", "batch-2"} {
		stored, err := s.GetTransaction(ctx, txIn, 0)
		if err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
		if stored.Channel != "GCHAN" || stored.Sequence != "5001" {
			t.Errorf("Row %s carries %s:%s, want GCHAN:5001", txIn, stored.Channel, stored.Sequence)
		}
	}

	// A redelivery of the whole batch is a no-op.
	if err := s.AssignSequence(ctx, []string{first.Id, second.Id}, "GCHAN", "5001"); err != nil {
		t.Fatalf("Redelivered assign failed: %v", err)
	}
}

func TestAssignSequenceRejectsPairReuse(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	first := depositTx("tx-4", models.StatePendingAnchor)
	second := depositTx("tx-5", models.StatePendingAnchor)
	if _, err := s.UpsertTransaction(ctx, first); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := s.UpsertTransaction(ctx, second); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := s.AssignSequence(ctx, []string{first.Id}, "GCHAN", "300"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	err := s.AssignSequence(ctx, []string{second.Id}, "GCHAN", "300")
	if !errors.Is(err, store.ErrSequenceConflict) {
		t.Fatalf("Expected ErrSequenceConflict, got %v", err)
	}
}

func TestCompleteTransactionsRequiresPendingStellar(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	tx := depositTx("tx-6", models.StatePendingAnchor)
	if _, err := s.UpsertTransaction(ctx, tx); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.AssignSequence(ctx, []string{tx.Id}, "GCHAN", "400"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	// Still pending_anchor: the terminal CAS must not fire.
	rows, err := s.CompleteTransactions(ctx, "GCHAN", "400", "out-hash")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if rows != 0 {
		t.Errorf("Completed %d rows from pending_anchor", rows)
	}

	if _, err := s.UpdateStateBySequence(ctx, "GCHAN", "400", models.StatePendingAnchor, models.StatePendingStellar); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	rows, err = s.CompleteTransactions(ctx, "GCHAN", "400", "out-hash")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if rows != 1 {
		t.Errorf("Expected 1 completed row, got %d", rows)
	}
}

func TestPendingWithdrawalsSkipsClaimedRows(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	open := depositTx("wd-1", models.StatePendingAnchor)
	open.Type = models.TypeWithdrawal
	claimed := depositTx("wd-2", models.StatePendingAnchor)
	claimed.Type = models.TypeWithdrawal
	deposit := depositTx("dep-1", models.StatePendingAnchor)

	for _, tx := range []*models.Transaction{open, claimed, deposit} {
		if _, err := s.UpsertTransaction(ctx, tx); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if err := s.AssignSequence(ctx, []string{claimed.Id}, "GCHAN", "500"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	pending, err := s.PendingWithdrawals(ctx, "USDC")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending withdrawal, got %d", len(pending))
	}
	if pending[0].Id != open.Id {
		t.Errorf("Expected %s, got %s", open.Id, pending[0].Id)
	}
}
