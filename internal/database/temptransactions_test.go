package database

import (
	"context"
	"errors"
	"testing"

	"stellar-bridge-go/internal/store"
)

func TestTempTransactionDedup(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	if err := s.SaveTempTransaction(ctx, "ethereum", "hash-1"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	err := s.SaveTempTransaction(ctx, "ethereum", "hash-1")
	if !errors.Is(err, store.ErrDuplicateTempTransaction) {
		t.Fatalf("Expected ErrDuplicateTempTransaction, got %v", err)
	}

	// Same hash on another chain is a distinct observation.
	if err := s.SaveTempTransaction(ctx, "solana", "hash-1"); err != nil {
		t.Fatalf("Cross-chain save failed: %v", err)
	}

	// Once deleted, the pair can be recorded again.
	if err := s.DeleteTempTransaction(ctx, "ethereum", "hash-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.DeleteTempTransaction(ctx, "ethereum", "hash-1"); err != nil {
		t.Fatalf("Repeated delete failed: %v", err)
	}
	if err := s.SaveTempTransaction(ctx, "ethereum", "hash-1"); err != nil {
		t.Fatalf("Re-save after delete failed: %v", err)
	}
}
