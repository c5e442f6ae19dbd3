package database

import (
	"context"
	"errors"
	"testing"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/store"
)

func TestStageLogClaimIsExclusive(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	log, err := s.InsertStageLog(ctx, models.StageBuilding, "GCHAN", "10")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := s.CompleteStageLog(ctx, log.Id, `{"hash":"h"}`); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// The same stage for the same pair is now permanently done.
	_, err = s.InsertStageLog(ctx, models.StageBuilding, "GCHAN", "10")
	if !errors.Is(err, store.ErrDuplicateStageLog) {
		t.Fatalf("Expected ErrDuplicateStageLog, got %v", err)
	}

	// A different stage for the same pair is a fresh claim.
	if _, err := s.InsertStageLog(ctx, models.StageSigning, "GCHAN", "10"); err != nil {
		t.Fatalf("Different stage claim failed: %v", err)
	}
}

func TestStageLogResumesIncompleteAttempt(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	// Claimed but never completed: the worker died mid stage.
	first, err := s.InsertStageLog(ctx, models.StageSubmitting, "GCHAN", "11")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	// The redelivered job re-claims the existing attempt instead of
	// being refused, so the stage can actually finish.
	resumed, err := s.InsertStageLog(ctx, models.StageSubmitting, "GCHAN", "11")
	if err != nil {
		t.Fatalf("Expected incomplete attempt to be resumable, got %v", err)
	}
	if resumed.Id != first.Id {
		t.Errorf("Resume returned a different row: %s vs %s", resumed.Id, first.Id)
	}

	if err := s.CompleteStageLog(ctx, resumed.Id, `{"tx_out":"h"}`); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	_, err = s.InsertStageLog(ctx, models.StageSubmitting, "GCHAN", "11")
	if !errors.Is(err, store.ErrDuplicateStageLog) {
		t.Fatalf("Expected ErrDuplicateStageLog after completion, got %v", err)
	}
}
