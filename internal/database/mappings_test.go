package database

import (
	"context"
	"errors"
	"testing"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/store"
)

func TestCreateMappingAssignsRoutingRef(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	first, err := s.CreateMapping(ctx, &models.AddressMapping{
		Direction:  models.TypeWithdrawal,
		Asset:      "USDC",
		AddressIn:  "GDIST",
		AddressOut: "0xdest",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if first.Ref == 0 {
		t.Fatal("Expected a non-zero routing ref")
	}

	second, err := s.CreateMapping(ctx, &models.AddressMapping{
		Direction:  models.TypeWithdrawal,
		Asset:      "USDC",
		AddressIn:  "GDIST",
		AddressOut: "0xother",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if second.Ref == first.Ref {
		t.Error("Routing refs must be distinct per mapping")
	}

	found, err := s.FindMappingByRef(ctx, "USDC", first.Ref)
	if err != nil {
		t.Fatalf("Lookup by ref failed: %v", err)
	}
	if found.AddressOut != "0xdest" {
		t.Errorf("Ref %d resolved to %s", first.Ref, found.AddressOut)
	}
}

func TestCreateMappingRejectsDuplicatePairing(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	m := &models.AddressMapping{
		Direction:  models.TypeDeposit,
		Asset:      "USDC",
		AddressIn:  "DEPOSIT-ADDR",
		AddressOut: "GUSER",
	}
	if _, err := s.CreateMapping(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err := s.CreateMapping(ctx, &models.AddressMapping{
		Direction:  models.TypeDeposit,
		Asset:      "USDC",
		AddressIn:  "OTHER-ADDR",
		AddressOut: "GUSER",
	})
	if !errors.Is(err, store.ErrDuplicateMapping) {
		t.Fatalf("Expected ErrDuplicateMapping, got %v", err)
	}

	// The winner is still resolvable both ways.
	byDest, err := s.FindMapping(ctx, models.TypeDeposit, "USDC", "GUSER", "")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	byAddr, err := s.FindMappingByAddressIn(ctx, "USDC", "DEPOSIT-ADDR")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if byDest.Id != byAddr.Id {
		t.Error("Lookups disagree on the surviving mapping")
	}
}

func TestFindMappingMissesAreTyped(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	if _, err := s.FindMappingByRef(ctx, "USDC", 42); !errors.Is(err, store.ErrMappingNotFound) {
		t.Errorf("Expected ErrMappingNotFound, got %v", err)
	}
	if _, err := s.FindMappingByAddressIn(ctx, "USDC", "nope"); !errors.Is(err, store.ErrMappingNotFound) {
		t.Errorf("Expected ErrMappingNotFound, got %v", err)
	}
}
