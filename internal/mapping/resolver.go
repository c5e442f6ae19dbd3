package mapping

import (
	"context"
	"errors"
	"fmt"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/store"
	"stellar-bridge-go/internal/wallet"

	"go.uber.org/zap"
)

// Resolver assigns and looks up the permanent pairing between an external
// address and an internal settlement address, per asset and flow direction.
type Resolver struct {
	store store.BridgeStore
}

func NewResolver(s store.BridgeStore) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the mapping for (direction, asset, addressOut,
// addressOutExtra), creating it on first request. Destination validation
// happens before any row is created. Idempotent: a second resolution for the
// same key returns the existing mapping, and a concurrent create race is
// settled by the store's unique constraint, after which the loser re-reads
// the winner's row.
func (r *Resolver) Resolve(ctx context.Context, walletIn, walletOut wallet.Wallet, direction models.TransactionType,
	asset, addressOut, addressOutExtra, addressOutExtraType string) (*models.AddressMapping, error) {

	valid, err := walletOut.IsValidDestination(ctx, asset, addressOut, addressOutExtra)
	if err != nil {
		return nil, fmt.Errorf("failed to validate destination: %w", err)
	}
	if !valid {
		return nil, fmt.Errorf("%w: %s", wallet.ErrInvalidDestination, addressOut)
	}

	existing, err := r.store.FindMapping(ctx, direction, asset, addressOut, addressOutExtra)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrMappingNotFound) {
		return nil, err
	}

	addressIn, err := walletIn.GetNewAddress(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("failed to issue settlement address: %w", err)
	}

	created, err := r.store.CreateMapping(ctx, &models.AddressMapping{
		Direction:           direction,
		Asset:               asset,
		AddressIn:           addressIn,
		AddressOut:          addressOut,
		AddressOutExtra:     addressOutExtra,
		AddressOutExtraType: addressOutExtraType,
	})
	if errors.Is(err, store.ErrDuplicateMapping) {
		// Lost the create race. The issued address goes unused, which
		// costs nothing beyond the issuance itself.
		zap.L().Info("Mapping created concurrently, using existing",
			zap.String("asset", asset),
			zap.String("address_out", addressOut))
		return r.store.FindMapping(ctx, direction, asset, addressOut, addressOutExtra)
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}
