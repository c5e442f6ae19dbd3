package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateMapping persists a freshly issued address mapping. A concurrent
// resolution that already created the same pairing surfaces as
// store.ErrDuplicateMapping; the caller re-reads and uses the winner.
func (s *Service) CreateMapping(ctx context.Context, m *models.AddressMapping) (*models.AddressMapping, error) {
	if m.Id == "" {
		m.Id = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, queryInsertMapping,
		m.Id, string(m.Direction), m.Asset, m.AddressIn, m.AddressOut, m.AddressOutExtra, m.AddressOutExtraType)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s %s %s", store.ErrDuplicateMapping, m.Direction, m.Asset, m.AddressOut)
		}
		return nil, fmt.Errorf("failed to insert address mapping: %w", err)
	}

	zap.L().Info("Address mapping created",
		zap.String("id", m.Id),
		zap.String("direction", string(m.Direction)),
		zap.String("asset", m.Asset),
		zap.String("address_in", m.AddressIn),
		zap.String("address_out", m.AddressOut))

	return s.FindMapping(ctx, m.Direction, m.Asset, m.AddressOut, m.AddressOutExtra)
}

func (s *Service) FindMapping(ctx context.Context, direction models.TransactionType, asset, addressOut, addressOutExtra string) (*models.AddressMapping, error) {
	row := s.db.QueryRowContext(ctx, queryFindMapping, string(direction), asset, addressOut, addressOutExtra)
	return scanMapping(row)
}

func (s *Service) FindMappingByAddressIn(ctx context.Context, asset, addressIn string) (*models.AddressMapping, error) {
	row := s.db.QueryRowContext(ctx, queryFindMappingByAddressIn, asset, addressIn)
	return scanMapping(row)
}

func (s *Service) FindMappingByRef(ctx context.Context, asset string, ref int64) (*models.AddressMapping, error) {
	row := s.db.QueryRowContext(ctx, queryFindMappingByRef, asset, ref)
	return scanMapping(row)
}

func scanMapping(row *sql.Row) (*models.AddressMapping, error) {
	var m models.AddressMapping
	var direction string
	err := row.Scan(&m.Ref, &m.Id, &direction, &m.Asset, &m.AddressIn, &m.AddressOut,
		&m.AddressOutExtra, &m.AddressOutExtraType, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan address mapping: %w", err)
	}
	m.Direction = models.TransactionType(direction)
	return &m, nil
}
