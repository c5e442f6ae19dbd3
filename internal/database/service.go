/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/store"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.BridgeStore.
var _ store.BridgeStore = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.InitSchema(); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewServiceFromDB wraps an existing connection. Used by tests.
func NewServiceFromDB(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) InitSchema() error {
	schema := `
	-- Permanent pairing between an external address and an internal
	-- settlement address, per asset and flow direction.
	CREATE TABLE IF NOT EXISTS address_mappings (
		id TEXT PRIMARY KEY,
		direction TEXT NOT NULL CHECK (direction IN ('deposit', 'withdrawal')),
		asset TEXT NOT NULL,
		address_in TEXT NOT NULL,
		address_out TEXT NOT NULL,
		address_out_extra TEXT NOT NULL DEFAULT '',
		address_out_extra_type TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (direction, asset, address_out, address_out_extra)
	);

	CREATE INDEX IF NOT EXISTS idx_mappings_address_in ON address_mappings(asset, address_in);

	-- Not-yet-verified notification observations, collapsed per (chain, hash).
	CREATE TABLE IF NOT EXISTS temp_transactions (
		id TEXT PRIMARY KEY,
		chain TEXT NOT NULL,
		hash TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (chain, hash)
	);

	-- The canonical settlement ledger. (tx_in, tx_in_index) is the sole
	-- defense against replayed or malleated inputs. Rows of one outbound
	-- batch share a (channel, sequence) pair, so the pair is not unique at
	-- the table level; cross-batch double allocation is rejected inside
	-- AssignSequence and duplicate stage work by the transaction_logs
	-- uniqueness below.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL CHECK (type IN ('deposit', 'withdrawal')),
		state TEXT NOT NULL,
		tx_in TEXT NOT NULL,
		tx_in_index INTEGER NOT NULL,
		tx_out TEXT NOT NULL DEFAULT '',
		address_from TEXT NOT NULL,
		address_in TEXT NOT NULL,
		address_in_extra TEXT NOT NULL DEFAULT '',
		address_out TEXT NOT NULL,
		address_out_extra TEXT NOT NULL DEFAULT '',
		asset TEXT NOT NULL,
		amount_in TEXT NOT NULL,
		amount_fee TEXT NOT NULL,
		amount_out TEXT NOT NULL,
		rate_usd TEXT NOT NULL,
		channel TEXT,
		sequence TEXT,
		refunded BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (tx_in, tx_in_index)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_sequence ON transactions(channel, sequence);

	CREATE INDEX IF NOT EXISTS idx_transactions_pending ON transactions(asset, type, state);

	-- Append-only audit trail of stage attempts. The (channel, sequence,
	-- stage) uniqueness is the lock that serializes duplicate deliveries.
	CREATE TABLE IF NOT EXISTS transaction_logs (
		id TEXT PRIMARY KEY,
		stage TEXT NOT NULL CHECK (stage IN ('building', 'signing', 'submitting')),
		channel TEXT NOT NULL,
		sequence TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		processed_at TIMESTAMP,
		output TEXT,
		UNIQUE (channel, sequence, stage)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a sqlite unique-constraint
// failure. Every unique-constraint-as-lock decision in this package goes
// through here.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
