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

const (
	// Address mapping queries
	queryInsertMapping = `
		INSERT INTO address_mappings (id, direction, asset, address_in, address_out, address_out_extra, address_out_extra_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	// rowid doubles as the numeric memo routing reference for withdrawal
	// mappings, since ledger memo ids are 64-bit integers
	queryFindMapping = `
		SELECT rowid, id, direction, asset, address_in, address_out, address_out_extra, address_out_extra_type, created_at
		FROM address_mappings
		WHERE direction = ? AND asset = ? AND address_out = ? AND address_out_extra = ?`

	queryFindMappingByAddressIn = `
		SELECT rowid, id, direction, asset, address_in, address_out, address_out_extra, address_out_extra_type, created_at
		FROM address_mappings
		WHERE asset = ? AND address_in = ?
		ORDER BY created_at
		LIMIT 1`

	queryFindMappingByRef = `
		SELECT rowid, id, direction, asset, address_in, address_out, address_out_extra, address_out_extra_type, created_at
		FROM address_mappings
		WHERE asset = ? AND rowid = ?`

	// Temp transaction queries
	queryInsertTempTransaction = `
		INSERT INTO temp_transactions (id, chain, hash) VALUES (?, ?, ?)`

	queryDeleteTempTransaction = `
		DELETE FROM temp_transactions WHERE chain = ? AND hash = ?`

	// Transaction ledger queries
	queryInsertTransaction = `
		INSERT INTO transactions (
			id, type, state, tx_in, tx_in_index, tx_out,
			address_from, address_in, address_in_extra, address_out, address_out_extra,
			asset, amount_in, amount_fee, amount_out, rate_usd, refunded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// state advances only from pre-settlement states, so a stale duplicate
	// delivery can never regress work a later stage already recorded
	queryAdvanceTransactionState = `
		UPDATE transactions
		SET state = ?
		WHERE tx_in = ? AND tx_in_index = ?
		  AND state IN ('incomplete', 'pending_trust', 'pending_external')`

	querySelectTransaction = `
		SELECT id, type, state, tx_in, tx_in_index, tx_out,
		       address_from, address_in, address_in_extra, address_out, address_out_extra,
		       asset, amount_in, amount_fee, amount_out, rate_usd,
		       COALESCE(channel, ''), COALESCE(sequence, ''), refunded, created_at
		FROM transactions`

	queryAssignSequence = `
		UPDATE transactions
		SET channel = ?, sequence = ?
		WHERE id = ? AND sequence IS NULL`

	queryUpdateStateBySequence = `
		UPDATE transactions
		SET state = ?
		WHERE channel = ? AND sequence = ? AND state = ?`

	queryCompleteTransactions = `
		UPDATE transactions
		SET state = 'completed', tx_out = ?
		WHERE channel = ? AND sequence = ? AND state = 'pending_stellar'`

	queryPendingWithdrawals = querySelectTransaction + `
		WHERE type = 'withdrawal' AND asset = ? AND state = 'pending_anchor' AND sequence IS NULL
		ORDER BY created_at`

	// Stage log queries
	queryInsertStageLog = `
		INSERT INTO transaction_logs (id, stage, channel, sequence)
		VALUES (?, ?, ?, ?)`

	queryGetStageLog = `
		SELECT id, stage, channel, sequence, created_at, processed_at, COALESCE(output, '')
		FROM transaction_logs
		WHERE channel = ? AND sequence = ? AND stage = ?`

	queryCompleteStageLog = `
		UPDATE transaction_logs
		SET processed_at = CURRENT_TIMESTAMP, output = ?
		WHERE id = ?`
)
