package store

import (
	"context"
	"errors"

	"stellar-bridge-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	// ErrDuplicateTempTransaction means another delivery of the same
	// notification already started processing. Benign.
	ErrDuplicateTempTransaction = errors.New("duplicate temp transaction")

	// ErrDuplicateTransaction means a settlement record for the same
	// (txIn, txInIndex) already exists. Benign; callers advance state only.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrDuplicateStageLog means this pipeline stage already accepted an
	// attempt for the same (channel, sequence). Benign; the work is done.
	ErrDuplicateStageLog = errors.New("duplicate stage log")

	// ErrDuplicateMapping means a mapping for the same resolution key was
	// created concurrently. Callers re-read and use the winner.
	ErrDuplicateMapping = errors.New("duplicate address mapping")

	// ErrSequenceConflict means a (channel, sequence) pair was handed out
	// to two different batches. This indicates an allocator bug and must
	// never be retried.
	ErrSequenceConflict = errors.New("sequence conflict")

	// ErrSequenceAssigned means a row in the batch already carries a
	// different pair: a concurrent delivery of the same batch won the
	// assignment. Callers reload and adopt the persisted pair.
	ErrSequenceAssigned = errors.New("sequence already assigned")

	ErrMappingNotFound     = errors.New("address mapping not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// BridgeStore is the durable record of settlement attempts: address mappings,
// intake dedup rows, the transaction ledger and its stage logs. Mutual
// exclusion across workers is provided exclusively by the unique constraints
// and conditional updates exposed here, never by in-process locks.
type BridgeStore interface {
	// --- Address mappings ---
	CreateMapping(ctx context.Context, m *models.AddressMapping) (*models.AddressMapping, error)
	FindMapping(ctx context.Context, direction models.TransactionType, asset, addressOut, addressOutExtra string) (*models.AddressMapping, error)
	FindMappingByAddressIn(ctx context.Context, asset, addressIn string) (*models.AddressMapping, error)
	// FindMappingByRef looks up a mapping by its numeric routing reference,
	// the value carried in a memo-routed inbound payment.
	FindMappingByRef(ctx context.Context, asset string, ref int64) (*models.AddressMapping, error)

	// --- Intake dedup ---
	SaveTempTransaction(ctx context.Context, chain, hash string) error
	DeleteTempTransaction(ctx context.Context, chain, hash string) error

	// --- Transaction ledger ---
	// UpsertTransaction inserts a new settlement record. If a record with the
	// same (txIn, txInIndex) already exists it advances state only, and only
	// from a pre-settlement state; the frozen economic fields are untouched.
	// Returns true when a new row was created.
	UpsertTransaction(ctx context.Context, tx *models.Transaction) (bool, error)
	GetTransaction(ctx context.Context, txIn string, txInIndex int) (*models.Transaction, error)
	GetTransactionsByIds(ctx context.Context, ids []string) ([]models.Transaction, error)
	// AssignSequence persists the channel/sequence pair onto every listed
	// transaction that does not yet carry one. Append-only: a pair held by
	// any row outside the batch fails with ErrSequenceConflict, and a batch
	// row already holding a different pair fails with ErrSequenceAssigned.
	AssignSequence(ctx context.Context, ids []string, channel, sequence string) error
	// UpdateStateBySequence is the compare-and-swap state transition for all
	// transactions correlated to one outbound (channel, sequence) pair.
	// Returns the number of rows moved.
	UpdateStateBySequence(ctx context.Context, channel, sequence string, from, to models.TransactionState) (int64, error)
	// CompleteTransactions moves the pair's rows pending_stellar → completed
	// and records the outbound transaction hash. Same CAS semantics.
	CompleteTransactions(ctx context.Context, channel, sequence, txOut string) (int64, error)
	// PendingWithdrawals lists withdrawals awaiting batch pickup: state
	// pending_anchor with no sequence assigned.
	PendingWithdrawals(ctx context.Context, asset string) ([]models.Transaction, error)

	// --- Stage logs ---
	// InsertStageLog claims one stage attempt for a (channel, sequence)
	// pair. An already-completed claim returns ErrDuplicateStageLog; an
	// incomplete claim from a crashed worker is returned for resumption.
	InsertStageLog(ctx context.Context, stage, channel, sequence string) (*models.TransactionLog, error)
	CompleteStageLog(ctx context.Context, id string, output string) error

	// --- Lifecycle ---
	Close()
}
