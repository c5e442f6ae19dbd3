package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the flow direction of a settlement.
type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
)

// TransactionState is the lifecycle state of a settlement record.
type TransactionState string

const (
	StateIncomplete      TransactionState = "incomplete"
	StatePendingTrust    TransactionState = "pending_trust"
	StatePendingExternal TransactionState = "pending_external"
	StatePendingAnchor   TransactionState = "pending_anchor"
	StatePendingStellar  TransactionState = "pending_stellar"
	StateCompleted       TransactionState = "completed"
	StateError           TransactionState = "error"
	StateNoMarket        TransactionState = "no_market"
	StateTooSmall        TransactionState = "too_small"
	StateTooLarge        TransactionState = "too_large"
)

// Pipeline stage names recorded in the transaction log.
const (
	StageBuilding   = "building"
	StageSigning    = "signing"
	StageSubmitting = "submitting"
)

// AddressMapping binds an external address to an internal settlement address
// for one asset and one flow direction. Immutable once created.
type AddressMapping struct {
	// Ref is the numeric routing reference used as the memo id on
	// memo-routed settlement deposits. Assigned by the store.
	Ref                 int64
	Id                  string
	Direction           TransactionType
	Asset               string
	AddressIn           string
	AddressOut          string
	AddressOutExtra     string
	AddressOutExtraType string
	CreatedAt           time.Time
}

// TempTransaction is an as-yet-unverified observation of an external payment.
// At most one live row per (chain, hash).
type TempTransaction struct {
	Id        string
	Chain     string
	Hash      string
	CreatedAt time.Time
}

// Transaction is the canonical settlement record. The economic fields
// (AmountIn, AmountFee, AmountOut, RateUsd) are frozen at observation time and
// never recomputed; only State advances afterwards. (TxIn, TxInIndex) is the
// dedup key against replays, (Channel, Sequence) is append-only once assigned.
type Transaction struct {
	Id              string
	Type            TransactionType
	State           TransactionState
	TxIn            string
	TxInIndex       int
	TxOut           string
	AddressFrom     string
	AddressIn       string
	AddressInExtra  string
	AddressOut      string
	AddressOutExtra string
	Asset           string
	AmountIn        decimal.Decimal
	AmountFee       decimal.Decimal
	AmountOut       decimal.Decimal
	RateUsd         decimal.Decimal
	Channel         string
	Sequence        string
	Refunded        bool
	CreatedAt       time.Time
}

// HasSequence reports whether the outbound channel/sequence pair has been
// assigned to this transaction.
func (t *Transaction) HasSequence() bool {
	return t.Channel != "" && t.Sequence != ""
}

// TransactionLog is one append-only pipeline stage attempt. The uniqueness of
// (channel, sequence, stage) turns at-least-once delivery into at-most-one
// accepted attempt per stage.
type TransactionLog struct {
	Id          string
	Stage       string
	Channel     string
	Sequence    string
	CreatedAt   time.Time
	ProcessedAt time.Time
	Output      string
}
