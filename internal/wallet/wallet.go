package wallet

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Sentinel errors produced by drivers.
var (
	// ErrTxAlreadyApplied means the network rejected a submission because the
	// signed transaction's sequence was already consumed on-chain. The
	// submitter treats this as success-already-achieved.
	ErrTxAlreadyApplied = errors.New("transaction already applied")

	// ErrInvalidDestination means the requested payout destination was
	// rejected by the driver before any state was created.
	ErrInvalidDestination = errors.New("invalid destination")

	ErrTxNotFound = errors.New("transaction not found on rail")
)

// TxOutput is one output of an observed inbound transaction that pays one of
// our settlement addresses.
type TxOutput struct {
	Asset          string
	TxIn           string
	TxInIndex      int
	AddressFrom    string
	AddressIn      string
	AddressInExtra string
	Value          decimal.Decimal
	Confirmations  int
}

// Recipient is one payout leg of an outbound payment transaction.
type Recipient struct {
	AddressOut          string
	AddressOutExtra     string
	AddressOutExtraType string
	Amount              decimal.Decimal
	Asset               string
}

// BuiltTx is an unsigned (or signed) outbound transaction in the rail's raw
// encoding, plus its hash for correlation.
type BuiltTx struct {
	Hash  string
	RawTx string
}

// SubmitResult is the rail's acknowledgment of an accepted submission.
type SubmitResult struct {
	Hash string
}

// AccountStatus describes a payout destination on the settlement side.
type AccountStatus struct {
	Exists bool
	Trusts bool
}

// Wallet is the per-rail driver capability consumed by the pipeline. Every
// call that touches the network takes a context and blocks; none busy-poll.
type Wallet interface {
	GetNewAddress(ctx context.Context, asset string) (string, error)
	IsValidDestination(ctx context.Context, asset, address, addressExtra string) (bool, error)
	// CheckAccount reports destination existence and asset trust. Rails
	// without an opt-in concept report Trusts == Exists.
	CheckAccount(ctx context.Context, address, asset string) (AccountStatus, error)
	// CheckTransaction enumerates the outputs of hash that pay our own
	// settlement addresses.
	CheckTransaction(ctx context.Context, asset, hash string) ([]TxOutput, error)
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	// IsFinalYet decides whether an inbound transfer is irreversible enough
	// to act upon. Pure; drivers may substitute rail-specific policies.
	IsFinalYet(value decimal.Decimal, confirmations int, rateUsd decimal.Decimal) bool

	// Outbound path. ChannelAccount and GetSequence feed the allocator;
	// drivers never increment sequences themselves.
	ChannelAccount(asset string) (string, error)
	GetSequence(ctx context.Context, asset, channel string) (int64, error)
	BuildPaymentTx(ctx context.Context, recipients []Recipient, channel string, sequence int64) (BuiltTx, error)
	Sign(ctx context.Context, rawTx, asset string) (string, error)
	Submit(ctx context.Context, rawTx, asset string) (SubmitResult, error)
}
