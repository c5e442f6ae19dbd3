package pipeline

import (
	"context"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/wallet"

	"github.com/shopspring/decimal"
)

// Queue names, one per pipeline stage.
const (
	QueueTempTransactions = "temp-transactions"
	QueueBuild            = "transactions"
	QueueSign             = "sign"
	QueueSubmit           = "submit"
)

// Publisher enqueues the next stage's job. Satisfied by queue.Broker.
type Publisher interface {
	Publish(ctx context.Context, queue string, v interface{}) error
}

// Rails holds the two wallet drivers and routes them per flow direction:
// deposits come in on the external rail and pay out on the settlement chain,
// withdrawals the other way around.
type Rails struct {
	External   wallet.Wallet
	Settlement wallet.Wallet

	// SettlementChain is the chain name notifications use for the
	// settlement ledger itself.
	SettlementChain string
}

// Pair returns (walletIn, walletOut) for the flow direction.
func (r Rails) Pair(txType models.TransactionType) (wallet.Wallet, wallet.Wallet) {
	if txType == models.TypeWithdrawal {
		return r.Settlement, r.External
	}
	return r.External, r.Settlement
}

// TypeForChain classifies a notification: payments observed on the
// settlement chain are withdrawals, everything else is a deposit.
func (r Rails) TypeForChain(chain string) models.TransactionType {
	if chain == r.SettlementChain {
		return models.TypeWithdrawal
	}
	return models.TypeDeposit
}

// TempTxJob is the intake stage's unit of work: one observed external hash.
type TempTxJob struct {
	Chain string `json:"chain"`
	Hash  string `json:"hash"`
}

// BuildJob carries transaction ids rather than full records; the builder
// reloads them so a redelivered job always sees current state.
type BuildJob struct {
	TransactionIds []string               `json:"transaction_ids"`
	Asset          string                 `json:"asset"`
	Type           models.TransactionType `json:"type"`
}

// SignJob is one built, unsigned outbound transaction.
type SignJob struct {
	Channel     string                 `json:"channel"`
	Sequence    string                 `json:"sequence"`
	Hash        string                 `json:"hash"`
	RawTx       string                 `json:"raw_tx"`
	Asset       string                 `json:"asset"`
	Type        models.TransactionType `json:"type"`
	TotalChange decimal.Decimal        `json:"total_change"`
}

// SubmitJob is one signed outbound transaction awaiting broadcast.
type SubmitJob struct {
	Channel  string                 `json:"channel"`
	Sequence string                 `json:"sequence"`
	Hash     string                 `json:"hash"`
	RawTx    string                 `json:"raw_tx"`
	Asset    string                 `json:"asset"`
	Type     models.TransactionType `json:"type"`
}
