package mapping

import (
	"context"
	"fmt"
	"strconv"

	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/wallet"
)

// ResolveDeposit maps a user's settlement-chain account (plus optional memo)
// to a fresh external-rail deposit address. The user funds addressIn on the
// external rail and is credited at addressOut on the settlement chain.
func (r *Resolver) ResolveDeposit(ctx context.Context, external, settlement wallet.Wallet,
	asset, account, memo, memoType string) (*models.AddressMapping, error) {
	return r.Resolve(ctx, external, settlement, models.TypeDeposit, asset, account, memo, memoType)
}

// ResolveWithdrawal maps an external payout destination to the settlement
// chain's distributor account plus a unique memo reference. The user sends
// tokens to DepositAddressString's result and receives payout at addressOut.
func (r *Resolver) ResolveWithdrawal(ctx context.Context, external, settlement wallet.Wallet,
	asset, addressOut, addressOutExtra, extraType string) (*models.AddressMapping, error) {
	return r.Resolve(ctx, settlement, external, models.TypeWithdrawal, asset, addressOut, addressOutExtra, extraType)
}

// DepositAddressString renders the user-facing funding instruction for a
// mapping. Memo-routed rails fold the routing reference into one string the
// user can paste.
func DepositAddressString(m *models.AddressMapping) string {
	if m.Direction == models.TypeWithdrawal {
		// Settlement-side deposits always route by the numeric reference.
		return fmt.Sprintf("%s memo:%s", m.AddressIn, strconv.FormatInt(m.Ref, 10))
	}
	return m.AddressIn
}

// PayoutInstruction renders where the bridge will pay out for a mapping,
// including any destination sub-address.
func PayoutInstruction(m *models.AddressMapping) string {
	if m.AddressOutExtra == "" {
		return m.AddressOut
	}
	prefix := "memo"
	if m.AddressOutExtraType == "tag" {
		prefix = "tag"
	}
	return fmt.Sprintf("%s %s:%s", m.AddressOut, prefix, m.AddressOutExtra)
}
