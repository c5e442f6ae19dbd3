package rates

import (
	"stellar-bridge-go/internal/assets"

	"github.com/shopspring/decimal"
)

// Provider yields the USD valuation rate used to freeze a transaction's
// rate_usd at observation time and to scale the finality policy. A zero rate
// means "unknown" and routes the observation to its no-market terminal state.
type Provider interface {
	RateUsd(asset string) decimal.Decimal
}

// Static serves operator-maintained rates from the assets file. Bridged
// assets are stable-valued against their external original, so a configured
// rate is sufficient and keeps a price feed out of the settlement path.
type Static struct {
	assets *assets.Config
}

var _ Provider = (*Static)(nil)

func NewStatic(cfg *assets.Config) *Static {
	return &Static{assets: cfg}
}

func (s *Static) RateUsd(asset string) decimal.Decimal {
	assetCfg, err := s.assets.Get(asset)
	if err != nil {
		return decimal.Zero
	}
	return assetCfg.Rate
}
