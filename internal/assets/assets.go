package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// FeeTier is one direction's fee schedule. Amounts are decimal strings in the
// YAML file and are parsed once at load time.
type FeeTier struct {
	FeePercent string `yaml:"fee_percent"`
	FeeFixed   string `yaml:"fee_fixed"`
	FeeCreate  string `yaml:"fee_create"`

	Percent decimal.Decimal `yaml:"-"`
	Fixed   decimal.Decimal `yaml:"-"`
	Create  decimal.Decimal `yaml:"-"`
}

// PrimeRail identifies the custodial wallet backing an asset on its external
// rail.
type PrimeRail struct {
	WalletId string `yaml:"wallet_id"`
	Network  string `yaml:"network"`
}

// AssetConfig is the per-asset bridge configuration: the inbound chain, the
// settlement-side issuance accounts, fee schedules and batching policy.
type AssetConfig struct {
	Code                  string    `yaml:"code"`
	Chain                 string    `yaml:"chain"`
	Issuer                string    `yaml:"issuer"`
	Distributor           string    `yaml:"distributor"`
	Channels              []string  `yaml:"channels"`
	TotalSupply           string    `yaml:"total_supply"`
	ExcludedSupply        []string  `yaml:"excluded_supply"`
	RateUsd               string    `yaml:"rate_usd"`
	MaxAmountRaw          string    `yaml:"max_amount"`
	Deposit               FeeTier   `yaml:"deposit"`
	Withdrawal            FeeTier   `yaml:"withdrawal"`
	WithdrawalBatchingRaw string    `yaml:"withdrawal_batching"`
	Prime                 PrimeRail `yaml:"prime"`

	Supply             decimal.Decimal `yaml:"-"`
	Rate               decimal.Decimal `yaml:"-"`
	MaxAmount          decimal.Decimal `yaml:"-"`
	WithdrawalBatching time.Duration   `yaml:"-"`
}

type fileConfig struct {
	Assets []AssetConfig `yaml:"assets"`
}

// Config is the loaded, validated asset set.
type Config struct {
	assets map[string]AssetConfig
	order  []string
}

func Load(assetsFile string) (*Config, error) {
	var assetsPath string
	if filepath.IsAbs(assetsFile) {
		assetsPath = assetsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		assetsPath = filepath.Join(wd, assetsFile)
	}

	data, err := os.ReadFile(assetsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", assetsFile, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse assets config: %w", err)
	}

	cfg := &Config{assets: make(map[string]AssetConfig, len(file.Assets))}
	for i := range file.Assets {
		asset := &file.Assets[i]
		if asset.Code == "" {
			return nil, fmt.Errorf("asset at index %d missing code", i)
		}
		if asset.Chain == "" {
			return nil, fmt.Errorf("asset %s missing chain", asset.Code)
		}
		if asset.Distributor == "" {
			return nil, fmt.Errorf("asset %s missing distributor", asset.Code)
		}
		if len(asset.Channels) == 0 {
			return nil, fmt.Errorf("asset %s missing channel accounts", asset.Code)
		}

		var err error
		if asset.Supply, err = parseAmount(asset.TotalSupply, "0"); err != nil {
			return nil, fmt.Errorf("asset %s total_supply: %w", asset.Code, err)
		}
		if asset.Rate, err = parseAmount(asset.RateUsd, "0"); err != nil {
			return nil, fmt.Errorf("asset %s rate_usd: %w", asset.Code, err)
		}
		if asset.MaxAmount, err = parseAmount(asset.MaxAmountRaw, "0"); err != nil {
			return nil, fmt.Errorf("asset %s max_amount: %w", asset.Code, err)
		}
		if err = parseFeeTier(&asset.Deposit); err != nil {
			return nil, fmt.Errorf("asset %s deposit fees: %w", asset.Code, err)
		}
		if err = parseFeeTier(&asset.Withdrawal); err != nil {
			return nil, fmt.Errorf("asset %s withdrawal fees: %w", asset.Code, err)
		}
		if asset.WithdrawalBatchingRaw != "" {
			if asset.WithdrawalBatching, err = time.ParseDuration(asset.WithdrawalBatchingRaw); err != nil {
				return nil, fmt.Errorf("asset %s withdrawal_batching: %w", asset.Code, err)
			}
		}

		if _, ok := cfg.assets[asset.Code]; ok {
			return nil, fmt.Errorf("duplicate asset code %s", asset.Code)
		}
		cfg.assets[asset.Code] = *asset
		cfg.order = append(cfg.order, asset.Code)
	}

	return cfg, nil
}

func parseFeeTier(tier *FeeTier) error {
	var err error
	if tier.Percent, err = parseAmount(tier.FeePercent, "0"); err != nil {
		return fmt.Errorf("fee_percent: %w", err)
	}
	if tier.Fixed, err = parseAmount(tier.FeeFixed, "0"); err != nil {
		return fmt.Errorf("fee_fixed: %w", err)
	}
	if tier.Create, err = parseAmount(tier.FeeCreate, "0"); err != nil {
		return fmt.Errorf("fee_create: %w", err)
	}
	return nil
}

func parseAmount(value, fallback string) (decimal.Decimal, error) {
	if value == "" {
		value = fallback
	}
	return decimal.NewFromString(value)
}

// Get returns the configuration for one asset code.
func (c *Config) Get(code string) (AssetConfig, error) {
	asset, ok := c.assets[code]
	if !ok {
		return AssetConfig{}, fmt.Errorf("unknown asset %s", code)
	}
	return asset, nil
}

// All returns every configured asset in file order.
func (c *Config) All() []AssetConfig {
	out := make([]AssetConfig, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, c.assets[code])
	}
	return out
}

// BatchingAssets returns the assets configured with a withdrawal batching
// interval.
func (c *Config) BatchingAssets() []AssetConfig {
	var out []AssetConfig
	for _, asset := range c.All() {
		if asset.WithdrawalBatching > 0 {
			out = append(out, asset)
		}
	}
	return out
}
