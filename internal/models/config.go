package models

import "time"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Queue    QueueConfig
	Webhook  WebhookConfig
	Stellar  StellarConfig
	Prime    PrimeConfig
	Assets   AssetsFileConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// QueueConfig holds message broker settings
type QueueConfig struct {
	URL          string
	Exchange     string
	Prefetch     int
	MaxAttempts  int
	RetryBase    time.Duration
	RetryMax     time.Duration
	StageTimeout time.Duration
}

// WebhookConfig holds the inbound notification endpoint settings
type WebhookConfig struct {
	Addr   string
	Secret string
}

// StellarConfig holds settlement-chain access settings
type StellarConfig struct {
	HorizonURL        string
	NetworkPassphrase string
	SkipFeeEstimation bool
}

// PrimeConfig holds custodial rail access settings
type PrimeConfig struct {
	PortfolioId string
}

// AssetsFileConfig points at the per-asset economics file
type AssetsFileConfig struct {
	Path string
}
