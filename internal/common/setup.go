package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"stellar-bridge-go/internal/assets"
	"stellar-bridge-go/internal/database"
	"stellar-bridge-go/internal/mapping"
	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/pipeline"
	"stellar-bridge-go/internal/queue"
	"stellar-bridge-go/internal/rates"
	"stellar-bridge-go/internal/sequence"
	"stellar-bridge-go/internal/wallet/prime"
	"stellar-bridge-go/internal/wallet/stellar"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	}
}

type Services struct {
	DbService *database.Service
	Broker    *queue.Broker
	Assets    *assets.Config
	Rails     pipeline.Rails
	Resolver  *mapping.Resolver

	Intake    *pipeline.Intake
	Builder   *pipeline.Builder
	Signer    *pipeline.Signer
	Submitter *pipeline.Submitter
	Batcher   *pipeline.Batcher
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	assetCfg, err := assets.Load(cfg.Assets.Path)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	zap.L().Info("Loading Prime API credentials")
	creds, err := loadPrimeCredentials()
	if err != nil {
		dbService.Close()
		return nil, err
	}

	external, err := prime.NewService(creds, cfg.Prime, assetCfg)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	settlement, err := stellar.NewService(cfg.Stellar, assetCfg, loadStellarSigners())
	if err != nil {
		dbService.Close()
		return nil, err
	}

	broker, err := queue.Dial(cfg.Queue)
	if err != nil {
		dbService.Close()
		return nil, err
	}
	broker.OnDrop(pipeline.NewEscalator(dbService).HandleDrop)

	rails := pipeline.Rails{
		External:        external,
		Settlement:      settlement,
		SettlementChain: "stellar",
	}

	services := &Services{
		DbService: dbService,
		Broker:    broker,
		Assets:    assetCfg,
		Rails:     rails,
		Resolver:  mapping.NewResolver(dbService),
		Intake:    pipeline.NewIntake(dbService, rails, assetCfg, rates.NewStatic(assetCfg), broker),
		Builder:   pipeline.NewBuilder(dbService, rails, sequence.NewAllocator(), broker),
		Signer:    pipeline.NewSigner(dbService, rails, broker),
		Submitter: pipeline.NewSubmitter(dbService, rails),
		Batcher:   pipeline.NewBatcher(dbService, assetCfg, broker),
	}
	return services, nil
}

// InitializeDatabaseOnly initializes just the database service, for operator
// tooling that never touches the rails or the broker.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	return database.NewService(ctx, cfg.Database)
}

func (cs *Services) Close() {
	if cs.Broker != nil {
		cs.Broker.Close()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func loadPrimeCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

// loadStellarSigners parses STELLAR_SIGNING_KEYS, a comma-separated list of
// account:secret pairs covering every channel and distributor account the
// signer may meet.
func loadStellarSigners() map[string]string {
	signers := make(map[string]string)
	for _, pair := range strings.Split(os.Getenv("STELLAR_SIGNING_KEYS"), ",") {
		account, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || account == "" || secret == "" {
			continue
		}
		signers[account] = secret
	}
	return signers
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
