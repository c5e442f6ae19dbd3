package pipeline

import (
	"context"
	"fmt"
	"time"

	"stellar-bridge-go/internal/assets"
	"stellar-bridge-go/internal/models"
	"stellar-bridge-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Batcher sweeps pending withdrawals into the build stage on a per-asset
// clock. Only withdrawals without an assigned sequence are swept, so a batch
// already picked up by the builder is never swept twice.
type Batcher struct {
	store     store.BridgeStore
	assets    *assets.Config
	publisher Publisher
}

func NewBatcher(s store.BridgeStore, assetCfg *assets.Config, publisher Publisher) *Batcher {
	return &Batcher{store: s, assets: assetCfg, publisher: publisher}
}

// Run drives one ticker per batching-configured asset until ctx is
// cancelled.
func (b *Batcher) Run(ctx context.Context) error {
	batching := b.assets.BatchingAssets()
	if len(batching) == 0 {
		zap.L().Info("No assets configured for withdrawal batching")
		<-ctx.Done()
		return nil
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, assetCfg := range batching {
		assetCfg := assetCfg
		group.Go(func() error {
			ticker := time.NewTicker(assetCfg.WithdrawalBatching)
			defer ticker.Stop()

			zap.L().Info("Withdrawal batcher started",
				zap.String("asset", assetCfg.Code),
				zap.Duration("interval", assetCfg.WithdrawalBatching))

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := b.Sweep(ctx, assetCfg.Code); err != nil {
						zap.L().Error("Withdrawal sweep failed",
							zap.String("asset", assetCfg.Code),
							zap.Error(err))
					}
				}
			}
		})
	}
	return group.Wait()
}

// Sweep enqueues all sequence-less pending withdrawals of one asset as a
// single batch job.
func (b *Batcher) Sweep(ctx context.Context, asset string) error {
	txs, err := b.store.PendingWithdrawals(ctx, asset)
	if err != nil {
		return fmt.Errorf("failed to list pending withdrawals: %w", err)
	}
	if len(txs) == 0 {
		return nil
	}

	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.Id
	}

	if err := b.publisher.Publish(ctx, QueueBuild, BuildJob{
		TransactionIds: ids,
		Asset:          asset,
		Type:           models.TypeWithdrawal,
	}); err != nil {
		return fmt.Errorf("failed to enqueue withdrawal batch: %w", err)
	}

	zap.L().Info("Withdrawal batch enqueued",
		zap.String("asset", asset),
		zap.Int("count", len(ids)))
	return nil
}
