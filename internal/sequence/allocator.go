package sequence

import (
	"context"
	"fmt"
	"sync"

	"stellar-bridge-go/internal/wallet"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Source yields the live starting sequence for a channel account. Satisfied
// by wallet.Wallet.
type Source interface {
	ChannelAccount(asset string) (string, error)
	GetSequence(ctx context.Context, asset, channel string) (int64, error)
}

var _ Source = (wallet.Wallet)(nil)

type cursor struct {
	mu   sync.Mutex
	next int64
}

// Allocator hands out strictly increasing sequence numbers per asset. The
// first request for an asset seeds the cursor from the rail; every later
// request is a pure in-memory increment. Cursors are never persisted: a
// restart re-seeds from the rail, and the store's assignment guard rejects
// any pair already claimed by another batch.
type Allocator struct {
	mu      sync.Mutex
	cursors map[string]*cursor
	seed    singleflight.Group
}

func NewAllocator() *Allocator {
	return &Allocator{cursors: make(map[string]*cursor)}
}

// Next returns the asset's channel account and the next unused sequence
// number on it. Safe for concurrent use; concurrent cold starts for the same
// asset share a single rail read.
func (a *Allocator) Next(ctx context.Context, source Source, asset string) (string, int64, error) {
	channel, err := source.ChannelAccount(asset)
	if err != nil {
		return "", 0, fmt.Errorf("failed to resolve channel account: %w", err)
	}

	a.mu.Lock()
	c, ok := a.cursors[asset]
	if !ok {
		c = &cursor{}
		a.cursors[asset] = c
	}
	a.mu.Unlock()

	// Cold start: fetch the live sequence once, outside the cursor lock so
	// concurrent first callers share one rail read.
	c.mu.Lock()
	seeded := c.next != 0
	c.mu.Unlock()

	if !seeded {
		value, err, _ := a.seed.Do(asset, func() (interface{}, error) {
			seq, err := source.GetSequence(ctx, asset, channel)
			if err != nil {
				return nil, err
			}
			zap.L().Info("Seeded sequence cursor",
				zap.String("asset", asset),
				zap.String("channel", channel),
				zap.Int64("sequence", seq))
			return seq, nil
		})
		if err != nil {
			return "", 0, fmt.Errorf("failed to seed sequence for %s: %w", asset, err)
		}

		c.mu.Lock()
		if c.next == 0 {
			c.next = value.(int64)
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return channel, c.next, nil
}
