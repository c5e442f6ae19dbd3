package sequence

import (
	"context"
	"sort"
	"sync"
	"testing"
)

type fakeSource struct {
	mu        sync.Mutex
	seedCalls int
	seed      int64
}

func (f *fakeSource) ChannelAccount(asset string) (string, error) {
	return "channel-" + asset, nil
}

func (f *fakeSource) GetSequence(_ context.Context, _, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seedCalls++
	return f.seed, nil
}

func TestAllocatorSeedsOnceAndIncrements(t *testing.T) {
	source := &fakeSource{seed: 1000}
	allocator := NewAllocator()

	channel, first, err := allocator.Next(context.Background(), source, "USDC")
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if channel != "channel-USDC" {
		t.Errorf("Expected channel-USDC, got %s", channel)
	}
	if first != 1001 {
		t.Errorf("Expected first sequence 1001, got %d", first)
	}

	_, second, err := allocator.Next(context.Background(), source, "USDC")
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if second != 1002 {
		t.Errorf("Expected second sequence 1002, got %d", second)
	}

	if source.seedCalls != 1 {
		t.Errorf("Expected 1 seed call, got %d", source.seedCalls)
	}
}

func TestAllocatorConcurrentUniqueness(t *testing.T) {
	source := &fakeSource{seed: 500}
	allocator := NewAllocator()

	const callers = 50
	sequences := make([]int64, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, seq, err := allocator.Next(context.Background(), source, "USDC")
			if err != nil {
				t.Errorf("Next failed: %v", err)
				return
			}
			sequences[slot] = seq
		}(i)
	}
	wg.Wait()

	sort.Slice(sequences, func(i, j int) bool { return sequences[i] < sequences[j] })
	for i := 0; i < callers; i++ {
		expected := int64(501 + i)
		if sequences[i] != expected {
			t.Fatalf("Expected dense unique sequences, slot %d got %d want %d", i, sequences[i], expected)
		}
	}
}

func TestAllocatorIndependentAssets(t *testing.T) {
	source := &fakeSource{seed: 10}
	allocator := NewAllocator()

	_, a, err := allocator.Next(context.Background(), source, "USDC")
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	_, b, err := allocator.Next(context.Background(), source, "EURC")
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	if a != 11 || b != 11 {
		t.Errorf("Expected independent cursors starting at 11, got %d and %d", a, b)
	}
	if source.seedCalls != 2 {
		t.Errorf("Expected one seed call per asset, got %d", source.seedCalls)
	}
}
