package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func decisionFor(fp string) types.RoutingDecision {
	return types.RoutingDecision{
		Fingerprint: fp,
		Intent:      "create_ticket",
		Confidence:  0.95,
		Tier:        "tier-1",
		Timestamp:   time.Now(),
	}
}

func TestMemoryCache_StoreLookup(t *testing.T) {
	c := NewMemoryCache(time.Minute, testLogger())
	defer c.Close()

	ctx := context.Background()
	if _, ok := c.Lookup(ctx, "fp-1"); ok {
		t.Fatal("lookup on empty cache should miss")
	}

	c.Store(ctx, decisionFor("fp-1"))

	got, ok := c.Lookup(ctx, "fp-1")
	if !ok {
		t.Fatal("expected a hit after store")
	}
	if got.Intent != "create_ticket" {
		t.Errorf("expected create_ticket, got %s", got.Intent)
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache(20*time.Millisecond, testLogger())
	defer c.Close()

	ctx := context.Background()
	c.Store(ctx, decisionFor("fp-1"))

	if _, ok := c.Lookup(ctx, "fp-1"); !ok {
		t.Fatal("entry should be live inside TTL")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Lookup(ctx, "fp-1"); ok {
		t.Error("entry past TTL must read as absent")
	}
}

func TestMemoryCache_ResolveCoalesces(t *testing.T) {
	c := NewMemoryCache(time.Minute, testLogger())
	defer c.Close()

	var calls int32
	classify := func(ctx context.Context) (types.RoutingDecision, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond) // hold the lease so everyone piles up
		return decisionFor("fp-shared"), nil
	}

	const waiters = 20
	results := make([]types.RoutingDecision, waiters)
	errs := make([]error, waiters)

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Resolve(context.Background(), "fp-shared", classify)
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected exactly one classification, got %d", n)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d failed: %v", i, errs[i])
		}
		if results[i].Intent != results[0].Intent || results[i].Timestamp != results[0].Timestamp {
			t.Errorf("waiter %d received a different decision", i)
		}
	}
}

func TestMemoryCache_ResolveCallerAbortDoesNotCancelLease(t *testing.T) {
	c := NewMemoryCache(time.Minute, testLogger())
	defer c.Close()

	started := make(chan struct{})
	classify := func(ctx context.Context) (types.RoutingDecision, error) {
		close(started)
		select {
		case <-ctx.Done():
			return types.RoutingDecision{}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return decisionFor("fp-abort"), nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := c.Resolve(ctx, "fp-abort", classify)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("aborting caller should see its context error, got %v", err)
	}

	// The lease owner kept running detached and stored the result.
	deadline := time.After(time.Second)
	for {
		if _, ok := c.Lookup(context.Background(), "fp-abort"); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("lease owner's result never reached the cache after caller abort")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestMemoryCache_ResolvePropagatesClassifyError(t *testing.T) {
	c := NewMemoryCache(time.Minute, testLogger())
	defer c.Close()

	classifyErr := errors.New("all tiers down")
	_, err := c.Resolve(context.Background(), "fp-err", func(ctx context.Context) (types.RoutingDecision, error) {
		return types.RoutingDecision{}, classifyErr
	})
	if !errors.Is(err, classifyErr) {
		t.Fatalf("expected classify error, got %v", err)
	}

	if _, ok := c.Lookup(context.Background(), "fp-err"); ok {
		t.Error("a failed classification must not be cached")
	}
}

func TestMemoryCache_ResolveServesExistingEntry(t *testing.T) {
	c := NewMemoryCache(time.Minute, testLogger())
	defer c.Close()

	ctx := context.Background()
	c.Store(ctx, decisionFor("fp-1"))

	got, err := c.Resolve(ctx, "fp-1", func(ctx context.Context) (types.RoutingDecision, error) {
		t.Error("classify must not run when the cache can serve the decision")
		return types.RoutingDecision{}, nil
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !got.CacheHit {
		t.Error("decision served from cache should be flagged as a hit")
	}
}
