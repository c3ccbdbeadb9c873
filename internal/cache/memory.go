package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/tributary-ai/intent-dispatch/internal/types"
)

type memoryEntry struct {
	decision  types.RoutingDecision
	expiresAt time.Time
}

// MemoryCache is the default in-process decision cache: a TTL map plus a
// singleflight group per fingerprint for coalescing.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	group   singleflight.Group
	ttl     time.Duration
	logger  *logrus.Logger

	janitorStop chan struct{}
	stopOnce    sync.Once
}

// NewMemoryCache creates a cache whose entries expire after ttl. A janitor
// goroutine sweeps expired entries so an idle cache does not grow without
// bound; Lookup is correct regardless because stale entries read as absent.
func NewMemoryCache(ttl time.Duration, logger *logrus.Logger) *MemoryCache {
	c := &MemoryCache{
		entries:     make(map[string]memoryEntry),
		ttl:         ttl,
		logger:      logger,
		janitorStop: make(chan struct{}),
	}

	sweep := ttl
	if sweep < time.Minute {
		sweep = time.Minute
	}
	go c.janitor(sweep)

	return c
}

// Lookup returns the cached decision for a fingerprint. An entry past its
// TTL is equivalent to a miss.
func (c *MemoryCache) Lookup(ctx context.Context, fingerprint string) (types.RoutingDecision, bool) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return types.RoutingDecision{}, false
	}
	return entry.decision, true
}

// Store writes a decision under its fingerprint with the configured TTL.
func (c *MemoryCache) Store(ctx context.Context, decision types.RoutingDecision) {
	c.mu.Lock()
	c.entries[decision.Fingerprint] = memoryEntry{
		decision:  decision,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Resolve coalesces concurrent classifications of the same fingerprint.
// The winning caller's classify runs on a context detached from its
// request, so a caller abort does not cancel a computation other waiters
// still need; the aborting caller itself returns its context error.
func (c *MemoryCache) Resolve(ctx context.Context, fingerprint string, classify ClassifyFunc) (types.RoutingDecision, error) {
	if decision, ok := c.Lookup(ctx, fingerprint); ok {
		return decision.WithCacheHit(), nil
	}
	return resolveShared(ctx, &c.group, c, fingerprint, classify)
}

// Close stops the janitor.
func (c *MemoryCache) Close() {
	c.stopOnce.Do(func() { close(c.janitorStop) })
}

// Ensure MemoryCache implements the cache interface
var _ DecisionCache = (*MemoryCache)(nil)

func (c *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for fp, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, fp)
				}
			}
			c.mu.Unlock()
		case <-c.janitorStop:
			return
		}
	}
}

// resolveShared runs classify through a singleflight group, re-checking the
// cache under the lease and storing the fresh decision. Shared between the
// memory and Redis backends.
func resolveShared(ctx context.Context, group *singleflight.Group, store DecisionCache, fingerprint string, classify ClassifyFunc) (types.RoutingDecision, error) {
	ch := group.DoChan(fingerprint, func() (interface{}, error) {
		// Another waiter may have populated the cache while this caller
		// queued for the lease.
		if decision, ok := store.Lookup(context.WithoutCancel(ctx), fingerprint); ok {
			return decision, nil
		}

		decision, err := classify(context.WithoutCancel(ctx))
		if err != nil {
			return types.RoutingDecision{}, err
		}
		// Degraded decisions reflect transient provider state and are not
		// worth pinning for a full TTL.
		if !decision.Degraded {
			store.Store(context.WithoutCancel(ctx), decision)
		}
		return decision, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return types.RoutingDecision{}, res.Err
		}
		return res.Val.(types.RoutingDecision), nil
	case <-ctx.Done():
		// The lease owner keeps computing for any remaining waiters.
		return types.RoutingDecision{}, ctx.Err()
	}
}
