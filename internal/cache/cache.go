// Package cache holds previously computed routing decisions keyed by
// fingerprint, with TTL eviction and request coalescing so identical
// concurrent requests pay for at most one classification.
package cache

import (
	"context"

	"github.com/tributary-ai/intent-dispatch/internal/types"
)

// ClassifyFunc computes a fresh decision when the cache cannot serve one.
// The cache runs it detached from any single caller's context: if the
// caller that won the lease aborts, waiters still receive the result.
type ClassifyFunc func(ctx context.Context) (types.RoutingDecision, error)

// DecisionCache is the engine's view of a decision store.
//
// Lookup treats entries past their TTL as absent. Store is best-effort: a
// failed write is logged and swallowed, never surfaced to the request path.
// Resolve provides the coalescing guarantee: under concurrent identical
// fingerprints exactly one ClassifyFunc executes and every caller receives
// its decision.
type DecisionCache interface {
	Lookup(ctx context.Context, fingerprint string) (types.RoutingDecision, bool)
	Store(ctx context.Context, decision types.RoutingDecision)
	Resolve(ctx context.Context, fingerprint string, classify ClassifyFunc) (types.RoutingDecision, error)
	Close()
}
