package engine

import (
	"errors"

	"github.com/tributary-ai/intent-dispatch/internal/agents"
)

// Failure taxonomy for the dispatch path. Provider and agent failures are
// caught and escalated inside the fallback chain, never surfaced raw to
// the caller; even exhaustion resolves to a degraded deterministic guess.
var (
	// ErrProviderTimeout marks a tier call that exceeded its configured timeout.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrProviderError marks a tier call that failed outright.
	ErrProviderError = errors.New("provider error")

	// ErrCircuitOpen is synthetic: the breaker short-circuited the call
	// and no network traffic occurred.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrAgentUnreachable marks a delegation that never reached the
	// specialist agent. The delegation client wraps its transport
	// failures with this sentinel.
	ErrAgentUnreachable = agents.ErrUnreachable

	// ErrFallbackExhausted means every tier failed or was short-circuited.
	// The engine still answers with a degraded decision; this error only
	// appears in reasoning and logs.
	ErrFallbackExhausted = errors.New("all tiers exhausted")
)
