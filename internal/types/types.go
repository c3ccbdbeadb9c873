package types

import (
	"time"
)

// Utterance is a single inbound natural-language request. Immutable once
// received; the engine never modifies it.
type Utterance struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Turn      int       `json:"turn"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// RoutingDecision records how a request was classified and what it cost.
// Immutable once created; cached decisions are read-shared across requests.
type RoutingDecision struct {
	Fingerprint string    `json:"fingerprint"`
	Intent      string    `json:"intent"`
	Confidence  float64   `json:"confidence"`
	Tier        string    `json:"tier"`
	CacheHit    bool      `json:"cache_hit"`
	Degraded    bool      `json:"degraded"`
	Cost        float64   `json:"cost"`
	Reasoning   []string  `json:"reasoning,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// WithCacheHit returns a copy of the decision flagged as served from cache.
// The stored original is never mutated.
func (d RoutingDecision) WithCacheHit() RoutingDecision {
	d.CacheHit = true
	return d
}

// Tier names for the zero-cost resolution paths. Model tiers carry the
// configured tier name instead.
const (
	TierDeterministic = "deterministic"
	TierCache         = "cache"
)

// ModelTier is one escalation level in the cost ladder. Configuration data,
// not mutated at runtime except by operator reload.
type ModelTier struct {
	Name            string        `yaml:"name" json:"name"`
	Provider        string        `yaml:"provider" json:"provider"`
	Model           string        `yaml:"model" json:"model"`
	CostPerCall     float64       `yaml:"cost_per_call" json:"cost_per_call"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	CapabilityFloor float64       `yaml:"capability_floor" json:"capability_floor"`
	MaxTokens       int           `yaml:"max_tokens" json:"max_tokens"`
}

// Turn is one (utterance, resolved intent) pair in a conversation window.
type Turn struct {
	Utterance string    `json:"utterance"`
	Intent    string    `json:"intent"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentRegistration describes an independently operated specialist agent.
// Read-mostly; refreshed by an external discovery collaborator.
type AgentRegistration struct {
	Name         string   `yaml:"name" json:"name"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
	Endpoint     string   `yaml:"endpoint" json:"endpoint"`
	Healthy      bool     `yaml:"-" json:"healthy"`
}

// HandlesIntent reports whether the agent advertises a capability tag
// matching the given intent.
func (a *AgentRegistration) HandlesIntent(intent string) bool {
	for _, cap := range a.Capabilities {
		if cap == intent {
			return true
		}
	}
	return false
}

// UsageOutcome classifies how a request terminated for accounting purposes.
type UsageOutcome string

const (
	OutcomeResolved  UsageOutcome = "resolved"
	OutcomeDelegated UsageOutcome = "delegated"
	OutcomeDegraded  UsageOutcome = "degraded"
)

// UsageRecord is one append-only accounting row per terminal resolution.
type UsageRecord struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Target    string        `json:"target"` // tier or agent name
	Tokens    int           `json:"tokens"`
	Cost      float64       `json:"cost"`
	Latency   time.Duration `json:"latency"`
	Outcome   UsageOutcome  `json:"outcome"`
	Timestamp time.Time     `json:"timestamp"`
}

// DispatchResult is what the engine hands back to its host: the fulfilled
// (or degraded) response plus full routing metadata.
type DispatchResult struct {
	Response string          `json:"response"`
	Decision RoutingDecision `json:"decision"`
	Agent    string          `json:"agent,omitempty"`
	Latency  time.Duration   `json:"latency"`
}
