// Package engine is the hybrid classification and cost-aware dispatch
// core: it routes each utterance to the cheapest adequate resolution path
// among the deterministic matcher, the decision cache, the model tier
// ladder, and delegation to specialist agents.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/agents"
	"github.com/tributary-ai/intent-dispatch/internal/breaker"
	"github.com/tributary-ai/intent-dispatch/internal/cache"
	"github.com/tributary-ai/intent-dispatch/internal/complexity"
	"github.com/tributary-ai/intent-dispatch/internal/conversation"
	"github.com/tributary-ai/intent-dispatch/internal/fingerprint"
	"github.com/tributary-ai/intent-dispatch/internal/providers"
	"github.com/tributary-ai/intent-dispatch/internal/rules"
	"github.com/tributary-ai/intent-dispatch/internal/types"
	"github.com/tributary-ai/intent-dispatch/internal/usage"
)

// IntentUnknown is the degraded-path intent when nothing else matched.
const IntentUnknown = "unknown"

// TaskHandler fulfills a locally resolved intent.
type TaskHandler interface {
	Execute(ctx context.Context, intent string, utterance types.Utterance) (string, error)
}

// TaskHandlerFunc adapts a function to the TaskHandler interface.
type TaskHandlerFunc func(ctx context.Context, intent string, utterance types.Utterance) (string, error)

// Execute implements TaskHandler.
func (f TaskHandlerFunc) Execute(ctx context.Context, intent string, utterance types.Utterance) (string, error) {
	return f(ctx, intent, utterance)
}

// Options tunes the engine. All decision thresholds are configuration.
type Options struct {
	// AcceptThreshold is the deterministic-match confidence at or above
	// which the request resolves without model escalation.
	AcceptThreshold float64
	// RetriesPerTier bounds same-tier retries before escalation (0 or 1).
	RetriesPerTier int
	// ClassifyMaxTokens caps model output for classification calls.
	ClassifyMaxTokens int
	// DelegationTimeout bounds each specialist-agent invocation.
	DelegationTimeout time.Duration
}

// routingTable is the atomically swapped pair of rule set and tier ladder,
// so an operator reload never tears a request between old rules and new
// tiers.
type routingTable struct {
	matcher *rules.Matcher
	tiers   []types.ModelTier
}

// Engine wires the routing components together. All shared state (cache,
// breaker, tracker, conversations) is passed in at construction with a
// documented lifecycle; the engine itself holds no ambient globals.
type Engine struct {
	opts          Options
	routing       atomic.Pointer[routingTable]
	providers     map[string]providers.ModelProvider
	cache         cache.DecisionCache
	breaker       *breaker.Breaker
	analyzer      *complexity.Analyzer
	conversations *conversation.Store
	registry      *agents.Registry
	agentClient   *agents.Client
	tracker       *usage.Tracker
	handlers      map[string]TaskHandler
	logger        *logrus.Logger
}

// New assembles an engine. The matcher and tier ladder become the initial
// routing table; UpdateRouting swaps in replacements on config reload.
func New(
	opts Options,
	matcher *rules.Matcher,
	tiers []types.ModelTier,
	providerSet map[string]providers.ModelProvider,
	decisionCache cache.DecisionCache,
	circuitBreaker *breaker.Breaker,
	analyzer *complexity.Analyzer,
	conversations *conversation.Store,
	registry *agents.Registry,
	agentClient *agents.Client,
	tracker *usage.Tracker,
	logger *logrus.Logger,
) *Engine {
	if opts.AcceptThreshold <= 0 {
		opts.AcceptThreshold = 0.8
	}
	if opts.RetriesPerTier < 0 {
		opts.RetriesPerTier = 0
	}
	if opts.RetriesPerTier > 1 {
		opts.RetriesPerTier = 1
	}
	if opts.ClassifyMaxTokens <= 0 {
		opts.ClassifyMaxTokens = 64
	}
	if opts.DelegationTimeout <= 0 {
		opts.DelegationTimeout = 10 * time.Second
	}

	e := &Engine{
		opts:          opts,
		providers:     providerSet,
		cache:         decisionCache,
		breaker:       circuitBreaker,
		analyzer:      analyzer,
		conversations: conversations,
		registry:      registry,
		agentClient:   agentClient,
		tracker:       tracker,
		handlers:      make(map[string]TaskHandler),
		logger:        logger,
	}
	e.routing.Store(&routingTable{matcher: matcher, tiers: tiers})
	return e
}

// RegisterHandler binds a local task handler to an intent.
func (e *Engine) RegisterHandler(intent string, handler TaskHandler) {
	e.handlers[intent] = handler
}

// UpdateRouting atomically swaps the rule set and tier ladder. In-flight
// requests keep the snapshot they started with.
func (e *Engine) UpdateRouting(matcher *rules.Matcher, tiers []types.ModelTier) {
	e.routing.Store(&routingTable{matcher: matcher, tiers: tiers})
	e.logger.WithFields(logrus.Fields{
		"rules": matcher.Len(),
		"tiers": len(tiers),
	}).Info("Routing table reloaded")
}

// BreakerSnapshot exposes circuit states for the host's reporting surface.
func (e *Engine) BreakerSnapshot() []breaker.TargetState {
	return e.breaker.Snapshot()
}

// Agents lists the registered specialist agents.
func (e *Engine) Agents() []types.AgentRegistration {
	return e.registry.List()
}

// Dispatch routes one utterance end to end and returns the fulfilled
// response plus routing metadata. It only fails on caller cancellation;
// every provider-side failure degrades instead.
func (e *Engine) Dispatch(ctx context.Context, sessionID, text string) (*types.DispatchResult, error) {
	start := time.Now()
	table := e.routing.Load()

	utterance := types.Utterance{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Turn:      e.conversations.NextTurn(sessionID),
		Text:      text,
		Timestamp: start,
	}

	normalized := fingerprint.Normalize(text)
	// The context signature folds the prior intent into the key only while
	// the session is pinned by a sensitive intent; everywhere else an
	// identical repeat keeps the bare-text fingerprint and hits the cache.
	contextSig := ""
	if last := e.conversations.LastIntent(sessionID); e.analyzer.Sensitive(last) {
		contextSig = last
	}
	fp := fingerprint.Key(normalized, contextSig)

	log := e.logger.WithFields(logrus.Fields{
		"request_id":  utterance.ID,
		"session":     sessionID,
		"fingerprint": fp,
	})

	// Cheapest path first: a live cached decision.
	if cached, ok := e.cache.Lookup(ctx, fp); ok {
		log.WithField("intent", cached.Intent).Debug("Decision served from cache")
		return e.finish(ctx, utterance, cached.WithCacheHit(), types.TierCache, 0, 0, start)
	}

	// Deterministic matcher: zero cost, resolves outright at or above the
	// accept threshold.
	prior, hasPrior := table.matcher.Match(normalized)
	if hasPrior && prior.Confidence >= e.opts.AcceptThreshold {
		decision := types.RoutingDecision{
			Fingerprint: fp,
			Intent:      prior.Intent,
			Confidence:  prior.Confidence,
			Tier:        types.TierDeterministic,
			Cost:        0,
			Reasoning:   []string{fmt.Sprintf("rule %q matched at %.2f", prior.Rule, prior.Confidence)},
			Timestamp:   time.Now(),
		}
		e.cache.Store(ctx, decision)
		log.WithField("intent", decision.Intent).Debug("Resolved deterministically")
		return e.finish(ctx, utterance, decision, types.TierDeterministic, 0, 0, start)
	}

	// Model escalation, coalesced per fingerprint so identical concurrent
	// requests pay for one classification.
	var priorPtr *rules.Match
	if hasPrior {
		priorPtr = &prior
	}
	window := e.conversations.Window(sessionID)

	var paid bool
	var tokens int
	decision, err := e.cache.Resolve(ctx, fp, func(cctx context.Context) (types.RoutingDecision, error) {
		d, tok := e.classify(cctx, table, fp, utterance, normalized, priorPtr, window)
		paid = true
		tokens = tok
		return d, nil
	})
	if err != nil {
		// Only caller cancellation reaches here; the engine never turns
		// provider failures into errors.
		return nil, fmt.Errorf("dispatch aborted: %w", err)
	}

	target := decision.Tier
	cost := decision.Cost
	if !paid {
		// A concurrent identical request owned the classification; this
		// caller rides along at no additional cost.
		target = types.TierCache
		cost = 0
		tokens = 0
	}
	return e.finish(ctx, utterance, decision, target, cost, tokens, start)
}

// classify walks the tier ladder for one fingerprint: score complexity,
// pick the cheapest adequate tier, escalate on failure, and fall back to
// the deterministic best guess when everything is exhausted.
func (e *Engine) classify(
	ctx context.Context,
	table *routingTable,
	fp string,
	utterance types.Utterance,
	normalized string,
	prior *rules.Match,
	window []types.Turn,
) (types.RoutingDecision, int) {
	score := e.analyzer.Score(normalized, prior, window)
	reasoning := []string{fmt.Sprintf("complexity %.2f", score)}

	startIdx := len(table.tiers) - 1
	for i, tier := range table.tiers {
		if tier.CapabilityFloor <= score {
			startIdx = i
			break
		}
	}

	intents := table.matcher.Intents()

	for i := startIdx; i < len(table.tiers); i++ {
		tier := table.tiers[i]
		key := tierBreakerKey(tier)

		if !e.breaker.Allow(key) {
			reasoning = append(reasoning, fmt.Sprintf("%s skipped: %v", tier.Name, ErrCircuitOpen))
			continue
		}

		result, err := e.callTier(ctx, tier, utterance.Text, intents)
		if err != nil {
			reasoning = append(reasoning, fmt.Sprintf("%s failed: %v", tier.Name, err))
			continue
		}

		intent, confidence := parseClassification(result.Text, intents)
		decision := types.RoutingDecision{
			Fingerprint: fp,
			Intent:      intent,
			Confidence:  confidence,
			Tier:        tier.Name,
			Cost:        callCost(tier, result),
			Reasoning:   append(reasoning, fmt.Sprintf("%s classified as %s at %.2f", tier.Name, intent, confidence)),
			Timestamp:   time.Now(),
		}
		return decision, result.TotalTokens()
	}

	// Every tier failed or was short-circuited: degrade to the
	// deterministic best guess instead of failing the request.
	degraded := types.RoutingDecision{
		Fingerprint: fp,
		Intent:      IntentUnknown,
		Confidence:  0,
		Tier:        types.TierDeterministic,
		Degraded:    true,
		Reasoning:   append(reasoning, ErrFallbackExhausted.Error()),
		Timestamp:   time.Now(),
	}
	if prior != nil {
		degraded.Intent = prior.Intent
		degraded.Confidence = prior.Confidence
	}

	e.logger.WithFields(logrus.Fields{
		"request_id": utterance.ID,
		"intent":     degraded.Intent,
	}).Warn("All tiers exhausted, returning degraded deterministic result")

	return degraded, 0
}

// callTier runs one provider call with the tier's timeout and bounded
// retries, keeping the circuit breaker informed.
func (e *Engine) callTier(ctx context.Context, tier types.ModelTier, text string, intents []string) (*providers.CompletionResult, error) {
	provider, ok := e.providers[tier.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: no provider %q for tier %s", ErrProviderError, tier.Provider, tier.Name)
	}

	key := tierBreakerKey(tier)
	req := &providers.CompletionRequest{
		Model:     tier.Model,
		System:    classifySystemPrompt(intents),
		Prompt:    text,
		MaxTokens: e.opts.ClassifyMaxTokens,
	}

	var lastErr error
	for attempt := 0; attempt <= e.opts.RetriesPerTier; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, tier.Timeout)
		result, err := provider.Complete(callCtx, req)
		cancel()

		if err == nil {
			e.breaker.OnSuccess(key)
			return result, nil
		}

		e.breaker.OnFailure(key)
		if errors.Is(err, context.DeadlineExceeded) {
			lastErr = fmt.Errorf("%w: %s after %s", ErrProviderTimeout, tier.Name, tier.Timeout)
		} else {
			lastErr = fmt.Errorf("%w: %v", ErrProviderError, err)
		}

		e.logger.WithError(err).WithFields(logrus.Fields{
			"tier":    tier.Name,
			"attempt": attempt + 1,
		}).Warn("Tier call failed")

		// A retry against a freshly opened circuit is pointless.
		if attempt < e.opts.RetriesPerTier && !e.breaker.Allow(key) {
			break
		}
	}

	return nil, lastErr
}

// finish fulfils the resolved intent (locally or by delegation), appends
// the conversation turn, and records usage plus the decision for audit.
// Recording is best-effort and never fails the request.
func (e *Engine) finish(
	ctx context.Context,
	utterance types.Utterance,
	decision types.RoutingDecision,
	usageTarget string,
	cost float64,
	tokens int,
	start time.Time,
) (*types.DispatchResult, error) {
	response, agentName, outcome := e.fulfill(ctx, utterance, decision)
	if decision.Degraded {
		outcome = types.OutcomeDegraded
	}
	if agentName != "" {
		usageTarget = agentName
	}

	e.conversations.Append(utterance.SessionID, utterance.Text, decision.Intent)

	latency := time.Since(start)
	e.tracker.Record(types.UsageRecord{
		ID:        uuid.NewString(),
		SessionID: utterance.SessionID,
		Target:    usageTarget,
		Tokens:    tokens,
		Cost:      cost,
		Latency:   latency,
		Outcome:   outcome,
		Timestamp: time.Now(),
	})
	e.tracker.RecordDecision(decision)

	e.logger.WithFields(logrus.Fields{
		"request_id":  utterance.ID,
		"intent":      decision.Intent,
		"tier":        decision.Tier,
		"confidence":  decision.Confidence,
		"cache_hit":   decision.CacheHit,
		"degraded":    decision.Degraded,
		"cost":        cost,
		"duration_ms": latency.Milliseconds(),
	}).Info("Request dispatched")

	return &types.DispatchResult{
		Response: response,
		Decision: decision,
		Agent:    agentName,
		Latency:  latency,
	}, nil
}

// fulfill executes the resolved intent: delegate to a specialist agent
// when one advertises the capability, otherwise run the local handler. A
// failed delegation degrades to a generic local response.
func (e *Engine) fulfill(ctx context.Context, utterance types.Utterance, decision types.RoutingDecision) (response, agentName string, outcome types.UsageOutcome) {
	if reg, ok := e.registry.FindForIntent(decision.Intent); ok {
		breakerKey := "agent:" + reg.Name
		if !e.breaker.Allow(breakerKey) {
			e.logger.WithField("agent", reg.Name).Warn("Agent circuit open, using local fallback response")
			return genericResponse(decision.Intent), "", types.OutcomeResolved
		}

		callCtx, cancel := context.WithTimeout(ctx, e.opts.DelegationTimeout)
		result, err := e.agentClient.Invoke(callCtx, reg, &agents.Task{
			RequestID:  utterance.ID,
			SessionID:  utterance.SessionID,
			Intent:     decision.Intent,
			Text:       utterance.Text,
			Confidence: decision.Confidence,
		})
		cancel()

		if err != nil {
			e.breaker.OnFailure(breakerKey)
			e.logger.WithError(err).WithField("agent", reg.Name).Warn("Delegation failed, using local fallback response")
			return genericResponse(decision.Intent), "", types.OutcomeResolved
		}
		e.breaker.OnSuccess(breakerKey)
		return result.Response, reg.Name, types.OutcomeDelegated
	}

	if handler, ok := e.handlers[decision.Intent]; ok {
		result, err := handler.Execute(ctx, decision.Intent, utterance)
		if err != nil {
			e.logger.WithError(err).WithField("intent", decision.Intent).Warn("Task handler failed, using generic response")
			return genericResponse(decision.Intent), "", types.OutcomeResolved
		}
		return result, "", types.OutcomeResolved
	}

	return genericResponse(decision.Intent), "", types.OutcomeResolved
}

// tierBreakerKey identifies the circuit for a tier. Keyed by provider and
// model so one degraded model does not blackout a vendor's other tiers.
func tierBreakerKey(tier types.ModelTier) string {
	return tier.Provider + ":" + tier.Model
}

// callCost prefers the provider's token-accurate accounting and falls
// back to the tier's configured approximation.
func callCost(tier types.ModelTier, result *providers.CompletionResult) float64 {
	if result.Cost > 0 {
		return result.Cost
	}
	return tier.CostPerCall
}

func genericResponse(intent string) string {
	if intent == IntentUnknown {
		return "I wasn't able to work out what you need. Could you rephrase your request?"
	}
	return fmt.Sprintf("Your %s request has been received and will be handled shortly.", strings.ReplaceAll(intent, "_", " "))
}
