// Package complexity scores how hard an utterance is to classify. The score
// drives tier selection: higher complexity escalates to costlier tiers.
package complexity

import (
	"strings"

	"github.com/tributary-ai/intent-dispatch/internal/rules"
	"github.com/tributary-ai/intent-dispatch/internal/types"
)

// Markers that correlate with ambiguous or high-stakes requests.
var (
	negationMarkers = []string{"not", "no", "never", "dont", "cant", "wont", "isnt", "didnt", "doesnt"}
	hedgeMarkers    = []string{"maybe", "perhaps", "might", "possibly", "somehow", "something", "anything", "whatever"}
	stakeMarkers    = []string{"urgent", "immediately", "refund", "charge", "payment", "legal", "complaint", "cancel"}
)

// Analyzer produces a complexity score in [0,1]. Pure and total: no side
// effects, no I/O, always returns a value, so it cannot introduce a failure
// mode into routing.
type Analyzer struct {
	// SensitiveIntents pin a session toward costlier tiers for a few turns
	// after one of them resolves, to avoid intent flapping.
	SensitiveIntents map[string]bool
}

// NewAnalyzer builds an analyzer with the given sensitive-intent set.
func NewAnalyzer(sensitive []string) *Analyzer {
	set := make(map[string]bool, len(sensitive))
	for _, s := range sensitive {
		set[s] = true
	}
	return &Analyzer{SensitiveIntents: set}
}

// Sensitive reports whether an intent belongs to the sensitive set.
func (a *Analyzer) Sensitive(intent string) bool {
	return a.SensitiveIntents[intent]
}

// Score computes the complexity of a normalized utterance given the
// deterministic matcher's (possibly absent) prior and the session's recent
// window. Clamped to [0,1].
func (a *Analyzer) Score(normalized string, prior *rules.Match, window []types.Turn) float64 {
	words := strings.Fields(normalized)

	score := 0.2 // base: any classification carries some uncertainty

	// Length signals. Very short utterances are underspecified; very long
	// ones carry compound asks.
	switch {
	case len(words) <= 2:
		score += 0.2
	case len(words) > 25:
		score += 0.25
	case len(words) > 12:
		score += 0.1
	}

	// Negation flips intent meaning and defeats keyword matching.
	if containsAny(words, negationMarkers) {
		score += 0.15
	}

	// Hedging suggests the user isn't sure what they want either.
	if containsAny(words, hedgeMarkers) {
		score += 0.15
	}

	// High-stakes vocabulary warrants a more capable tier.
	if containsAny(words, stakeMarkers) {
		score += 0.1
	}

	// Multiple question-like clauses indicate a compound request.
	if strings.Count(normalized, " and ") >= 2 || strings.Count(normalized, " or ") >= 2 {
		score += 0.1
	}

	// A deterministic candidate, even below the accept threshold, is
	// evidence the request is routine. Scale the discount by how
	// confident the rule is.
	if prior != nil {
		score -= 0.3 * prior.Confidence
	}

	// A session that recently resolved to a sensitive intent stays biased
	// toward higher tiers while the topic is still live.
	for _, turn := range window {
		if a.SensitiveIntents[turn.Intent] {
			score += 0.2
			break
		}
	}

	return clamp(score)
}

func containsAny(words []string, markers []string) bool {
	for _, w := range words {
		for _, m := range markers {
			if w == m {
				return true
			}
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
