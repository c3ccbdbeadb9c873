// Package rules implements the zero-cost deterministic matcher. Rules are
// configuration data: an ordered list of (pattern, intent, confidence)
// entries evaluated first-match-wins, so priority and tie-break live in the
// config, not in the engine.
package rules

import (
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"
)

// Rule is one pattern predicate as declared in configuration.
type Rule struct {
	Pattern    string  `yaml:"pattern" json:"pattern"`
	Intent     string  `yaml:"intent" json:"intent"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
}

// Match is the outcome of evaluating the rule table against an utterance.
type Match struct {
	Intent     string
	Confidence float64
	Rule       string // pattern that fired
}

type compiledRule struct {
	re   *regexp.Regexp
	rule Rule
}

// Matcher evaluates an ordered rule set against normalized utterance text.
// Immutable after construction; the engine swaps in a whole new Matcher on
// config reload.
type Matcher struct {
	rules  []compiledRule
	logger *logrus.Logger
}

// NewMatcher compiles the rule table. Rules keep their declaration order;
// the first satisfied predicate wins. A rule with confidence outside [0,1]
// or an invalid pattern is a configuration error.
func NewMatcher(ruleSet []Rule, logger *logrus.Logger) (*Matcher, error) {
	compiled := make([]compiledRule, 0, len(ruleSet))
	for i, r := range ruleSet {
		if r.Intent == "" {
			return nil, fmt.Errorf("rule %d: intent is required", i)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("rule %d (%s): confidence %.2f outside [0,1]", i, r.Intent, r.Confidence)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): invalid pattern: %w", i, r.Intent, err)
		}
		compiled = append(compiled, compiledRule{re: re, rule: r})
	}

	return &Matcher{rules: compiled, logger: logger}, nil
}

// Match evaluates the rule table against normalized text. Returns the first
// matching rule's intent and its fixed confidence, or ok=false when no rule
// fires. No scoring blend across rules: single winner, deterministic.
func (m *Matcher) Match(normalized string) (Match, bool) {
	for _, cr := range m.rules {
		if cr.re.MatchString(normalized) {
			m.logger.WithFields(logrus.Fields{
				"intent":     cr.rule.Intent,
				"pattern":    cr.rule.Pattern,
				"confidence": cr.rule.Confidence,
			}).Debug("Deterministic rule matched")
			return Match{
				Intent:     cr.rule.Intent,
				Confidence: cr.rule.Confidence,
				Rule:       cr.rule.Pattern,
			}, true
		}
	}
	return Match{}, false
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	return len(m.rules)
}

// Intents returns the distinct intents the rule table can produce, in
// declaration order. Used to build classification prompts for model tiers.
func (m *Matcher) Intents() []string {
	seen := make(map[string]bool)
	var intents []string
	for _, cr := range m.rules {
		if !seen[cr.rule.Intent] {
			seen[cr.rule.Intent] = true
			intents = append(intents, cr.rule.Intent)
		}
	}
	return intents
}
