package rules

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestMatcher_FirstMatchWins(t *testing.T) {
	// Most specific rule first, by configuration order.
	m, err := NewMatcher([]Rule{
		{Pattern: `create.*urgent.*ticket`, Intent: "create_urgent_ticket", Confidence: 0.97},
		{Pattern: `create.*ticket`, Intent: "create_ticket", Confidence: 0.95},
		{Pattern: `ticket`, Intent: "ticket_general", Confidence: 0.6},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}

	match, ok := m.Match("create an urgent ticket for login issues")
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Intent != "create_urgent_ticket" {
		t.Errorf("expected first declared rule to win, got %s", match.Intent)
	}
	if match.Confidence != 0.97 {
		t.Errorf("expected the rule's fixed confidence 0.97, got %.2f", match.Confidence)
	}
}

func TestMatcher_SingleWinnerNoBlend(t *testing.T) {
	m, err := NewMatcher([]Rule{
		{Pattern: `create.*ticket`, Intent: "create_ticket", Confidence: 0.95},
		{Pattern: `login`, Intent: "login_help", Confidence: 0.8},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}

	// Both patterns match; only the first may contribute.
	match, ok := m.Match("create a ticket for login issues")
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Intent != "create_ticket" || match.Confidence != 0.95 {
		t.Errorf("expected single-winner create_ticket@0.95, got %s@%.2f", match.Intent, match.Confidence)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	m, err := NewMatcher([]Rule{
		{Pattern: `create.*ticket`, Intent: "create_ticket", Confidence: 0.95},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}

	if _, ok := m.Match("can you help me"); ok {
		t.Error("expected no match for ambiguous utterance")
	}
}

func TestNewMatcher_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"invalid pattern", []Rule{{Pattern: `create(`, Intent: "x", Confidence: 0.5}}},
		{"missing intent", []Rule{{Pattern: `create`, Confidence: 0.5}}},
		{"confidence above one", []Rule{{Pattern: `create`, Intent: "x", Confidence: 1.5}}},
		{"negative confidence", []Rule{{Pattern: `create`, Intent: "x", Confidence: -0.1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMatcher(tt.rules, testLogger()); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}

func TestMatcher_Intents(t *testing.T) {
	m, err := NewMatcher([]Rule{
		{Pattern: `a`, Intent: "create_ticket", Confidence: 0.9},
		{Pattern: `b`, Intent: "account_lookup", Confidence: 0.9},
		{Pattern: `c`, Intent: "create_ticket", Confidence: 0.5},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}

	intents := m.Intents()
	if len(intents) != 2 {
		t.Fatalf("expected 2 distinct intents, got %d", len(intents))
	}
	if intents[0] != "create_ticket" || intents[1] != "account_lookup" {
		t.Errorf("expected declaration order preserved, got %v", intents)
	}
}
