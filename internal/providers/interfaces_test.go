package providers

import (
	"testing"
)

func TestCostFor(t *testing.T) {
	m := ModelInfo{Name: "gpt-4o-mini", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006}

	cost := m.CostFor(1000, 1000)
	expected := 0.00015 + 0.0006
	if diff := cost - expected; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("CostFor(1000, 1000) = %f, want %f", cost, expected)
	}

	if m.CostFor(0, 0) != 0 {
		t.Error("zero tokens should cost nothing")
	}
}

func TestPriceFor(t *testing.T) {
	models := []ModelInfo{
		{Name: "gpt-4o-mini", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006},
		{Name: "gpt-4o", InputCostPer1K: 0.005, OutputCostPer1K: 0.015},
	}

	if price := PriceFor(models, "gpt-4o"); price == nil || price.InputCostPer1K != 0.005 {
		t.Error("expected gpt-4o pricing entry")
	}
	if PriceFor(models, "unknown-model") != nil {
		t.Error("unknown model should have no pricing entry")
	}
}

func TestCompletionResult_TotalTokens(t *testing.T) {
	r := CompletionResult{InputTokens: 120, OutputTokens: 30}
	if r.TotalTokens() != 150 {
		t.Errorf("TotalTokens = %d, want 150", r.TotalTokens())
	}
}
