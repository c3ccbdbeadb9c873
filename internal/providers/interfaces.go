package providers

import (
	"context"
	"time"
)

// CompletionRequest is the engine's tier-agnostic prompt. The dispatcher
// fills Model and MaxTokens from the selected tier's configuration.
type CompletionRequest struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

// CompletionResult carries the model's text plus the accounting the usage
// tracker needs.
type CompletionResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Cost         float64
	Latency      time.Duration
}

// TotalTokens returns combined input and output token counts.
func (r *CompletionResult) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// ModelProvider is the capability the dispatcher escalates across. One
// implementation per backing vendor; a tier binds a provider name to a
// concrete model and timeout.
type ModelProvider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
	HealthCheck(ctx context.Context) error
}

// ModelInfo holds per-model pricing used for cost accounting.
type ModelInfo struct {
	Name            string  `yaml:"name"`
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
}

// CostFor computes the dollar cost of a call at this model's pricing.
func (m *ModelInfo) CostFor(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*m.InputCostPer1K/1000 + float64(outputTokens)*m.OutputCostPer1K/1000
}

// PriceFor finds the pricing entry for a model, or nil when unknown.
func PriceFor(models []ModelInfo, model string) *ModelInfo {
	for i := range models {
		if models[i].Name == model {
			return &models[i]
		}
	}
	return nil
}
