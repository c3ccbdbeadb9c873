package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/providers"
)

// AnthropicProvider implements the ModelProvider interface for Anthropic
// Claude, typically bound to the premium tier.
type AnthropicProvider struct {
	client *anthropic.Client
	config *AnthropicConfig
	logger *logrus.Logger
}

// AnthropicConfig holds Anthropic-specific configuration.
type AnthropicConfig struct {
	APIKey  string                `yaml:"api_key"`
	BaseURL string                `yaml:"base_url"`
	Models  []providers.ModelInfo `yaml:"models"`
}

// NewAnthropicProvider creates a new Anthropic provider instance.
func NewAnthropicProvider(config *AnthropicConfig, logger *logrus.Logger) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		client: &client,
		config: config,
		logger: logger,
	}
}

// Name returns the provider name used as the circuit-breaker key.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete performs a single message request and reports tokens, cost and
// latency from the API's usage accounting.
func (p *AnthropicProvider) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResult, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024 // Anthropic requires max_tokens
	}

	anthropicReq := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		anthropicReq.System = []anthropic.TextBlockParam{
			{Text: req.System, Type: "text"},
		}
	}

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, anthropicReq)
	latency := time.Since(start)
	if err != nil {
		p.logger.WithError(err).WithField("model", req.Model).Error("Anthropic API call failed")
		return nil, fmt.Errorf("anthropic api call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	result := &providers.CompletionResult{
		Text:         text.String(),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		Latency:      latency,
	}
	if price := providers.PriceFor(p.config.Models, req.Model); price != nil {
		result.Cost = price.CostFor(result.InputTokens, result.OutputTokens)
	}

	p.logger.WithFields(logrus.Fields{
		"model":       req.Model,
		"tokens":      result.TotalTokens(),
		"cost":        result.Cost,
		"duration_ms": latency.Milliseconds(),
	}).Debug("Anthropic completion finished")

	return result, nil
}

// HealthCheck verifies API reachability with a minimal message.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	testReq := anthropic.MessageNewParams{
		Model: anthropic.Model("claude-3-haiku-20240307"), // cheapest model for health checks
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("test")),
		},
		MaxTokens: 1,
	}

	if _, err := p.client.Messages.New(ctx, testReq); err != nil {
		p.logger.WithError(err).Error("Anthropic health check failed")
		return fmt.Errorf("anthropic health check failed: %w", err)
	}
	return nil
}

// Ensure AnthropicProvider implements the provider interface
var _ providers.ModelProvider = (*AnthropicProvider)(nil)
