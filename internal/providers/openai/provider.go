package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/providers"
)

// OpenAIProvider implements the ModelProvider interface for OpenAI. The
// fast and standard tiers of the default ladder both run through it with
// different models.
type OpenAIProvider struct {
	client *openai.Client
	config *OpenAIConfig
	logger *logrus.Logger
}

// OpenAIConfig holds OpenAI-specific configuration.
type OpenAIConfig struct {
	APIKey  string                `yaml:"api_key"`
	BaseURL string                `yaml:"base_url"`
	OrgID   string                `yaml:"org_id"`
	Models  []providers.ModelInfo `yaml:"models"`
}

// NewOpenAIProvider creates a new OpenAI provider instance.
func NewOpenAIProvider(config *OpenAIConfig, logger *logrus.Logger) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}
}

// Name returns the provider name used as the circuit-breaker key.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete performs a single chat completion and reports tokens, cost and
// latency from the API's own usage accounting.
func (p *OpenAIProvider) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResult, error) {
	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	openaiReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openaiReq)
	latency := time.Since(start)
	if err != nil {
		p.logger.WithError(err).WithField("model", req.Model).Error("OpenAI API call failed")
		return nil, fmt.Errorf("openai api call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices for model %s", req.Model)
	}

	result := &providers.CompletionResult{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
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
	}).Debug("OpenAI completion finished")

	return result, nil
}

// HealthCheck verifies API reachability with a minimal request.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.ListModels(ctx)
	if err != nil {
		p.logger.WithError(err).Error("OpenAI health check failed")
		return fmt.Errorf("openai health check failed: %w", err)
	}
	return nil
}

// Ensure OpenAIProvider implements the provider interface
var _ providers.ModelProvider = (*OpenAIProvider)(nil)
