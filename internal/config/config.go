package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/intent-dispatch/internal/providers/anthropic"
	"github.com/tributary-ai/intent-dispatch/internal/providers/openai"
	"github.com/tributary-ai/intent-dispatch/internal/rules"
	"github.com/tributary-ai/intent-dispatch/internal/types"
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig              `yaml:"server"`
	Engine       EngineConfig              `yaml:"engine"`
	Cache        CacheConfig               `yaml:"cache"`
	Rules        []rules.Rule              `yaml:"rules"`
	Tiers        []types.ModelTier         `yaml:"tiers"`
	Providers    ProvidersConfig           `yaml:"providers"`
	Conversation ConversationConfig        `yaml:"conversation"`
	Breaker      BreakerConfig             `yaml:"breaker"`
	Agents       []types.AgentRegistration `yaml:"agents"`
	Usage        UsageConfig               `yaml:"usage"`
	Logging      LoggingConfig             `yaml:"logging"`
	Security     SecurityConfig            `yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// EngineConfig holds dispatch engine thresholds and limits
type EngineConfig struct {
	AcceptThreshold   float64       `yaml:"accept_threshold"`
	RetriesPerTier    int           `yaml:"retries_per_tier"`
	ClassifyMaxTokens int           `yaml:"classify_max_tokens"`
	DelegationTimeout time.Duration `yaml:"delegation_timeout"`
	SensitiveIntents  []string      `yaml:"sensitive_intents"`
}

// CacheConfig holds decision cache configuration. Backend is "memory"
// (default) or "redis" for multi-instance deployments.
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig holds connection settings for the redis cache backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProvidersConfig holds configuration for all model providers
type ProvidersConfig struct {
	OpenAI    *openai.OpenAIConfig       `yaml:"openai"`
	Anthropic *anthropic.AnthropicConfig `yaml:"anthropic"`
}

// ConversationConfig bounds per-session context retention
type ConversationConfig struct {
	WindowSize  int           `yaml:"window_size"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// BreakerConfig holds circuit breaker tuning shared by all targets
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	BackoffFactor    float64       `yaml:"backoff_factor"`
	MaxCooldown      time.Duration `yaml:"max_cooldown"`
}

// UsageConfig holds usage tracker and audit sink configuration
type UsageConfig struct {
	BufferSize int    `yaml:"buffer_size"`
	SQLitePath string `yaml:"sqlite_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	APIKeys      []string        `yaml:"api_keys"`
	JWTSecret    string          `yaml:"jwt_secret"`
	RateLimiting RateLimitConfig `yaml:"rate_limiting"`
	CORS         CORSConfig      `yaml:"cors"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_minute"`
	BurstSize      int  `yaml:"burst_size"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	// Set defaults
	config.setDefaults()

	// Load from file if provided
	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	c.Engine = EngineConfig{
		AcceptThreshold:   0.8,
		RetriesPerTier:    1,
		ClassifyMaxTokens: 64,
		DelegationTimeout: 10 * time.Second,
		SensitiveIntents:  []string{"refund_request", "payment_issue", "account_locked"},
	}

	c.Cache = CacheConfig{
		Backend: "memory",
		TTL:     5 * time.Minute,
	}

	c.Conversation = ConversationConfig{
		WindowSize:  10,
		IdleTimeout: 30 * time.Minute,
	}

	c.Breaker = BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		BackoffFactor:    2.0,
		MaxCooldown:      5 * time.Minute,
	}

	c.Usage = UsageConfig{
		BufferSize: 1000,
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Security = SecurityConfig{
		APIKeys: []string{},
		RateLimiting: RateLimitConfig{
			Enabled:        false,
			RequestsPerMin: 60,
			BurstSize:      10,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
		},
	}

	c.Rules = []rules.Rule{
		{Pattern: `create.*(ticket|case|issue)`, Intent: "create_ticket", Confidence: 0.95},
		{Pattern: `(reset|forgot).*password`, Intent: "password_reset", Confidence: 0.95},
		{Pattern: `refund|money back`, Intent: "refund_request", Confidence: 0.9},
		{Pattern: `(where|track).*(order|package|delivery)`, Intent: "order_status", Confidence: 0.9},
		{Pattern: `cancel.*(subscription|account|plan)`, Intent: "cancel_subscription", Confidence: 0.9},
		{Pattern: `(charge|bill|payment).*(wrong|twice|error|fail)`, Intent: "payment_issue", Confidence: 0.85},
		{Pattern: `ticket`, Intent: "ticket_general", Confidence: 0.6},
	}

	c.Tiers = []types.ModelTier{
		{
			Name:            "fast",
			Provider:        "openai",
			Model:           "gpt-4o-mini",
			CostPerCall:     0.0002,
			Timeout:         5 * time.Second,
			CapabilityFloor: 0.5,
			MaxTokens:       64,
		},
		{
			Name:            "standard",
			Provider:        "anthropic",
			Model:           "claude-3-5-haiku-20241022",
			CostPerCall:     0.001,
			Timeout:         10 * time.Second,
			CapabilityFloor: 0.2,
			MaxTokens:       64,
		},
		{
			Name:            "premium",
			Provider:        "anthropic",
			Model:           "claude-3-5-sonnet-20241022",
			CostPerCall:     0.01,
			Timeout:         20 * time.Second,
			CapabilityFloor: 0,
			MaxTokens:       64,
		},
	}

	c.Providers = ProvidersConfig{}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if port := os.Getenv("DISPATCH_PORT"); port != "" {
		c.Server.Port = port
	}

	// Provider API keys
	if openaiKey := os.Getenv("OPENAI_API_KEY"); openaiKey != "" {
		if c.Providers.OpenAI == nil {
			c.Providers.OpenAI = &openai.OpenAIConfig{}
		}
		c.Providers.OpenAI.APIKey = openaiKey
	}

	if anthropicKey := os.Getenv("ANTHROPIC_API_KEY"); anthropicKey != "" {
		if c.Providers.Anthropic == nil {
			c.Providers.Anthropic = &anthropic.AnthropicConfig{}
		}
		c.Providers.Anthropic.APIKey = anthropicKey
	}

	if level := os.Getenv("DISPATCH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("DISPATCH_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if backend := os.Getenv("DISPATCH_CACHE_BACKEND"); backend != "" {
		c.Cache.Backend = backend
	}

	if addr := os.Getenv("DISPATCH_REDIS_ADDR"); addr != "" {
		c.Cache.Redis.Addr = addr
	}

	if password := os.Getenv("DISPATCH_REDIS_PASSWORD"); password != "" {
		c.Cache.Redis.Password = password
	}

	if threshold := os.Getenv("DISPATCH_ACCEPT_THRESHOLD"); threshold != "" {
		if v, err := strconv.ParseFloat(threshold, 64); err == nil {
			c.Engine.AcceptThreshold = v
		}
	}

	if secret := os.Getenv("DISPATCH_JWT_SECRET"); secret != "" {
		c.Security.JWTSecret = secret
	}

	if path := os.Getenv("DISPATCH_SQLITE_PATH"); path != "" {
		c.Usage.SQLitePath = path
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Engine.AcceptThreshold <= 0 || c.Engine.AcceptThreshold > 1 {
		return fmt.Errorf("accept threshold %.2f must be in (0,1]", c.Engine.AcceptThreshold)
	}

	if c.Engine.RetriesPerTier < 0 || c.Engine.RetriesPerTier > 1 {
		return fmt.Errorf("retries per tier must be 0 or 1, got %d", c.Engine.RetriesPerTier)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("redis cache backend requires an address")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s", c.Cache.Backend)
	}

	if len(c.Rules) == 0 {
		return fmt.Errorf("at least one routing rule must be configured")
	}
	for i, r := range c.Rules {
		if r.Intent == "" {
			return fmt.Errorf("rule %d: intent is required", i)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("rule %d (%s): confidence %.2f outside [0,1]", i, r.Intent, r.Confidence)
		}
	}

	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one model tier must be configured")
	}
	lastFloor := 2.0
	for i, tier := range c.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("tier %d: name is required", i)
		}
		if tier.Provider == "" || tier.Model == "" {
			return fmt.Errorf("tier %s: provider and model are required", tier.Name)
		}
		if tier.Timeout <= 0 {
			return fmt.Errorf("tier %s: timeout must be positive", tier.Name)
		}
		if tier.CapabilityFloor < 0 || tier.CapabilityFloor > 1 {
			return fmt.Errorf("tier %s: capability floor %.2f outside [0,1]", tier.Name, tier.CapabilityFloor)
		}
		// Tiers are ordered cheapest first; a later tier must not be less
		// capable than an earlier one.
		if i > 0 && tier.CapabilityFloor > lastFloor {
			return fmt.Errorf("tier %s: capability floor must not exceed the previous tier's", tier.Name)
		}
		lastFloor = tier.CapabilityFloor

		switch tier.Provider {
		case "openai":
			if c.Providers.OpenAI == nil {
				return fmt.Errorf("tier %s references the openai provider, which is not configured", tier.Name)
			}
		case "anthropic":
			if c.Providers.Anthropic == nil {
				return fmt.Errorf("tier %s references the anthropic provider, which is not configured", tier.Name)
			}
		}
	}

	for i, agent := range c.Agents {
		if agent.Name == "" {
			return fmt.Errorf("agent %d: name is required", i)
		}
		if agent.Endpoint == "" {
			return fmt.Errorf("agent %s: endpoint is required", agent.Name)
		}
		if len(agent.Capabilities) == 0 {
			return fmt.Errorf("agent %s: at least one capability is required", agent.Name)
		}
	}

	providerCount := 0
	if c.Providers.OpenAI != nil {
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("OpenAI API key is required when OpenAI provider is enabled")
		}
		providerCount++
	}
	if c.Providers.Anthropic != nil {
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("Anthropic API key is required when Anthropic provider is enabled")
		}
		providerCount++
	}
	if providerCount == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	return nil
}

// SaveToFile saves the current configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetEnabledProviders returns a list of enabled provider names
func (c *Config) GetEnabledProviders() []string {
	var providers []string

	if c.Providers.OpenAI != nil && c.Providers.OpenAI.APIKey != "" {
		providers = append(providers, "openai")
	}

	if c.Providers.Anthropic != nil && c.Providers.Anthropic.APIKey != "" {
		providers = append(providers, "anthropic")
	}

	return providers
}
