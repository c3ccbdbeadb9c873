package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func setTestKeys(t *testing.T) {
	t.Helper()
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	os.Setenv("ANTHROPIC_API_KEY", "test-anthropic-key")
	t.Cleanup(func() {
		os.Unsetenv("OPENAI_API_KEY")
		os.Unsetenv("ANTHROPIC_API_KEY")
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	setTestKeys(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port '8080', got %s", cfg.Server.Port)
	}

	if cfg.Engine.AcceptThreshold != 0.8 {
		t.Errorf("Expected default accept threshold 0.8, got %f", cfg.Engine.AcceptThreshold)
	}

	if cfg.Cache.Backend != "memory" {
		t.Errorf("Expected default cache backend 'memory', got %s", cfg.Cache.Backend)
	}

	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Expected default cache TTL 5m, got %v", cfg.Cache.TTL)
	}

	if cfg.Breaker.FailureThreshold != 3 {
		t.Errorf("Expected default failure threshold 3, got %d", cfg.Breaker.FailureThreshold)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level 'info', got %s", cfg.Logging.Level)
	}

	if len(cfg.Rules) == 0 {
		t.Error("Expected default rule set to be non-empty")
	}

	if len(cfg.Tiers) != 3 {
		t.Errorf("Expected 3 default tiers, got %d", len(cfg.Tiers))
	}
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	setTestKeys(t)
	os.Setenv("DISPATCH_PORT", "9090")
	os.Setenv("DISPATCH_LOG_LEVEL", "debug")
	os.Setenv("DISPATCH_LOG_FORMAT", "text")
	os.Setenv("DISPATCH_ACCEPT_THRESHOLD", "0.9")
	defer func() {
		os.Unsetenv("DISPATCH_PORT")
		os.Unsetenv("DISPATCH_LOG_LEVEL")
		os.Unsetenv("DISPATCH_LOG_FORMAT")
		os.Unsetenv("DISPATCH_ACCEPT_THRESHOLD")
	}()

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port '9090', got %s", cfg.Server.Port)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level 'debug', got %s", cfg.Logging.Level)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected log format 'text', got %s", cfg.Logging.Format)
	}

	if cfg.Engine.AcceptThreshold != 0.9 {
		t.Errorf("Expected accept threshold 0.9, got %f", cfg.Engine.AcceptThreshold)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		setup   func()
		cleanup func()
		errMsg  string
	}{
		{
			name: "Missing providers",
			setup: func() {
				os.Unsetenv("OPENAI_API_KEY")
				os.Unsetenv("ANTHROPIC_API_KEY")
			},
			cleanup: func() {},
			errMsg:  "not configured",
		},
		{
			name: "Invalid log level",
			setup: func() {
				os.Setenv("OPENAI_API_KEY", "test-key")
				os.Setenv("ANTHROPIC_API_KEY", "test-key")
				os.Setenv("DISPATCH_LOG_LEVEL", "verbose")
			},
			cleanup: func() {
				os.Unsetenv("OPENAI_API_KEY")
				os.Unsetenv("ANTHROPIC_API_KEY")
				os.Unsetenv("DISPATCH_LOG_LEVEL")
			},
			errMsg: "invalid log level",
		},
		{
			name: "Accept threshold out of range",
			setup: func() {
				os.Setenv("OPENAI_API_KEY", "test-key")
				os.Setenv("ANTHROPIC_API_KEY", "test-key")
				os.Setenv("DISPATCH_ACCEPT_THRESHOLD", "1.5")
			},
			cleanup: func() {
				os.Unsetenv("OPENAI_API_KEY")
				os.Unsetenv("ANTHROPIC_API_KEY")
				os.Unsetenv("DISPATCH_ACCEPT_THRESHOLD")
			},
			errMsg: "accept threshold",
		},
		{
			name: "Redis backend without address",
			setup: func() {
				os.Setenv("OPENAI_API_KEY", "test-key")
				os.Setenv("ANTHROPIC_API_KEY", "test-key")
				os.Setenv("DISPATCH_CACHE_BACKEND", "redis")
			},
			cleanup: func() {
				os.Unsetenv("OPENAI_API_KEY")
				os.Unsetenv("ANTHROPIC_API_KEY")
				os.Unsetenv("DISPATCH_CACHE_BACKEND")
			},
			errMsg: "redis cache backend requires an address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.cleanup()

			_, err := LoadConfig("")
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestLoadConfig_FileLoading(t *testing.T) {
	configContent := `
server:
  port: "3000"
  read_timeout: 60s

engine:
  accept_threshold: 0.75
  delegation_timeout: 5s

cache:
  ttl: 10m

rules:
  - pattern: "create.*ticket"
    intent: create_ticket
    confidence: 0.95

tiers:
  - name: only
    provider: openai
    model: gpt-4o-mini
    cost_per_call: 0.0002
    timeout: 5s
    capability_floor: 0

logging:
  level: "warn"
  format: "text"

providers:
  openai:
    api_key: "file-openai-key"

agents:
  - name: ticketing
    capabilities: [create_ticket]
    endpoint: "http://ticketing.internal:9000/tasks"
`

	tmpFile, err := os.CreateTemp("", "test_config_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	cfg, err := LoadConfig(tmpFile.Name())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "3000" {
		t.Errorf("Expected port '3000', got %s", cfg.Server.Port)
	}

	if cfg.Server.ReadTimeout != 60*time.Second {
		t.Errorf("Expected read timeout 60s, got %v", cfg.Server.ReadTimeout)
	}

	if cfg.Engine.AcceptThreshold != 0.75 {
		t.Errorf("Expected accept threshold 0.75, got %f", cfg.Engine.AcceptThreshold)
	}

	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("Expected cache TTL 10m, got %v", cfg.Cache.TTL)
	}

	if len(cfg.Rules) != 1 || cfg.Rules[0].Intent != "create_ticket" {
		t.Errorf("Expected the file's single rule, got %+v", cfg.Rules)
	}

	if len(cfg.Tiers) != 1 || cfg.Tiers[0].Name != "only" {
		t.Errorf("Expected the file's single tier, got %+v", cfg.Tiers)
	}

	if cfg.Providers.OpenAI.APIKey != "file-openai-key" {
		t.Errorf("Expected OpenAI key 'file-openai-key', got %s", cfg.Providers.OpenAI.APIKey)
	}

	if len(cfg.Agents) != 1 || cfg.Agents[0].Name != "ticketing" {
		t.Errorf("Expected one configured agent, got %+v", cfg.Agents)
	}
}

func TestLoadConfig_RejectsBadTierOrdering(t *testing.T) {
	setTestKeys(t)

	configContent := `
tiers:
  - name: fast
    provider: openai
    model: gpt-4o-mini
    timeout: 5s
    capability_floor: 0.2
  - name: premium
    provider: anthropic
    model: claude-3-5-sonnet-20241022
    timeout: 20s
    capability_floor: 0.9
`
	tmpFile, err := os.CreateTemp("", "test_config_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	_, err = LoadConfig(tmpFile.Name())
	if err == nil {
		t.Fatal("Expected error for ascending capability floors")
	}
	if !strings.Contains(err.Error(), "capability floor") {
		t.Errorf("Expected a capability floor error, got %q", err.Error())
	}
}

func TestConfig_GetEnabledProviders(t *testing.T) {
	setTestKeys(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	enabled := cfg.GetEnabledProviders()
	if len(enabled) != 2 {
		t.Fatalf("Expected 2 enabled providers, got %d", len(enabled))
	}
}

func TestConfig_SaveToFile(t *testing.T) {
	setTestKeys(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	cfg.Server.Port = "4000"

	tmpFile, err := os.CreateTemp("", "test_save_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	if err := cfg.SaveToFile(tmpFile.Name()); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	data, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "port: \"4000\"") {
		t.Error("Saved config should contain the custom port")
	}
	if !strings.Contains(content, "backend: memory") {
		t.Error("Saved config should contain the cache backend")
	}
}
