package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/agents"
	"github.com/tributary-ai/intent-dispatch/internal/breaker"
	"github.com/tributary-ai/intent-dispatch/internal/cache"
	"github.com/tributary-ai/intent-dispatch/internal/complexity"
	"github.com/tributary-ai/intent-dispatch/internal/config"
	"github.com/tributary-ai/intent-dispatch/internal/conversation"
	"github.com/tributary-ai/intent-dispatch/internal/engine"
	"github.com/tributary-ai/intent-dispatch/internal/providers"
	"github.com/tributary-ai/intent-dispatch/internal/providers/anthropic"
	"github.com/tributary-ai/intent-dispatch/internal/providers/openai"
	"github.com/tributary-ai/intent-dispatch/internal/rules"
	"github.com/tributary-ai/intent-dispatch/internal/security"
	"github.com/tributary-ai/intent-dispatch/internal/server"
	"github.com/tributary-ai/intent-dispatch/internal/tasks"
	"github.com/tributary-ai/intent-dispatch/internal/types"
	"github.com/tributary-ai/intent-dispatch/internal/usage"
)

// Application represents the main application
type Application struct {
	config        *config.Config
	engine        *engine.Engine
	server        *server.Server
	decisionCache cache.DecisionCache
	tracker       *usage.Tracker
	conversations *conversation.Store
	watcher       *config.Watcher
	logger        *logrus.Logger
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	providerSet, err := buildProviders(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to register providers: %w", err)
	}

	matcher, err := rules.NewMatcher(cfg.Rules, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to compile routing rules: %w", err)
	}

	decisionCache, err := buildCache(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize decision cache: %w", err)
	}

	tracker, err := buildTracker(cfg, logger)
	if err != nil {
		decisionCache.Close()
		return nil, fmt.Errorf("failed to initialize usage tracker: %w", err)
	}

	conversations := conversation.NewStore(cfg.Conversation.WindowSize, cfg.Conversation.IdleTimeout, logger)

	eng := engine.New(
		engine.Options{
			AcceptThreshold:   cfg.Engine.AcceptThreshold,
			RetriesPerTier:    cfg.Engine.RetriesPerTier,
			ClassifyMaxTokens: cfg.Engine.ClassifyMaxTokens,
			DelegationTimeout: cfg.Engine.DelegationTimeout,
		},
		matcher,
		cfg.Tiers,
		providerSet,
		decisionCache,
		breaker.New(breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
			BackoffFactor:    cfg.Breaker.BackoffFactor,
			MaxCooldown:      cfg.Breaker.MaxCooldown,
		}, logger),
		complexity.NewAnalyzer(cfg.Engine.SensitiveIntents),
		conversations,
		agents.NewRegistry(cfg.Agents, logger),
		agents.NewClient(cfg.Engine.DelegationTimeout, logger),
		tracker,
		logger,
	)

	tasks.NewHandlers(logger).RegisterAll(eng)

	srv := server.NewServer(eng, tracker, providerSet, &server.Config{
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		AllowedOrigins: cfg.Security.CORS.AllowedOrigins,
		Auth: &security.AuthConfig{
			APIKeys:     cfg.Security.APIKeys,
			JWTSecret:   cfg.Security.JWTSecret,
			RequireAuth: len(cfg.Security.APIKeys) > 0 || cfg.Security.JWTSecret != "",
		},
		RateLimit: &security.RateLimitConfig{
			Enabled:        cfg.Security.RateLimiting.Enabled,
			RequestsPerMin: cfg.Security.RateLimiting.RequestsPerMin,
			BurstSize:      cfg.Security.RateLimiting.BurstSize,
		},
	}, logger)

	app := &Application{
		config:        cfg,
		engine:        eng,
		server:        srv,
		decisionCache: decisionCache,
		tracker:       tracker,
		conversations: conversations,
		logger:        logger,
	}

	// Hot reload keeps rules and tiers current without a restart.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, app.reloadRouting, logger)
		if err != nil {
			logger.WithError(err).Warn("Config hot reload unavailable")
		} else {
			app.watcher = watcher
		}
	}

	return app, nil
}

// reloadRouting swaps the engine's routing table after a config change.
func (app *Application) reloadRouting(ruleSet []rules.Rule, tiers []types.ModelTier) {
	matcher, err := rules.NewMatcher(ruleSet, app.logger)
	if err != nil {
		app.logger.WithError(err).Error("Reloaded rules failed to compile, keeping previous routing table")
		return
	}
	app.engine.UpdateRouting(matcher, tiers)
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.Info("Starting intent dispatch engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if app.watcher != nil {
		if err := app.watcher.Start(); err != nil {
			app.logger.WithError(err).Warn("Config watcher failed to start")
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		// ErrServerClosed is the normal outcome of a graceful shutdown.
		if err := app.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if app.watcher != nil {
		app.watcher.Close()
	}
	app.conversations.Close()
	app.decisionCache.Close()
	// Drains buffered records into the audit sink before exit.
	app.tracker.Close()

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// buildProviders constructs the configured model providers
func buildProviders(cfg *config.Config, logger *logrus.Logger) (map[string]providers.ModelProvider, error) {
	providerSet := make(map[string]providers.ModelProvider)

	if cfg.Providers.OpenAI != nil && cfg.Providers.OpenAI.APIKey != "" {
		provider := openai.NewOpenAIProvider(cfg.Providers.OpenAI, logger)
		providerSet[provider.Name()] = provider
		logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"models":   len(cfg.Providers.OpenAI.Models),
		}).Info("OpenAI provider registered")
	}

	if cfg.Providers.Anthropic != nil && cfg.Providers.Anthropic.APIKey != "" {
		provider := anthropic.NewAnthropicProvider(cfg.Providers.Anthropic, logger)
		providerSet[provider.Name()] = provider
		logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"models":   len(cfg.Providers.Anthropic.Models),
		}).Info("Anthropic provider registered")
	}

	if len(providerSet) == 0 {
		return nil, fmt.Errorf("no providers were registered - check your configuration and API keys")
	}

	logger.WithField("count", len(providerSet)).Info("Provider registration completed")
	return providerSet, nil
}

// buildCache constructs the configured decision cache backend
func buildCache(cfg *config.Config, logger *logrus.Logger) (cache.DecisionCache, error) {
	switch cfg.Cache.Backend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return cache.NewRedisCache(ctx, cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB, cfg.Cache.TTL, logger)
	default:
		return cache.NewMemoryCache(cfg.Cache.TTL, logger), nil
	}
}

// buildTracker constructs the usage tracker, with the sqlite audit sink
// when a path is configured
func buildTracker(cfg *config.Config, logger *logrus.Logger) (*usage.Tracker, error) {
	if cfg.Usage.SQLitePath == "" {
		return usage.NewTracker(cfg.Usage.BufferSize, logger), nil
	}

	sink, err := usage.NewSQLiteSink(cfg.Usage.SQLitePath, logger)
	if err != nil {
		return nil, err
	}
	return usage.NewTracker(cfg.Usage.BufferSize, logger, sink), nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY             OpenAI API key\n")
	fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY          Anthropic API key\n")
	fmt.Fprintf(os.Stderr, "  DISPATCH_PORT              Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  DISPATCH_LOG_LEVEL         Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  DISPATCH_LOG_FORMAT        Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  DISPATCH_CACHE_BACKEND     Decision cache backend (memory,redis)\n")
	fmt.Fprintf(os.Stderr, "  DISPATCH_REDIS_ADDR        Redis address for the redis backend\n")
	fmt.Fprintf(os.Stderr, "  DISPATCH_ACCEPT_THRESHOLD  Deterministic accept threshold\n")
	fmt.Fprintf(os.Stderr, "  DISPATCH_SQLITE_PATH       Path for the sqlite usage audit database\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY=sk-xxx ANTHROPIC_API_KEY=sk-ant-xxx %s\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *version {
		fmt.Printf("Intent Dispatch v1.0.0\n")
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
