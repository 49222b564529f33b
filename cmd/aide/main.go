// Package main provides the CLI entry point for the aide assistant server.
//
// aide hosts registered AI assistants behind an HTTP API: threads and
// messages are persisted per user, assistant runs call the configured LLM
// provider, and tool methods execute with bounded concurrency.
//
// # Basic Usage
//
// Start the server:
//
//	aide serve --config aide.yaml
//
// Run database migrations:
//
//	aide migrate
//
// # Environment Variables
//
//   - AIDE_CONFIG: Path to configuration file (default: aide.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/aide/examples/tourguide"
	"github.com/haasonsaas/aide/examples/weather"
	"github.com/haasonsaas/aide/internal/agent"
	"github.com/haasonsaas/aide/internal/agent/providers"
	"github.com/haasonsaas/aide/internal/assistants"
	"github.com/haasonsaas/aide/internal/config"
	"github.com/haasonsaas/aide/internal/gateway"
	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/internal/permissions"
	"github.com/haasonsaas/aide/internal/ratelimit"
	"github.com/haasonsaas/aide/internal/threads"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aide",
		Short: "aide - AI assistant server",
		Long: `aide hosts AI assistants with tool execution behind an HTTP API.

Threads and messages are persisted per user, assistant runs orchestrate the
configured LLM provider, and permission policies gate every operation.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildAssistantsCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if env := strings.TrimSpace(os.Getenv("AIDE_CONFIG")); env != "" && path == "aide.yaml" {
		return env
	}
	return path
}

func loadConfig(path string) (*config.Config, error) {
	path = resolveConfigPath(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildServeCmd creates the "serve" command that starts the HTTP server.
func buildServeCmd() *cobra.Command {
	var (
		configPath   string
		debug        bool
		withExamples bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the aide server",
		Long: `Start the aide server with the configured storage and LLM provider.

The server will:
1. Load configuration from the specified file (or aide.yaml)
2. Open the thread store (memory, SQLite, or Postgres) and run migrations
3. Initialize the configured LLM provider
4. Start the HTTP API server
5. Start the metrics server when a metrics port is configured

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  aide serve

  # Start with the demo assistants registered
  aide serve --with-examples

  # Start with debug logging
  aide serve --config /etc/aide/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug, withExamples)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "aide.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	cmd.Flags().BoolVar(&withExamples, "with-examples", false, "Register the demo weather and tour guide assistants")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug, withExamples bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	logger.Info("starting aide server",
		"version", version,
		"commit", commit,
		"http_port", cfg.Server.HTTPPort,
		"storage", cfg.Storage.Driver,
		"llm_provider", cfg.LLM.DefaultProvider,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	if cfg.LLM.MaxRetries > 1 {
		provider = providers.WithRetry(provider, cfg.LLM.MaxRetries)
	}

	registry := assistants.NewRegistry()
	if withExamples {
		if err := weather.Register(registry, defaultModel(cfg), weather.NewClient()); err != nil {
			return fmt.Errorf("register weather assistant: %w", err)
		}
		if err := tourguide.Register(registry, defaultModel(cfg), nil); err != nil {
			return fmt.Errorf("register tour guide assistant: %w", err)
		}
		logger.Info("demo assistants registered",
			"assistants", []string{weather.AssistantID, tourguide.AssistantID})
	}

	gate, err := buildGate(cfg)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	svc := assistants.NewService(registry, store, provider,
		assistants.WithGate(gate),
		assistants.WithMetrics(metrics),
		assistants.WithLogger(logger),
		assistants.WithAgentDefaults(cfg.Agent.MaxIterations, cfg.Agent.ToolConcurrency),
	)

	serverOpts := []gateway.ServerOption{
		gateway.WithServerMetrics(metrics),
		gateway.WithServerLogger(logger),
	}
	if cfg.Server.RateLimit.Enabled {
		serverOpts = append(serverOpts, gateway.WithRateLimit(ratelimit.NewLimiter(cfg.Server.RateLimit)))
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:           gateway.NewServer(svc, serverOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, initiating graceful shutdown")
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", "error", err)
		}
	}

	logger.Info("aide server stopped gracefully")
	return nil
}

// openStore opens the thread store named by the storage config and runs
// migrations for the SQL backends.
func openStore(ctx context.Context, cfg *config.Config) (threads.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "memory", "":
		return threads.NewMemoryStore(), func() {}, nil
	case "sqlite":
		store, err := threads.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrate sqlite store: %w", err)
		}
		return store, func() { store.Close() }, nil
	case "postgres":
		store, err := threads.OpenPostgres(cfg.Storage.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// buildProvider constructs the default LLM provider from the config.
func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	name := cfg.LLM.DefaultProvider
	pc, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("llm provider %q is not configured", name)
	}
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(pc.APIKey), nil
	case "openai":
		if pc.BaseURL != "" {
			return providers.NewOpenAICompatibleProvider(pc.APIKey, pc.BaseURL), nil
		}
		return providers.NewOpenAIProvider(pc.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

func defaultModel(cfg *config.Config) string {
	if pc, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; ok && pc.DefaultModel != "" {
		return pc.DefaultModel
	}
	return "claude-sonnet-4-20250514"
}

func buildGate(cfg *config.Config) (*permissions.Gate, error) {
	switch cfg.Permissions.Policy {
	case "allow_all", "":
		return permissions.AllowAll(), nil
	case "owner_or_superuser":
		return permissions.OwnerOrSuperuser(), nil
	default:
		return nil, fmt.Errorf("unknown permission policy %q", cfg.Permissions.Policy)
	}
}

// buildMigrateCmd creates the "migrate" command that applies the thread
// store schema.
func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Long: `Create or update the thread storage schema.

Connects to the database named in the storage section of the config and
creates the threads and thread_messages tables if they are missing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Storage.Driver == "memory" || cfg.Storage.Driver == "" {
				return fmt.Errorf("storage driver %q has no migrations", "memory")
			}
			_, cleanup, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "aide.yaml", "Path to YAML configuration file")
	return cmd
}

// buildAssistantsCmd creates the "assistants" command that lists the demo
// assistants this binary can serve.
func buildAssistantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assistants",
		Short: "List the assistants registered by --with-examples",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := assistants.NewRegistry()
			if err := weather.Register(registry, "unset", weather.NewClient()); err != nil {
				return err
			}
			if err := tourguide.Register(registry, "unset", nil); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, cfg := range registry.List() {
				fmt.Fprintf(out, "%s\t%s\n", cfg.ID, cfg.Name)
			}
			return nil
		},
	}
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a starter aide.yaml to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), starterConfig)
			return nil
		},
	})
	return cmd
}

const starterConfig = `server:
  host: 0.0.0.0
  http_port: 8080
  metrics_port: 9090
  rate_limit:
    enabled: false
    requests_per_second: 10
    burst_size: 20

storage:
  driver: sqlite
  path: aide.db

llm:
  default_provider: anthropic
  max_retries: 3
  providers:
    anthropic:
      api_key: ${ANTHROPIC_API_KEY}
      default_model: claude-sonnet-4-20250514
    openai:
      api_key: ${OPENAI_API_KEY}
      default_model: gpt-4o

agent:
  max_iterations: 10
  tool_concurrency: 1

permissions:
  policy: owner_or_superuser

logging:
  level: info
  format: json
`
