// ARIS orchestrator server: terminates client WebSocket connections, plans
// and executes tool-backed turns, and serves the operational read API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aris-ai/aris/pkg/api"
	"github.com/aris-ai/aris/pkg/cleanup"
	"github.com/aris-ai/aris/pkg/config"
	"github.com/aris-ai/aris/pkg/database"
	"github.com/aris-ai/aris/pkg/executor"
	"github.com/aris-ai/aris/pkg/llm"
	"github.com/aris-ai/aris/pkg/masking"
	"github.com/aris-ai/aris/pkg/mcp"
	"github.com/aris-ai/aris/pkg/orchestrator"
	"github.com/aris-ai/aris/pkg/planner"
	"github.com/aris-ai/aris/pkg/store"
	"github.com/aris-ai/aris/pkg/version"
)

// gracefulShutdownTimeout bounds how long in-flight turns may run after a
// shutdown signal before the process stops waiting for them.
const gracefulShutdownTimeout = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("ARIS_CONFIG_DIR", config.DefaultConfigDir),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting ARIS",
		"version", version.GitCommit,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (opens the pool and applies migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	sessionStore := store.NewSessionStore(dbClient)
	planStore := store.NewPlanStore(dbClient)
	memoryStore := store.NewMemoryStore(dbClient)

	// 3. Fail plans a previous process left non-terminal so every session
	// starts this process with at most one active plan.
	recovered, err := planStore.RecoverOrphanedPlans(ctx, "orphaned by restart")
	if err != nil {
		slog.Error("Failed to recover orphaned plans", "error", err)
		// Non-fatal, continue
	} else if recovered > 0 {
		slog.Info("Recovered orphaned plans", "count", recovered)
	}

	// 4. MCP dispatcher over the configured servers. Unreachable servers
	// degrade discovery and dispatch per-server, never globally.
	masker := masking.NewService(cfg.MCPServerRegistry)
	dispatcher := mcp.NewDispatcher(cfg.MCPServerRegistry, cfg.MCP, masker)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			slog.Error("Error closing MCP dispatcher", "error", err)
		}
	}()

	for server, startErr := range dispatcher.StartAll(ctx) {
		if startErr != nil {
			slog.Warn("MCP server unavailable at startup",
				"server", server, "error", startErr)
		}
	}

	var healthMonitor *mcp.HealthMonitor
	if cfg.MCPServerRegistry.Len() > 0 {
		healthMonitor = mcp.NewHealthMonitor(dispatcher, cfg.MCP.HealthInterval)
		healthMonitor.Start(ctx)
		defer healthMonitor.Stop()
		slog.Info("MCP health monitor started")
	}

	// 5. LLM client (Bedrock Converse)
	provider, err := llm.NewBedrockProviderFromConfig(ctx, cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM provider", "error", err)
		os.Exit(1)
	}
	llmClient := llm.NewClient(provider, cfg.LLM)
	slog.Info("LLM client initialized",
		"region", cfg.LLM.Region, "default_model", cfg.LLM.DefaultModelID)

	// 6. Turn pipeline components shared by all sessions
	plannerSvc := planner.NewPlanner(llmClient)
	executioner := executor.NewExecutioner(planStore, memoryStore, dispatcher, llmClient, cfg.MCPServerRegistry)

	agentDeps := orchestrator.Deps{
		Plans:    planStore,
		Memory:   memoryStore,
		Sessions: sessionStore,
		Planner:  plannerSvc,
		Executor: executioner,
		Tools:    dispatcher,
		LLM:      cfg.LLM,
	}

	registry := orchestrator.NewRegistry()

	// 7. Retention sweeps (expired memory, idle sessions)
	cleanupSvc := cleanup.NewService(cfg.Retention, memoryStore, sessionStore)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	// 8. HTTP server
	httpServer := api.NewServer(cfg, dbClient, sessionStore, planStore, registry, agentDeps)
	if healthMonitor != nil {
		httpServer.SetHealthMonitor(healthMonitor)
	}

	// 9. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		slog.Info("HTTP server listening", "addr", addr, "tls", cfg.Server.TLSEnabled())
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("ARIS started successfully",
		"agent_variant", cfg.Agent.Variant,
		"mcp_servers", cfg.MCPServerRegistry.Len())

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: unwind WebSocket sessions first so in-flight
	// turns finish their terminal writes, then stop the HTTP listener.
	registryDone := make(chan struct{})
	go func() {
		registry.Stop()
		close(registryDone)
	}()

	select {
	case <-registryDone:
		slog.Info("Session registry drained")
	case <-time.After(gracefulShutdownTimeout):
		slog.Warn("Shutdown timeout exceeded; interrupted plans will be orphan-recovered on restart")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
