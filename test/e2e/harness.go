// Package e2e provides end-to-end test infrastructure for the orchestrator:
// a full application harness backed by a real database, an in-memory MCP
// fabric, and a scripted LLM provider, driven through the public WebSocket
// and REST surfaces.
package e2e

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/aris-ai/aris/pkg/api"
	"github.com/aris-ai/aris/pkg/config"
	"github.com/aris-ai/aris/pkg/database"
	"github.com/aris-ai/aris/pkg/executor"
	"github.com/aris-ai/aris/pkg/llm"
	"github.com/aris-ai/aris/pkg/mcp"
	"github.com/aris-ai/aris/pkg/models"
	"github.com/aris-ai/aris/pkg/orchestrator"
	"github.com/aris-ai/aris/pkg/planner"
	"github.com/aris-ai/aris/pkg/store"
	testdb "github.com/aris-ai/aris/test/database"
)

// TestApp is a fully wired application instance for end-to-end tests.
// Every collaborator that tests script or inspect is exposed directly.
type TestApp struct {
	Config     *config.Config
	DBClient   *database.Client
	Sessions   *store.SessionStore
	Plans      *store.PlanStore
	Memory     *store.MemoryStore
	LLM        *ScriptedLLMProvider
	Dispatcher *mcp.Dispatcher
	Registry   *orchestrator.Registry
	Server     *api.Server

	// BaseURL is the HTTP root, e.g. "http://127.0.0.1:43581".
	BaseURL string
	// WSURL is the WebSocket endpoint, e.g. "ws://127.0.0.1:43581/api/v1/ws".
	WSURL string

	t *testing.T
}

// testAppConfig collects the knobs tests turn before the app is built.
type testAppConfig struct {
	config       *config.Config
	dbClient     *database.Client
	llm          *ScriptedLLMProvider
	mcpServers   map[string]map[string]mcpsdk.ToolHandler
	agentVariant string
	authSecret   string
	planFailures int
}

// TestAppOption customizes the test application.
type TestAppOption func(*testAppConfig)

// WithConfig replaces the default test configuration.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(tc *testAppConfig) { tc.config = cfg }
}

// WithDBClient injects a database client instead of the default isolated
// per-test schema. Pair with testdb.NewSharedTestDB when a test needs
// several pools over one schema, e.g. to simulate a process restart.
func WithDBClient(client *database.Client) TestAppOption {
	return func(tc *testAppConfig) { tc.dbClient = client }
}

// WithLLMProvider supplies a pre-scripted LLM provider. Without this option
// the app gets an empty provider; tests script it before sending messages.
func WithLLMProvider(p *ScriptedLLMProvider) TestAppOption {
	return func(tc *testAppConfig) { tc.llm = p }
}

// WithMCPServers declares in-memory MCP servers keyed by server name, each
// mapping tool names to handlers. The servers are injected into the
// dispatcher as already-connected sessions.
func WithMCPServers(servers map[string]map[string]mcpsdk.ToolHandler) TestAppOption {
	return func(tc *testAppConfig) { tc.mcpServers = servers }
}

// WithAgentVariant sets the agent variant new sessions are created with.
func WithAgentVariant(variant string) TestAppOption {
	return func(tc *testAppConfig) { tc.agentVariant = variant }
}

// WithAuth enables JWT verification with the given HMAC secret.
func WithAuth(secret string) TestAppOption {
	return func(tc *testAppConfig) { tc.authSecret = secret }
}

// WithPlanCreateFailures makes the first n plan persistence attempts fail,
// simulating a database outage at the start of a turn.
func WithPlanCreateFailures(n int) TestAppOption {
	return func(tc *testAppConfig) { tc.planFailures = n }
}

// NewTestApp builds and starts a complete application on an OS-assigned
// port. Everything is torn down via t.Cleanup in reverse start order.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{agentVariant: string(models.AgentKindGeneric)}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.llm == nil {
		tc.llm = NewScriptedLLMProvider()
	}

	// 1. Database with an isolated schema per test, unless the test brought
	// its own pool.
	dbClient := tc.dbClient
	if dbClient == nil {
		dbClient = testdb.NewTestClient(t)
	}

	// 2. Stores.
	sessions := store.NewSessionStore(dbClient)
	plans := store.NewPlanStore(dbClient)
	memory := store.NewMemoryStore(dbClient)

	// 3. Configuration. The MCP registry lists the declared in-memory
	// servers so tool routing and per-server settings resolve.
	cfg := tc.config
	if cfg == nil {
		cfg = defaultTestConfig()
	}
	cfg.Agent = &config.AgentConfig{Variant: tc.agentVariant}
	if tc.authSecret != "" {
		cfg.Auth = &config.AuthConfig{Enabled: true, JWTSecret: tc.authSecret}
	}
	cfg.MCPServerRegistry = buildMCPRegistry(tc.mcpServers)

	// 4. MCP dispatcher with injected in-memory sessions. No transport is
	// ever started; the injected sessions carry all tool traffic.
	dispatcher := mcp.NewDispatcher(cfg.MCPServerRegistry, cfg.MCP, nil)
	SetupInMemoryMCP(t, dispatcher, tc.mcpServers)

	// 5. Turn pipeline: scripted LLM behind the real client, real planner
	// and executioner.
	llmClient := llm.NewClient(tc.llm, cfg.LLM)
	plnr := planner.NewPlanner(llmClient)
	exec := executor.NewExecutioner(plans, memory, dispatcher, llmClient, cfg.MCPServerRegistry)

	var persister orchestrator.PlanPersister = plans
	if tc.planFailures > 0 {
		persister = &flakyPlanPersister{inner: plans, failures: int32(tc.planFailures)}
	}

	deps := orchestrator.Deps{
		Plans:    persister,
		Memory:   memory,
		Sessions: sessions,
		Planner:  plnr,
		Executor: exec,
		Tools:    dispatcher,
		LLM:      cfg.LLM,
	}

	// 6. HTTP server on an OS-assigned port.
	registry := orchestrator.NewRegistry()
	server := api.NewServer(cfg, dbClient, sessions, plans, registry, deps)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to bind test listener")
	go func() { _ = server.StartWithListener(ln) }()

	addr := ln.Addr().String()
	app := &TestApp{
		Config:     cfg,
		DBClient:   dbClient,
		Sessions:   sessions,
		Plans:      plans,
		Memory:     memory,
		LLM:        tc.llm,
		Dispatcher: dispatcher,
		Registry:   registry,
		Server:     server,
		BaseURL:    "http://" + addr,
		WSURL:      "ws://" + addr + "/api/v1/ws",
		t:          t,
	}

	t.Cleanup(func() {
		// Live connections unwind first so the HTTP shutdown is not stuck
		// behind hijacked WebSockets.
		registry.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		_ = dispatcher.Close()
	})

	return app
}

// WSURLFor returns the WebSocket URL resuming the given session.
func (app *TestApp) WSURLFor(sessionID string) string {
	return app.WSURL + "?session_id=" + sessionID
}

func defaultTestConfig() *config.Config {
	return &config.Config{
		Server:    &config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Auth:      &config.AuthConfig{},
		LLM:       config.DefaultLLMConfig(),
		MCP:       config.DefaultMCPConfig(),
		Retention: config.DefaultRetentionConfig(),
	}
}

// signToken mints an HS256 token the way the identity provider would.
// A negative ttl produces an already-expired token.
func signToken(t *testing.T, secret, subject string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

// flakyPlanPersister fails the first N plan writes, then delegates. Reads
// always pass through.
type flakyPlanPersister struct {
	inner    *store.PlanStore
	failures int32
}

func (f *flakyPlanPersister) CreatePlan(ctx context.Context, plan *models.ExecutionPlan) error {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return fmt.Errorf("injected plan store failure")
	}
	return f.inner.CreatePlan(ctx, plan)
}

func (f *flakyPlanPersister) ActivePlan(ctx context.Context, sessionID string) (*models.ExecutionPlan, error) {
	return f.inner.ActivePlan(ctx, sessionID)
}
