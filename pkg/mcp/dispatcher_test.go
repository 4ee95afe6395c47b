package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aris-ai/aris/pkg/config"
	"github.com/aris-ai/aris/pkg/masking"
	"github.com/aris-ai/aris/pkg/models"
)

// emptySchema is a minimal valid JSON Schema for test tools.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// testMCPServer holds an in-memory MCP server and its transport pair.
type testMCPServer struct {
	server          *mcpsdk.Server
	clientTransport *mcpsdk.InMemoryTransport
	serverTransport *mcpsdk.InMemoryTransport
}

// startTestServer creates an in-memory MCP server with given tools and connects it.
func startTestServer(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *testMCPServer {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name: name, Version: "test",
	}, nil)

	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()

	return &testMCPServer{
		server:          server,
		clientTransport: clientTransport,
		serverTransport: serverTransport,
	}
}

// newTestDispatcher builds a dispatcher over the given server configs with
// masking disabled.
func newTestDispatcher(t *testing.T, servers map[string]config.MCPServerConfig) *Dispatcher {
	t.Helper()
	d := NewDispatcher(newTestRegistry(servers), config.DefaultMCPConfig(), nil)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// newTestRegistry converts value configs to the registry's pointer form.
func newTestRegistry(servers map[string]config.MCPServerConfig) *config.MCPServerRegistry {
	entries := make(map[string]*config.MCPServerConfig, len(servers))
	for name, cfg := range servers {
		entry := cfg
		entries[name] = &entry
	}
	return config.NewMCPServerRegistry(entries)
}

// wireServer connects an in-memory transport and injects the session,
// bypassing the real transport creation path.
func wireServer(t *testing.T, d *Dispatcher, serverName string, transport *mcpsdk.InMemoryTransport) {
	t.Helper()
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name: "aris-test", Version: "test",
	}, nil)
	session, err := client.Connect(context.Background(), transport, nil)
	require.NoError(t, err)
	d.InjectSession(serverName, session)
}

// httpServerConfig is a plain http server entry for tests that never dial.
func httpServerConfig() config.MCPServerConfig {
	return config.MCPServerConfig{
		Transport: config.TransportConfig{
			Type: config.TransportTypeHTTP,
			URL:  "http://localhost:9999/mcp",
		},
	}
}

func textHandler(text string) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}

func errorHandler(text string) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
			IsError: true,
		}, nil
	}
}

// fakeRecorder captures action transitions for assertion.
type fakeRecorder struct {
	mu          sync.Mutex
	transitions []recordedTransition
}

type recordedTransition struct {
	actionID string
	status   models.ActionStatus
	result   any
	errMsg   string
}

func (r *fakeRecorder) UpdateActionStatus(_ context.Context, actionID string, status models.ActionStatus, result any, errorMessage string) (*models.ExecutionPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, recordedTransition{
		actionID: actionID, status: status, result: result, errMsg: errorMessage,
	})
	return &models.ExecutionPlan{ID: "plan-1"}, nil
}

func (r *fakeRecorder) statuses() []models.ActionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ActionStatus, len(r.transitions))
	for i, tr := range r.transitions {
		out[i] = tr.status
	}
	return out
}

// fakeNotifier counts plan_update emissions.
type fakeNotifier struct {
	mu      sync.Mutex
	updates int
}

func (n *fakeNotifier) PlanUpdate(_ *models.ExecutionPlan) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates++
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.updates
}

func TestDispatcher_ListTools_UnionAcrossServers(t *testing.T) {
	tsA := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"list_orders": textHandler("ok"),
		"get_order":   textHandler("ok"),
	})
	tsB := startTestServer(t, "beta", map[string]mcpsdk.ToolHandler{
		"search_docs": textHandler("ok"),
	})

	d := newTestDispatcher(t, map[string]config.MCPServerConfig{
		"alpha": httpServerConfig(),
		"beta":  httpServerConfig(),
	})
	wireServer(t, d, "alpha", tsA.clientTransport)
	wireServer(t, d, "beta", tsB.clientTransport)

	tools, err := d.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 3)

	// Sorted by tool name, each tagged with its owning server.
	assert.Equal(t, "get_order", tools[0].Name)
	assert.Equal(t, "alpha", tools[0].Server)
	assert.Equal(t, "list_orders", tools[1].Name)
	assert.Equal(t, "search_docs", tools[2].Name)
	assert.Equal(t, "beta", tools[2].Server)
	assert.NotEmpty(t, tools[0].InputSchema)
}

func TestDispatcher_ListTools_CachedWithinTTL(t *testing.T) {
	ts := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"list_orders": textHandler("ok"),
	})

	d := newTestDispatcher(t, map[string]config.MCPServerConfig{"alpha": httpServerConfig()})
	wireServer(t, d, "alpha", ts.clientTransport)

	_, err := d.ListTools(context.Background())
	require.NoError(t, err)

	d.catalogMu.RLock()
	first := d.catalogs["alpha"].fetchedAt
	d.catalogMu.RUnlock()

	_, err = d.ListTools(context.Background())
	require.NoError(t, err)

	d.catalogMu.RLock()
	second := d.catalogs["alpha"].fetchedAt
	d.catalogMu.RUnlock()
	assert.Equal(t, first, second, "second list within TTL must hit the cache")

	d.invalidateCatalog("alpha")
	_, err = d.ListTools(context.Background())
	require.NoError(t, err)

	d.catalogMu.RLock()
	third := d.catalogs["alpha"].fetchedAt
	d.catalogMu.RUnlock()
	assert.True(t, third.After(first), "invalidation must force a refresh")
}

func TestDispatcher_ToolServer(t *testing.T) {
	ts := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"list_orders": textHandler("ok"),
	})

	d := newTestDispatcher(t, map[string]config.MCPServerConfig{"alpha": httpServerConfig()})
	wireServer(t, d, "alpha", ts.clientTransport)

	server, err := d.ToolServer(context.Background(), "list_orders")
	require.NoError(t, err)
	assert.Equal(t, "alpha", server)

	_, err = d.ToolServer(context.Background(), "no_such_tool")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_tool")
}

func TestDispatcher_Call_NormalizesJSONObject(t *testing.T) {
	ts := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"get_order": textHandler(`{"order_id": "ord-7", "total": 42.5}`),
	})

	d := newTestDispatcher(t, map[string]config.MCPServerConfig{"alpha": httpServerConfig()})
	wireServer(t, d, "alpha", ts.clientTransport)

	result, err := d.Call(context.Background(), "get_order", map[string]any{"id": "ord-7"}, nil)
	require.NoError(t, err)

	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ord-7", m["order_id"])
	assert.Equal(t, 42.5, m["total"])
}

func TestDispatcher_Call_WrapsPlainText(t *testing.T) {
	ts := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"ping": textHandler("pong"),
	})

	d := newTestDispatcher(t, map[string]config.MCPServerConfig{"alpha": httpServerConfig()})
	wireServer(t, d, "alpha", ts.clientTransport)

	result, err := d.Call(context.Background(), "ping", nil, nil)
	require.NoError(t, err)

	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pong", m["data"])
}

func TestDispatcher_Call_ToolErrorBecomesErrorField(t *testing.T) {
	ts := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"bad_tool": errorHandler("invalid namespace"),
	})

	d := newTestDispatcher(t, map[string]config.MCPServerConfig{"alpha": httpServerConfig()})
	wireServer(t, d, "alpha", ts.clientTransport)

	result, err := d.Call(context.Background(), "bad_tool", nil, nil)
	require.NoError(t, err, "tool-reported errors are results, not Go errors")

	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "invalid namespace", m["error"])
}

func TestDispatcher_Call_UnknownTool(t *testing.T) {
	ts := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"ping": textHandler("pong"),
	})

	d := newTestDispatcher(t, map[string]config.MCPServerConfig{"alpha": httpServerConfig()})
	wireServer(t, d, "alpha", ts.clientTransport)

	_, err := d.Call(context.Background(), "ghost_tool", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost_tool")
}

func TestDispatcher_Call_RecordsActionLifecycle(t *testing.T) {
	ts := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"get_order": textHandler(`{"order_id": "ord-7"}`),
	})

	d := newTestDispatcher(t, map[string]config.MCPServerConfig{"alpha": httpServerConfig()})
	wireServer(t, d, "alpha", ts.clientTransport)

	recorder := &fakeRecorder{}
	notifier := &fakeNotifier{}
	pc := &PlanContext{PlanID: "plan-1", ActionID: "act-1", Store: recorder, Bus: notifier}

	_, err := d.Call(context.Background(), "get_order", nil, pc)
	require.NoError(t, err)

	require.Equal(t, []models.ActionStatus{
		models.ActionStatusStarting,
		models.ActionStatusInProgress,
		models.ActionStatusCompleted,
	}, recorder.statuses())
	assert.Equal(t, 3, notifier.count(), "one plan_update per committed transition")

	final := recorder.transitions[len(recorder.transitions)-1]
	assert.Equal(t, "act-1", final.actionID)
	require.IsType(t, map[string]any{}, final.result)
	assert.Equal(t, "ord-7", final.result.(map[string]any)["order_id"])
}

func TestDispatcher_Call_RecordsFailureOnToolError(t *testing.T) {
	ts := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"bad_tool": errorHandler("invalid namespace"),
	})

	d := newTestDispatcher(t, map[string]config.MCPServerConfig{"alpha": httpServerConfig()})
	wireServer(t, d, "alpha", ts.clientTransport)

	recorder := &fakeRecorder{}
	pc := &PlanContext{PlanID: "plan-1", ActionID: "act-1", Store: recorder}

	_, err := d.Call(context.Background(), "bad_tool", nil, pc)
	require.NoError(t, err)

	require.Equal(t, []models.ActionStatus{
		models.ActionStatusStarting,
		models.ActionStatusInProgress,
		models.ActionStatusFailed,
	}, recorder.statuses())

	final := recorder.transitions[len(recorder.transitions)-1]
	assert.Equal(t, "invalid namespace", final.errMsg)
	assert.NotNil(t, final.result, "the error result is still attached to the action")
}

func TestDispatcher_Call_RecordsFailureOnUnknownTool(t *testing.T) {
	ts := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"ping": textHandler("pong"),
	})

	d := newTestDispatcher(t, map[string]config.MCPServerConfig{"alpha": httpServerConfig()})
	wireServer(t, d, "alpha", ts.clientTransport)

	recorder := &fakeRecorder{}
	pc := &PlanContext{PlanID: "plan-1", ActionID: "act-1", Store: recorder}

	_, err := d.Call(context.Background(), "ghost_tool", nil, pc)
	require.Error(t, err)

	// The action still walks the full chain to its terminal state.
	require.Equal(t, []models.ActionStatus{
		models.ActionStatusStarting,
		models.ActionStatusInProgress,
		models.ActionStatusFailed,
	}, recorder.statuses())
}

func TestDispatcher_Call_MasksConfiguredServer(t *testing.T) {
	ts := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"get_creds": textHandler(`{"pod": "api-1", "password": "hunter2"}`),
	})

	serverCfg := httpServerConfig()
	serverCfg.DataMasking = &config.MaskingConfig{
		Enabled:       true,
		PatternGroups: []string{"basic"},
	}
	registry := newTestRegistry(map[string]config.MCPServerConfig{"alpha": serverCfg})

	d := NewDispatcher(registry, config.DefaultMCPConfig(), masking.NewService(registry))
	t.Cleanup(func() { _ = d.Close() })
	wireServer(t, d, "alpha", ts.clientTransport)

	result, err := d.Call(context.Background(), "get_creds", nil, nil)
	require.NoError(t, err)

	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "api-1", m["pod"])
	assert.NotEqual(t, "hunter2", m["password"])
	assert.Contains(t, m["password"], "MASKED")
}

func TestDispatcher_InjectSessionMarksConnected(t *testing.T) {
	ts := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"ping": textHandler("pong"),
	})

	d := newTestDispatcher(t, map[string]config.MCPServerConfig{"alpha": httpServerConfig()})
	assert.Equal(t, StateConfigured, d.ServerStates()["alpha"])

	wireServer(t, d, "alpha", ts.clientTransport)
	assert.Equal(t, StateConnected, d.ServerStates()["alpha"])
}

func TestDispatcher_StartAll_UnreachableServer(t *testing.T) {
	d := newTestDispatcher(t, map[string]config.MCPServerConfig{
		"broken": {
			Transport: config.TransportConfig{
				Type:    config.TransportTypeStdio,
				Command: "/nonexistent/aris-test-binary",
			},
		},
	})

	results := d.StartAll(context.Background())
	require.Error(t, results["broken"])
	assert.Equal(t, StateFailed, d.ServerStates()["broken"])
	assert.NotEmpty(t, d.LastError("broken"))
}

func TestDispatcher_Close(t *testing.T) {
	ts := startTestServer(t, "alpha", map[string]mcpsdk.ToolHandler{
		"ping": textHandler("pong"),
	})

	d := newTestDispatcher(t, map[string]config.MCPServerConfig{"alpha": httpServerConfig()})
	wireServer(t, d, "alpha", ts.clientTransport)

	_, err := d.ListTools(context.Background())
	require.NoError(t, err)

	require.NoError(t, d.Close())
	assert.Equal(t, StateConfigured, d.ServerStates()["alpha"])

	d.catalogMu.RLock()
	defer d.catalogMu.RUnlock()
	assert.Empty(t, d.catalogs)
}
