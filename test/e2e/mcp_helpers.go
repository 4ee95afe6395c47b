package e2e

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/aris-ai/aris/pkg/config"
	"github.com/aris-ai/aris/pkg/mcp"
)

// emptySchema is a minimal valid JSON Schema for test tools.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// buildMCPRegistry creates stub registry entries for the declared in-memory
// servers. The stdio command is never executed: the dispatcher receives
// injected sessions and skips transport creation entirely.
func buildMCPRegistry(servers map[string]map[string]mcpsdk.ToolHandler) *config.MCPServerRegistry {
	entries := make(map[string]*config.MCPServerConfig, len(servers))
	for name := range servers {
		entries[name] = &config.MCPServerConfig{
			Transport: config.TransportConfig{
				Type:    config.TransportTypeStdio,
				Command: "unused-in-memory",
			},
		}
	}
	return config.NewMCPServerRegistry(entries)
}

// SetupInMemoryMCP starts one in-memory MCP server per entry and injects a
// connected session for it into the dispatcher.
func SetupInMemoryMCP(t *testing.T, dispatcher *mcp.Dispatcher, servers map[string]map[string]mcpsdk.ToolHandler) {
	t.Helper()

	for serverName, tools := range servers {
		server := mcpsdk.NewServer(&mcpsdk.Implementation{
			Name: serverName, Version: "test",
		}, nil)
		for toolName, handler := range tools {
			server.AddTool(&mcpsdk.Tool{
				Name:        toolName,
				Description: "test tool: " + toolName,
				InputSchema: emptySchema,
			}, handler)
		}

		clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
		runCtx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go func() { _ = server.Run(runCtx, serverTransport) }()

		client := mcpsdk.NewClient(&mcpsdk.Implementation{
			Name: "aris-e2e", Version: "test",
		}, nil)
		session, err := client.Connect(context.Background(), clientTransport, nil)
		require.NoError(t, err, "failed to connect in-memory MCP server %s", serverName)
		dispatcher.InjectSession(serverName, session)
	}
}

// StaticToolHandler answers every call with the given text.
func StaticToolHandler(text string) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}

// ReportedErrorHandler answers with a tool-reported failure: the result
// carries IsError, the transport call itself succeeds.
func ReportedErrorHandler(text string) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
			IsError: true,
		}, nil
	}
}

// ToolCallRecorder captures the argument payload of every call a tool
// receives.
type ToolCallRecorder struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (r *ToolCallRecorder) record(args map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
}

// Calls returns a copy of the recorded argument payloads, in call order.
func (r *ToolCallRecorder) Calls() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]any, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many calls the tool received.
func (r *ToolCallRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// RecordingToolHandler records each call's arguments into rec, then answers
// with the given text.
func RecordingToolHandler(rec *ToolCallRecorder, text string) mcpsdk.ToolHandler {
	return func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args map[string]any
		if len(req.Params.Arguments) > 0 {
			_ = json.Unmarshal(req.Params.Arguments, &args)
		}
		rec.record(args)
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}
