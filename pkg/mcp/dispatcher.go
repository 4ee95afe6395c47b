// Package mcp provides the MCP (Model Context Protocol) dispatcher: long-lived
// client sessions to the configured tool servers, tool discovery with a TTL
// cache, authenticated tool calls, and result normalization.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aris-ai/aris/pkg/config"
	"github.com/aris-ai/aris/pkg/masking"
	"github.com/aris-ai/aris/pkg/models"
	"github.com/aris-ai/aris/pkg/version"
)

// ServerState tracks a server's connection lifecycle.
type ServerState string

const (
	StateConfigured ServerState = "configured"
	StateConnecting ServerState = "connecting"
	StateConnected  ServerState = "connected"
	StateFailed     ServerState = "failed"
)

// Dispatch timeouts.
const (
	// InitTimeout is the per-server connection deadline (transport + handshake).
	InitTimeout = 30 * time.Second

	// DiscoveryTimeout is the per-server deadline for a ListTools probe.
	DiscoveryTimeout = 15 * time.Second
)

// ToolDescriptor is one entry of the dispatcher's tool catalog, as handed to
// the planner.
type ToolDescriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	Server       string          `json:"server"`
	RequiresAuth bool            `json:"requires_auth"`
}

// PlanRecorder persists action status transitions. Satisfied by
// *store.PlanStore.
type PlanRecorder interface {
	UpdateActionStatus(ctx context.Context, actionID string, status models.ActionStatus, result any, errorMessage string) (*models.ExecutionPlan, error)
}

// PlanNotifier emits plan_update frames. Satisfied by *events.Bus.
type PlanNotifier interface {
	PlanUpdate(plan *models.ExecutionPlan)
}

// PlanContext carries the bookkeeping side effect of a dispatched call: the
// dispatcher records starting before the call, in_progress once the call is
// issued, and the terminal status when it returns, emitting one plan_update
// after each committed write.
type PlanContext struct {
	PlanID   string
	ActionID string
	Store    PlanRecorder
	Bus      PlanNotifier
}

// record commits one action transition and emits the resulting snapshot.
// Store failures are logged, not propagated: losing a progress frame must
// not fail the tool call itself.
func (pc *PlanContext) record(ctx context.Context, status models.ActionStatus, result any, errMsg string) {
	if pc == nil || pc.Store == nil {
		return
	}
	plan, err := pc.Store.UpdateActionStatus(ctx, pc.ActionID, status, result, errMsg)
	if err != nil {
		slog.Warn("Failed to record action transition",
			"action_id", pc.ActionID, "status", status, "error", err)
		return
	}
	if pc.Bus != nil {
		pc.Bus.PlanUpdate(plan)
	}
}

// serverCatalog is one server's cached tool list.
type serverCatalog struct {
	descriptors []ToolDescriptor
	fetchedAt   time.Time
}

// Dispatcher owns the MCP client sessions for all configured servers. One
// instance serves every session; all methods are safe for concurrent use.
// Failures are per-server: a dead server degrades its own tools only.
type Dispatcher struct {
	registry *config.MCPServerRegistry
	cfg      *config.MCPConfig
	masker   *masking.Service // nil disables masking

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession
	states   map[string]ServerState
	lastErrs map[string]string

	// Per-server mutex serializing connect attempts.
	connectMu sync.Map // server name → *sync.Mutex

	catalogMu sync.RWMutex
	catalogs  map[string]*serverCatalog
	toolIndex map[string]string // tool name → server name

	tokens tokenStore
}

// NewDispatcher creates a dispatcher over the configured server registry.
// masker may be nil (masking disabled).
func NewDispatcher(registry *config.MCPServerRegistry, cfg *config.MCPConfig, masker *masking.Service) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		cfg:      cfg,
		masker:   masker,
		sessions: make(map[string]*mcpsdk.ClientSession),
		states:   make(map[string]ServerState),
		lastErrs: make(map[string]string),
		catalogs: make(map[string]*serverCatalog),
	}
	for _, name := range registry.ServerNames() {
		d.states[name] = StateConfigured
	}
	return d
}

// StartAll connects to every configured server and authenticates where
// required. Idempotent: already-connected servers are skipped. Returns the
// per-server outcome; failures are recorded and retried lazily on first use,
// never fatal here.
func (d *Dispatcher) StartAll(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for _, name := range d.registry.ServerNames() {
		err := d.ensureConnected(ctx, name)
		results[name] = err
		if err != nil {
			slog.Warn("MCP server failed to connect at warm-up", "server", name, "error", err)
		}
	}
	return results
}

// ensureConnected connects to a server if it is not connected yet, then
// authenticates if the server requires it. Safe for concurrent callers; a
// per-server mutex serializes attempts.
func (d *Dispatcher) ensureConnected(ctx context.Context, serverName string) error {
	muI, _ := d.connectMu.LoadOrStore(serverName, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	d.mu.RLock()
	_, connected := d.sessions[serverName]
	d.mu.RUnlock()
	if connected {
		return nil
	}

	serverCfg, err := d.registry.Get(serverName)
	if err != nil {
		return err
	}

	d.setState(serverName, StateConnecting, "")

	transport, err := createTransport(serverCfg)
	if err != nil {
		d.setState(serverName, StateFailed, err.Error())
		return fmt.Errorf("create transport for %q: %w", serverName, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		d.setState(serverName, StateFailed, err.Error())
		return fmt.Errorf("connect to %q: %w", serverName, err)
	}

	d.mu.Lock()
	d.sessions[serverName] = session
	d.mu.Unlock()
	d.setState(serverName, StateConnected, "")
	slog.Info("MCP server connected", "server", serverName)

	if serverCfg.RequiresAuth {
		if err := d.authenticate(ctx, serverName, serverCfg); err != nil {
			// The connection itself is fine; the first call will retry.
			slog.Warn("MCP server login failed at connect", "server", serverName, "error", err)
		}
	}
	return nil
}

// disconnect drops a server's session and cached catalog so the next use
// reconnects and re-discovers.
func (d *Dispatcher) disconnect(serverName string, reason string) {
	d.mu.Lock()
	if session, ok := d.sessions[serverName]; ok {
		_ = session.Close()
		delete(d.sessions, serverName)
	}
	d.mu.Unlock()

	d.setState(serverName, StateFailed, reason)
	d.invalidateCatalog(serverName)
	d.tokens.clear(serverName)
}

// ListTools returns the union catalog across all configured servers,
// refreshing each server's list when its cache entry is older than the
// discovery TTL. Servers that cannot be reached contribute nothing; an error
// is returned only when no server yields tools and at least one failed.
func (d *Dispatcher) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	var all []ToolDescriptor
	var lastErr error

	for _, name := range d.registry.ServerNames() {
		descriptors, err := d.serverTools(ctx, name)
		if err != nil {
			lastErr = err
			slog.Warn("Failed to list tools from MCP server", "server", name, "error", err)
			continue
		}
		all = append(all, descriptors...)
	}

	if len(all) == 0 && lastErr != nil {
		return nil, fmt.Errorf("no MCP server produced a tool list: %w", lastErr)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

// ToolServer resolves which server owns a tool, refreshing the catalog if
// the tool is unknown (it may have appeared since the last discovery).
func (d *Dispatcher) ToolServer(ctx context.Context, toolName string) (string, error) {
	d.catalogMu.RLock()
	server, ok := d.toolIndex[toolName]
	d.catalogMu.RUnlock()
	if ok {
		return server, nil
	}

	if _, err := d.ListTools(ctx); err != nil {
		return "", err
	}

	d.catalogMu.RLock()
	server, ok = d.toolIndex[toolName]
	d.catalogMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tool %q is not provided by any connected MCP server", toolName)
	}
	return server, nil
}

// serverTools returns one server's descriptors, from cache when fresh.
func (d *Dispatcher) serverTools(ctx context.Context, serverName string) ([]ToolDescriptor, error) {
	d.catalogMu.RLock()
	cached, ok := d.catalogs[serverName]
	d.catalogMu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < d.cfg.DiscoveryTTL {
		return cached.descriptors, nil
	}

	if err := d.ensureConnected(ctx, serverName); err != nil {
		return nil, err
	}

	d.mu.RLock()
	session := d.sessions[serverName]
	d.mu.RUnlock()
	if session == nil {
		return nil, fmt.Errorf("no session for server %q", serverName)
	}

	serverCfg, err := d.registry.Get(serverName)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		d.disconnect(serverName, fmt.Sprintf("tool discovery failed: %v", err))
		return nil, fmt.Errorf("list tools from %q: %w", serverName, err)
	}

	descriptors := make([]ToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		descriptors = append(descriptors, ToolDescriptor{
			Name:         tool.Name,
			Description:  tool.Description,
			InputSchema:  marshalSchema(tool.InputSchema),
			Server:       serverName,
			RequiresAuth: serverCfg.RequiresAuth,
		})
	}

	d.storeCatalog(serverName, descriptors)
	return descriptors, nil
}

// storeCatalog replaces a server's cache entry and rebuilds its tool index
// entries. On name collisions across servers the first registered server
// wins and the duplicate is logged.
func (d *Dispatcher) storeCatalog(serverName string, descriptors []ToolDescriptor) {
	d.catalogMu.Lock()
	defer d.catalogMu.Unlock()

	d.catalogs[serverName] = &serverCatalog{descriptors: descriptors, fetchedAt: time.Now()}

	d.toolIndex = make(map[string]string)
	for srv, cat := range d.catalogs {
		for _, desc := range cat.descriptors {
			if owner, exists := d.toolIndex[desc.Name]; exists && owner != srv {
				slog.Warn("Duplicate tool name across MCP servers",
					"tool", desc.Name, "kept", owner, "ignored", srv)
				continue
			}
			d.toolIndex[desc.Name] = srv
		}
	}
}

// invalidateCatalog drops a server's cached tools and its index entries.
func (d *Dispatcher) invalidateCatalog(serverName string) {
	d.catalogMu.Lock()
	defer d.catalogMu.Unlock()
	delete(d.catalogs, serverName)
	for tool, srv := range d.toolIndex {
		if srv == serverName {
			delete(d.toolIndex, tool)
		}
	}
}

// Call dispatches one tool call. The server is resolved from the catalog,
// auth tokens are injected for servers that require login, and the result is
// normalized to plain JSON-compatible values (and masked when configured).
//
// A tool-reported failure comes back as a result carrying an "error" field
// with a nil Go error; a Go error means the call itself could not be
// completed (unknown tool, transport failure, timeout). When pc is non-nil
// the action's starting/in_progress/terminal transitions are recorded around
// the call, each followed by one plan_update.
func (d *Dispatcher) Call(ctx context.Context, toolName string, args map[string]any, pc *PlanContext) (any, error) {
	serverName, err := d.ToolServer(ctx, toolName)
	if err != nil {
		pc.record(ctx, models.ActionStatusStarting, nil, "")
		pc.record(ctx, models.ActionStatusInProgress, nil, "")
		pc.record(ctx, models.ActionStatusFailed, nil, err.Error())
		return nil, err
	}

	serverCfg, err := d.registry.Get(serverName)
	if err != nil {
		return nil, err
	}

	if err := d.ensureConnected(ctx, serverName); err != nil {
		pc.record(ctx, models.ActionStatusStarting, nil, "")
		pc.record(ctx, models.ActionStatusInProgress, nil, "")
		pc.record(ctx, models.ActionStatusFailed, nil, err.Error())
		return nil, err
	}

	pc.record(ctx, models.ActionStatusStarting, nil, "")

	result, err := d.callWithAuth(ctx, serverName, serverCfg, toolName, args, pc)
	if err != nil {
		pc.record(ctx, models.ActionStatusFailed, nil, err.Error())
		return nil, err
	}

	normalized := NormalizeResult(result)
	normalized = d.maskResult(normalized, serverName)

	if errText := resultError(normalized); errText != "" {
		pc.record(ctx, models.ActionStatusFailed, normalized, errText)
	} else {
		pc.record(ctx, models.ActionStatusCompleted, normalized, "")
	}
	return normalized, nil
}

// callWithAuth performs the tool call with token injection and one silent
// re-authentication retry on an auth-class failure.
func (d *Dispatcher) callWithAuth(ctx context.Context, serverName string, serverCfg *config.MCPServerConfig, toolName string, args map[string]any, pc *PlanContext) (*mcpsdk.CallToolResult, error) {
	result, err := d.callOnce(ctx, serverName, serverCfg, toolName, args, pc)
	if !serverCfg.RequiresAuth || !isAuthFailure(result, err) {
		return result, err
	}

	slog.Info("Auth-class failure, re-authenticating and retrying",
		"server", serverName, "tool", toolName)
	d.tokens.clear(serverName)
	if authErr := d.authenticate(ctx, serverName, serverCfg); authErr != nil {
		if err != nil {
			return nil, fmt.Errorf("re-authentication failed: %w (original error: %v)", authErr, err)
		}
		return nil, fmt.Errorf("re-authentication failed: %w", authErr)
	}

	// The retry is silent: in_progress was already recorded on the first
	// attempt, so no plan context is passed here.
	return d.callOnce(ctx, serverName, serverCfg, toolName, args, nil)
}

// callOnce performs a single tool call attempt. The in_progress transition
// is recorded once the call is issued.
func (d *Dispatcher) callOnce(ctx context.Context, serverName string, serverCfg *config.MCPServerConfig, toolName string, args map[string]any, pc *PlanContext) (*mcpsdk.CallToolResult, error) {
	d.mu.RLock()
	session := d.sessions[serverName]
	d.mu.RUnlock()
	if session == nil {
		return nil, fmt.Errorf("no session for server %q", serverName)
	}

	callArgs := d.injectAuthToken(serverName, serverCfg, args)

	opCtx, cancel := context.WithTimeout(ctx, d.toolTimeout(serverCfg))
	defer cancel()

	pc.record(ctx, models.ActionStatusInProgress, nil, "")

	result, err := session.CallTool(opCtx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: callArgs,
	})
	if err != nil && isConnectionError(err) {
		d.disconnect(serverName, err.Error())
	}
	return result, err
}

// toolTimeout picks the per-call deadline: the server override when set,
// otherwise the dispatcher default.
func (d *Dispatcher) toolTimeout(serverCfg *config.MCPServerConfig) time.Duration {
	if serverCfg.Transport.Timeout > 0 {
		return time.Duration(serverCfg.Transport.Timeout) * time.Second
	}
	return d.cfg.ToolTimeout
}

// maskResult applies configured masking to a normalized result. Masking
// operates on the JSON encoding; if the masked text no longer parses it is
// wrapped rather than dropped.
func (d *Dispatcher) maskResult(result any, serverName string) any {
	if d.masker == nil || result == nil {
		return result
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return result
	}
	masked := d.masker.MaskToolResult(string(encoded), serverName)
	if masked == string(encoded) {
		return result
	}
	var reparsed any
	if err := json.Unmarshal([]byte(masked), &reparsed); err != nil {
		return map[string]any{"data": masked}
	}
	return reparsed
}

// ServerStates returns a copy of the per-server lifecycle states.
func (d *Dispatcher) ServerStates() map[string]ServerState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]ServerState, len(d.states))
	for k, v := range d.states {
		out[k] = v
	}
	return out
}

// LastError returns the most recent failure message for a server, if any.
func (d *Dispatcher) LastError(serverName string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErrs[serverName]
}

// Close shuts down all sessions. Safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for name, session := range d.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", name, err)
		}
		d.states[name] = StateConfigured
	}
	d.sessions = make(map[string]*mcpsdk.ClientSession)

	d.catalogMu.Lock()
	d.catalogs = make(map[string]*serverCatalog)
	d.toolIndex = nil
	d.catalogMu.Unlock()

	return firstErr
}

func (d *Dispatcher) setState(serverName string, state ServerState, errMsg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[serverName] = state
	if errMsg != "" {
		d.lastErrs[serverName] = errMsg
	} else if state == StateConnected {
		delete(d.lastErrs, serverName)
	}
}

// marshalSchema serializes a tool's input schema for the catalog.
func marshalSchema(schema any) json.RawMessage {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return nil
	}
	return data
}
