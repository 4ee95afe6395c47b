package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// healthPingTimeout bounds a single health probe (ListTools round trip).
const healthPingTimeout = 5 * time.Second

// HealthStatus captures the health check result for a single MCP server.
type HealthStatus struct {
	ServerName string    `json:"server_name"`
	Healthy    bool      `json:"healthy"`
	LastCheck  time.Time `json:"last_check"`
	Error      string    `json:"error,omitempty"`
	ToolCount  int       `json:"tool_count"`
}

// HealthMonitor periodically probes each configured MCP server through the
// dispatcher. A probe invalidates the server's tool catalog and re-lists, so
// a passing check also keeps the catalog warm for planners.
type HealthMonitor struct {
	dispatcher *Dispatcher

	checkInterval time.Duration
	pingTimeout   time.Duration

	statuses   map[string]*HealthStatus
	statusesMu sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewHealthMonitor creates a health monitor over the dispatcher's servers.
func NewHealthMonitor(dispatcher *Dispatcher, checkInterval time.Duration) *HealthMonitor {
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	return &HealthMonitor{
		dispatcher:    dispatcher,
		checkInterval: checkInterval,
		pingTimeout:   healthPingTimeout,
		statuses:      make(map[string]*HealthStatus),
		logger:        slog.Default(),
	}
}

// Start launches the background health check loop.
// Calling Start on an already-running monitor is a no-op.
func (m *HealthMonitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return // already started
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.loop(ctx)
}

// Stop gracefully shuts down the health monitor.
// After Stop returns, Start may be called again.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}

	// Clear stale health data so a subsequent Start begins with a clean
	// slate and IsHealthy() doesn't report removed servers.
	m.statusesMu.Lock()
	m.statuses = make(map[string]*HealthStatus)
	m.statusesMu.Unlock()

	m.cancel = nil
	m.done = nil
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	// Run first check immediately
	m.checkAll(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *HealthMonitor) checkAll(ctx context.Context) {
	for _, serverName := range m.dispatcher.registry.ServerNames() {
		m.checkServer(ctx, serverName)
		if ctx.Err() != nil {
			return
		}
	}
}

func (m *HealthMonitor) checkServer(ctx context.Context, serverName string) {
	// Drop the cached catalog so the probe exercises the connection rather
	// than returning stale data. The dispatcher reconnects lazily inside
	// serverTools when the session is gone.
	m.dispatcher.invalidateCatalog(serverName)

	checkCtx, checkCancel := context.WithTimeout(ctx, m.pingTimeout)
	defer checkCancel()

	tools, err := m.dispatcher.serverTools(checkCtx, serverName)
	if err != nil {
		m.logger.Warn("MCP health check failed",
			"server", serverName, "error", err)
		m.setStatus(serverName, false, fmt.Sprintf("health check failed: %s", err.Error()), 0)
		return
	}

	m.setStatus(serverName, true, "", len(tools))
}

func (m *HealthMonitor) setStatus(serverName string, healthy bool, errMsg string, toolCount int) {
	m.statusesMu.Lock()
	defer m.statusesMu.Unlock()
	m.statuses[serverName] = &HealthStatus{
		ServerName: serverName,
		Healthy:    healthy,
		LastCheck:  time.Now(),
		Error:      errMsg,
		ToolCount:  toolCount,
	}
}

// Statuses returns the current health status of all monitored servers.
func (m *HealthMonitor) Statuses() map[string]*HealthStatus {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	result := make(map[string]*HealthStatus, len(m.statuses))
	for k, v := range m.statuses {
		cp := *v
		result[k] = &cp
	}
	return result
}

// IsHealthy returns true if all monitored servers are healthy.
// Returns false before the first check completes.
func (m *HealthMonitor) IsHealthy() bool {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	if len(m.statuses) == 0 {
		return false
	}
	for _, s := range m.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
