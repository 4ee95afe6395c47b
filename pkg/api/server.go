// Package api exposes the orchestrator's HTTP surface: the WebSocket client
// channel, the health endpoint, and a small read API for dashboards.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/aris-ai/aris/pkg/config"
	"github.com/aris-ai/aris/pkg/database"
	"github.com/aris-ai/aris/pkg/mcp"
	"github.com/aris-ai/aris/pkg/orchestrator"
	"github.com/aris-ai/aris/pkg/store"
)

// pingInterval is how often a keep-alive frame is pushed to each client.
const pingInterval = 5 * time.Second

// Server hosts the REST read API, the health endpoint, and the WebSocket
// client channel. One Server serves all sessions of the process.
type Server struct {
	cfg      *config.Config
	dbClient *database.Client
	sessions *store.SessionStore
	plans    *store.PlanStore

	registry  *orchestrator.Registry
	agentDeps orchestrator.Deps

	// Optional, attached with Set* before Start.
	mcpHealth *mcp.HealthMonitor

	echo    *echo.Echo
	httpSrv *http.Server
}

// NewServer wires routes and middleware. Optional collaborators are attached
// with Set* methods before Start.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	sessions *store.SessionStore,
	plans *store.PlanStore,
	registry *orchestrator.Registry,
	agentDeps orchestrator.Deps,
) *Server {
	s := &Server{
		cfg:       cfg,
		dbClient:  dbClient,
		sessions:  sessions,
		plans:     plans,
		registry:  registry,
		agentDeps: agentDeps,
	}

	e := echo.New()
	e.Use(securityHeaders())
	s.registerRoutes(e)

	s.echo = e
	s.httpSrv = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetHealthMonitor attaches the MCP health monitor that feeds per-server
// states into the health payload.
func (s *Server) SetHealthMonitor(m *mcp.HealthMonitor) {
	s.mcpHealth = m
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1")
	v1.GET("/ws", s.wsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.GET("/sessions/:id/plan", s.getSessionPlanHandler)
}

// Start listens on addr and serves until Shutdown, with TLS when cert and
// key paths are configured. Blocks; returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	if s.cfg.Server.TLSEnabled() {
		return s.httpSrv.ListenAndServeTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	}
	return s.httpSrv.ListenAndServe()
}

// StartWithListener serves on an existing listener. Tests use this to bind
// an OS-assigned port before starting the server.
func (s *Server) StartWithListener(ln net.Listener) error {
	return s.httpSrv.Serve(ln)
}

// Shutdown stops accepting new connections and waits for in-flight HTTP
// handlers. WebSocket connections are hijacked and therefore not waited on
// here; stop the orchestrator registry first so they unwind.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
