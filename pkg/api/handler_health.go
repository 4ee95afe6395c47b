package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/aris-ai/aris/pkg/database"
	"github.com/aris-ai/aris/pkg/mcp"
	"github.com/aris-ai/aris/pkg/version"
)

const (
	healthStatusOK        = "ok"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// Only the process's own readiness (database) decides the HTTP status.
// MCP servers are external dependencies: their failures mark the payload
// degraded but keep the status 200 so an orchestrator does not restart this
// process when a tool server is down.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusOK

	dbHealth, err := database.Health(reqCtx, s.dbClient.SQL())
	if err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusOK}
	}

	var mcpHealth map[string]*mcp.HealthStatus
	if s.mcpHealth != nil {
		mcpHealth = s.mcpHealth.Statuses()
		for name, st := range mcpHealth {
			if st.Healthy {
				continue
			}
			if status == healthStatusOK {
				status = healthStatusDegraded
			}
			checks["mcp:"+name] = HealthCheck{Status: healthStatusDegraded, Message: st.Error}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	stats := s.cfg.Stats()
	return c.JSON(httpStatus, &HealthResponse{
		Status:         status,
		Version:        version.GitCommit,
		Checks:         checks,
		Database:       dbHealth,
		MCPServers:     mcpHealth,
		ActiveSessions: s.registry.Len(),
		Configuration: ConfigurationStats{
			MCPServers:    stats.MCPServers,
			AllowedModels: stats.AllowedModels,
		},
	})
}
