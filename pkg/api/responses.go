package api

import (
	"github.com/aris-ai/aris/pkg/database"
	"github.com/aris-ai/aris/pkg/mcp"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string                       `json:"status"`
	Version        string                       `json:"version"`
	Checks         map[string]HealthCheck       `json:"checks"`
	Database       *database.HealthStatus       `json:"database,omitempty"`
	MCPServers     map[string]*mcp.HealthStatus `json:"mcp_servers,omitempty"`
	ActiveSessions int                          `json:"active_sessions"`
	Configuration  ConfigurationStats           `json:"configuration"`
}

// HealthCheck is one named component check inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConfigurationStats contains counts of loaded configuration items.
type ConfigurationStats struct {
	MCPServers    int `json:"mcp_servers"`
	AllowedModels int `json:"allowed_models"`
}
