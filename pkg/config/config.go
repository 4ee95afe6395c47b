package config

import "time"

// Config is the umbrella configuration object returned by Initialize and
// passed to components at startup.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// HTTP/WebSocket server settings
	Server *ServerConfig

	// Bearer token verification
	Auth *AuthConfig

	// Bedrock LLM client settings
	LLM *LLMConfig

	// Dispatcher-wide MCP settings (per-server settings live in the registry)
	MCP *MCPConfig

	// Agent variant selection
	Agent *AgentConfig

	// Data retention
	Retention *RetentionConfig

	// Configured MCP servers
	MCPServerRegistry *MCPServerRegistry
}

// ServerConfig groups the HTTP listener settings.
type ServerConfig struct {
	Host             string
	Port             int
	AllowedWSOrigins []string

	// TLSCertFile and TLSKeyFile enable TLS on the listener when both are
	// set. Set one without the other and validation fails.
	TLSCertFile string
	TLSKeyFile  string
}

// TLSEnabled reports whether the listener should serve TLS.
func (s *ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// AuthConfig groups bearer token verification settings.
type AuthConfig struct {
	// Enabled turns token verification on. Disabled is for local
	// development only: every handshake is accepted as an anonymous user.
	Enabled bool

	// JWTSecret is the HMAC signing secret. Required when Enabled.
	JWTSecret string

	// TokenExpiry is the lifetime of tokens this service issues.
	TokenExpiry time.Duration
}

// MCPConfig groups dispatcher-wide MCP settings.
type MCPConfig struct {
	// ConfigPath is the resolved path of the server list YAML.
	ConfigPath string

	// DiscoveryTTL is how long a server's tool list is cached.
	DiscoveryTTL time.Duration

	// ToolTimeout bounds a tool call when the server config sets none.
	ToolTimeout time.Duration

	// ToolTimeoutCeiling caps per-server timeout overrides.
	ToolTimeoutCeiling time.Duration

	// HealthInterval is how often connected servers are pinged.
	HealthInterval time.Duration
}

// AgentConfig selects the agent variant for new sessions.
type AgentConfig struct {
	// Variant is "generic" or "manufacturing".
	Variant string
}

// DefaultMCPConfig returns the built-in dispatcher defaults.
func DefaultMCPConfig() *MCPConfig {
	return &MCPConfig{
		DiscoveryTTL:       300 * time.Second,
		ToolTimeout:        90 * time.Second,
		ToolTimeoutCeiling: 30 * time.Minute,
		HealthInterval:     30 * time.Second,
	}
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetMCPServer retrieves an MCP server configuration by name.
// This is a convenience method that wraps MCPServerRegistry.Get().
func (c *Config) GetMCPServer(serverName string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverName)
}

// AllMCPServerNames returns a sorted list of all configured MCP server names.
func (c *Config) AllMCPServerNames() []string {
	return c.MCPServerRegistry.ServerNames()
}

// Stats contains statistics about loaded configuration
type Stats struct {
	MCPServers    int
	AllowedModels int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.MCPServerRegistry != nil {
		s.MCPServers = c.MCPServerRegistry.Len()
	}
	if c.LLM != nil {
		s.AllowedModels = len(c.LLM.AllowedModels)
	}
	return s
}
