package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MCPServerConfig defines one MCP server the dispatcher connects to.
type MCPServerConfig struct {
	// Transport configuration (required)
	Transport TransportConfig `yaml:"transport"`

	// Instructions for the LLM when using this server's tools
	Instructions string `yaml:"instructions,omitempty"`

	// Login-tool authentication: when RequiresAuth is set, the dispatcher
	// calls LoginTool with the resolved credentials before the first real
	// tool call and injects the returned token into subsequent calls.
	RequiresAuth bool   `yaml:"requires_auth,omitempty"`
	LoginTool    string `yaml:"login_tool,omitempty"`

	// SessionArg names a tool argument the executioner fills with the
	// session id on every call to this server (ambient identifier).
	SessionArg string `yaml:"session_arg,omitempty"`

	// BearerTokenEnv names the env var holding a static bearer token for
	// http/sse transports. Resolved at load time into StaticToken.
	BearerTokenEnv string `yaml:"bearer_token_env,omitempty"`

	// Data masking applied to this server's tool results before they are
	// stored or shown.
	DataMasking *MaskingConfig `yaml:"data_masking,omitempty"`

	// Resolved credentials, never read from YAML. Filled by the loader
	// from ARIS_MCP_<NAME>_USERNAME / _PASSWORD / _TOKEN.
	Username    string `yaml:"-"`
	Password    string `yaml:"-"`
	StaticToken string `yaml:"-"`
}

// CredentialEnvPrefix returns the env var prefix for a server's credentials,
// e.g. "manufacturing-api" → "ARIS_MCP_MANUFACTURING_API_".
func CredentialEnvPrefix(serverName string) string {
	normalized := strings.ToUpper(serverName)
	normalized = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, normalized)
	return fmt.Sprintf("ARIS_MCP_%s_", normalized)
}

// MCPServerRegistry stores MCP server configurations in memory with thread-safe access
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry creates a new MCP server registry
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	if servers == nil {
		servers = make(map[string]*MCPServerConfig)
	}
	return &MCPServerRegistry{
		servers: servers,
	}
}

// Get retrieves an MCP server configuration by name (thread-safe)
func (r *MCPServerRegistry) Get(serverName string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[serverName]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverName)
	}
	return server, nil
}

// GetAll returns all MCP server configurations (thread-safe, returns copy)
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Return a copy to prevent external modification
	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has checks if an MCP server exists in the registry (thread-safe)
func (r *MCPServerRegistry) Has(serverName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[serverName]
	return exists
}

// ServerNames returns a sorted list of configured server names.
func (r *MCPServerRegistry) ServerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of configured servers.
func (r *MCPServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}
