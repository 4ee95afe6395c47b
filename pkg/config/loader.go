package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DefaultConfigDir is used when no -config-dir flag or ARIS_CONFIG_DIR is set.
const DefaultConfigDir = "./config"

// mcpServersFile is the server list filename inside the config directory,
// unless ARIS_MCP_CONFIG points somewhere else.
const mcpServersFile = "mcp-servers.yaml"

// mcpServersYAML is the on-disk shape of mcp-servers.yaml. The optional
// defaults block is merged into every server entry before validation.
type mcpServersYAML struct {
	Defaults   *MCPServerConfig           `yaml:"defaults"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
}

// Initialize loads configuration from the environment and from
// mcp-servers.yaml in the given directory, applies defaults, resolves
// credentials, and validates the result. It returns the complete Config
// ready to be handed to components.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	slog.Info("Loading configuration", "config_dir", configDir)

	cfg := &Config{
		configDir: configDir,
		Server: &ServerConfig{
			Host:             getEnv("ARIS_HOST", "0.0.0.0"),
			Port:             getEnvInt("ARIS_PORT", 8080),
			AllowedWSOrigins: getEnvCSV("ARIS_ALLOWED_WS_ORIGINS", nil),
			TLSCertFile:      os.Getenv("ARIS_TLS_CERT_FILE"),
			TLSKeyFile:       os.Getenv("ARIS_TLS_KEY_FILE"),
		},
		Auth: &AuthConfig{
			Enabled:     !getEnvBool("ARIS_AUTH_DISABLED", false),
			JWTSecret:   os.Getenv("ARIS_JWT_SECRET"),
			TokenExpiry: getEnvDuration("ARIS_TOKEN_EXPIRY", 24*time.Hour),
		},
		LLM:       loadLLMConfig(),
		MCP:       loadMCPConfig(configDir),
		Agent:     &AgentConfig{Variant: getEnv("ARIS_AGENT_VARIANT", "generic")},
		Retention: loadRetentionConfig(),
	}

	registry, err := loadMCPServers(cfg.MCP.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.MCPServerRegistry = registry

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, err
	}

	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"mcp_servers", stats.MCPServers,
		"allowed_models", stats.AllowedModels,
		"agent_variant", cfg.Agent.Variant,
		"auth_enabled", cfg.Auth.Enabled)

	return cfg, nil
}

func loadLLMConfig() *LLMConfig {
	llm := DefaultLLMConfig()
	if region := getEnv("ARIS_BEDROCK_REGION", os.Getenv("AWS_REGION")); region != "" {
		llm.Region = region
	}
	llm.AccessKeyID = getEnv("ARIS_BEDROCK_ACCESS_KEY_ID", "")
	llm.SecretAccessKey = getEnv("ARIS_BEDROCK_SECRET_ACCESS_KEY", "")
	llm.SessionToken = getEnv("ARIS_BEDROCK_SESSION_TOKEN", "")
	llm.DefaultModelID = getEnv("ARIS_DEFAULT_MODEL", llm.DefaultModelID)
	llm.AllowedModels = getEnvCSV("ARIS_ALLOWED_MODELS", []string{llm.DefaultModelID})
	llm.Timeout = getEnvDuration("ARIS_LLM_TIMEOUT", llm.Timeout)
	llm.MaxRecursions = getEnvInt("ARIS_LLM_MAX_RECURSIONS", llm.MaxRecursions)

	// The default model is always callable, whatever the allowlist says.
	if !llm.ModelAllowed(llm.DefaultModelID) {
		llm.AllowedModels = append(llm.AllowedModels, llm.DefaultModelID)
	}
	return llm
}

func loadMCPConfig(configDir string) *MCPConfig {
	mcp := DefaultMCPConfig()
	mcp.ConfigPath = getEnv("ARIS_MCP_CONFIG", filepath.Join(configDir, mcpServersFile))
	mcp.DiscoveryTTL = getEnvDuration("ARIS_MCP_DISCOVERY_TTL", mcp.DiscoveryTTL)
	mcp.ToolTimeout = getEnvDuration("ARIS_TOOL_TIMEOUT", mcp.ToolTimeout)
	mcp.ToolTimeoutCeiling = getEnvDuration("ARIS_TOOL_TIMEOUT_CEILING", mcp.ToolTimeoutCeiling)
	mcp.HealthInterval = getEnvDuration("ARIS_MCP_HEALTH_INTERVAL", mcp.HealthInterval)
	return mcp
}

func loadRetentionConfig() *RetentionConfig {
	ret := DefaultRetentionConfig()
	ret.SweepInterval = getEnvDuration("ARIS_SWEEP_INTERVAL", ret.SweepInterval)
	ret.SessionIdleExpiry = getEnvDuration("ARIS_SESSION_IDLE_EXPIRY", ret.SessionIdleExpiry)
	return ret
}

// loadMCPServers reads the server list YAML, expands {{.ENV_VAR}} references,
// merges the defaults block into each entry, and resolves credentials from
// the environment. A missing file yields an empty registry: the service can
// run planner-only sessions with no tools configured.
func loadMCPServers(path string) (*MCPServerRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("MCP server config not found, starting with no tool servers", "path", path)
			return NewMCPServerRegistry(nil), nil
		}
		return nil, NewLoadError(path, err)
	}

	expanded := ExpandEnv(data)

	var parsed mcpServersYAML
	if err := yaml.Unmarshal(expanded, &parsed); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	servers := make(map[string]*MCPServerConfig, len(parsed.MCPServers))
	for name, server := range parsed.MCPServers {
		merged, err := applyServerDefaults(name, server, parsed.Defaults)
		if err != nil {
			return nil, err
		}
		resolveCredentials(name, merged)
		servers[name] = merged
	}

	return NewMCPServerRegistry(servers), nil
}

// applyServerDefaults overlays a server entry on top of the defaults block.
// Fields set on the entry win; unset fields inherit from defaults.
func applyServerDefaults(name string, server MCPServerConfig, defaults *MCPServerConfig) (*MCPServerConfig, error) {
	if defaults == nil {
		merged := server
		return &merged, nil
	}
	merged := *defaults
	if err := mergo.Merge(&merged, server, mergo.WithOverride); err != nil {
		return nil, NewValidationError("mcp_server", name, "defaults", err)
	}
	return &merged, nil
}

// resolveCredentials fills in the credential fields from the environment.
// ARIS_MCP_<NAME>_USERNAME / _PASSWORD feed login-tool auth, and
// ARIS_MCP_<NAME>_TOKEN or the server's bearer_token_env feed static
// bearer tokens. Values never appear in the YAML itself.
func resolveCredentials(name string, server *MCPServerConfig) {
	prefix := CredentialEnvPrefix(name)
	server.Username = os.Getenv(prefix + "USERNAME")
	server.Password = os.Getenv(prefix + "PASSWORD")
	server.StaticToken = os.Getenv(prefix + "TOKEN")
	if server.StaticToken == "" && server.BearerTokenEnv != "" {
		server.StaticToken = os.Getenv(server.BearerTokenEnv)
	}
}

// getEnv returns the value of the environment variable or the fallback.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", value)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("Ignoring non-boolean environment value", "key", key, "value", value)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Ignoring unparseable duration environment value", "key", key, "value", value)
		return fallback
	}
	return d
}

func getEnvCSV(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
