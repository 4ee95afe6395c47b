package config

// Shared types used across configuration structs

// TransportConfig defines MCP server transport configuration
type TransportConfig struct {
	Type TransportType `yaml:"type"`

	// For stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // Environment overrides for stdio subprocess

	// For http/sse transport
	URL       string `yaml:"url,omitempty"`
	VerifySSL *bool  `yaml:"verify_ssl,omitempty"`
	Timeout   int    `yaml:"timeout,omitempty"` // Per-tool-call timeout in seconds
}

// MaskingConfig defines data masking configuration for MCP servers
type MaskingConfig struct {
	Enabled        bool             `yaml:"enabled"`
	PatternGroups  []string         `yaml:"pattern_groups,omitempty"`
	Patterns       []string         `yaml:"patterns,omitempty"`
	CustomPatterns []MaskingPattern `yaml:"custom_patterns,omitempty"`
}

// MaskingPattern defines a regex-based masking pattern
type MaskingPattern struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Description string `yaml:"description,omitempty"`
}

// BoolPtr returns a pointer to b. Convenience for *bool struct fields.
func BoolPtr(b bool) *bool { return &b }
