package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/aris-ai/aris/pkg/models"
)

// Validator validates a loaded Config before it is handed to components.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given config.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs all validation checks and returns the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return err
	}
	if err := v.validateAuth(); err != nil {
		return err
	}
	if err := v.validateLLM(); err != nil {
		return err
	}
	if err := v.validateAgent(); err != nil {
		return err
	}
	if err := v.validateRetention(); err != nil {
		return err
	}
	return v.validateMCPServers()
}

func (v *Validator) validateServer() error {
	s := v.cfg.Server
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "http", "port",
			fmt.Errorf("%w: %d", ErrInvalidValue, s.Port))
	}
	if (s.TLSCertFile == "") != (s.TLSKeyFile == "") {
		return NewValidationError("server", "http", "tls",
			fmt.Errorf("%w: set both ARIS_TLS_CERT_FILE and ARIS_TLS_KEY_FILE or neither", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateAuth() error {
	a := v.cfg.Auth
	if !a.Enabled {
		return nil
	}
	if a.JWTSecret == "" {
		return NewValidationError("auth", "jwt", "secret",
			fmt.Errorf("%w: set ARIS_JWT_SECRET or disable auth", ErrMissingRequiredField))
	}
	if a.TokenExpiry <= 0 {
		return NewValidationError("auth", "jwt", "token_expiry",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateLLM() error {
	l := v.cfg.LLM
	if l.Region == "" {
		return NewValidationError("llm", "bedrock", "region", ErrMissingRequiredField)
	}
	if l.DefaultModelID == "" {
		return NewValidationError("llm", "bedrock", "default_model", ErrMissingRequiredField)
	}
	if l.Timeout <= 0 {
		return NewValidationError("llm", "bedrock", "timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if l.MaxRecursions < 1 {
		return NewValidationError("llm", "bedrock", "max_recursions",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateAgent() error {
	if !models.AgentKind(v.cfg.Agent.Variant).IsValid() {
		return NewValidationError("agent", v.cfg.Agent.Variant, "variant",
			fmt.Errorf("%w: must be one of: generic, manufacturing", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateRetention() error {
	if v.cfg.Retention.SweepInterval <= 0 {
		return NewValidationError("retention", "memory", "sweep_interval",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateMCPServers() error {
	ceiling := v.cfg.MCP.ToolTimeoutCeiling
	for name, server := range v.cfg.MCPServerRegistry.GetAll() {
		if err := v.validateMCPServer(name, server, ceiling); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateMCPServer(name string, server *MCPServerConfig, ceiling time.Duration) error {
	t := server.Transport
	if !t.Type.IsValid() {
		return NewValidationError("mcp_server", name, "transport.type",
			fmt.Errorf("%w: %q (must be stdio, http, or sse)", ErrInvalidValue, t.Type))
	}

	switch t.Type {
	case TransportTypeStdio:
		if t.Command == "" {
			return NewValidationError("mcp_server", name, "transport.command", ErrMissingRequiredField)
		}
	case TransportTypeHTTP, TransportTypeSSE:
		if t.URL == "" {
			return NewValidationError("mcp_server", name, "transport.url", ErrMissingRequiredField)
		}
		if !strings.HasPrefix(t.URL, "http://") && !strings.HasPrefix(t.URL, "https://") {
			return NewValidationError("mcp_server", name, "transport.url",
				fmt.Errorf("%w: %q", ErrInvalidValue, t.URL))
		}
	}

	if t.Timeout < 0 {
		return NewValidationError("mcp_server", name, "transport.timeout",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if t.Timeout > 0 && time.Duration(t.Timeout)*time.Second > ceiling {
		return NewValidationError("mcp_server", name, "transport.timeout",
			fmt.Errorf("%w: %ds exceeds ceiling %s", ErrInvalidValue, t.Timeout, ceiling))
	}

	if server.RequiresAuth && server.LoginTool == "" {
		return NewValidationError("mcp_server", name, "login_tool",
			fmt.Errorf("%w: requires_auth is set", ErrMissingRequiredField))
	}

	if server.DataMasking != nil && server.DataMasking.Enabled {
		m := server.DataMasking
		if len(m.PatternGroups) == 0 && len(m.Patterns) == 0 && len(m.CustomPatterns) == 0 {
			return NewValidationError("mcp_server", name, "data_masking",
				fmt.Errorf("%w: enabled but no patterns configured", ErrInvalidValue))
		}
	}

	return nil
}
