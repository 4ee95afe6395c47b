package config

import "time"

// DefaultModelID is used when the client never selects a model or selects
// one outside the allowlist.
const DefaultModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"

// LLMConfig holds Bedrock client settings.
type LLMConfig struct {
	// Region is the AWS region for the Bedrock runtime endpoint.
	Region string

	// Explicit credentials for deployments without an ambient AWS identity.
	// When AccessKeyID and SecretAccessKey are both set they take precedence
	// over the default credential chain (env, shared config, IAM role).
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// DefaultModelID is the model used when the session has not selected one.
	DefaultModelID string

	// AllowedModels is the model allowlist for client-selected model ids.
	// An id outside the list silently falls back to DefaultModelID.
	AllowedModels []string

	// Timeout bounds a single converse call.
	Timeout time.Duration

	// MaxRecursions bounds the tool-use loop inside one converse call.
	MaxRecursions int
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Region:         "us-east-1",
		DefaultModelID: DefaultModelID,
		AllowedModels:  []string{DefaultModelID},
		Timeout:        30 * time.Second,
		MaxRecursions:  5,
	}
}

// ModelAllowed reports whether the given model id is in the allowlist.
func (c *LLMConfig) ModelAllowed(modelID string) bool {
	for _, m := range c.AllowedModels {
		if m == modelID {
			return true
		}
	}
	return false
}

// ResolveModel maps a requested model id to an allowed one: empty or
// unlisted ids fall back to the default.
func (c *LLMConfig) ResolveModel(modelID string) string {
	if modelID == "" || !c.ModelAllowed(modelID) {
		return c.DefaultModelID
	}
	return modelID
}
