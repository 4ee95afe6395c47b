package masking

import (
	"log/slog"

	"github.com/aris-ai/aris/pkg/config"
)

// Service applies data masking to normalized tool results before they reach
// session memory or the client. Created once at startup. Thread-safe and
// stateless aside from compiled patterns.
type Service struct {
	registry             *config.MCPServerRegistry
	patterns             map[string]*CompiledPattern // built-in + custom compiled patterns
	patternGroups        map[string][]string         // group name -> pattern names
	codeMaskers          map[string]Masker           // registered code-based maskers
	serverCustomPatterns map[string][]string         // server name -> custom pattern keys
}

// NewService creates a masking service with compiled patterns and registered
// maskers. All patterns are compiled eagerly at creation time. Invalid
// patterns are logged and skipped.
func NewService(registry *config.MCPServerRegistry) *Service {
	s := &Service{
		registry:             registry,
		patterns:             make(map[string]*CompiledPattern),
		patternGroups:        builtinPatternGroups(),
		codeMaskers:          make(map[string]Masker),
		serverCustomPatterns: make(map[string][]string),
	}

	s.compileBuiltinPatterns()
	s.compileCustomPatterns()

	for _, m := range builtinCodeMaskers() {
		s.codeMaskers[m.Name()] = m
	}

	slog.Info("Masking service initialized",
		"compiled_patterns", len(s.patterns),
		"code_maskers", len(s.codeMaskers))

	return s
}

// MaskToolResult applies server-specific masking to tool result content.
// Content is the JSON-encoded normalized result. On masking failure the
// content is replaced with a redaction notice (fail-closed).
func (s *Service) MaskToolResult(content string, serverName string) string {
	if content == "" {
		return content
	}

	serverCfg, err := s.registry.Get(serverName)
	if err != nil || serverCfg.DataMasking == nil || !serverCfg.DataMasking.Enabled {
		return content
	}

	resolved := s.resolvePatterns(serverCfg.DataMasking, serverName)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return content
	}

	masked, err := s.applyMasking(content, resolved)
	if err != nil {
		slog.Error("Masking failed, redacting content",
			"server", serverName, "error", err)
		return `{"error": "tool result redacted: data masking failure"}`
	}

	return masked
}

// applyMasking applies code-based maskers then regex patterns to content.
// Code maskers run first: they parse structure that regex replacements
// would otherwise mangle.
func (s *Service) applyMasking(content string, resolved *resolvedPatterns) (string, error) {
	masked := content

	for _, maskerName := range resolved.codeMaskerNames {
		masker, ok := s.codeMaskers[maskerName]
		if !ok {
			continue
		}
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	for _, pattern := range resolved.regexPatterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}

	return masked, nil
}
