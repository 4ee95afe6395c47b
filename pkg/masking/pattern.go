package masking

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/aris-ai/aris/pkg/config"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// resolvedPatterns holds the resolved set of maskers and patterns for one
// masking operation.
type resolvedPatterns struct {
	codeMaskerNames []string
	regexPatterns   []*CompiledPattern
}

// compileBuiltinPatterns compiles all built-in regex patterns.
// Invalid patterns are logged and skipped.
func (s *Service) compileBuiltinPatterns() {
	for name, pattern := range builtinPatterns() {
		compiled, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("Failed to compile built-in masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		s.patterns[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: pattern.Replacement,
			Description: pattern.Description,
		}
	}
}

// compileCustomPatterns compiles custom patterns from all MCP server configs.
// Custom patterns are keyed as "custom:{server}:{index}" to avoid collisions.
func (s *Service) compileCustomPatterns() {
	for serverName, serverCfg := range s.registry.GetAll() {
		if serverCfg.DataMasking == nil || !serverCfg.DataMasking.Enabled {
			continue
		}
		for i, pattern := range serverCfg.DataMasking.CustomPatterns {
			name := fmt.Sprintf("custom:%s:%d", serverName, i)
			compiled, err := regexp.Compile(pattern.Pattern)
			if err != nil {
				slog.Error("Failed to compile custom masking pattern, skipping",
					"pattern", name, "server", serverName, "error", err)
				continue
			}
			s.patterns[name] = &CompiledPattern{
				Name:        name,
				Regex:       compiled,
				Replacement: pattern.Replacement,
				Description: pattern.Description,
			}
			s.serverCustomPatterns[serverName] = append(s.serverCustomPatterns[serverName], name)
		}
	}
}

// resolvePatterns expands a MaskingConfig into a deduplicated resolvedPatterns.
func (s *Service) resolvePatterns(cfg *config.MaskingConfig, serverName string) *resolvedPatterns {
	seen := make(map[string]bool)
	resolved := &resolvedPatterns{}

	// Expand pattern_groups into individual pattern names
	for _, groupName := range cfg.PatternGroups {
		groupPatterns, ok := s.patternGroups[groupName]
		if !ok {
			slog.Warn("Unknown masking pattern group, skipping", "group", groupName, "server", serverName)
			continue
		}
		for _, name := range groupPatterns {
			if seen[name] {
				continue
			}
			seen[name] = true
			s.addToResolved(resolved, name)
		}
	}

	// Individually listed patterns
	for _, name := range cfg.Patterns {
		if seen[name] {
			continue
		}
		seen[name] = true
		s.addToResolved(resolved, name)
	}

	// Custom patterns belonging to this server
	for _, name := range s.serverCustomPatterns[serverName] {
		if seen[name] {
			continue
		}
		seen[name] = true
		if cp, ok := s.patterns[name]; ok {
			resolved.regexPatterns = append(resolved.regexPatterns, cp)
		}
	}

	return resolved
}

// addToResolved adds a pattern name to the resolved set, categorizing it as
// either a code masker or a regex pattern. Unknown names are logged once and
// dropped.
func (s *Service) addToResolved(resolved *resolvedPatterns, name string) {
	if _, ok := s.codeMaskers[name]; ok {
		resolved.codeMaskerNames = append(resolved.codeMaskerNames, name)
		return
	}
	if cp, ok := s.patterns[name]; ok {
		resolved.regexPatterns = append(resolved.regexPatterns, cp)
		return
	}
	slog.Warn("Unknown masking pattern name, skipping", "pattern", name)
}
