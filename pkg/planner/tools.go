package planner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aris-ai/aris/pkg/mcp"
)

// formatToolCatalog renders tool descriptors for prompt injection, including
// parameter details pulled from each tool's JSON Schema so the model can fill
// arguments without guessing.
func formatToolCatalog(tools []mcp.ToolDescriptor) string {
	if len(tools) == 0 {
		return "No tools are available. Plan analysis and response actions only."
	}

	var sb strings.Builder
	for i, tool := range tools {
		sb.WriteString(fmt.Sprintf("%d. **%s** (server: %s): %s\n",
			i+1, tool.Name, tool.Server, tool.Description))

		var schema map[string]any
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				slog.Debug("failed to parse tool input schema",
					"tool", tool.Name, "error", err)
			}
		}

		params := schemaParameterLines(schema)
		if len(params) > 0 {
			sb.WriteString("    **Parameters**:\n")
			for _, p := range params {
				sb.WriteString("    - ")
				sb.WriteString(p)
				sb.WriteString("\n")
			}
		} else {
			sb.WriteString("    **Parameters**: None\n")
		}

		if i < len(tools)-1 {
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// schemaParameterLines flattens a JSON Schema object into one prompt line per
// property: name, required/optional, type, description, and any default or
// enum hints. Keys are sorted so prompts are stable across runs.
func schemaParameterLines(schema map[string]any) []string {
	if schema == nil {
		return nil
	}

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := schema["required"].([]any); ok {
		for _, r := range reqList {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}

		label := "optional"
		if required[name] {
			label = "required"
		}
		if t, ok := prop["type"].(string); ok {
			label += ", " + t
		}

		line := fmt.Sprintf("%s (%s)", name, label)
		if desc, ok := prop["description"].(string); ok && desc != "" {
			line += ": " + desc
		}

		var hints []string
		if def, ok := prop["default"]; ok {
			hints = append(hints, fmt.Sprintf("default: %v", def))
		}
		if enum, ok := prop["enum"].([]any); ok {
			vals := make([]string, 0, len(enum))
			for _, v := range enum {
				vals = append(vals, fmt.Sprintf("%q", v))
			}
			hints = append(hints, "choices: ["+strings.Join(vals, ", ")+"]")
		}
		if len(hints) > 0 {
			line += " [" + strings.Join(hints, "; ") + "]"
		}

		lines = append(lines, line)
	}

	return lines
}
