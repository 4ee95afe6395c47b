package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// NormalizeResult converts an MCP tool result into plain JSON-compatible
// values (maps, slices, strings, numbers, bools, nil) so it can be stored in
// session memory and navigated by templates.
//
// Precedence:
//  1. IsError → {"error": <joined text>}
//  2. StructuredContent → converted to plain values
//  3. Text content that parses as a JSON object → that object
//  4. Text content that parses as other JSON, or plain text → {"data": <value>}
//
// Normalization never fails the call: a value that cannot be JSON-encoded
// becomes {"data": <stringified>, "error": "serialization failed"}.
func NormalizeResult(result *mcpsdk.CallToolResult) any {
	if result == nil {
		return map[string]any{"error": "tool returned no result"}
	}

	if result.IsError {
		text := extractText(result)
		if text == "" {
			text = "tool reported an error"
		}
		return map[string]any{"error": text}
	}

	if result.StructuredContent != nil {
		return toPlain(result.StructuredContent)
	}

	text := extractText(result)
	if text == "" {
		return map[string]any{}
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		if m, ok := parsed.(map[string]any); ok {
			return m
		}
		// Arrays and primitives get a field name so template paths can
		// address them.
		return map[string]any{"data": parsed}
	}

	return map[string]any{"data": text}
}

// toPlain round-trips a value through JSON to strip framework types down to
// maps, slices, and primitives.
func toPlain(v any) any {
	encoded, err := json.Marshal(v)
	if err != nil {
		return map[string]any{
			"data":  fmt.Sprintf("%v", v),
			"error": "serialization failed",
		}
	}
	var plain any
	if err := json.Unmarshal(encoded, &plain); err != nil {
		return map[string]any{
			"data":  string(encoded),
			"error": "serialization failed",
		}
	}
	return plain
}

// extractText concatenates the text content items of a result. Non-text
// content (images, embedded resources) is logged at debug level and skipped.
func extractText(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// resultError returns the error text of a normalized result, or "" when the
// result does not report one. A tool result with a non-empty error field
// fails the action that issued it.
func resultError(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	switch v := m["error"].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
