package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aris-ai/aris/pkg/models"
)

// planDocument is the JSON shape the model is instructed to emit. Action ids
// here are the model's own short labels; assemblePlan remints them before the
// plan leaves the planner.
type planDocument struct {
	Summary string           `json:"summary"`
	Actions []actionDocument `json:"actions"`
}

type actionDocument struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments"`
	DependsOn   []string       `json:"depends_on"`
}

// parsePlanDocument extracts and validates the plan JSON from raw model
// output. Extraction is forgiving about surrounding prose and markdown
// fences; the schema check is not, because a malformed plan is worse than
// the deterministic fallback.
func parsePlanDocument(text string) (*planDocument, error) {
	payload, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var doc planDocument
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("plan JSON did not parse: %w", err)
	}
	if err := validateDocument(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// extractJSONObject returns the outermost {...} slice of text. Models often
// wrap the object in a markdown fence or lead with a sentence; both are
// tolerated.
func extractJSONObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || start >= end {
		return "", fmt.Errorf("no JSON object found in planner response")
	}
	return text[start : end+1], nil
}

// validateDocument enforces the parts of the plan schema that cannot be
// repaired downstream. It also normalizes fields the model tends to get
// loosely right: whitespace around types and tool names, and tool names on
// actions that are not tool calls.
func validateDocument(doc *planDocument) error {
	if len(doc.Actions) == 0 {
		return fmt.Errorf("plan has no actions")
	}
	for i := range doc.Actions {
		a := &doc.Actions[i]
		actionType := models.ActionType(strings.TrimSpace(a.Type))
		if !actionType.IsValid() {
			return fmt.Errorf("action %d has invalid type %q", i+1, a.Type)
		}
		a.Type = string(actionType)
		a.ToolName = strings.TrimSpace(a.ToolName)
		if actionType == models.ActionTypeToolCall && a.ToolName == "" {
			return fmt.Errorf("tool_call action %d has no tool_name", i+1)
		}
		if actionType != models.ActionTypeToolCall {
			a.ToolName = ""
		}
	}
	return nil
}
