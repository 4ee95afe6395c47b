package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/aris-ai/aris/pkg/models"
)

// templatePattern matches {{action_ref.field[.subfield...]}} references
// embedded in argument strings.
var templatePattern = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// Tool name hints used when a reference names a planner-invented label
// instead of a real action id. The canonical document producer is a PDF
// tool; data hints cover the usual retrieval verbs.
var documentToolHints = []string{"pdf", "document", "report", "export"}
var dataToolHints = []string{"data", "query", "search", "list", "fetch", "get", "lookup", "read"}

// resolver substitutes template references for one action against the plan
// snapshot and session memory at resolution time. It never writes: plans and
// memory are read-only here, and the input arguments are deep-copied.
type resolver struct {
	plan    *models.ExecutionPlan
	memory  Memory
	session string
}

// resolveArguments returns a copy of args with every template reference
// substituted. Unresolvable references stay verbatim.
func (r *resolver) resolveArguments(ctx context.Context, args map[string]any) map[string]any {
	if len(args) == 0 {
		return map[string]any{}
	}
	out, _ := r.resolveValue(ctx, args).(map[string]any)
	return out
}

// resolveValue recurses into nested objects and lists, rewriting strings.
func (r *resolver) resolveValue(ctx context.Context, value any) any {
	switch v := value.(type) {
	case string:
		return r.resolveString(ctx, v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = r.resolveValue(ctx, child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = r.resolveValue(ctx, child)
		}
		return out
	default:
		return value
	}
}

func (r *resolver) resolveString(ctx context.Context, s string) string {
	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		ref := strings.TrimSpace(match[2 : len(match)-2])
		value, ok := r.resolveRef(ctx, ref)
		if !ok {
			slog.Warn("Unresolvable template reference left verbatim",
				"session_id", r.session, "plan_id", r.plan.ID, "reference", ref)
			return match
		}
		return stringify(value)
	})
}

// resolveRef resolves one reference body, already stripped of its braces.
func (r *resolver) resolveRef(ctx context.Context, ref string) (any, bool) {
	segments := strings.Split(ref, ".")
	if len(segments) < 2 {
		return nil, false
	}
	actionRef, path := segments[0], segments[1:]

	// A real sibling id with a stored result resolves directly.
	if r.plan.Action(actionRef) != nil {
		value, err := r.memory.GetValue(ctx, r.session, models.ToolResultKey(actionRef))
		if err == nil {
			return navigate(value, path)
		}
	}

	// Otherwise the label is planner-invented: pick the most plausible
	// completed sibling whose stored result satisfies the path.
	for _, candidate := range r.labelCandidates(path) {
		value, err := r.memory.GetValue(ctx, r.session, models.ToolResultKey(candidate.ID))
		if err != nil {
			continue
		}
		if candidate.Type == models.ActionTypeAnalysis && len(path) == 1 && path[0] == "result" {
			if formatted, ok := navigate(value, []string{"formatted_content"}); ok {
				return formatted, true
			}
		}
		if resolved, ok := navigate(value, path); ok {
			return resolved, true
		}
	}
	return nil, false
}

// labelCandidates orders the completed siblings by how likely each is to be
// the action a planner-invented label meant, given the field the template
// asks for: document producers for url-shaped fields, then structured-data
// tools, then analyses, then anything completed.
func (r *resolver) labelCandidates(path []string) []*models.PlannedAction {
	completed := r.completedActions()
	field := path[len(path)-1]

	var groups [][]*models.PlannedAction
	if field == "file_url" || field == "url" {
		groups = append(groups, toolsMatching(completed, documentToolHints))
	}
	groups = append(groups,
		toolsMatching(completed, dataToolHints),
		ofType(completed, models.ActionTypeAnalysis),
		completed,
	)

	seen := make(map[string]bool, len(completed))
	var out []*models.PlannedAction
	for _, group := range groups {
		for _, a := range group {
			if !seen[a.ID] {
				seen[a.ID] = true
				out = append(out, a)
			}
		}
	}
	return out
}

// completedActions returns the plan's completed actions in execution order.
func (r *resolver) completedActions() []*models.PlannedAction {
	var out []*models.PlannedAction
	for _, a := range r.plan.Actions {
		if a.Status == models.ActionStatusCompleted {
			out = append(out, a)
		}
	}
	return out
}

func toolsMatching(actions []*models.PlannedAction, hints []string) []*models.PlannedAction {
	var out []*models.PlannedAction
	for _, a := range actions {
		if a.Type != models.ActionTypeToolCall {
			continue
		}
		name := strings.ToLower(a.ToolName)
		for _, hint := range hints {
			if strings.Contains(name, hint) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func ofType(actions []*models.PlannedAction, t models.ActionType) []*models.PlannedAction {
	var out []*models.PlannedAction
	for _, a := range actions {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// navigate walks a dot path into a decoded JSON value. A leading "result"
// segment names the value itself unless the value actually carries a result
// key, so {{a.result}} yields the whole stored result and {{a.result.items}}
// reaches inside it.
func navigate(value any, path []string) (any, bool) {
	if len(path) == 0 {
		return value, true
	}
	head, rest := path[0], path[1:]
	switch v := value.(type) {
	case map[string]any:
		if child, ok := v[head]; ok {
			return navigate(child, rest)
		}
		if head == "result" {
			return navigate(value, rest)
		}
		return nil, false
	case []any:
		idx, err := strconv.Atoi(head)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return navigate(v[idx], rest)
	default:
		if head == "result" {
			return navigate(value, rest)
		}
		return nil, false
	}
}

// stringify renders a resolved value for substitution into an argument
// string. Non-strings become pretty JSON.
func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}
