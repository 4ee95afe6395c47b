package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aris-ai/aris/pkg/llm"
	"github.com/aris-ai/aris/pkg/models"
)

// Memory tool names recorded for the built-in LLM actions, so ByTool queries
// can separate them from real MCP results.
const (
	analysisToolName = "llm_analysis"
	replyToolName    = "llm_response"
)

// Reply composition runs slightly warmer than planning (see pkg/planner) but
// still cold enough to stay grounded in the recorded outcomes.
const (
	analysisTemperature = 0.2
	responseTemperature = 0.2
)

// memorySnippetLimit caps how much of a stored result is quoted into the
// reply prompt. Oversized tool payloads would otherwise crowd out the rest.
const memorySnippetLimit = 2000

const reformatSystemPrompt = `You prepare data for document generation. Rewrite the
provided JSON payload into clean, well-structured content matching the
requested style. Respond with the formatted content only, no preamble and no
code fences.`

const replySystemPrompt = `You are the voice of an execution assistant that has just
finished running a plan of actions for the user. Compose the reply using only
the recorded outcomes below. Mention concrete artifacts: file names, URLs, key
figures, whether authentication succeeded. If a step failed, say so plainly
and suggest what the user can do next. Keep the reply short and direct.`

const clarifySystemPrompt = `You are the voice of an execution assistant. The user's
request cannot be acted on as stated. Ask one concise follow-up question that
gathers exactly the missing information described below.`

// runAnalysis executes the built-in LLM analysis wrapper and stores its
// result under the action's tool_result key.
func (r *run) runAnalysis(ctx context.Context, current *models.ExecutionPlan, action *models.PlannedAction) (*models.ExecutionPlan, error) {
	latest, err := r.record(ctx, action.ID, models.ActionStatusStarting, nil, "")
	if err != nil {
		return current, err
	}
	latest, err = r.record(ctx, action.ID, models.ActionStatusInProgress, nil, "")
	if err != nil {
		return latest, err
	}

	result, aerr := r.analyze(ctx, latest, action)
	if aerr != nil {
		return r.record(ctx, action.ID, models.ActionStatusFailed, nil, aerr.Error())
	}

	if err := r.memory.HandleToolResult(ctx, latest.SessionID, action.ID, analysisToolName, result); err != nil {
		return r.record(ctx, action.ID, models.ActionStatusFailed, result,
			fmt.Sprintf("failed to store analysis result: %v", err))
	}
	return r.record(ctx, action.ID, models.ActionStatusCompleted, result, "")
}

// analyze runs the analysis action body. The one specialized shape is
// reformatting a single upstream result for document generation; any other
// analysis acknowledges the step without spending a model call.
func (r *run) analyze(ctx context.Context, plan *models.ExecutionPlan, action *models.PlannedAction) (map[string]any, error) {
	if source, ok := r.formattingSource(ctx, plan, action); ok {
		text, err := r.reformat(ctx, action, source)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":           true,
			"formatted_content": text,
			"source_action":     action.DependsOn[0],
		}, nil
	}
	return map[string]any{
		"success":  true,
		"analysis": action.Name,
		"detail":   action.Description,
	}, nil
}

// formattingSource reports whether the action is a format-for-document step
// with exactly one dependency whose result is already in memory, returning
// that result.
func (r *run) formattingSource(ctx context.Context, plan *models.ExecutionPlan, action *models.PlannedAction) (any, bool) {
	if !hasFormattingIntent(action) || len(action.DependsOn) != 1 {
		return nil, false
	}
	value, err := r.memory.GetValue(ctx, plan.SessionID, models.ToolResultKey(action.DependsOn[0]))
	if err != nil {
		return nil, false
	}
	return value, true
}

var formatHints = []string{"format", "reformat", "restructure", "prepare"}
var documentHints = []string{"document", "pdf", "report", "file"}

func hasFormattingIntent(action *models.PlannedAction) bool {
	text := strings.ToLower(action.Name + " " + action.Description)
	return containsAny(text, formatHints) && containsAny(text, documentHints)
}

func containsAny(text string, hints []string) bool {
	for _, hint := range hints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}

// reformat asks the model to reshape an upstream result per the style the
// action describes.
func (r *run) reformat(ctx context.Context, action *models.PlannedAction, source any) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Requested Style\n\n")
	sb.WriteString(action.Name)
	if action.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(action.Description)
	}
	sb.WriteString("\n\n## Data\n\n")
	sb.WriteString(stringify(source))

	resp, err := r.llm.Converse(ctx, &llm.Request{
		ModelID:     r.opts.ModelID,
		System:      reformatSystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Temperature: analysisTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("analysis model call failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// runReply executes a response or clarification action: it grounds the model
// on every recorded outcome and stores the composed text under the action's
// tool_result key, where the orchestrator picks it up at the end of the turn.
func (r *run) runReply(ctx context.Context, current *models.ExecutionPlan, action *models.PlannedAction) (*models.ExecutionPlan, error) {
	latest, err := r.record(ctx, action.ID, models.ActionStatusStarting, nil, "")
	if err != nil {
		return current, err
	}
	latest, err = r.record(ctx, action.ID, models.ActionStatusInProgress, nil, "")
	if err != nil {
		return latest, err
	}

	text, cerr := r.composeReply(ctx, latest, action)
	if cerr != nil {
		return r.record(ctx, action.ID, models.ActionStatusFailed, nil, cerr.Error())
	}

	result := map[string]any{"success": true, "response_text": text}
	if err := r.memory.HandleToolResult(ctx, latest.SessionID, action.ID, replyToolName, result); err != nil {
		return r.record(ctx, action.ID, models.ActionStatusFailed, result,
			fmt.Sprintf("failed to store response: %v", err))
	}
	return r.record(ctx, action.ID, models.ActionStatusCompleted, result, "")
}

func (r *run) composeReply(ctx context.Context, plan *models.ExecutionPlan, action *models.PlannedAction) (string, error) {
	system := replySystemPrompt
	if action.Type == models.ActionTypeClarification {
		system = clarifySystemPrompt
	}

	temperature := float32(responseTemperature)
	if r.opts.Temperature != nil {
		temperature = *r.opts.Temperature
	}

	resp, err := r.llm.Converse(ctx, &llm.Request{
		ModelID:     r.opts.ModelID,
		System:      system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: r.buildReplyContext(ctx, plan, action)}},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("response model call failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("response model returned empty text")
	}
	return text, nil
}

// buildReplyContext assembles the outcome digest the reply is grounded on:
// the original query, each completed action's stored result, and any
// failures recorded so far.
func (r *run) buildReplyContext(ctx context.Context, plan *models.ExecutionPlan, replyAction *models.PlannedAction) string {
	var sb strings.Builder
	sb.WriteString("## Request\n\n")
	sb.WriteString(plan.UserQuery)
	sb.WriteString("\n\n## Outcomes\n\n")

	found := false
	for _, a := range plan.Actions {
		if a.ID == replyAction.ID {
			continue
		}
		switch a.Status {
		case models.ActionStatusCompleted:
			value, err := r.memory.GetValue(ctx, plan.SessionID, models.ToolResultKey(a.ID))
			if err != nil {
				continue
			}
			found = true
			label := a.ToolName
			if label == "" {
				label = string(a.Type)
			}
			sb.WriteString("- ")
			sb.WriteString(a.Name)
			sb.WriteString(" (")
			sb.WriteString(label)
			sb.WriteString("): ")
			sb.WriteString(compactJSON(value, memorySnippetLimit))
			sb.WriteString("\n")
		case models.ActionStatusFailed:
			found = true
			sb.WriteString("- ")
			sb.WriteString(a.Name)
			sb.WriteString(": FAILED")
			if a.ErrorMessage != "" {
				sb.WriteString(" (")
				sb.WriteString(a.ErrorMessage)
				sb.WriteString(")")
			}
			sb.WriteString("\n")
		}
	}
	if !found {
		sb.WriteString("No prior actions ran; respond to the request directly.\n")
	}
	return sb.String()
}

// compactJSON renders a value on one line, truncated to limit bytes.
func compactJSON(value any, limit int) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	s := string(encoded)
	if len(s) > limit {
		s = s[:limit] + "... (truncated)"
	}
	return s
}
