package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aris-ai/aris/pkg/mcp"
	"github.com/aris-ai/aris/pkg/models"
)

// runToolCall resolves the action's arguments and dispatches the tool call.
// The dispatcher owns the starting/in_progress/terminal transitions through
// the plan context; this side stores the normalized result and refreshes the
// plan snapshot afterwards.
func (r *run) runToolCall(ctx context.Context, current *models.ExecutionPlan, action *models.PlannedAction) (*models.ExecutionPlan, error) {
	res := &resolver{plan: current, memory: r.memory, session: current.SessionID}
	args := res.resolveArguments(ctx, action.Arguments)
	args = r.injectSessionArg(ctx, current.SessionID, action.ToolName, args)

	pc := &mcp.PlanContext{PlanID: current.ID, ActionID: action.ID, Store: r.plans}
	if r.bus != nil {
		pc.Bus = r.bus
	}

	result, callErr := r.tools.Call(ctx, action.ToolName, args, pc)
	if callErr != nil {
		slog.Warn("Tool call failed",
			"plan_id", current.ID, "action_id", action.ID,
			"tool", action.ToolName, "error", callErr)
	} else if err := r.memory.HandleToolResult(ctx, current.SessionID, action.ID, action.ToolName, result); err != nil {
		// The action already committed; downstream templates degrade to
		// their heuristics and the reply works from what memory holds.
		slog.Error("Failed to store tool result",
			"plan_id", current.ID, "action_id", action.ID,
			"tool", action.ToolName, "error", err)
	}

	refreshed, err := r.plans.GetPlan(ctx, current.ID)
	if err != nil {
		return current, fmt.Errorf("failed to refresh plan after tool call: %w", err)
	}
	return refreshed, nil
}

// injectSessionArg fills the owning server's configured session argument
// with the current session id. The planner sometimes invents a value for
// it; the executioner's value always wins.
func (r *run) injectSessionArg(ctx context.Context, sessionID, toolName string, args map[string]any) map[string]any {
	if r.registry == nil {
		return args
	}
	serverName, err := r.tools.ToolServer(ctx, toolName)
	if err != nil {
		return args
	}
	serverCfg, err := r.registry.Get(serverName)
	if err != nil || serverCfg.SessionArg == "" {
		return args
	}

	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	if prev, ok := out[serverCfg.SessionArg]; ok && prev != sessionID {
		slog.Debug("Overriding planner-supplied session argument",
			"tool", toolName, "arg", serverCfg.SessionArg)
	}
	out[serverCfg.SessionArg] = sessionID
	return out
}
