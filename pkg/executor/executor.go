// Package executor drives persisted execution plans to a terminal state.
//
// The Executioner walks a plan's action DAG in execution order: every scan
// runs the pending actions whose dependencies have completed, resolving
// template references in arguments from session memory. Tool calls go
// through the MCP dispatcher, analysis and response actions through the LLM.
// Every status transition is committed to the plan store before the matching
// plan_update frame is emitted, so a reconnecting client always sees a
// snapshot the store can reproduce.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aris-ai/aris/pkg/config"
	"github.com/aris-ai/aris/pkg/events"
	"github.com/aris-ai/aris/pkg/llm"
	"github.com/aris-ai/aris/pkg/mcp"
	"github.com/aris-ai/aris/pkg/models"
)

// PlanWriter is the slice of the plan store the executioner drives
// transitions through. Satisfied by *store.PlanStore.
type PlanWriter interface {
	GetPlan(ctx context.Context, planID string) (*models.ExecutionPlan, error)
	UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) (*models.ExecutionPlan, error)
	FailPlan(ctx context.Context, planID, errorMessage string) (*models.ExecutionPlan, error)
	UpdateActionStatus(ctx context.Context, actionID string, status models.ActionStatus, result any, errorMessage string) (*models.ExecutionPlan, error)
	CancelRemaining(ctx context.Context, planID string) (*models.ExecutionPlan, error)
}

// Memory is the session-memory surface used for template resolution and
// result storage. Satisfied by *store.MemoryStore.
type Memory interface {
	GetValue(ctx context.Context, sessionID, key string) (any, error)
	HandleToolResult(ctx context.Context, sessionID, actionID, toolName string, result any) error
}

// ToolDispatcher issues MCP tool calls and owns their status bookkeeping.
// Satisfied by *mcp.Dispatcher.
type ToolDispatcher interface {
	Call(ctx context.Context, toolName string, args map[string]any, pc *mcp.PlanContext) (any, error)
	ToolServer(ctx context.Context, toolName string) (string, error)
}

// Options carries per-turn runtime overrides into the LLM-backed actions.
type Options struct {
	// ModelID overrides the configured default model when non-empty.
	ModelID string

	// Temperature overrides the reply composition temperature when non-nil.
	Temperature *float32
}

// Executioner executes plans for all sessions. Stateless between calls;
// safe for concurrent use because all shared state lives in the stores and
// the dispatcher.
type Executioner struct {
	plans    PlanWriter
	memory   Memory
	tools    ToolDispatcher
	llm      *llm.Client
	registry *config.MCPServerRegistry
}

// NewExecutioner wires the executioner to its collaborators. The registry is
// consulted for per-server ambient session arguments and may be nil in tests
// that do not exercise tool calls.
func NewExecutioner(plans PlanWriter, memory Memory, tools ToolDispatcher, llmClient *llm.Client, registry *config.MCPServerRegistry) *Executioner {
	return &Executioner{
		plans:    plans,
		memory:   memory,
		tools:    tools,
		llm:      llmClient,
		registry: registry,
	}
}

// Execute drives a persisted plan to a terminal state and returns the final
// snapshot. Action failures are not errors: they are reflected in the
// returned plan, which will be failed with the offending action named. The
// error return covers store failures that prevented the loop from recording
// what happened; when it is non-nil the returned plan may be stale or nil.
func (e *Executioner) Execute(ctx context.Context, plan *models.ExecutionPlan, opts Options, bus *events.Bus) (*models.ExecutionPlan, error) {
	if plan == nil || plan.ID == "" {
		return nil, fmt.Errorf("execute requires a persisted plan")
	}
	run := &run{Executioner: e, opts: opts, bus: bus}
	return run.execute(ctx, plan)
}

// run is the working state of one Execute call.
type run struct {
	*Executioner
	opts Options
	bus  *events.Bus
}

func (r *run) execute(ctx context.Context, plan *models.ExecutionPlan) (*models.ExecutionPlan, error) {
	log := slog.With("plan_id", plan.ID, "session_id", plan.SessionID)

	// An empty plan is vacuously complete: one transition, one frame.
	if len(plan.Actions) == 0 {
		final, err := r.plans.UpdatePlanStatus(ctx, plan.ID, models.PlanStatusCompleted)
		if err != nil {
			return plan, fmt.Errorf("failed to complete empty plan: %w", err)
		}
		r.notify(final)
		log.Info("Plan completed", "actions", 0)
		return final, nil
	}

	current, err := r.plans.UpdatePlanStatus(ctx, plan.ID, models.PlanStatusInProgress)
	if err != nil {
		return plan, fmt.Errorf("failed to start plan: %w", err)
	}
	r.notify(current)
	log.Info("Plan execution started", "actions", len(current.Actions))

	// A valid DAG finishes within |actions| scans because every scan
	// completes at least one action; the bound is doubled as a hard stop.
	// A scan that ran nothing means the remainder can never become ready.
	maxScans := 2 * len(current.Actions)
	for scan := 0; scan < maxScans; scan++ {
		progressed := false

		for i := 0; i < len(current.Actions); i++ {
			action := current.Actions[i]
			if action.Status != models.ActionStatusPending || !current.DependenciesMet(action) {
				continue
			}
			if ctx.Err() != nil {
				log.Info("Session context done, abandoning plan")
				return r.abandon(ctx, current)
			}

			log.Info("Executing action",
				"action_id", action.ID, "type", action.Type,
				"name", action.Name, "order", action.ExecutionOrder)

			current, err = r.runAction(ctx, current, action)
			if err != nil {
				return r.failPlan(ctx, plan.ID, fmt.Sprintf("execution aborted: %v", err))
			}
			progressed = true

			if ran := current.Action(action.ID); ran != nil && ran.Status == models.ActionStatusFailed {
				log.Warn("Action failed, failing plan",
					"action_id", action.ID, "error", ran.ErrorMessage)
				return r.failPlan(ctx, plan.ID,
					fmt.Sprintf("action %q failed: %s", ran.Name, ran.ErrorMessage))
			}
		}

		if !progressed {
			break
		}
	}

	switch current.DerivedStatus() {
	case models.PlanStatusCompleted:
		final, err := r.plans.UpdatePlanStatus(ctx, plan.ID, models.PlanStatusCompleted)
		if err != nil {
			return current, fmt.Errorf("failed to complete plan: %w", err)
		}
		r.notify(final)
		log.Info("Plan completed",
			"actions", final.TotalActions, "completed", final.CompletedActions)
		return final, nil

	case models.PlanStatusFailed:
		// Failures normally surface inside the scan loop; this covers one
		// recorded outside it, e.g. by a concurrent cancellation.
		return r.failPlan(ctx, plan.ID, "plan contains failed actions")

	default:
		stuck := nonTerminalActionNames(current)
		log.Error("Plan deadlocked", "stuck_actions", stuck)
		return r.failPlan(ctx, plan.ID,
			fmt.Sprintf("dependency deadlock: no runnable action among: %s", strings.Join(stuck, ", ")))
	}
}

// runAction executes one ready action and returns the refreshed plan
// snapshot. Panics inside an action are contained here: the action is driven
// to failed and the normal plan failure path takes over.
func (r *run) runAction(ctx context.Context, current *models.ExecutionPlan, action *models.PlannedAction) (updated *models.ExecutionPlan, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Action panicked",
				"plan_id", current.ID, "action_id", action.ID, "panic", rec)
			updated, err = r.forceFail(ctx, current, action.ID, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	switch action.Type {
	case models.ActionTypeToolCall:
		return r.runToolCall(ctx, current, action)
	case models.ActionTypeAnalysis:
		return r.runAnalysis(ctx, current, action)
	case models.ActionTypeResponse, models.ActionTypeClarification:
		return r.runReply(ctx, current, action)
	default:
		return r.forceFail(ctx, current, action.ID, fmt.Sprintf("unknown action type %q", action.Type))
	}
}

// record commits one transition for an LLM-backed action and emits the
// snapshot. Tool-call transitions are recorded by the dispatcher around the
// call itself (see pkg/mcp).
func (r *run) record(ctx context.Context, actionID string, status models.ActionStatus, result any, errMsg string) (*models.ExecutionPlan, error) {
	plan, err := r.plans.UpdateActionStatus(ctx, actionID, status, result, errMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to record %s for action %s: %w", status, actionID, err)
	}
	r.notify(plan)
	return plan, nil
}

// forceFail drives an action to failed through whatever legal transitions
// remain, emitting each committed step. Used for panics and malformed
// actions where the runner's own bookkeeping never reached a terminal state.
func (r *run) forceFail(ctx context.Context, current *models.ExecutionPlan, actionID, errMsg string) (*models.ExecutionPlan, error) {
	latest := current
	for {
		a := latest.Action(actionID)
		if a == nil || a.Status.IsTerminal() {
			return latest, nil
		}
		next := models.ActionStatusFailed
		switch a.Status {
		case models.ActionStatusPending:
			next = models.ActionStatusStarting
		case models.ActionStatusStarting:
			next = models.ActionStatusInProgress
		}
		var msg string
		if next == models.ActionStatusFailed {
			msg = errMsg
		}
		plan, err := r.plans.UpdateActionStatus(ctx, actionID, next, nil, msg)
		if err != nil {
			return latest, fmt.Errorf("failed to force-fail action %s: %w", actionID, err)
		}
		r.notify(plan)
		latest = plan
	}
}

// failPlan records plan-level failure and emits the final snapshot.
func (r *run) failPlan(ctx context.Context, planID, reason string) (*models.ExecutionPlan, error) {
	final, err := r.plans.FailPlan(ctx, planID, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to record plan failure: %w", err)
	}
	r.notify(final)
	return final, nil
}

// abandon cancels everything still runnable after the session context ends.
// Work already in flight has settled by the time the loop gets here, so only
// pending actions are swept into cancelled.
func (r *run) abandon(ctx context.Context, current *models.ExecutionPlan) (*models.ExecutionPlan, error) {
	final, err := r.plans.CancelRemaining(ctx, current.ID)
	if err != nil {
		return current, fmt.Errorf("failed to cancel abandoned plan: %w", err)
	}
	r.notify(final)
	return final, nil
}

// notify emits a plan snapshot when a bus is attached.
func (r *run) notify(plan *models.ExecutionPlan) {
	if r.bus != nil {
		r.bus.PlanUpdate(plan)
	}
}

func nonTerminalActionNames(plan *models.ExecutionPlan) []string {
	var names []string
	for _, a := range plan.Actions {
		if !a.Status.IsTerminal() {
			names = append(names, a.Name)
		}
	}
	return names
}
