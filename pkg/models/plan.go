package models

import "time"

// PlanStatus defines the lifecycle states of an execution plan
type PlanStatus string

const (
	// PlanStatusNew is a persisted plan that has not started executing
	PlanStatusNew PlanStatus = "new"
	// PlanStatusInProgress is a plan with at least one action underway
	PlanStatusInProgress PlanStatus = "in_progress"
	// PlanStatusCompleted is a plan whose actions all completed
	PlanStatusCompleted PlanStatus = "completed"
	// PlanStatusFailed is a plan with at least one failed action
	PlanStatusFailed PlanStatus = "failed"
	// PlanStatusCancelled is a plan abandoned before reaching completion
	PlanStatusCancelled PlanStatus = "cancelled"
)

// IsValid checks if the plan status is valid
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanStatusNew, PlanStatusInProgress, PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the plan status is final
func (s PlanStatus) IsTerminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusFailed || s == PlanStatusCancelled
}

// CanTransitionTo reports whether moving from s to next follows the forward
// chain new → in_progress → {completed, failed, cancelled}. A new plan may
// also jump straight to a terminal state (startup recovery, cancellation
// before any action starts). Terminal states are immutable.
func (s PlanStatus) CanTransitionTo(next PlanStatus) bool {
	switch s {
	case PlanStatusNew:
		return next == PlanStatusInProgress || next.IsTerminal()
	case PlanStatusInProgress:
		return next.IsTerminal()
	default:
		return false
	}
}

// ActionType defines the kinds of planned actions
type ActionType string

const (
	// ActionTypeToolCall invokes a remote tool through the MCP dispatcher
	ActionTypeToolCall ActionType = "tool_call"
	// ActionTypeAnalysis transforms prior results with the LLM
	ActionTypeAnalysis ActionType = "analysis"
	// ActionTypeResponse composes the user-facing reply
	ActionTypeResponse ActionType = "response"
	// ActionTypeClarification asks the user a follow-up question
	ActionTypeClarification ActionType = "clarification"
)

// IsValid checks if the action type is valid
func (t ActionType) IsValid() bool {
	switch t {
	case ActionTypeToolCall, ActionTypeAnalysis, ActionTypeResponse, ActionTypeClarification:
		return true
	default:
		return false
	}
}

// ActionStatus defines the per-action state machine
type ActionStatus string

const (
	// ActionStatusPending is an action waiting on its dependencies
	ActionStatusPending ActionStatus = "pending"
	// ActionStatusStarting is an action claimed for execution
	ActionStatusStarting ActionStatus = "starting"
	// ActionStatusInProgress is an action whose work has been issued
	ActionStatusInProgress ActionStatus = "in_progress"
	// ActionStatusCompleted is an action that finished successfully
	ActionStatusCompleted ActionStatus = "completed"
	// ActionStatusFailed is an action that finished with an error
	ActionStatusFailed ActionStatus = "failed"
	// ActionStatusCancelled is an action abandoned mid-flight
	ActionStatusCancelled ActionStatus = "cancelled"
)

// IsValid checks if the action status is valid
func (s ActionStatus) IsValid() bool {
	switch s {
	case ActionStatusPending, ActionStatusStarting, ActionStatusInProgress,
		ActionStatusCompleted, ActionStatusFailed, ActionStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the action status is final
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusCompleted || s == ActionStatusFailed || s == ActionStatusCancelled
}

// CanTransitionTo reports whether moving from s to next follows the forward
// chain pending → starting → in_progress → {completed, failed, cancelled}.
// Backwards and skip transitions are rejected.
func (s ActionStatus) CanTransitionTo(next ActionStatus) bool {
	switch s {
	case ActionStatusPending:
		return next == ActionStatusStarting
	case ActionStatusStarting:
		return next == ActionStatusInProgress
	case ActionStatusInProgress:
		return next.IsTerminal()
	default:
		return false
	}
}

// PlannedAction is a typed, statically scheduled unit of work within a plan.
type PlannedAction struct {
	ID             string         `json:"id"`
	PlanID         string         `json:"plan_id"`
	Type           ActionType     `json:"type"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	ToolName       string         `json:"tool_name,omitempty"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	DependsOn      []string       `json:"depends_on,omitempty"`
	Status         ActionStatus   `json:"status"`
	ExecutionOrder int            `json:"execution_order"`
	Result         any            `json:"result,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// ExecutionPlan is a DAG of actions derived from one user message. Counter
// fields are persisted for cheap queries but always derivable from Actions.
type ExecutionPlan struct {
	ID               string           `json:"plan_id"`
	SessionID        string           `json:"session_id"`
	UserQuery        string           `json:"user_query"`
	Summary          string           `json:"summary"`
	Status           PlanStatus       `json:"status"`
	Actions          []*PlannedAction `json:"actions"`
	TotalActions     int              `json:"total_actions"`
	CompletedActions int              `json:"completed_actions"`
	FailedActions    int              `json:"failed_actions"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

// Action returns the action with the given id, or nil.
func (p *ExecutionPlan) Action(actionID string) *PlannedAction {
	for _, a := range p.Actions {
		if a.ID == actionID {
			return a
		}
	}
	return nil
}

// DerivedStatus computes the plan status from its actions: failed if any
// action failed, completed if all completed (vacuously true for an empty
// plan), otherwise in_progress.
func (p *ExecutionPlan) DerivedStatus() PlanStatus {
	allCompleted := true
	for _, a := range p.Actions {
		switch a.Status {
		case ActionStatusFailed:
			return PlanStatusFailed
		case ActionStatusCompleted:
		default:
			allCompleted = false
		}
	}
	if allCompleted {
		return PlanStatusCompleted
	}
	return PlanStatusInProgress
}

// RecountActions refreshes the persisted counter fields from Actions.
func (p *ExecutionPlan) RecountActions() {
	p.TotalActions = len(p.Actions)
	p.CompletedActions = 0
	p.FailedActions = 0
	for _, a := range p.Actions {
		switch a.Status {
		case ActionStatusCompleted:
			p.CompletedActions++
		case ActionStatusFailed:
			p.FailedActions++
		}
	}
}

// DependenciesMet reports whether every dependency of the action has
// completed within the plan. Unknown dependency ids count as unmet.
func (p *ExecutionPlan) DependenciesMet(a *PlannedAction) bool {
	for _, dep := range a.DependsOn {
		d := p.Action(dep)
		if d == nil || d.Status != ActionStatusCompleted {
			return false
		}
	}
	return true
}
