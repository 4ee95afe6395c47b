// Package events delivers outbound frames to the client connection.
//
// Each session has one Bus: an ordered, in-process sink that serializes
// every frame for that session through a single writer goroutine. Frames
// are emitted only after the matching store write has committed, so a
// client never observes state the database does not hold.
package events

import "github.com/aris-ai/aris/pkg/models"

// Frame type tags. Every outbound frame carries one in its "type" field.
const (
	FrameTypeChainOfThought = "chain_of_thought"
	FrameTypePlanCreate     = "plan_create"
	FrameTypePlanUpdate     = "plan_update"
	FrameTypeDoc            = "doc"
	FrameTypeMessage        = "message"
	FrameTypePing           = "ping"
	FrameTypeError          = "error"
)

// ActionClose on a message frame tells the client the turn is finished.
const ActionClose = "close"

// ProgressFrame is a chain_of_thought frame: a short human-readable note
// about what the assistant is doing right now.
type ProgressFrame struct {
	Type    string `json:"type"` // always chain_of_thought
	Message string `json:"message"`
}

// ActionSnapshot is the wire form of one planned action. Plan frames carry
// exactly these eight keys per action, always present.
type ActionSnapshot struct {
	ID          string              `json:"id"`
	Type        models.ActionType   `json:"type"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	ToolName    string              `json:"tool_name"`
	Arguments   map[string]any      `json:"arguments"`
	DependsOn   []string            `json:"depends_on"`
	Status      models.ActionStatus `json:"status"`
}

// PlanSnapshot is the wire form of a plan, shared by plan_create and
// plan_update frames and by the session read API.
type PlanSnapshot struct {
	PlanID  string            `json:"plan_id"`
	Summary string            `json:"summary"`
	Status  models.PlanStatus `json:"status"`
	Actions []ActionSnapshot  `json:"actions"`
}

// PlanFrame is a plan_create or plan_update frame.
type PlanFrame struct {
	Type string       `json:"type"`
	Data PlanSnapshot `json:"data"`
}

// NewPlanSnapshot converts a stored plan to its wire form. Nil argument maps
// and dependency lists become empty containers so the eight action keys
// marshal as {} and [] rather than null.
func NewPlanSnapshot(plan *models.ExecutionPlan) PlanSnapshot {
	snapshot := PlanSnapshot{
		PlanID:  plan.ID,
		Summary: plan.Summary,
		Status:  plan.Status,
		Actions: make([]ActionSnapshot, 0, len(plan.Actions)),
	}
	for _, a := range plan.Actions {
		args := a.Arguments
		if args == nil {
			args = map[string]any{}
		}
		deps := a.DependsOn
		if deps == nil {
			deps = []string{}
		}
		snapshot.Actions = append(snapshot.Actions, ActionSnapshot{
			ID:          a.ID,
			Type:        a.Type,
			Name:        a.Name,
			Description: a.Description,
			ToolName:    a.ToolName,
			Arguments:   args,
			DependsOn:   deps,
			Status:      a.Status,
		})
	}
	return snapshot
}

// DocumentInfo describes a document produced during execution.
type DocumentInfo struct {
	Name     string         `json:"name"`
	Format   string         `json:"format"`
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata"`
}

// DocData wraps the document for the doc frame envelope.
type DocData struct {
	Document DocumentInfo `json:"document"`
}

// DocFrame is a doc frame: a notice that a document is ready for pickup.
type DocFrame struct {
	Type string  `json:"type"` // always doc
	Data DocData `json:"data"`
}

// MessageFrame is the final message frame of a turn. Data is always present,
// empty when the turn produced no attachments. Action is always "close": the
// client may tear down its progress UI when it arrives.
type MessageFrame struct {
	Type    string         `json:"type"` // always message
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
	Action  string         `json:"action"`
}

// PingFrame keeps the connection alive; sent every ~5 seconds.
type PingFrame struct {
	Type string `json:"type"` // always ping
}

// ErrorFrame reports a user-visible delivery or processing problem without
// closing the turn.
type ErrorFrame struct {
	Type    string `json:"type"` // always error
	Message string `json:"message"`
}
