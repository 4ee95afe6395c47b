// Package planner turns a user message into an ExecutionPlan ready for
// persistence. It owns the planning prompt, the parse of the model's JSON
// reply, the remint of model-chosen action ids into opaque uuids, and the
// deterministic fallback used when the model cannot produce a usable plan.
package planner

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aris-ai/aris/pkg/llm"
	"github.com/aris-ai/aris/pkg/mcp"
	"github.com/aris-ai/aris/pkg/models"
)

// plannerTemperature keeps plan generation near-deterministic.
const plannerTemperature = 0.1

// Planner builds execution plans from user messages. Stateless; safe for
// concurrent use across sessions.
type Planner struct {
	llm *llm.Client
}

// NewPlanner creates a planner on top of the given LLM client.
func NewPlanner(client *llm.Client) *Planner {
	return &Planner{llm: client}
}

// PlanRequest carries everything one planning call needs.
type PlanRequest struct {
	SessionID string
	UserQuery string

	// Turns is the recent conversation window. Only the newest
	// plannerTurnWindow entries are embedded in the prompt.
	Turns []models.ConversationTurn

	// Tools is the dispatcher catalog at planning time.
	Tools []mcp.ToolDescriptor

	// ModelID optionally overrides the configured default model.
	ModelID string

	// Instructions is optional domain guidance from the agent variant,
	// prepended to the planning system prompt.
	Instructions string
}

// CreatePlan translates the request into an unpersisted ExecutionPlan. It
// never fails: model transport errors, unparseable replies, and schema
// violations all degrade to the fallback plan. Persistence is the caller's
// responsibility.
func (p *Planner) CreatePlan(ctx context.Context, req PlanRequest) *models.ExecutionPlan {
	resp, err := p.llm.Converse(ctx, &llm.Request{
		ModelID:     req.ModelID,
		System:      buildSystemPrompt(req.Instructions),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildUserMessage(req)}},
		Temperature: plannerTemperature,
	})
	if err != nil {
		slog.Warn("planner LLM call failed, using fallback plan",
			"session_id", req.SessionID, "error", err)
		return p.fallbackPlan(req)
	}

	doc, err := parsePlanDocument(resp.Text)
	if err != nil {
		slog.Warn("planner response rejected, using fallback plan",
			"session_id", req.SessionID, "error", err)
		return p.fallbackPlan(req)
	}

	return p.assemblePlan(req, doc)
}

// assemblePlan converts a parsed document into a models.ExecutionPlan. Every
// model-emitted action id is replaced with a fresh uuid and depends_on entries
// are rewritten to match. Dependencies on labels that never resolve are
// dropped with a warning rather than failing the plan.
func (p *Planner) assemblePlan(req PlanRequest, doc *planDocument) *models.ExecutionPlan {
	now := time.Now().UTC()

	idByLabel := make(map[string]string, len(doc.Actions))
	for _, a := range doc.Actions {
		if _, ok := idByLabel[a.ID]; !ok {
			idByLabel[a.ID] = uuid.New().String()
		}
	}

	plan := &models.ExecutionPlan{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		UserQuery: req.UserQuery,
		Summary:   strings.TrimSpace(doc.Summary),
		Status:    models.PlanStatusNew,
		CreatedAt: now,
	}
	if plan.Summary == "" {
		plan.Summary = "Execution plan"
	}

	claimed := make(map[string]bool, len(doc.Actions))
	for i := range doc.Actions {
		a := &doc.Actions[i]

		id := idByLabel[a.ID]
		if claimed[id] {
			// The model reused a label. The duplicate gets its own id;
			// depends_on references keep resolving to the first occurrence.
			slog.Warn("planner emitted duplicate action id",
				"session_id", req.SessionID, "label", a.ID)
			id = uuid.New().String()
		}
		claimed[id] = true

		var deps []string
		for _, label := range a.DependsOn {
			depID, ok := idByLabel[label]
			if !ok {
				slog.Warn("dropping unresolvable dependency",
					"session_id", req.SessionID, "action", a.ID, "depends_on", label)
				continue
			}
			if depID == id {
				slog.Warn("dropping self dependency",
					"session_id", req.SessionID, "action", a.ID)
				continue
			}
			deps = append(deps, depID)
		}

		name := strings.TrimSpace(a.Name)
		if name == "" {
			name = defaultActionName(models.ActionType(a.Type), a.ToolName)
		}

		plan.Actions = append(plan.Actions, &models.PlannedAction{
			ID:             id,
			PlanID:         plan.ID,
			Type:           models.ActionType(a.Type),
			Name:           name,
			Description:    strings.TrimSpace(a.Description),
			ToolName:       a.ToolName,
			Arguments:      a.Arguments,
			DependsOn:      deps,
			Status:         models.ActionStatusPending,
			ExecutionOrder: i + 1,
			CreatedAt:      now,
		})
	}

	plan.RecountActions()
	return plan
}

// fallbackPlan is the deterministic two-action plan used when the model's
// reply is unusable: analyze the request, then respond based on the analysis.
func (p *Planner) fallbackPlan(req PlanRequest) *models.ExecutionPlan {
	now := time.Now().UTC()
	planID := uuid.New().String()
	analysisID := uuid.New().String()

	plan := &models.ExecutionPlan{
		ID:        planID,
		SessionID: req.SessionID,
		UserQuery: req.UserQuery,
		Summary:   "Analyze the request and respond",
		Status:    models.PlanStatusNew,
		Actions: []*models.PlannedAction{
			{
				ID:             analysisID,
				PlanID:         planID,
				Type:           models.ActionTypeAnalysis,
				Name:           "Analyze request",
				Description:    "Review the user's message and any context already gathered",
				Status:         models.ActionStatusPending,
				ExecutionOrder: 1,
				CreatedAt:      now,
			},
			{
				ID:             uuid.New().String(),
				PlanID:         planID,
				Type:           models.ActionTypeResponse,
				Name:           "Respond to user",
				Description:    "Compose the reply to the user's message",
				DependsOn:      []string{analysisID},
				Status:         models.ActionStatusPending,
				ExecutionOrder: 2,
				CreatedAt:      now,
			},
		},
		CreatedAt: now,
	}
	plan.RecountActions()
	return plan
}

func defaultActionName(t models.ActionType, toolName string) string {
	switch t {
	case models.ActionTypeToolCall:
		return "Call " + toolName
	case models.ActionTypeAnalysis:
		return "Analyze results"
	case models.ActionTypeResponse:
		return "Respond to user"
	case models.ActionTypeClarification:
		return "Ask for clarification"
	default:
		return "Action"
	}
}
