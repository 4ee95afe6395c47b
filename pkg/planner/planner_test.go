package planner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aris-ai/aris/pkg/config"
	"github.com/aris-ai/aris/pkg/llm"
	"github.com/aris-ai/aris/pkg/mcp"
	"github.com/aris-ai/aris/pkg/models"
)

// scriptedModel returns one canned completion and records every request.
type scriptedModel struct {
	text     string
	err      error
	requests []*llm.Request
}

func (m *scriptedModel) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	snapshot := *req
	snapshot.Messages = append([]llm.Message(nil), req.Messages...)
	m.requests = append(m.requests, &snapshot)

	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{Text: m.text, StopReason: "end_turn"}, nil
}

func newTestPlanner(model *scriptedModel) *Planner {
	cfg := &config.LLMConfig{
		DefaultModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0",
		MaxRecursions:  5,
	}
	return NewPlanner(llm.NewClient(model, cfg))
}

func catalogWithFakeData() []mcp.ToolDescriptor {
	return []mcp.ToolDescriptor{
		{
			Name:        "get_fake_data",
			Description: "Returns a canned dataset for demos",
			Server:      "demo",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"result_variable_name": {"type": "string", "description": "Name to store the dataset under"}
				},
				"required": ["result_variable_name"]
			}`),
		},
	}
}

const threeActionPlanJSON = `{
	"summary": "Fetch the data, analyze it, respond",
	"actions": [
		{
			"id": "fetch",
			"type": "tool_call",
			"name": "Fetch today's data",
			"description": "Retrieve the dataset",
			"tool_name": "get_fake_data",
			"arguments": {"result_variable_name": "today"}
		},
		{
			"id": "analyze",
			"type": "analysis",
			"name": "Analyze the data",
			"description": "Summarize {{fetch.result}}",
			"depends_on": ["fetch"]
		},
		{
			"id": "respond",
			"type": "response",
			"name": "Respond to user",
			"description": "Present the findings",
			"depends_on": ["analyze"]
		}
	]
}`

func TestCreatePlan_ParsesModelPlan(t *testing.T) {
	model := &scriptedModel{text: threeActionPlanJSON}
	p := newTestPlanner(model)

	plan := p.CreatePlan(context.Background(), PlanRequest{
		SessionID: "sess-1",
		UserQuery: "show me today's data",
		Tools:     catalogWithFakeData(),
	})

	require.NotNil(t, plan)
	assert.Equal(t, "sess-1", plan.SessionID)
	assert.Equal(t, "show me today's data", plan.UserQuery)
	assert.Equal(t, "Fetch the data, analyze it, respond", plan.Summary)
	assert.Equal(t, models.PlanStatusNew, plan.Status)
	assert.Equal(t, 3, plan.TotalActions)

	require.Len(t, plan.Actions, 3)
	_, err := uuid.Parse(plan.ID)
	assert.NoError(t, err, "plan id is a minted uuid")

	fetch, analyze, respond := plan.Actions[0], plan.Actions[1], plan.Actions[2]
	for i, a := range plan.Actions {
		_, err := uuid.Parse(a.ID)
		assert.NoError(t, err, "action ids are minted uuids")
		assert.Equal(t, plan.ID, a.PlanID)
		assert.Equal(t, models.ActionStatusPending, a.Status)
		assert.Equal(t, i+1, a.ExecutionOrder)
	}

	assert.Equal(t, models.ActionTypeToolCall, fetch.Type)
	assert.Equal(t, "get_fake_data", fetch.ToolName)
	assert.Equal(t, map[string]any{"result_variable_name": "today"}, fetch.Arguments)
	assert.Empty(t, fetch.DependsOn)

	assert.Equal(t, models.ActionTypeAnalysis, analyze.Type)
	assert.Equal(t, []string{fetch.ID}, analyze.DependsOn, "depends_on rewritten to minted ids")

	assert.Equal(t, models.ActionTypeResponse, respond.Type)
	assert.Equal(t, []string{analyze.ID}, respond.DependsOn)
}

func TestCreatePlan_StripsMarkdownFence(t *testing.T) {
	model := &scriptedModel{text: "Here is the plan:\n```json\n" + threeActionPlanJSON + "\n```\nLet me know if you need changes."}
	p := newTestPlanner(model)

	plan := p.CreatePlan(context.Background(), PlanRequest{SessionID: "sess-1", UserQuery: "q"})

	require.Len(t, plan.Actions, 3)
	assert.Equal(t, "Fetch the data, analyze it, respond", plan.Summary)
}

func TestCreatePlan_FallbackOnUnparseableReply(t *testing.T) {
	model := &scriptedModel{text: "I am sorry, I cannot plan that."}
	p := newTestPlanner(model)

	plan := p.CreatePlan(context.Background(), PlanRequest{SessionID: "sess-1", UserQuery: "hello"})

	assertFallbackPlan(t, plan)
}

func TestCreatePlan_FallbackOnLLMError(t *testing.T) {
	model := &scriptedModel{err: errors.New("bedrock unavailable")}
	p := newTestPlanner(model)

	plan := p.CreatePlan(context.Background(), PlanRequest{SessionID: "sess-1", UserQuery: "hello"})

	assertFallbackPlan(t, plan)
}

func TestCreatePlan_FallbackOnSchemaViolation(t *testing.T) {
	// tool_call without tool_name cannot be repaired downstream.
	model := &scriptedModel{text: `{
		"summary": "broken",
		"actions": [{"id": "a", "type": "tool_call", "name": "Call something"}]
	}`}
	p := newTestPlanner(model)

	plan := p.CreatePlan(context.Background(), PlanRequest{SessionID: "sess-1", UserQuery: "hello"})

	assertFallbackPlan(t, plan)
}

func TestCreatePlan_FallbackOnEmptyActions(t *testing.T) {
	model := &scriptedModel{text: `{"summary": "nothing to do", "actions": []}`}
	p := newTestPlanner(model)

	plan := p.CreatePlan(context.Background(), PlanRequest{SessionID: "sess-1", UserQuery: "hello"})

	assertFallbackPlan(t, plan)
}

func TestCreatePlan_DropsUnresolvableDependency(t *testing.T) {
	model := &scriptedModel{text: `{
		"summary": "plan with a phantom dependency",
		"actions": [
			{"id": "analyze", "type": "analysis", "name": "Analyze", "depends_on": ["does_not_exist"]},
			{"id": "respond", "type": "response", "name": "Respond", "depends_on": ["analyze", "also_missing"]}
		]
	}`}
	p := newTestPlanner(model)

	plan := p.CreatePlan(context.Background(), PlanRequest{SessionID: "sess-1", UserQuery: "q"})

	require.Len(t, plan.Actions, 2)
	assert.Empty(t, plan.Actions[0].DependsOn, "phantom dependency dropped")
	assert.Equal(t, []string{plan.Actions[0].ID}, plan.Actions[1].DependsOn,
		"resolvable dependency kept, phantom dropped")
}

func TestCreatePlan_DuplicateLabelsGetDistinctIDs(t *testing.T) {
	model := &scriptedModel{text: `{
		"summary": "duplicate labels",
		"actions": [
			{"id": "step", "type": "analysis", "name": "First"},
			{"id": "step", "type": "analysis", "name": "Second"},
			{"id": "respond", "type": "response", "name": "Respond", "depends_on": ["step"]}
		]
	}`}
	p := newTestPlanner(model)

	plan := p.CreatePlan(context.Background(), PlanRequest{SessionID: "sess-1", UserQuery: "q"})

	require.Len(t, plan.Actions, 3)
	assert.NotEqual(t, plan.Actions[0].ID, plan.Actions[1].ID)
	assert.Equal(t, []string{plan.Actions[0].ID}, plan.Actions[2].DependsOn,
		"label resolves to its first occurrence")
}

func TestCreatePlan_DropsSelfDependency(t *testing.T) {
	model := &scriptedModel{text: `{
		"summary": "self loop",
		"actions": [{"id": "a", "type": "analysis", "name": "Analyze", "depends_on": ["a"]}]
	}`}
	p := newTestPlanner(model)

	plan := p.CreatePlan(context.Background(), PlanRequest{SessionID: "sess-1", UserQuery: "q"})

	require.Len(t, plan.Actions, 1)
	assert.Empty(t, plan.Actions[0].DependsOn)
}

func TestCreatePlan_NamesDefaultedWhenMissing(t *testing.T) {
	model := &scriptedModel{text: `{
		"summary": "unnamed actions",
		"actions": [
			{"id": "f", "type": "tool_call", "tool_name": "get_fake_data"},
			{"id": "r", "type": "response", "depends_on": ["f"]}
		]
	}`}
	p := newTestPlanner(model)

	plan := p.CreatePlan(context.Background(), PlanRequest{SessionID: "sess-1", UserQuery: "q"})

	require.Len(t, plan.Actions, 2)
	assert.Equal(t, "Call get_fake_data", plan.Actions[0].Name)
	assert.Equal(t, "Respond to user", plan.Actions[1].Name)
}

func TestCreatePlan_PromptEmbedsCatalogTurnsAndQuery(t *testing.T) {
	model := &scriptedModel{text: threeActionPlanJSON}
	p := newTestPlanner(model)

	turns := []models.ConversationTurn{
		{Role: models.TurnRoleUser, Content: "oldest turn, beyond the window"},
		{Role: models.TurnRoleUser, Content: "what machines are down?"},
		{Role: models.TurnRoleAssistant, Content: "Line 2 is down for maintenance."},
		{Role: models.TurnRoleUser, Content: "since when?"},
	}
	p.CreatePlan(context.Background(), PlanRequest{
		SessionID: "sess-1",
		UserQuery: "show me today's data",
		Turns:     turns,
		Tools:     catalogWithFakeData(),
	})

	require.Len(t, model.requests, 1)
	req := model.requests[0]

	assert.InDelta(t, 0.1, req.Temperature, 0.0001)
	assert.Contains(t, req.System, "JSON object")
	assert.Contains(t, req.System, "tool_call")

	require.Len(t, req.Messages, 1)
	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, "get_fake_data")
	assert.Contains(t, prompt, "result_variable_name (required, string)")
	assert.Contains(t, prompt, "show me today's data")
	assert.Contains(t, prompt, "what machines are down?")
	assert.Contains(t, prompt, "assistant: Line 2 is down for maintenance.")
	assert.NotContains(t, prompt, "oldest turn, beyond the window",
		"only the newest three turns are embedded")
}

func TestCreatePlan_InstructionsPrependedToSystemPrompt(t *testing.T) {
	model := &scriptedModel{text: threeActionPlanJSON}
	p := newTestPlanner(model)

	p.CreatePlan(context.Background(), PlanRequest{
		SessionID:    "sess-1",
		UserQuery:    "q",
		ModelID:      "anthropic.claude-3-haiku-20240307-v1:0",
		Instructions: "## Manufacturing Assistant\nYou support plant operators.",
	})

	require.Len(t, model.requests, 1)
	assert.True(t, len(model.requests[0].System) > len(planSystemPrompt))
	assert.Contains(t, model.requests[0].System, "## Manufacturing Assistant")
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", model.requests[0].ModelID)
}

// assertFallbackPlan checks the deterministic analysis-then-response shape.
func assertFallbackPlan(t *testing.T, plan *models.ExecutionPlan) {
	t.Helper()

	require.NotNil(t, plan)
	require.Len(t, plan.Actions, 2)
	assert.Equal(t, models.PlanStatusNew, plan.Status)
	assert.Equal(t, 2, plan.TotalActions)

	analysis, response := plan.Actions[0], plan.Actions[1]
	assert.Equal(t, models.ActionTypeAnalysis, analysis.Type)
	assert.Equal(t, models.ActionStatusPending, analysis.Status)
	assert.Empty(t, analysis.DependsOn)
	assert.Equal(t, 1, analysis.ExecutionOrder)

	assert.Equal(t, models.ActionTypeResponse, response.Type)
	assert.Equal(t, models.ActionStatusPending, response.Status)
	assert.Equal(t, []string{analysis.ID}, response.DependsOn)
	assert.Equal(t, 2, response.ExecutionOrder)
}
