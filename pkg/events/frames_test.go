package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aris-ai/aris/pkg/models"
)

// TestPlanFrame_ActionWireContract is a contract test between the backend
// and the frontend plan renderer.
//
// The frontend builds its plan view from the action objects in plan_create
// and plan_update frames and expects exactly these eight keys on every
// action, always present; it treats a missing key as a malformed frame.
// This test guards against:
//   - A new field leaking into the wire shape
//   - nil maps/slices marshaling as null instead of {} and []
func TestPlanFrame_ActionWireContract(t *testing.T) {
	plan := &models.ExecutionPlan{
		ID:      "plan-1",
		Summary: "fetch then answer",
		Status:  models.PlanStatusNew,
		Actions: []*models.PlannedAction{
			{
				ID:          "a-1",
				Type:        models.ActionTypeToolCall,
				Name:        "Fetch data",
				Description: "Query production metrics",
				ToolName:    "get_production_data",
				Arguments:   map[string]any{"line": 3},
				DependsOn:   nil, // must marshal as []
				Status:      models.ActionStatusPending,
				// Fields below must NOT appear on the wire.
				ExecutionOrder: 7,
				Result:         map[string]any{"leak": true},
				ErrorMessage:   "leak",
			},
			{
				ID:        "a-2",
				Type:      models.ActionTypeResponse,
				Name:      "Respond",
				Arguments: nil, // must marshal as {}
				DependsOn: []string{"a-1"},
				Status:    models.ActionStatusPending,
			},
		},
	}

	raw, err := json.Marshal(PlanFrame{Type: FrameTypePlanCreate, Data: NewPlanSnapshot(plan)})
	require.NoError(t, err)

	var decoded struct {
		Type string `json:"type"`
		Data struct {
			PlanID  string           `json:"plan_id"`
			Summary string           `json:"summary"`
			Status  string           `json:"status"`
			Actions []map[string]any `json:"actions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, FrameTypePlanCreate, decoded.Type)
	assert.Equal(t, "plan-1", decoded.Data.PlanID)
	require.Len(t, decoded.Data.Actions, 2)

	wantKeys := []string{"id", "type", "name", "description", "tool_name", "arguments", "depends_on", "status"}
	for _, action := range decoded.Data.Actions {
		keys := make([]string, 0, len(action))
		for k := range action {
			keys = append(keys, k)
		}
		assert.ElementsMatch(t, wantKeys, keys, "action %v has wrong key set", action["id"])
	}

	first := decoded.Data.Actions[0]
	deps, ok := first["depends_on"].([]any)
	require.True(t, ok, "depends_on must be an array, got %T", first["depends_on"])
	assert.Empty(t, deps)

	second := decoded.Data.Actions[1]
	args, ok := second["arguments"].(map[string]any)
	require.True(t, ok, "arguments must be an object, got %T", second["arguments"])
	assert.Empty(t, args)
}

func TestMessageFrame_CarriesCloseAction(t *testing.T) {
	raw, err := json.Marshal(MessageFrame{
		Type:    FrameTypeMessage,
		Message: "all done",
		Data:    map[string]any{"files": []any{"report.pdf"}},
		Action:  ActionClose,
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "message", decoded["type"])
	assert.Equal(t, "close", decoded["action"])
	assert.Equal(t, "all done", decoded["message"])
}

func TestDocFrame_Envelope(t *testing.T) {
	raw, err := json.Marshal(DocFrame{
		Type: FrameTypeDoc,
		Data: DocData{Document: DocumentInfo{
			Name:     "shift_report.pdf",
			Format:   "pdf",
			Type:     "report",
			Metadata: map[string]any{"pages": 3},
		}},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok)
	doc, ok := data["document"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "shift_report.pdf", doc["name"])
	assert.Equal(t, "pdf", doc["format"])
}
