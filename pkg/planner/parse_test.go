package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanDocument(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr string
	}{
		{
			name: "bare object",
			text: `{"summary": "s", "actions": [{"id": "a", "type": "response", "name": "Respond"}]}`,
		},
		{
			name: "fenced with prose",
			text: "Sure, here you go:\n```json\n{\"summary\": \"s\", \"actions\": [{\"id\": \"a\", \"type\": \"analysis\", \"name\": \"A\"}]}\n```",
		},
		{
			name:    "no JSON at all",
			text:    "I cannot produce a plan for that.",
			wantErr: "no JSON object",
		},
		{
			name:    "empty string",
			text:    "",
			wantErr: "no JSON object",
		},
		{
			name:    "broken JSON",
			text:    `{"summary": "s", "actions": [}`,
			wantErr: "did not parse",
		},
		{
			name:    "empty actions",
			text:    `{"summary": "s", "actions": []}`,
			wantErr: "no actions",
		},
		{
			name:    "unknown action type",
			text:    `{"actions": [{"id": "a", "type": "teleport", "name": "X"}]}`,
			wantErr: "invalid type",
		},
		{
			name:    "tool_call without tool_name",
			text:    `{"actions": [{"id": "a", "type": "tool_call", "name": "X"}]}`,
			wantErr: "no tool_name",
		},
		{
			name:    "actions not an array",
			text:    `{"summary": "s", "actions": {"id": "a"}}`,
			wantErr: "did not parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := parsePlanDocument(tt.text)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, doc.Actions)
		})
	}
}

func TestParsePlanDocument_NormalizesLooseFields(t *testing.T) {
	doc, err := parsePlanDocument(`{
		"actions": [
			{"id": "f", "type": " tool_call ", "name": "Fetch", "tool_name": " get_fake_data "},
			{"id": "r", "type": "response", "name": "Respond", "tool_name": "leftover_tool"}
		]
	}`)
	require.NoError(t, err)

	assert.Equal(t, "tool_call", doc.Actions[0].Type)
	assert.Equal(t, "get_fake_data", doc.Actions[0].ToolName)
	assert.Empty(t, doc.Actions[1].ToolName,
		"tool_name cleared on actions that are not tool calls")
}

func TestExtractJSONObject_TakesOutermostBraces(t *testing.T) {
	payload, err := extractJSONObject(`noise {"a": {"b": 1}} trailing`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": {"b": 1}}`, payload)
}
