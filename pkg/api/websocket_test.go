package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFrame(t *testing.T, raw string) *clientFrame {
	t.Helper()
	var frame clientFrame
	require.NoError(t, json.Unmarshal([]byte(raw), &frame))
	return &frame
}

func TestClientFrame_Text(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "message key",
			raw:  `{"message": "hello"}`,
			want: "hello",
		},
		{
			name: "agent question form",
			raw:  `{"action": "agent", "question": "what changed?"}`,
			want: "what changed?",
		},
		{
			name: "message wins over question",
			raw:  `{"message": "hello", "action": "agent", "question": "other"}`,
			want: "hello",
		},
		{
			name: "question without agent action is not a message",
			raw:  `{"question": "orphaned"}`,
			want: "",
		},
		{
			name: "options-only frame has no text",
			raw:  `{"model_id": "fast-model"}`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeFrame(t, tt.raw).text())
		})
	}
}

func TestClientFrame_Temperature(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{
			name: "numeric temperature",
			raw:  `{"rag_params": {"model_params": {"temperature": 0.3}}}`,
			want: 0.3,
		},
		{
			name: "string temperature passes through raw",
			raw:  `{"rag_params": {"model_params": {"temperature": "0.7"}}}`,
			want: "0.7",
		},
		{
			name: "absent rag_params",
			raw:  `{"message": "hi"}`,
			want: nil,
		},
		{
			name: "rag_params without model_params",
			raw:  `{"rag_params": {"search": {"deep_search": true, "web_search": false}}}`,
			want: nil,
		},
		{
			name: "model_params without temperature",
			raw:  `{"rag_params": {"model_params": {}}}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeFrame(t, tt.raw).temperature())
		})
	}
}

func TestClientFrame_FullShape(t *testing.T) {
	frame := decodeFrame(t, `{
		"message": "summarize the run",
		"doc_bucket": "uploads",
		"doc_key": "runs/42.pdf",
		"model_id": "fast-model",
		"rag_params": {
			"model_params": {"temperature": 0.2},
			"search": {"deep_search": true, "web_search": false},
			"guardrails": {"pii": "strict"}
		}
	}`)

	assert.Equal(t, "summarize the run", frame.text())
	assert.Equal(t, "uploads", frame.DocBucket)
	assert.Equal(t, "runs/42.pdf", frame.DocKey)
	assert.Equal(t, "fast-model", frame.ModelID)
	assert.Equal(t, 0.2, frame.temperature())
	require.NotNil(t, frame.RagParams.Search)
	assert.True(t, frame.RagParams.Search.DeepSearch)
	assert.False(t, frame.RagParams.Search.WebSearch)
}
