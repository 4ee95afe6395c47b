// Package llm provides the model client used by the planner and the
// executioner: a provider-agnostic Converse operation with an optional
// bounded tool-use loop, backed by AWS Bedrock.
package llm

import "encoding/json"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. Tool calls appear on assistant turns,
// tool results on the user turn that answers them.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult answers one ToolCall by id.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    any    `json:"content"`
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Request is one converse call. ModelID must already be resolved against the
// allowlist by the caller; an empty ModelID falls back to the configured
// default.
type Request struct {
	ModelID     string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float32 // 0 omits the parameter
	MaxTokens   int     // 0 omits the parameter

	// MaxRecursions bounds the tool-use loop for this request.
	// 0 uses the configured default.
	MaxRecursions int
}

// Response is the translated provider output of a single completion.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      TokenUsage
}

// TokenUsage reports provider token accounting for one completion.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
