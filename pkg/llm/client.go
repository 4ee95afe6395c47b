package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aris-ai/aris/pkg/config"
)

// Provider issues a single completion against a concrete model backend.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// ToolFunc executes one model-requested tool call on behalf of the
// conversation loop. Tool failures are returned as values, not errors, so
// the model can react to them.
type ToolFunc func(ctx context.Context, name string, args map[string]any) (any, error)

// Client is the converse surface used by the planner and the executioner.
// When a ToolFunc is wired and the request carries tools, Converse runs the
// model's tool calls and feeds the results back, bounded by MaxRecursions.
type Client struct {
	provider Provider
	cfg      *config.LLMConfig
	tools    ToolFunc // nil disables the tool loop
}

// NewClient creates a converse client over the given provider.
func NewClient(provider Provider, cfg *config.LLMConfig) *Client {
	return &Client{provider: provider, cfg: cfg}
}

// WithTools returns a copy of the client that executes tool calls through fn.
func (c *Client) WithTools(fn ToolFunc) *Client {
	clone := *c
	clone.tools = fn
	return &clone
}

// Converse sends the conversation to the model and returns its final
// response. Model-requested tool calls are executed and fed back until the
// model answers in text or the recursion bound is hit.
func (c *Client) Converse(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, fmt.Errorf("converse requires at least one message")
	}

	work := *req
	if work.ModelID == "" {
		work.ModelID = c.cfg.DefaultModelID
	}
	maxRecursions := work.MaxRecursions
	if maxRecursions <= 0 {
		maxRecursions = c.cfg.MaxRecursions
	}

	// Copy so the loop can append without mutating the caller's slice.
	work.Messages = append([]Message(nil), req.Messages...)

	for attempt := 0; attempt <= maxRecursions; attempt++ {
		resp, err := c.complete(ctx, &work)
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 || c.tools == nil {
			return resp, nil
		}

		slog.Debug("Model requested tool calls",
			"model", work.ModelID, "count", len(resp.ToolCalls), "attempt", attempt)

		work.Messages = append(work.Messages, Message{
			Role:      RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		work.Messages = append(work.Messages, Message{
			Role:        RoleUser,
			ToolResults: c.runTools(ctx, resp.ToolCalls),
		})
	}

	return nil, fmt.Errorf("tool recursion limit (%d) reached without a final response", maxRecursions)
}

// complete issues one bounded provider call.
func (c *Client) complete(ctx context.Context, req *Request) (*Response, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	return c.provider.Complete(ctx, req)
}

// runTools executes the requested calls in order. A failed call becomes an
// error-shaped result the model can read.
func (c *Client) runTools(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		content, err := c.tools(ctx, call.Name, call.Arguments)
		if err != nil {
			slog.Warn("Tool call failed inside converse loop",
				"tool", call.Name, "error", err)
			content = map[string]any{"error": err.Error()}
		}
		results = append(results, ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    content,
		})
	}
	return results
}
