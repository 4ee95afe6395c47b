package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/aris-ai/aris/pkg/config"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client the
// provider needs. It matches *bedrockruntime.Client so callers can pass
// either the real client or a fake in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider implements Provider on top of the AWS Bedrock Converse API.
// Safe for concurrent use.
type BedrockProvider struct {
	runtime RuntimeClient
}

// NewBedrockProvider wraps an existing runtime client.
func NewBedrockProvider(runtime RuntimeClient) *BedrockProvider {
	return &BedrockProvider{runtime: runtime}
}

// NewBedrockProviderFromConfig builds the provider in the configured region.
// Explicit credentials take precedence when configured; otherwise the default
// AWS credential chain applies (env, shared config, IAM role).
func NewBedrockProviderFromConfig(ctx context.Context, cfg *config.LLMConfig) (*BedrockProvider, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewBedrockProvider(bedrockruntime.NewFromConfig(awsCfg)), nil
}

// Complete issues one Converse call and translates the response.
func (p *BedrockProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if req.ModelID == "" {
		return nil, fmt.Errorf("bedrock: model id is required")
	}

	input, err := buildConverseInput(req)
	if err != nil {
		return nil, err
	}

	output, err := p.runtime.Converse(ctx, input)
	if err != nil {
		return nil, wrapBedrockError("converse", err)
	}
	return translateResponse(output)
}

func buildConverseInput(req *Request) (*bedrockruntime.ConverseInput, error) {
	messages, system := encodeMessages(req.Messages)
	if req.System != "" {
		system = append([]brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.System},
		}, system...)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("bedrock: no conversational messages to send")
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.ModelID),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig := encodeTools(req.Tools); toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	if cfg := inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input, nil
}

// encodeMessages splits system turns out into system blocks and converts the
// rest to Bedrock content blocks. Turns that produce no content are dropped.
func encodeMessages(msgs []Message) ([]brtypes.Message, []brtypes.SystemContentBlock) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock

	for _, m := range msgs {
		if m.Role == RoleSystem {
			if m.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			}
			continue
		}

		var content []brtypes.ContentBlock
		if m.Content != "" {
			content = append(content, &brtypes.ContentBlockMemberText{Value: m.Content})
		}
		for _, tr := range m.ToolResults {
			content = append(content, &brtypes.ContentBlockMemberToolResult{
				Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: encodeToolResultContent(tr.Content)},
					},
				},
			})
		}
		for _, tc := range m.ToolCalls {
			args := tc.Arguments
			if args == nil {
				args = map[string]any{}
			}
			content = append(content, &brtypes.ContentBlockMemberToolUse{
				Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(args),
				},
			})
		}
		if len(content) == 0 {
			continue
		}

		role := brtypes.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: content})
	}
	return conversation, system
}

func encodeToolResultContent(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("%v", content)
	}
	return string(data)
}

func encodeTools(specs []ToolSpec) *brtypes.ToolConfiguration {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]brtypes.Tool, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			continue
		}
		var schema any
		if len(spec.InputSchema) == 0 || json.Unmarshal(spec.InputSchema, &schema) != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		toolSpec := brtypes.ToolSpecification{
			Name:        aws.String(spec.Name),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}
		if spec.Description != "" {
			toolSpec.Description = aws.String(spec.Description)
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: toolSpec})
	}
	if len(tools) == 0 {
		return nil
	}
	return &brtypes.ToolConfiguration{Tools: tools}
}

func inferenceConfig(req *Request) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	if req.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(req.MaxTokens)) //nolint:gosec // AWS SDK requires int32
	}
	if req.Temperature > 0 {
		cfg.Temperature = aws.Float32(req.Temperature)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

func translateResponse(output *bedrockruntime.ConverseOutput) (*Response, error) {
	if output == nil {
		return nil, fmt.Errorf("bedrock: response is nil")
	}
	resp := &Response{StopReason: string(output.StopReason)}

	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		var text strings.Builder
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value == "" {
					continue
				}
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString(v.Value)
			case *brtypes.ContentBlockMemberToolUse:
				resp.ToolCalls = append(resp.ToolCalls, ToolCall{
					ID:        aws.ToString(v.Value.ToolUseId),
					Name:      aws.ToString(v.Value.Name),
					Arguments: decodeArguments(v.Value.Input),
				})
			}
		}
		resp.Text = text.String()
	}

	if usage := output.Usage; usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int(aws.ToInt32(usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(usage.TotalTokens)),
		}
	}
	return resp, nil
}

// decodeArguments converts a tool_use input document into a plain map.
// Undecodable inputs degrade to an empty map rather than failing the turn.
func decodeArguments(doc document.Interface) map[string]any {
	if doc == nil {
		return map[string]any{}
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
