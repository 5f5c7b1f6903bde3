// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API. Grounded on the teacher's features/model/bedrock
// adapter (system/conversational message split, ToolConfiguration
// encoding), trimmed of its multimodal document handling, tool-name
// diagnostics, and streaming support down to the spec's flat
// model.Message tuple and single Complete operation.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/document"

	"goa.design/agentswarm/runtime/model"
)

// ConverseClient captures the subset of the Bedrock runtime client used by
// the adapter, so tests can substitute a fake.
type ConverseClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	Client    ConverseClient
	ModelID   string
	MaxTokens int32
}

const defaultMaxTokens = 4096

// Client implements model.Client via the Bedrock Converse API.
type Client struct {
	client    ConverseClient
	modelID   string
	maxTokens int32
}

// New builds a Bedrock-backed model.Client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("bedrock: client is required")
	}
	if strings.TrimSpace(opts.ModelID) == "" {
		return nil, errors.New("bedrock: model id is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{client: opts.Client, modelID: opts.ModelID, maxTokens: maxTokens}, nil
}

// Complete renders a Converse call using the configured Bedrock client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.modelID),
		Messages: encodeMessages(req.Messages),
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(c.maxTokens),
		},
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.System},
		}
	}
	for _, m := range req.Messages {
		if m.Role == model.RoleSystem && m.Content != "" && m.Content != req.System {
			input.System = append(input.System, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		}
	}
	if len(req.Tools) > 0 {
		toolConfig, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = toolConfig
	}

	out, err := c.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock: converse: %w", err)
	}
	return translateResponse(req.AgentName, out), nil
}

func encodeMessages(messages []model.Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleAssistant:
			out = append(out, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case model.RoleTool:
			out = append(out, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(m.ToolCallID),
						Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Content}},
					},
				}},
			})
		case model.RoleSystem:
			// folded into input.System by the caller; skip here
		default: // user, resque, flush
			out = append(out, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	return out
}

func encodeTools(defs []model.ToolDefinition) (*brtypes.ToolConfiguration, error) {
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		doc, err := toDocument(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("bedrock: encode tool %s schema: %w", def.Name, err)
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: doc},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nil
}

func toDocument(raw any) (document.Interface, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return document.NewLazyDocument(v), nil
}

func translateResponse(agentName string, out *bedrockruntime.ConverseOutput) *model.Response {
	msg := model.Message{Role: model.RoleAssistant, AgentName: agentName}
	outMsg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if ok {
		for _, block := range outMsg.Value.Content {
			switch b := block.(type) {
			case *brtypes.ContentBlockMemberText:
				msg.Content += b.Value
			case *brtypes.ContentBlockMemberToolUse:
				var args any
				_ = b.Value.Input.UnmarshalSmithyDocument(&args)
				msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
					ID:   aws.ToString(b.Value.ToolUseId),
					Type: "function",
					Function: model.FunctionCall{
						Name:      aws.ToString(b.Value.Name),
						Arguments: args,
					},
				})
			}
		}
	}
	usage := model.TokenUsage{}
	if out.Usage != nil {
		usage.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
		usage.TotalTokens = int(aws.ToInt32(out.Usage.TotalTokens))
	}
	return &model.Response{Content: msg, Usage: usage}
}
