// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API via github.com/anthropics/anthropic-sdk-go.
// Grounded on the teacher's features/model/anthropic adapter (same
// system/conversational message split, tool-schema encoding, and
// dependency-injected SDK client for testing), trimmed of its multimodal
// Part translation and streaming support down to the spec's flat
// model.Message tuple and single Complete operation.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"goa.design/agentswarm/runtime/model"
)

// MessagesClient captures the subset of the anthropic-sdk-go client used
// by the adapter, so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error)
}

// Options configures the Anthropic adapter.
type Options struct {
	Messages     MessagesClient
	DefaultModel string
	MaxTokens    int64
}

// Client implements model.Client via the Anthropic Messages API.
type Client struct {
	messages  MessagesClient
	model     string
	maxTokens int64
}

const defaultMaxTokens = 4096

// New builds an Anthropic-backed model.Client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Messages == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{messages: opts.Messages, model: modelID, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a client using the default anthropic-sdk-go HTTP
// client, authenticated with apiKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Messages: messagesAdapter{client: client}, DefaultModel: defaultModel})
}

type messagesAdapter struct {
	client sdk.Client
}

func (a messagesAdapter) New(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	return a.client.Messages.New(ctx, params)
}

// Complete renders a message completion using the configured Anthropic
// client. req.System and then the system messages in req.Messages are
// folded into the System field (a system message repeating req.System is
// not added twice); everything else becomes a conversational turn.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  encodeMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		if m.Role == model.RoleSystem && m.Content != "" && m.Content != req.System {
			params.System = append(params.System, sdk.TextBlockParam{Text: m.Content})
		}
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: message: %w", err)
	}
	return translateResponse(req.AgentName, resp), nil
}

func encodeMessages(messages []model.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		case model.RoleTool:
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		case model.RoleSystem:
			// folded into params.System by the caller; skip here
		default: // user, resque, flush
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return out
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	tools := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema, err := toInputSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: encode tool %s schema: %w", def.Name, err)
		}
		tools = append(tools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				InputSchema: schema,
			},
		})
	}
	return tools, nil
}

func toInputSchema(raw any) (sdk.ToolInputSchemaParam, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	var schema sdk.ToolInputSchemaParam
	if err := json.Unmarshal(data, &schema); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return schema, nil
}

func translateResponse(agentName string, resp *sdk.Message) *model.Response {
	msg := model.Message{Role: model.RoleAssistant, AgentName: agentName}
	var calls []model.ToolCall
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			msg.Content += b.Text
		case sdk.ToolUseBlock:
			var args any
			if err := json.Unmarshal(b.Input, &args); err != nil {
				args = map[string]any{"raw": string(b.Input)}
			}
			calls = append(calls, model.ToolCall{
				ID:   b.ID,
				Type: "function",
				Function: model.FunctionCall{
					Name:      b.Name,
					Arguments: args,
				},
			})
		}
	}
	msg.ToolCalls = calls
	return &model.Response{
		Content: msg,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
}
