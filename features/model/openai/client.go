// Package openai provides a model.Client implementation backed by the
// OpenAI Chat Completions API via the official openai-go SDK. Grounded on
// the teacher's features/model/openai adapter (same translate-request /
// translate-response split, dependency-injected chat client for testing),
// adapted from the teacher's go-openai-based client and multipart Message
// model down to the spec's flat model.Message tuple and single Complete
// operation (spec's completion backend has no streaming operation).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"goa.design/agentswarm/runtime/model"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, so tests can substitute a fake.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Chat         ChatClient
	DefaultModel string
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed model.Client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Chat, model: modelID}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP
// client, authenticated with apiKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	sdk := openai.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Chat: chatAdapter{client: sdk}, DefaultModel: defaultModel})
}

// chatAdapter adapts the concrete openai-go client to ChatClient.
type chatAdapter struct {
	client openai.Client
}

func (a chatAdapter) New(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return a.client.Chat.Completions.New(ctx, params)
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: encodeMessages(req),
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	return translateResponse(req.AgentName, resp), nil
}

func encodeMessages(req *model.Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case model.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default: // user, resque, flush all present as user turns
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func encodeTools(defs []model.ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		params, _ := json.Marshal(def.InputSchema)
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(json.RawMessage(params)),
			},
		})
	}
	return tools
}

func translateResponse(agentName string, resp *openai.ChatCompletion) *model.Response {
	if len(resp.Choices) == 0 {
		return &model.Response{Content: model.Message{Role: model.RoleAssistant, AgentName: agentName}}
	}
	choice := resp.Choices[0]
	msg := model.Message{
		Role:      model.RoleAssistant,
		AgentName: agentName,
		Content:   choice.Message.Content,
	}
	for _, call := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
			ID:   call.ID,
			Type: "function",
			Function: model.FunctionCall{
				Name:      call.Function.Name,
				Arguments: parseArguments(call.Function.Arguments),
			},
		})
	}
	return &model.Response{
		Content: msg,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
}

func parseArguments(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return map[string]any{"raw": raw}
	}
	return payload
}
