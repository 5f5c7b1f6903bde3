// Package model defines the provider-agnostic message and completion-client
// types used by the turn engine. Spec §3 models a turn message as a single
// flat tuple rather than the teacher's typed Part union; this package keeps
// the teacher's Request/Response/Client/TokenUsage shape (runtime/agent/model
// /model.go) but narrows Message down to that tuple, since no part of the
// spec exercises multimodal content.
package model

import "context"

// Role identifies the speaker of a Message, extended with the two
// rescue-only roles used by the turn engine's flush/recomplete strategies.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleUser      Role = "user"
	RoleResque    Role = "resque"
	RoleFlush     Role = "flush"
)

// Mode distinguishes human input from tool-injected input, consulted by
// history filters (spec §4.7).
type Mode string

const (
	ModeUser Mode = "user"
	ModeTool Mode = "tool"
)

type (
	// FunctionCall is the {name, arguments} payload of a ToolCall.
	FunctionCall struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments,omitempty"`
	}

	// ToolCall is a single tool invocation requested by the model, shaped
	// {id, type:"function", function:{name, arguments}} per spec §3.
	ToolCall struct {
		ID       string       `json:"id"`
		Type     string       `json:"type"`
		Function FunctionCall `json:"function"`
	}

	// Message is the canonical turn tuple: {role, agentName, mode, content,
	// tool_calls?, tool_call_id?}. JSON-tagged because it crosses the
	// persistence boundary (history log files) and the completion-adapter
	// wire format.
	Message struct {
		Role       Role       `json:"role"`
		AgentName  string     `json:"agentName,omitempty"`
		Mode       Mode       `json:"mode,omitempty"`
		Content    string     `json:"content"`
		ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
		ToolCallID string     `json:"tool_call_id,omitempty"`
	}

	// ToolDefinition describes a tool exposed to the model, stripped of any
	// non-wire fields (call body, validate function) before being sent to a
	// completion backend.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// TokenUsage tracks token counts for a completion call.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// Request captures the inputs to a single completion call.
	Request struct {
		ClientID  string
		AgentName string
		Messages  []Message
		Tools     []ToolDefinition
		System    string
	}

	// Response is the result of a completion call. Content holds the raw
	// assistant message; the turn engine is responsible for running it
	// through the agent's map/transform functions.
	Response struct {
		Content Message
		Usage   TokenUsage
	}

	// Client is the provider-agnostic completion backend. Spec §2 treats
	// this as an external collaborator exposing only getCompletion; Complete
	// is that call. Concrete adapters (features/model/*) translate Request
	// into a provider-specific call and adapt the reply back.
	Client interface {
		Complete(ctx context.Context, req *Request) (*Response, error)
	}
)
