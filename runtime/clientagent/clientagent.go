// Package clientagent implements the turn engine of spec §4.6 — the
// hardest subsystem in the runtime. One Agent instance serves one
// (clientId, agentName) pair: it builds a prompt from history, calls a
// completion backend, validates and dispatches any tool calls the model
// requested, and emits exactly one value to its output signal per
// successful turn. Grounded on the teacher's workflow_turn.go/tool_calls.go
// turn-loop shape (build prompt -> complete -> dispatch tools -> finish),
// replacing Temporal's deterministic workflow primitives with plain
// goroutines and the signal package's channel-based notifiers, since this
// runtime has no durable-replay requirement.
package clientagent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"goa.design/agentswarm/runtime/bus"
	"goa.design/agentswarm/runtime/config"
	"goa.design/agentswarm/runtime/history"
	"goa.design/agentswarm/runtime/model"
	"goa.design/agentswarm/runtime/schema"
	"goa.design/agentswarm/runtime/signal"
	"goa.design/agentswarm/runtime/telemetry"
)

// RescueFailedError is the fatal error surfaced when a rescued turn's
// output is itself still invalid after transform/validate (spec §7,
// "Rescue-failed... surface with agentName, clientId, validation message").
type RescueFailedError struct {
	AgentName         string
	ClientID          string
	ValidationMessage string
}

func (e *RescueFailedError) Error() string {
	return fmt.Sprintf("clientagent: rescue-failed: clientId=%s agentName=%s: %s", e.ClientID, e.AgentName, e.ValidationMessage)
}

// Options configures one Agent instance. The connection layer (spec §4.9)
// constructs these after resolving an agent's schema, completion, tools,
// and history.
type Options struct {
	ClientID   string
	Schema     *schema.Agent
	Tools      map[string]*schema.Tool
	History    *history.History
	Completion model.Client
	Bus        bus.Bus
	Logger     telemetry.Logger
}

// Agent is the per-(client,agent) turn engine: the IAgent contract of spec
// §4.6. Execute calls are serialized per instance via mu, matching
// "Serialized per-agent" in the operation table. Run does not take mu; it
// only reads history.
type Agent struct {
	mu sync.Mutex

	clientID string
	name     string
	schema   *schema.Agent
	tools    map[string]*schema.Tool
	history  *history.History
	backend  model.Client
	bus      bus.Bus
	logger   telemetry.Logger

	agentChange *signal.Signal[string]
	toolCommit  *signal.Signal[string]
	toolError   *signal.Signal[string]
	toolStop    *signal.Signal[string]
	rescue      *signal.Signal[string]
	output      *signal.Signal[string]
}

// New constructs an Agent from opts. ClientID, Schema, History and
// Completion are required; Tools, Bus and Logger may be nil.
func New(opts Options) (*Agent, error) {
	if opts.ClientID == "" {
		return nil, errors.New("clientagent: clientId is required")
	}
	if opts.Schema == nil {
		return nil, errors.New("clientagent: schema is required")
	}
	if opts.History == nil {
		return nil, errors.New("clientagent: history is required")
	}
	if opts.Completion == nil {
		return nil, errors.New("clientagent: completion client is required")
	}
	return &Agent{
		clientID:    opts.ClientID,
		name:        opts.Schema.AgentName,
		schema:      opts.Schema,
		tools:       opts.Tools,
		history:     opts.History,
		backend:     opts.Completion,
		bus:         opts.Bus,
		logger:      opts.Logger,
		agentChange: signal.New[string](),
		toolCommit:  signal.New[string](),
		toolError:   signal.New[string](),
		toolStop:    signal.New[string](),
		rescue:      signal.New[string](),
		output:      signal.New[string](),
	}, nil
}

// Name returns the agent name this instance was constructed for.
func (a *Agent) Name() string { return a.name }

// WaitForOutput resolves with the next value published to the output
// signal.
func (a *Agent) WaitForOutput(ctx context.Context) (string, error) {
	return a.output.Wait(ctx)
}

// Execute runs one turn for incoming: append it to history, call the
// completion backend, validate, and either dispatch tool calls or emit
// output. Invalid output, a missing or rejected tool and a failing tool are
// handled by rescue; Execute returns an error only when rescue itself
// fails, when the completion backend returns an error, or when ctx ends
// while a tool call is pending.
func (a *Agent) Execute(ctx context.Context, incoming string, mode model.Mode) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := config.Get()
	a.history.Push(model.Message{
		Role:      model.RoleUser,
		AgentName: a.name,
		Mode:      mode,
		Content:   strings.TrimSpace(incoming),
	})

	resp, err := a.complete(ctx, cfg)
	if err != nil {
		return a.failFatal(ctx, "completion-failed", err.Error())
	}
	msg := a.mapMessage(cfg, resp.Content)

	if len(msg.ToolCalls) > 0 {
		return a.dispatchToolCalls(ctx, cfg, msg)
	}
	return a.emitOutput(ctx, cfg, msg.Content)
}

// Run is a stateless completion pass: it reads history but never mutates
// it. It returns the validated, transformed string, or "" if the model
// produced tool calls or the output failed validation (spec §4.6).
func (a *Agent) Run(ctx context.Context, incoming string) (string, error) {
	cfg := config.Get()
	system := a.systemPrompt(cfg)
	messages := a.history.ToArrayForAgent(a.name, a.schema.Prompt, system)
	messages = append(messages, model.Message{
		Role:      model.RoleUser,
		AgentName: a.name,
		Mode:      model.ModeUser,
		Content:   strings.TrimSpace(incoming),
	})

	req := &model.Request{
		ClientID:  a.clientID,
		AgentName: a.name,
		Messages:  messages,
		Tools:     a.toolDefinitions(),
		System:    system,
	}
	resp, err := a.backend.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	msg := a.mapMessage(cfg, resp.Content)
	if len(msg.ToolCalls) > 0 {
		return "", nil
	}
	content := a.sanitizeAndTransform(cfg, msg.Content)
	if reason := a.validateResult(cfg, content); reason != "" {
		return "", nil
	}
	return content, nil
}

// CommitUserMessage appends a user message without triggering completion.
func (a *Agent) CommitUserMessage(msg string, mode model.Mode) {
	a.history.Push(model.Message{Role: model.RoleUser, AgentName: a.name, Mode: mode, Content: msg})
}

// CommitAssistantMessage appends an assistant message without triggering
// completion.
func (a *Agent) CommitAssistantMessage(msg string) {
	a.history.Push(model.Message{Role: model.RoleAssistant, AgentName: a.name, Content: msg})
}

// CommitSystemMessage appends a system message.
func (a *Agent) CommitSystemMessage(msg string) {
	a.history.Push(model.Message{Role: model.RoleSystem, AgentName: a.name, Content: msg})
}

// CommitToolOutput appends a tool message referencing toolID and fires
// toolCommit, unblocking a dispatch loop racing on it.
func (a *Agent) CommitToolOutput(toolID, content string) {
	a.history.Push(model.Message{Role: model.RoleTool, AgentName: a.name, Content: content, ToolCallID: toolID})
	a.toolCommit.Fire(content)
}

// CommitFlush appends a flush marker, clearing downstream context for
// history filters, and emits a bus event.
func (a *Agent) CommitFlush() {
	a.history.Push(model.Message{Role: model.RoleFlush, AgentName: a.name})
	a.emitBus(context.Background(), "flush", nil)
}

// CommitAgentChange fires agentChange; a tool-call chain observing this
// signal halts further dispatches.
func (a *Agent) CommitAgentChange() { a.agentChange.Fire("") }

// CommitStopTools fires toolStop; same halting effect as CommitAgentChange.
func (a *Agent) CommitStopTools() { a.toolStop.Fire("") }

func (a *Agent) systemPrompt(cfg *config.Config) string {
	if cfg.AgentSystemPrompt != "" {
		return cfg.AgentSystemPrompt
	}
	return a.schema.System
}

func (a *Agent) complete(ctx context.Context, cfg *config.Config) (*model.Response, error) {
	system := a.systemPrompt(cfg)
	req := &model.Request{
		ClientID:  a.clientID,
		AgentName: a.name,
		Messages:  a.history.ToArrayForAgent(a.name, a.schema.Prompt, system),
		Tools:     a.toolDefinitions(),
		System:    system,
	}
	return a.backend.Complete(ctx, req)
}

func (a *Agent) toolDefinitions() []model.ToolDefinition {
	names := make([]string, 0, len(a.schema.Tools))
	for _, n := range a.schema.Tools {
		if _, ok := a.tools[n]; ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	defs := make([]model.ToolDefinition, 0, len(names))
	for _, n := range names {
		t := a.tools[n]
		defs = append(defs, model.ToolDefinition{Name: t.ToolName, Description: t.Description, InputSchema: t.Parameters})
	}
	return defs
}

func (a *Agent) mapMessage(cfg *config.Config, msg model.Message) model.Message {
	if a.schema.Map != nil {
		return a.schema.Map(msg)
	}
	if cfg.AgentOutputMap != nil {
		if mapped, ok := cfg.AgentOutputMap(a.name, msg).(model.Message); ok {
			return mapped
		}
	}
	return msg
}

func (a *Agent) sanitizeAndTransform(cfg *config.Config, raw string) string {
	out := raw
	for _, tag := range cfg.AgentDisallowedTags {
		if tag != "" {
			out = strings.ReplaceAll(out, tag, "")
		}
	}
	if len(cfg.AgentDisallowedSymbols) > 0 {
		out = stripSymbols(out, cfg.AgentDisallowedSymbols)
	}
	if a.schema.Transform != nil {
		return a.schema.Transform(out)
	}
	if cfg.AgentOutputTransform != nil {
		return cfg.AgentOutputTransform(a.name, out)
	}
	return out
}

func stripSymbols(s string, symbols []string) string {
	bad := make(map[rune]struct{})
	for _, sym := range symbols {
		for _, r := range sym {
			bad[r] = struct{}{}
		}
	}
	var b strings.Builder
	for _, r := range s {
		if _, ok := bad[r]; ok {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (a *Agent) validateResult(cfg *config.Config, content string) string {
	if a.schema.Validate != nil {
		return a.schema.Validate(content)
	}
	if cfg.AgentDefaultValidation != nil {
		return cfg.AgentDefaultValidation(content)
	}
	return ""
}

// emitOutput applies transform then validate, per spec §4.6. On success it
// appends the result to history as an assistant message and publishes it.
// On failure it performs exactly one rescue, which is itself responsible
// for publishing whatever content the chosen strategy produces.
func (a *Agent) emitOutput(ctx context.Context, cfg *config.Config, raw string) error {
	content := a.sanitizeAndTransform(cfg, raw)
	if reason := a.validateResult(cfg, content); reason == "" {
		a.history.Push(model.Message{Role: model.RoleAssistant, AgentName: a.name, Content: content})
		return a.publish(ctx, content)
	}
	return a.resurrect(ctx, cfg, "invalid model output")
}

func (a *Agent) publish(ctx context.Context, content string) error {
	a.output.Fire(content)
	if a.schema.Callbacks.OnOutput != nil {
		a.schema.Callbacks.OnOutput(ctx, a.clientID, content)
	}
	a.emitBus(ctx, "output", content)
	return nil
}

func (a *Agent) emitBus(ctx context.Context, typ string, output any) {
	if a.bus == nil {
		return
	}
	_ = a.bus.Emit(ctx, bus.Event{Source: bus.AgentBus, ClientID: a.clientID, Type: typ, Output: output, Context: a.name})
}

func (a *Agent) failFatal(ctx context.Context, kind, detail string) error {
	if a.logger != nil {
		a.logger.Error(ctx, "turn failed fatally", "clientId", a.clientID, "agentName", a.name, "kind", kind, "detail", detail)
	}
	return fmt.Errorf("clientagent: %s: clientId=%s agentName=%s: %s", kind, a.clientID, a.name, detail)
}

// dispatchToolCalls implements spec §4.6 step 3: normalize and truncate
// the calls, append the assistant message, then iterate sequentially,
// racing the tool body against the five terminal signals rather than
// awaiting it directly (spec §9, "coroutine-style tool calls" — a tool may
// itself drive execute on the same client, which would deadlock on the
// per-client queue if awaited here).
func (a *Agent) dispatchToolCalls(ctx context.Context, cfg *config.Config, msg model.Message) error {
	calls := normalizeToolCalls(msg.ToolCalls)
	if a.schema.MaxToolCalls > 0 && len(calls) > a.schema.MaxToolCalls {
		calls = calls[:a.schema.MaxToolCalls]
	}
	msg.ToolCalls = calls
	a.history.Push(msg)

	for i, call := range calls {
		dto := schema.ToolDTO{
			ToolID:    call.ID,
			ClientID:  a.clientID,
			AgentName: a.name,
			Params:    call.Function.Arguments,
			ToolCalls: calls,
			IsLast:    i == len(calls)-1,
		}

		tool, ok := a.tools[call.Function.Name]
		if !ok {
			return a.resurrect(ctx, cfg, "no target function")
		}

		if a.schema.Callbacks.OnBeforeCall != nil {
			a.schema.Callbacks.OnBeforeCall(ctx, dto)
		}

		valid := true
		if err := tool.ValidateParams(dto.Params); err != nil {
			valid = false
		}
		if valid && tool.Validate != nil {
			valid = tool.Validate(ctx, dto)
		}
		if tool.Callbacks.OnValidate != nil {
			tool.Callbacks.OnValidate(ctx, dto, valid)
		}
		if !valid {
			return a.resurrect(ctx, cfg, "validation failed")
		}

		go a.runTool(ctx, tool, dto)

		signalName, _, err := a.waitForToolSignal(ctx, cfg.ToolCallWatchdog)
		if err != nil {
			return a.failFatal(ctx, "tool-wait-cancelled", err.Error())
		}

		switch signalName {
		case "toolCommit":
			continue
		case "toolError":
			return a.resurrect(ctx, cfg, "function call failed")
		case "agentChange", "toolStop", "rescue":
			a.afterToolCalls(ctx)
			return nil
		}
	}

	a.afterToolCalls(ctx)
	return nil
}

func (a *Agent) afterToolCalls(ctx context.Context) {
	if a.schema.Callbacks.OnAfterToolCalls != nil {
		a.schema.Callbacks.OnAfterToolCalls(ctx, a.clientID)
	}
}

func (a *Agent) runTool(ctx context.Context, tool *schema.Tool, dto schema.ToolDTO) {
	content, err := tool.Call(ctx, dto)
	if err != nil {
		a.toolError.Fire(err.Error())
		return
	}
	a.history.Push(model.Message{Role: model.RoleTool, AgentName: a.name, Content: content, ToolCallID: dto.ToolID})
	a.toolCommit.Fire(content)
}

type signalResult struct {
	name string
	val  string
}

// waitForToolSignal races the five terminal signals plus a watchdog timer
// that, on elapse with nothing observed, logs a warning and keeps waiting
// (spec §4.6/§5 — the watchdog never cancels the tool itself).
func (a *Agent) waitForToolSignal(ctx context.Context, watchdog time.Duration) (string, string, error) {
	named := map[string]*signal.Signal[string]{
		"agentChange": a.agentChange,
		"toolCommit":  a.toolCommit,
		"toolError":   a.toolError,
		"toolStop":    a.toolStop,
		"rescue":      a.rescue,
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan signalResult, len(named))
	for name, sig := range named {
		name, sig := name, sig
		go func() {
			v, err := sig.Wait(raceCtx)
			if err != nil {
				return
			}
			select {
			case results <- signalResult{name: name, val: v}:
			case <-raceCtx.Done():
			}
		}()
	}

	if watchdog <= 0 {
		watchdog = config.Default().ToolCallWatchdog
	}
	timer := time.NewTimer(watchdog)
	defer timer.Stop()

	for {
		select {
		case r := <-results:
			return r.name, r.val, nil
		case <-timer.C:
			if a.logger != nil {
				a.logger.Warn(ctx, "tool call watchdog elapsed without a terminal signal", "clientId", a.clientID, "agentName", a.name)
			}
			timer.Reset(watchdog)
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
}

// resurrect implements the three rescue strategies of spec §4.6. Every
// strategy fires rescue and OnResurrect, then re-transforms and
// re-validates whatever content it produced (spec §4.6's emitOutput
// contract: "rescue once; re-transform; re-validate; if still invalid,
// fail with a fatal error naming the validation message") before
// publishing. A rescue that is itself still invalid never gets a second
// rescue attempt — it surfaces as a *RescueFailedError instead.
func (a *Agent) resurrect(ctx context.Context, cfg *config.Config, reason string) error {
	var raw string

	switch cfg.ResqueStrategy {
	case config.ResqueRecomplete:
		a.history.Push(model.Message{Role: model.RoleResque, AgentName: a.name})
		a.history.Push(model.Message{
			Role: model.RoleUser, AgentName: a.name, Mode: model.ModeTool,
			Content: cfg.ToolCallExceptionRecompletePrompt,
		})
		resp, err := a.complete(ctx, cfg)
		if err != nil {
			return a.failFatal(ctx, "rescue-failed", err.Error())
		}
		msg := a.mapMessage(cfg, resp.Content)
		raw = msg.Content

	case config.ResqueCustom:
		fn, ok := config.ResqueFunction(cfg.ToolCallExceptionCustomFunction)
		if !ok {
			return a.failFatal(ctx, "rescue-failed", "no custom resque function registered: "+cfg.ToolCallExceptionCustomFunction)
		}
		raw = fn(ctx, a.clientID, reason)

	default: // config.ResqueFlush
		a.history.Push(model.Message{Role: model.RoleResque, AgentName: a.name})
		a.history.Push(model.Message{
			Role: model.RoleUser, AgentName: a.name, Mode: model.ModeTool,
			Content: cfg.ToolCallExceptionFlushPrompt,
		})
		raw = randomPlaceholder(cfg.EmptyOutputPlaceholders)
	}

	a.rescue.Fire(reason)
	if a.schema.Callbacks.OnResurrect != nil {
		a.schema.Callbacks.OnResurrect(ctx, a.clientID, reason)
	}

	content := a.sanitizeAndTransform(cfg, raw)
	if msg := a.validateResult(cfg, content); msg != "" {
		err := &RescueFailedError{AgentName: a.name, ClientID: a.clientID, ValidationMessage: msg}
		if a.logger != nil {
			a.logger.Error(ctx, "turn failed fatally", "clientId", a.clientID, "agentName", a.name, "kind", "rescue-failed", "detail", msg)
		}
		return err
	}
	return a.publish(ctx, content)
}

func normalizeToolCalls(calls []model.ToolCall) []model.ToolCall {
	out := make([]model.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Type == "" {
			c.Type = "function"
		}
		out[i] = c
	}
	return out
}

func randomPlaceholder(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[rand.IntN(len(options))]
}
