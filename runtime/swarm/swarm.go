// Package swarm implements the client swarm controller of spec §4.7: it
// tracks the active agent for one client, maintains a navigation stack for
// back-navigation, and exposes waitForOutput/cancelOutput so a session can
// block on whichever agent currently owns the conversation. Agents hold no
// back-reference to their swarm (spec §9) — all transitions are signaled,
// never pointer-walked.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"goa.design/agentswarm/runtime/bus"
	"goa.design/agentswarm/runtime/config"
	"goa.design/agentswarm/runtime/model"
	"goa.design/agentswarm/runtime/persist"
	"goa.design/agentswarm/runtime/schema"
	"goa.design/agentswarm/runtime/signal"
	"goa.design/agentswarm/runtime/telemetry"
)

// Agent is the subset of clientagent.Agent the swarm depends on. Declared
// here rather than imported so swarm stays decoupled from the turn
// engine's concrete type — any IAgent-shaped implementation works.
type Agent interface {
	Name() string
	WaitForOutput(ctx context.Context) (string, error)
	Execute(ctx context.Context, incoming string, mode model.Mode) error
	Run(ctx context.Context, incoming string) (string, error)
	CommitUserMessage(msg string, mode model.Mode)
	CommitAssistantMessage(msg string)
	CommitSystemMessage(msg string)
	CommitToolOutput(toolID, content string)
	CommitFlush()
	CommitAgentChange()
	CommitStopTools()
}

// Options configures one Swarm instance, built once per (clientId,
// swarmName) by the connection layer (spec §4.9).
type Options struct {
	ClientID    string
	Schema      *schema.Swarm
	ActiveStore persist.Value
	NavStack    persist.List
	Bus         bus.Bus
	Logger      telemetry.Logger
}

type activeAgentDoc struct {
	AgentName string `json:"agentName"`
}

// Swarm tracks the active agent for one client and the navigation stack of
// previously active agents.
type Swarm struct {
	mu sync.Mutex

	clientID    string
	schema      *schema.Swarm
	activeStore persist.Value
	navStack    persist.List
	bus         bus.Bus
	logger      telemetry.Logger

	agentMap       map[string]Agent
	activeAgent    string
	activeAgentRef Agent

	agentChanged *signal.Signal[string]
	cancelSignal *signal.Signal[string]
}

// New constructs a Swarm, hydrating the active agent name from ActiveStore
// if one was persisted from a prior session.
func New(ctx context.Context, opts Options) (*Swarm, error) {
	if opts.ClientID == "" {
		return nil, errors.New("swarm: clientId is required")
	}
	if opts.Schema == nil {
		return nil, errors.New("swarm: schema is required")
	}

	defaultAgent := opts.Schema.DefaultAgent
	if override := config.Get().SwarmDefaultAgent; override != "" {
		defaultAgent = override
	}

	s := &Swarm{
		clientID:     opts.ClientID,
		schema:       opts.Schema,
		activeStore:  opts.ActiveStore,
		navStack:     opts.NavStack,
		bus:          opts.Bus,
		logger:       opts.Logger,
		agentMap:     make(map[string]Agent),
		activeAgent:  defaultAgent,
		agentChanged: signal.New[string](),
		cancelSignal: signal.New[string](),
	}

	if opts.ActiveStore != nil {
		var doc activeAgentDoc
		ok, err := opts.ActiveStore.Get(ctx, s.activeKey(), &doc)
		if err != nil {
			return nil, fmt.Errorf("swarm: load active agent: %w", err)
		}
		if ok && doc.AgentName != "" {
			s.activeAgent = doc.AgentName
		}
	}
	return s, nil
}

func (s *Swarm) activeKey() string { return key("_swarm_active_agent", s.schema.SwarmName, s.clientID) }
func (s *Swarm) navKey() string    { return key("_swarm_navigation_stack", s.schema.SwarmName, s.clientID) }

func key(parts ...string) string { return strings.Join(parts, "/") }

func (s *Swarm) inAgentList(name string) bool {
	for _, a := range s.schema.AgentList {
		if a == name {
			return true
		}
	}
	return false
}

// GetAgent returns the current active agent instance, or an error if no
// instance has been registered yet for the active agent name (SetAgentRef
// has not yet run for it).
func (s *Swarm) GetAgent() (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeAgentRef == nil {
		return nil, fmt.Errorf("swarm: no agent instance registered for active agent %q", s.activeAgent)
	}
	return s.activeAgentRef, nil
}

// GetAgentName returns the name of the current active agent.
func (s *Swarm) GetAgentName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAgent
}

// SetAgentRef registers a concrete agent instance for name, produced by the
// connection layer's AgentConnection. It fails if name is not a member of
// the swarm schema's agentList. If name is the (possibly persisted)
// current active agent, this call also hydrates the live reference without
// treating it as a navigation (no stack push, no signals).
func (s *Swarm) SetAgentRef(name string, agent Agent) error {
	if !s.inAgentList(name) {
		return fmt.Errorf("swarm: agent %q is not a member of swarm %q", name, s.schema.SwarmName)
	}
	s.mu.Lock()
	s.agentMap[name] = agent
	if s.activeAgent == name {
		s.activeAgentRef = agent
	}
	s.mu.Unlock()
	return nil
}

// SetAgentName performs an atomic navigate-to: the prior active agent (if
// any, and if different) is pushed onto the navigation stack, then name
// becomes active. Fires onAgentChanged, a bus event, and cancelOutput so
// any outstanding waitForOutput unblocks with the empty string (spec §3
// invariant 5).
func (s *Swarm) SetAgentName(ctx context.Context, name string) error {
	if !s.inAgentList(name) {
		return fmt.Errorf("swarm: agent %q is not a member of swarm %q", name, s.schema.SwarmName)
	}

	s.mu.Lock()
	prior := s.activeAgent
	s.mu.Unlock()

	if prior != "" && prior != name && s.navStack != nil {
		if err := s.navStack.Push(ctx, s.navKey(), prior); err != nil {
			return fmt.Errorf("swarm: push navigation stack: %w", err)
		}
	}
	return s.activate(ctx, name)
}

// NavigationPop pops the navigation stack and makes the popped agent
// active, or the swarm's default agent if the stack was empty.
func (s *Swarm) NavigationPop(ctx context.Context) (string, error) {
	target := s.schema.DefaultAgent
	if s.navStack != nil {
		var popped string
		ok, err := s.navStack.Pop(ctx, s.navKey(), &popped)
		if err != nil {
			return "", fmt.Errorf("swarm: pop navigation stack: %w", err)
		}
		if ok && popped != "" {
			target = popped
		}
	}
	if err := s.activate(ctx, target); err != nil {
		return "", err
	}
	return target, nil
}

// activate is the shared tail of SetAgentName and NavigationPop: update
// in-memory and persisted active-agent state, then fire the change
// signals. It does not touch the navigation stack.
func (s *Swarm) activate(ctx context.Context, name string) error {
	s.mu.Lock()
	outgoing := s.activeAgentRef
	agent, hasRef := s.agentMap[name]
	s.activeAgent = name
	if hasRef {
		s.activeAgentRef = agent
	} else {
		s.activeAgentRef = nil
	}
	s.mu.Unlock()

	if s.activeStore != nil {
		if err := s.activeStore.Set(ctx, s.activeKey(), activeAgentDoc{AgentName: name}); err != nil {
			return fmt.Errorf("swarm: persist active agent: %w", err)
		}
	}

	if s.schema.Callbacks.OnAgentChanged != nil {
		s.schema.Callbacks.OnAgentChanged(ctx, s.clientID, name)
	} else if fnName := config.Get().SwarmAgentChangedFunction; fnName != "" {
		if fn, ok := config.SwarmAgentChangedFunc(fnName); ok {
			fn(ctx, s.clientID, name)
		}
	}
	if s.bus != nil {
		_ = s.bus.Emit(ctx, bus.Event{Source: bus.SwarmBus, ClientID: s.clientID, Type: "agent-changed", Output: name})
	}
	s.agentChanged.Fire(name)
	s.cancelSignal.Fire("")
	// Agents hold no back-reference to the swarm (spec §9); the outgoing
	// agent learns of the transition only through this signal, which
	// unblocks its tool-dispatch loop if one is mid-flight.
	if outgoing != nil && outgoing != s.activeAgentRef {
		outgoing.CommitAgentChange()
	}
	return nil
}

// CancelOutput publishes the empty string to the cancelOutput signal,
// short-circuiting any outstanding WaitForOutput call.
func (s *Swarm) CancelOutput() { s.cancelSignal.Fire("") }

// WaitForOutput waits on whichever resolves first: the active agent's
// output signal, or cancelOutput (which resolves to ""). If the active
// agent changes while waiting, it re-subscribes to the new active agent
// instead of returning.
func (s *Swarm) WaitForOutput(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		agent := s.activeAgentRef
		s.mu.Unlock()
		if agent == nil {
			return "", fmt.Errorf("swarm: no agent instance registered for active agent %q", s.GetAgentName())
		}

		raceCtx, cancel := context.WithCancel(ctx)
		type outcome struct {
			source string
			val    string
			err    error
		}
		results := make(chan outcome, 3)

		go func() {
			v, err := agent.WaitForOutput(raceCtx)
			select {
			case results <- outcome{"output", v, err}:
			case <-raceCtx.Done():
			}
		}()
		go func() {
			v, err := s.cancelSignal.Wait(raceCtx)
			select {
			case results <- outcome{"cancel", v, err}:
			case <-raceCtx.Done():
			}
		}()
		go func() {
			_, err := s.agentChanged.Wait(raceCtx)
			select {
			case results <- outcome{"changed", "", err}:
			case <-raceCtx.Done():
			}
		}()

		r := <-results
		cancel()

		switch r.source {
		case "changed":
			continue
		case "cancel":
			return "", nil
		default:
			return r.val, r.err
		}
	}
}
