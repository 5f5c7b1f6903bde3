// Package schema implements the process-global, immutable-by-replace
// registries described in spec §4.3: one per entity kind (agent, tool,
// swarm, completion, embedding, storage, state), each keyed by its unique
// name. Registration is additive — name-collision policing is a validation
// concern (runtime/validate), not the registry's — mirroring the teacher's
// split between its DSL-time expr registries and runtime-time validation.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/agentswarm/runtime/model"
	"goa.design/agentswarm/runtime/persist"
)

type (
	// ToolDTO is the payload passed to a tool's Call/Validate functions.
	ToolDTO struct {
		ToolID    string
		ClientID  string
		AgentName string
		Params    any
		ToolCalls []model.ToolCall
		IsLast    bool
	}

	// AgentCallbacks are optional lifecycle hooks invoked by the turn engine.
	AgentCallbacks struct {
		OnBeforeCall    func(ctx context.Context, dto ToolDTO)
		OnAfterToolCalls func(ctx context.Context, clientID string)
		OnOutput        func(ctx context.Context, clientID, result string)
		OnResurrect     func(ctx context.Context, clientID, reason string)
	}

	// Agent is the registered schema for one agent. Completion, Tools,
	// Storages, States, and DependsOn are names resolved against their own
	// registries at validation/connection time.
	Agent struct {
		AgentName    string
		Completion   string
		Prompt       string
		System       string
		Tools        []string
		Storages     []string
		States       []string
		DependsOn    []string
		MaxToolCalls int

		// Validate reports a non-empty failure reason when result is not an
		// acceptable final output; empty string means valid.
		Validate func(result string) string

		// Transform maps a raw completion content string into the
		// candidate output string before validation.
		Transform func(content string) string

		// Map adapts a raw provider Message into the canonical shape (e.g.
		// normalizing JSON-encoded tool calls into ToolCalls).
		Map func(msg model.Message) model.Message

		Callbacks AgentCallbacks
	}

	// ToolCallbacks are optional lifecycle hooks for a tool.
	ToolCallbacks struct {
		OnValidate func(ctx context.Context, dto ToolDTO, ok bool)
	}

	// Tool is the registered schema for one tool.
	Tool struct {
		ToolName    string
		Description string

		// Parameters is a JSON Schema document (map[string]any or
		// json.RawMessage) describing the tool's call arguments. Nil means
		// no schema-level validation runs; ValidateParams always passes.
		Parameters any

		// Call executes the tool body. It must not be awaited directly by
		// the turn engine (spec §4.6); see clientagent for the race.
		Call func(ctx context.Context, dto ToolDTO) (string, error)

		// Validate reports whether dto is acceptable before Call runs, in
		// addition to (and after) the Parameters schema check.
		Validate func(ctx context.Context, dto ToolDTO) bool

		Callbacks ToolCallbacks

		schemaOnce sync.Once
		compiled   *jsonschema.Schema
		schemaErr  error
	}

	// SwarmCallbacks are optional lifecycle hooks for a swarm.
	SwarmCallbacks struct {
		OnAgentChanged func(ctx context.Context, clientID, agentName string)
	}

	// Swarm is the registered schema for one swarm.
	Swarm struct {
		SwarmName    string
		DefaultAgent string
		AgentList    []string
		Callbacks    SwarmCallbacks
	}

	// Completion is the registered schema wrapping a model.Client under a
	// unique name so agents can reference completions by name.
	Completion struct {
		CompletionName string
		Client         model.Client
	}

	// Embedding is the registered schema for a named embedding backend.
	Embedding struct {
		EmbeddingName string
		Client        EmbeddingClient
	}

	// EmbeddingClient computes vector embeddings and similarity scores for
	// storage search. Declared here rather than in its own package to avoid
	// a schema<->embedding import cycle; concrete adapters live under
	// runtime/embedding.
	EmbeddingClient interface {
		Embed(ctx context.Context, text string) ([]float32, error)
		Similarity(a, b []float32) float32
	}

	// Storage is the registered schema for a named storage collection.
	// Shared=true means one instance per swarm; otherwise one per client.
	// Embedding names the EmbeddingClient used for similarity search; empty
	// means the storage supports append/list/remove only.
	Storage struct {
		StorageName string
		Shared      bool
		Embedding   string
		Adapter     persist.List
	}

	// State is the registered schema for a named state slot.
	State struct {
		StateName string
		Shared    bool
		Adapter   persist.Value
		Default   any
	}
)

// ValidateParams checks dto.Params (already decoded into Go values, e.g. a
// map[string]any parsed from the model's tool-call arguments) against t's
// Parameters JSON Schema document, compiled once on first use. A nil
// Parameters is a no-op. Grounded on the teacher's MCP tool-payload
// validation in registry/service.go, which compiles a schema document with
// the same jsonschema/v6 AddResource/Compile/Validate sequence.
func (t *Tool) ValidateParams(params any) error {
	if t.Parameters == nil {
		return nil
	}
	t.schemaOnce.Do(func() {
		var doc any
		switch p := t.Parameters.(type) {
		case json.RawMessage:
			t.schemaErr = json.Unmarshal(p, &doc)
		case []byte:
			t.schemaErr = json.Unmarshal(p, &doc)
		default:
			doc = p
		}
		if t.schemaErr != nil {
			return
		}
		c := jsonschema.NewCompiler()
		resource := t.ToolName + ".json"
		if resource == ".json" {
			resource = "tool.json"
		}
		if err := c.AddResource(resource, doc); err != nil {
			t.schemaErr = fmt.Errorf("schema: add resource: %w", err)
			return
		}
		compiled, err := c.Compile(resource)
		if err != nil {
			t.schemaErr = fmt.Errorf("schema: compile: %w", err)
			return
		}
		t.compiled = compiled
	})
	if t.schemaErr != nil {
		return t.schemaErr
	}
	return t.compiled.Validate(params)
}

// Registry is a generic name -> schema registry, additive-only.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewRegistry constructs an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Register stores schema under name, replacing any prior entry. The
// registry itself never rejects a duplicate name; validate.* services are
// responsible for treating re-registration as an error where the spec
// requires it.
func (r *Registry[T]) Register(name string, schema T) string {
	r.mu.Lock()
	r.items[name] = schema
	r.mu.Unlock()
	return name
}

// Get returns the schema registered under name and whether it exists.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[name]
	return v, ok
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns every registered name, order unspecified.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for k := range r.items {
		out = append(out, k)
	}
	return out
}

// Registries bundles one Registry per entity kind. The process-global
// instance lives in the facade package; components that need look-ups take
// a *Registries explicitly rather than reaching for globals themselves, to
// keep this package free of init-order surprises.
type Registries struct {
	Agents      *Registry[*Agent]
	Tools       *Registry[*Tool]
	Swarms      *Registry[*Swarm]
	Completions *Registry[*Completion]
	Embeddings  *Registry[*Embedding]
	Storages    *Registry[*Storage]
	States      *Registry[*State]
}

// New constructs an empty set of registries, one per entity kind.
func New() *Registries {
	return &Registries{
		Agents:      NewRegistry[*Agent](),
		Tools:       NewRegistry[*Tool](),
		Swarms:      NewRegistry[*Swarm](),
		Completions: NewRegistry[*Completion](),
		Embeddings:  NewRegistry[*Embedding](),
		Storages:    NewRegistry[*Storage](),
		States:      NewRegistry[*State](),
	}
}
