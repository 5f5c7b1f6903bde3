// Package connection implements the memoized connection-services layer of
// spec §4.9: factories that build, once per (clientId, name), the client
// agent/history/swarm/session instances the rest of the runtime depends on,
// with refcounted disposal so a session teardown releases everything it
// alone was holding open. Grounded on the teacher's runtime.go Runtime
// registry, which memoizes workflow/activity instances the same way.
package connection

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"goa.design/agentswarm/runtime/bus"
	"goa.design/agentswarm/runtime/clientagent"
	"goa.design/agentswarm/runtime/config"
	"goa.design/agentswarm/runtime/history"
	"goa.design/agentswarm/runtime/model"
	"goa.design/agentswarm/runtime/persist"
	"goa.design/agentswarm/runtime/schema"
	"goa.design/agentswarm/runtime/session"
	"goa.design/agentswarm/runtime/swarm"
	"goa.design/agentswarm/runtime/telemetry"
	"goa.design/agentswarm/runtime/validate"
)

// entry is one memoized value plus the number of live holders.
type entry[T any] struct {
	value T
	refs  int
}

// memo is a generic, refcounted, key-addressed memoization cache (spec §4.9,
// "memoized factories... with refcounted disposal").
type memo[T any] struct {
	mu    sync.Mutex
	items map[string]*entry[T]
}

func newMemo[T any]() *memo[T] { return &memo[T]{items: make(map[string]*entry[T])} }

func (m *memo[T]) getOrCreate(key string, build func() (T, error)) (T, error) {
	m.mu.Lock()
	if e, ok := m.items[key]; ok {
		e.refs++
		v := e.value
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	v, err := build()
	if err != nil {
		var zero T
		return zero, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[key]; ok {
		// another caller built the same key while build() ran; keep theirs.
		e.refs++
		return e.value, nil
	}
	m.items[key] = &entry[T]{value: v, refs: 1}
	return v, nil
}

func (m *memo[T]) peek(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

// release decrements key's refcount, deleting the entry once it reaches
// zero. It reports the value and whether this call was the one that deleted
// it, so the caller can run teardown logic exactly once.
func (m *memo[T]) release(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		var zero T
		return zero, false
	}
	e.refs--
	if e.refs <= 0 {
		delete(m.items, key)
		return e.value, true
	}
	return e.value, false
}

// clear removes key unconditionally, ignoring refcount, matching spec §4.9's
// "the memo cache supports explicit eviction (clear(key))".
func (m *memo[T]) clear(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		var zero T
		return zero, false
	}
	delete(m.items, key)
	return e.value, true
}

func agentKey(clientID, agentName string) string { return clientID + "-" + agentName }
func swarmKey(clientID, swarmName string) string { return clientID + "-" + swarmName }

// Options configures one Services instance. ActiveStore and NavStack back
// every swarm's active-agent/navigation-stack persistence; the facade
// chooses the concrete adapter (fsadapter by default, per spec §6).
type Options struct {
	Registries    *schema.Registries
	AgentValidate *validate.Agents
	SwarmValidate *validate.Swarms
	Sessions      *validate.Sessions
	Bus           bus.Bus
	Logger        telemetry.Logger
	ActiveStore   persist.Value
	NavStack      persist.List
}

// Services is the memoization layer of spec §4.9, bundling every connection
// factory the public facade needs.
type Services struct {
	registries    *schema.Registries
	agentValidate *validate.Agents
	swarmValidate *validate.Swarms
	sessions      *validate.Sessions
	bus           bus.Bus
	logger        telemetry.Logger
	activeStore   persist.Value
	navStack      persist.List

	histories *memo[*history.History]
	agents    *memo[*clientagent.Agent]
	swarms    *memo[*swarm.Swarm]
	sess      *memo[*session.Session]
	storages  *memo[*Storage]
	states    *memo[*State]

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New constructs a Services bundle. Registries, AgentValidate, and
// SwarmValidate are required.
func New(opts Options) *Services {
	return &Services{
		registries:    opts.Registries,
		agentValidate: opts.AgentValidate,
		swarmValidate: opts.SwarmValidate,
		sessions:      opts.Sessions,
		bus:           opts.Bus,
		logger:        opts.Logger,
		activeStore:   opts.ActiveStore,
		navStack:      opts.NavStack,
		histories:     newMemo[*history.History](),
		agents:        newMemo[*clientagent.Agent](),
		swarms:        newMemo[*swarm.Swarm](),
		sess:          newMemo[*session.Session](),
		storages:      newMemo[*Storage](),
		states:        newMemo[*State](),
		limiters:      make(map[string]*rate.Limiter),
	}
}

// GetHistory returns the memoized History for (clientID, agentName),
// constructing it on first use from the process config's KeepMessages and
// AgentHistoryFilter overrides.
func (s *Services) GetHistory(clientID, agentName string) (*history.History, error) {
	return s.histories.getOrCreate(agentKey(clientID, agentName), func() (*history.History, error) {
		cfg := config.Get()
		opts := []history.Option{history.WithKeepLast(cfg.KeepMessages)}
		if cfg.AgentHistoryFilter != nil {
			opts = append(opts, history.WithFilter(adaptHistoryFilter(cfg.AgentHistoryFilter)))
		}
		return history.New(opts...), nil
	})
}

// adaptHistoryFilter wraps a config.Config.AgentHistoryFilter (expressed
// over the import-cycle-avoiding HistoryFilterInput view) as a
// history.Filter over model.Message.
func adaptHistoryFilter(fn func(agentName string, msgs []config.HistoryFilterInput) []config.HistoryFilterInput) history.Filter {
	return func(agentName string, messages []model.Message) []model.Message {
		in := make([]config.HistoryFilterInput, len(messages))
		for i, m := range messages {
			in[i] = config.HistoryFilterInput{Role: string(m.Role), AgentName: m.AgentName, Content: m.Content}
		}
		kept := fn(agentName, in)
		out := make([]model.Message, 0, len(kept))
		// positional re-association: the filter is expected to return a
		// subsequence of in, so match by content+role+agentName in order.
		cursor := 0
		for _, k := range kept {
			for cursor < len(messages) {
				m := messages[cursor]
				cursor++
				if string(m.Role) == k.Role && m.AgentName == k.AgentName && m.Content == k.Content {
					out = append(out, m)
					break
				}
			}
		}
		return out
	}
}

// rateLimitedClient wraps a model.Client with a per-client token-bucket
// limiter (spec §5, "per-client completion calls are throttled").
type rateLimitedClient struct {
	backend model.Client
	limiter *rate.Limiter
}

func (r *rateLimitedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return r.backend.Complete(ctx, req)
}

func (s *Services) limiterFor(clientID string) *rate.Limiter {
	rps := config.Get().ClientRateLimitPerSecond
	if rps <= 0 {
		return nil
	}
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	lim, ok := s.limiters[clientID]
	if !ok {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
		s.limiters[clientID] = lim
	}
	return lim
}

// GetAgent implements spec §4.9's getAgent(clientId, agentName): resolve the
// agent schema, its completion and tools, its history, and construct the
// turn engine, marking session usage so validation can later enforce
// "only registered storages/states".
func (s *Services) GetAgent(ctx context.Context, clientID, agentName string) (*clientagent.Agent, error) {
	return s.agents.getOrCreate(agentKey(clientID, agentName), func() (*clientagent.Agent, error) {
		if err := s.agentValidate.Validate(agentName, "connection.getAgent"); err != nil {
			return nil, err
		}
		agentSchema, _ := s.registries.Agents.Get(agentName)
		completionSchema, _ := s.registries.Completions.Get(agentSchema.Completion)

		tools := make(map[string]*schema.Tool, len(agentSchema.Tools))
		for _, name := range agentSchema.Tools {
			t, ok := s.registries.Tools.Get(name)
			if !ok {
				return nil, fmt.Errorf("connection: getAgent %q: tool %q not registered", agentName, name)
			}
			tools[name] = t
		}

		hist, err := s.GetHistory(clientID, agentName)
		if err != nil {
			return nil, err
		}

		var backend model.Client = completionSchema.Client
		if lim := s.limiterFor(clientID); lim != nil {
			backend = &rateLimitedClient{backend: backend, limiter: lim}
		}

		logger := s.logger
		if fnName := config.Get().GetClientLoggerAdapterFunction; fnName != "" {
			if fn, ok := config.GetClientLoggerAdapterFunc(fnName); ok {
				if adapted := fn(clientID); adapted != nil {
					logger = adapted
				}
			}
		}

		a, err := clientagent.New(clientagent.Options{
			ClientID:   clientID,
			Schema:     agentSchema,
			Tools:      tools,
			History:    hist,
			Completion: backend,
			Bus:        s.bus,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}

		if s.sessions != nil {
			s.sessions.UseAgent(clientID, agentName)
			s.sessions.UseHistory(clientID, agentName)
			for _, st := range agentSchema.Storages {
				s.sessions.UseStorage(clientID, st)
			}
			for _, st := range agentSchema.States {
				s.sessions.UseState(clientID, st)
			}
		}
		return a, nil
	})
}

// GetSwarm implements spec §4.9's getSwarm: resolve the swarm schema,
// construct the controller, and eagerly hydrate every member agent so
// getAgent() resolves immediately after the swarm is built (spec §4.7's
// SetAgentRef/hydration step).
func (s *Services) GetSwarm(ctx context.Context, clientID, swarmName string) (*swarm.Swarm, error) {
	return s.swarms.getOrCreate(swarmKey(clientID, swarmName), func() (*swarm.Swarm, error) {
		if err := s.swarmValidate.Validate(swarmName, "connection.getSwarm"); err != nil {
			return nil, err
		}
		swarmSchema, _ := s.registries.Swarms.Get(swarmName)

		sw, err := swarm.New(ctx, swarm.Options{
			ClientID:    clientID,
			Schema:      swarmSchema,
			ActiveStore: s.activeStore,
			NavStack:    s.navStack,
			Bus:         s.bus,
			Logger:      s.logger,
		})
		if err != nil {
			return nil, err
		}

		for _, name := range swarmSchema.AgentList {
			agent, err := s.GetAgent(ctx, clientID, name)
			if err != nil {
				return nil, err
			}
			if err := sw.SetAgentRef(name, agent); err != nil {
				return nil, err
			}
		}
		return sw, nil
	})
}

// swarmAsSessionSwarm adapts *swarm.Swarm to session.Swarm. The two
// packages declare independent local interfaces for the same shape
// (spec §9, "agents hold no back-reference" decoupling), so GetAgent's
// declared return type differs by name (swarm.Agent vs session.Agent) even
// though swarm.Agent's method set is a superset of session.Agent's; Go
// requires a wrapper to re-type the return value at the boundary.
type swarmAsSessionSwarm struct {
	*swarm.Swarm
}

func (w swarmAsSessionSwarm) GetAgent() (session.Agent, error) {
	a, err := w.Swarm.GetAgent()
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetSession implements spec §4.9's getSession: bind the client to swarmName
// under sessionMode (first bind wins; a later call with a different
// swarmName is rejected by validate.Sessions per spec §3 invariant 1), then
// construct the Session wrapping the memoized Swarm.
func (s *Services) GetSession(ctx context.Context, clientID, swarmName, sessionMode string) (*session.Session, error) {
	return s.sess.getOrCreate(clientID, func() (*session.Session, error) {
		if s.sessions != nil {
			if err := s.sessions.Bind(clientID, swarmName, sessionMode); err != nil {
				return nil, err
			}
		}
		sw, err := s.GetSwarm(ctx, clientID, swarmName)
		if err != nil {
			return nil, err
		}
		return session.New(clientID, swarmAsSessionSwarm{sw}, s.bus), nil
	})
}

// Dispose tears down the connection services memoized for clientID: the
// session itself, its swarm, and every agent/history the swarm's schema
// named, releasing one reference each (spec §4.9, "disposal clears the memo
// entry"; spec §3 invariant 8, a subsequent getAgent after dispose returns a
// new instance). Storages and states obtained through GetStorage/GetState
// are not released.
func (s *Services) Dispose(clientID, swarmName string) {
	if sess, ok := s.sess.clear(clientID); ok {
		sess.Dispose()
	}
	if s.sessions != nil {
		s.sessions.Dispose(clientID)
	}

	swarmSchema, hasSchema := s.registries.Swarms.Get(swarmName)
	s.swarms.release(swarmKey(clientID, swarmName))
	if !hasSchema {
		return
	}
	for _, name := range swarmSchema.AgentList {
		if _, done := s.agents.release(agentKey(clientID, name)); done {
			if hist, ok := s.histories.release(agentKey(clientID, name)); ok {
				hist.Dispose()
			}
		}
	}
}
