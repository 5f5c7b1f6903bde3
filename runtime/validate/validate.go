// Package validate implements the cross-reference validation services of
// spec §4.4: registration-time schema validation (does this agent's
// completion/tools/storages/states all exist) and session-time usage
// tracking (is this client's swarm/session-mode consistent, has it only
// touched registered storages/states). Grounded on the teacher's
// validation-by-traversal style (runtime/agent/runtime package's schema
// cross-checks) generalized to the spec's five entity kinds.
package validate

import (
	"fmt"
	"sync"

	"goa.design/agentswarm/runtime/schema"
)

// Error is returned by every Validate call; it always carries the failing
// entity's name and the caller-supplied source label so the public facade
// can surface a precise message (spec §7, schema-not-found).
type Error struct {
	Name   string
	Source string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %q invalid: %s", e.Source, e.Name, e.Reason)
}

func notFound(kind, name, source string) error {
	return &Error{Name: name, Source: source, Reason: kind + " not registered"}
}

// Agents validates agent schemas against the rest of the registries.
type Agents struct {
	reg *schema.Registries
}

// NewAgents constructs an Agents validator over reg.
func NewAgents(reg *schema.Registries) *Agents { return &Agents{reg: reg} }

// Validate requires name to be a registered agent whose completion, tools,
// storages, and states all exist. source labels the caller for error
// messages.
func (v *Agents) Validate(name, source string) error {
	a, ok := v.reg.Agents.Get(name)
	if !ok {
		return notFound("agent", name, source)
	}
	if !v.reg.Completions.Has(a.Completion) {
		return notFound("completion", a.Completion, source)
	}
	for _, t := range a.Tools {
		if !v.reg.Tools.Has(t) {
			return notFound("tool", t, source)
		}
	}
	for _, s := range a.Storages {
		if !v.reg.Storages.Has(s) {
			return notFound("storage", s, source)
		}
	}
	for _, s := range a.States {
		if !v.reg.States.Has(s) {
			return notFound("state", s, source)
		}
	}
	return nil
}

// Swarms validates swarm schemas: defaultAgent must be a member of
// agentList, and every listed agent must itself validate.
type Swarms struct {
	reg   *schema.Registries
	agent *Agents
}

// NewSwarms constructs a Swarms validator over reg, reusing agent for
// per-agent validation.
func NewSwarms(reg *schema.Registries, agent *Agents) *Swarms {
	return &Swarms{reg: reg, agent: agent}
}

// Validate requires name to be a registered swarm whose defaultAgent is a
// member of agentList and whose every agent validates.
func (v *Swarms) Validate(name, source string) error {
	s, ok := v.reg.Swarms.Get(name)
	if !ok {
		return notFound("swarm", name, source)
	}
	found := false
	for _, a := range s.AgentList {
		if a == s.DefaultAgent {
			found = true
		}
		if err := v.agent.Validate(a, source); err != nil {
			return err
		}
	}
	if !found {
		return &Error{Name: name, Source: source, Reason: "defaultAgent not in agentList"}
	}
	return nil
}

// AgentInSwarm reports whether agentName is a member of swarm swarmName's
// agentList, used by changeAgent to reject out-of-swarm targets.
func (v *Swarms) AgentInSwarm(swarmName, agentName string) bool {
	s, ok := v.reg.Swarms.Get(swarmName)
	if !ok {
		return false
	}
	for _, a := range s.AgentList {
		if a == agentName {
			return true
		}
	}
	return false
}

// sessionRecord is the per-client usage tracked by Sessions, mirroring spec
// §3's SessionRecord: {clientId, swarmName, sessionMode, agentsUsed:multiset,
// historyUsed:multiset, storagesUsed:set, statesUsed:set}.
type sessionRecord struct {
	swarmName   string
	sessionMode string
	agentsUsed  map[string]int
	historyUsed map[string]int
	storagesUsed map[string]struct{}
	statesUsed   map[string]struct{}
}

// Sessions tracks per-client swarm/mode binding and resource usage. It
// records storage/state accesses and does not reject any of them.
type Sessions struct {
	mu      sync.Mutex
	records map[string]*sessionRecord
}

// NewSessions constructs an empty Sessions tracker.
func NewSessions() *Sessions {
	return &Sessions{records: make(map[string]*sessionRecord)}
}

// Bind registers clientId as attached to swarmName with the given
// sessionMode. Re-binding a client to a different swarm is an error: a
// client has exactly one active swarm per spec §3 invariant 1.
func (s *Sessions) Bind(clientId, swarmName, sessionMode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[clientId]
	if !ok {
		s.records[clientId] = &sessionRecord{
			swarmName:    swarmName,
			sessionMode:  sessionMode,
			agentsUsed:   map[string]int{},
			historyUsed:  map[string]int{},
			storagesUsed: map[string]struct{}{},
			statesUsed:   map[string]struct{}{},
		}
		return nil
	}
	if r.swarmName != swarmName {
		return &Error{Name: clientId, Source: "session", Reason: "already bound to swarm " + r.swarmName}
	}
	return nil
}

// SwarmOf returns the swarm clientId is bound to, if any.
func (s *Sessions) SwarmOf(clientId string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[clientId]
	if !ok {
		return "", false
	}
	return r.swarmName, true
}

// ModeOf returns the sessionMode clientId was bound with, if any.
func (s *Sessions) ModeOf(clientId string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[clientId]
	if !ok {
		return "", false
	}
	return r.sessionMode, true
}

// UseAgent records one use of agentName by clientId.
func (s *Sessions) UseAgent(clientId, agentName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[clientId]; ok {
		r.agentsUsed[agentName]++
	}
}

// UseHistory records one use of a (client,agent) history.
func (s *Sessions) UseHistory(clientId, agentName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[clientId]; ok {
		r.historyUsed[agentName]++
	}
}

// UseStorage records clientId's use of storageName.
func (s *Sessions) UseStorage(clientId, storageName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[clientId]; ok {
		r.storagesUsed[storageName] = struct{}{}
	}
}

// UseState records clientId's use of stateName.
func (s *Sessions) UseState(clientId, stateName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[clientId]; ok {
		r.statesUsed[stateName] = struct{}{}
	}
}

// Dispose removes all tracked usage for clientId, called on session
// teardown.
func (s *Sessions) Dispose(clientId string) {
	s.mu.Lock()
	delete(s.records, clientId)
	s.mu.Unlock()
}
