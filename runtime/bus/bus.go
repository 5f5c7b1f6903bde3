// Package bus implements the in-process pub/sub primitive described in
// spec §4.2: events are keyed by (clientId, source) and delivered
// synchronously, in subscription order, to every matching subscriber. The
// fan-out/Close idiom is grounded on the teacher's hooks.Bus, generalized
// here from a single global subscriber list to per-(clientId, source)
// routing plus a wildcard clientId.
package bus

import (
	"context"
	"sort"
	"sync"
)

// Source names the runtime subsystem an Event originated from.
type Source string

const (
	AgentBus   Source = "agent-bus"
	HistoryBus Source = "history-bus"
	SessionBus Source = "session-bus"
	StateBus   Source = "state-bus"
	StorageBus Source = "storage-bus"
	SwarmBus   Source = "swarm-bus"
)

// WildcardClient subscribes a handler across every client.
const WildcardClient = "*"

// Event is the payload delivered to subscribers. Context carries whatever
// the emitting component considers relevant (agent name, tool name, etc.)
// and is intentionally untyped so every source can shape it independently.
type Event struct {
	Source   Source
	ClientID string
	Type     string
	Input    any
	Output   any
	Context  any
}

// Handler reacts to a single Event. A non-nil error aborts delivery to any
// remaining subscribers for this Emit call, matching the teacher's
// fail-fast Subscriber.HandleEvent contract.
type Handler func(ctx context.Context, event Event) error

// Filter reports whether a Once subscription should fire for event.
type Filter func(event Event) bool

// Unsubscribe removes a subscription. Idempotent.
type Unsubscribe func()

// Bus routes events by (clientId, source) with serial, subscription-order
// delivery and fail-fast error propagation.
type Bus interface {
	// Subscribe registers fn for every event matching clientId and source.
	// clientId may be WildcardClient to match all clients.
	Subscribe(clientId string, source Source, fn Handler) Unsubscribe

	// Once registers fn to fire at most once, for the first event matching
	// clientId, source, and filter (filter may be nil to match any event).
	// The subscription removes itself after firing.
	Once(clientId string, source Source, filter Filter, fn Handler) Unsubscribe

	// Emit delivers event to every subscriber registered for
	// (event.ClientID, event.Source) plus every wildcard-client subscriber
	// for event.Source, in subscription order. It returns the first error
	// returned by a subscriber, stopping delivery at that point.
	Emit(ctx context.Context, event Event) error

	// Dispose removes every subscription for clientId, used when a client's
	// session is torn down.
	Dispose(clientId string)
}

type subscription struct {
	id       uint64
	clientId string
	source   Source
	filter   Filter
	once     bool
	fn       Handler
}

type bus struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[Source][]*subscription // clientId -> source -> subs, in registration order
}

// New constructs an empty Bus.
func New() Bus {
	return &bus{subs: make(map[string]map[Source][]*subscription)}
}

func (b *bus) add(s *subscription) Unsubscribe {
	b.mu.Lock()
	b.next++
	s.id = b.next
	bySource, ok := b.subs[s.clientId]
	if !ok {
		bySource = make(map[Source][]*subscription)
		b.subs[s.clientId] = bySource
	}
	bySource[s.source] = append(bySource[s.source], s)
	b.mu.Unlock()

	return func() { b.remove(s) }
}

func (b *bus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bySource, ok := b.subs[s.clientId]
	if !ok {
		return
	}
	list := bySource[s.source]
	for i, c := range list {
		if c.id == s.id {
			bySource[s.source] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
}

func (b *bus) Subscribe(clientId string, source Source, fn Handler) Unsubscribe {
	return b.add(&subscription{clientId: clientId, source: source, fn: fn})
}

func (b *bus) Once(clientId string, source Source, filter Filter, fn Handler) Unsubscribe {
	s := &subscription{clientId: clientId, source: source, filter: filter, once: true}
	var unsub Unsubscribe
	var fired sync.Once
	s.fn = func(ctx context.Context, event Event) error {
		if s.filter != nil && !s.filter(event) {
			return nil
		}
		var err error
		fired.Do(func() {
			unsub()
			err = fn(ctx, event)
		})
		return err
	}
	unsub = b.add(s)
	return unsub
}

func (b *bus) Emit(ctx context.Context, event Event) error {
	b.mu.Lock()
	var matched []*subscription
	if bySource, ok := b.subs[event.ClientID]; ok {
		matched = append(matched, bySource[event.Source]...)
	}
	if event.ClientID != WildcardClient {
		if bySource, ok := b.subs[WildcardClient]; ok {
			matched = append(matched, bySource[event.Source]...)
		}
	}
	// snapshot so concurrent (un)subscription during delivery can't race
	snapshot := make([]*subscription, len(matched))
	copy(snapshot, matched)
	b.mu.Unlock()
	// client-specific and wildcard subscribers interleave by registration id
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].id < snapshot[j].id })

	for _, s := range snapshot {
		if err := s.fn(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *bus) Dispose(clientId string) {
	b.mu.Lock()
	delete(b.subs, clientId)
	b.mu.Unlock()
}
