// Package history implements the per-(client,agent) append-only message
// log and its filtered projection for completion calls (spec §4.5).
// Grounded on the teacher's runlog package for the append/project split,
// simplified to the spec's flat Message tuple and single default filter.
package history

import (
	"sync"

	"goa.design/agentswarm/runtime/model"
)

// DefaultKeepLast is the default truncation window applied after filtering,
// per spec §4.5 ("default 25").
const DefaultKeepLast = 25

// Filter decides which raw-log messages are included in an agent's prompt
// projection. agentName is the agent whose turn is being built.
type Filter func(agentName string, messages []model.Message) []model.Message

// DefaultFilter keeps only messages whose AgentName equals agentName or
// whose Role is user/assistant, and drops everything up to and including
// the most recent flush marker.
func DefaultFilter(agentName string, messages []model.Message) []model.Message {
	lastFlush := -1
	for i, m := range messages {
		if m.Role == model.RoleFlush {
			lastFlush = i
		}
	}
	tail := messages[lastFlush+1:]
	out := make([]model.Message, 0, len(tail))
	for _, m := range tail {
		if m.AgentName == agentName || m.Role == model.RoleUser || m.Role == model.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

// History is the append-only log for one (client, agent) pair.
type History struct {
	mu       sync.RWMutex
	raw      []model.Message
	filter   Filter
	keepLast int
	onPush   func(msg model.Message)
}

// Option configures a History at construction.
type Option func(*History)

// WithFilter overrides DefaultFilter.
func WithFilter(f Filter) Option { return func(h *History) { h.filter = f } }

// WithKeepLast overrides DefaultKeepLast.
func WithKeepLast(n int) Option { return func(h *History) { h.keepLast = n } }

// WithOnPush registers a callback invoked synchronously after every Push.
func WithOnPush(fn func(msg model.Message)) Option { return func(h *History) { h.onPush = fn } }

// New constructs an empty History.
func New(opts ...Option) *History {
	h := &History{filter: DefaultFilter, keepLast: DefaultKeepLast}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Push appends msg to the raw log and fires onPush.
func (h *History) Push(msg model.Message) {
	h.mu.Lock()
	h.raw = append(h.raw, msg)
	cb := h.onPush
	h.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

// ToArrayForRaw returns the entire raw log, in push order. The returned
// slice is a copy; callers may not mutate the live log through it.
func (h *History) ToArrayForRaw() []model.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.Message, len(h.raw))
	copy(out, h.raw)
	return out
}

// ToArrayForAgent returns the prompt/system preamble followed by the
// filtered, keep-last-N-truncated log for agentName, per spec §4.5. System
// may be empty to omit the system preamble.
func (h *History) ToArrayForAgent(agentName, prompt, system string) []model.Message {
	h.mu.RLock()
	raw := make([]model.Message, len(h.raw))
	copy(raw, h.raw)
	h.mu.RUnlock()

	filtered := h.filter(agentName, raw)
	truncated := keepLastPreservingPairs(filtered, h.keepLast)

	out := make([]model.Message, 0, len(truncated)+2)
	if system != "" {
		out = append(out, model.Message{Role: model.RoleSystem, AgentName: agentName, Content: system})
	}
	if prompt != "" {
		out = append(out, model.Message{Role: model.RoleSystem, AgentName: agentName, Content: prompt})
	}
	out = append(out, truncated...)
	return out
}

// keepLastPreservingPairs keeps the last n messages, extending the window
// back past n when the cut lands inside a run of tool results, so those
// results are not split from the assistant message that issued the calls.
func keepLastPreservingPairs(messages []model.Message, n int) []model.Message {
	if n <= 0 || len(messages) <= n {
		return messages
	}
	start := len(messages) - n
	// if the cut point lands inside a run of tool results, walk the start
	// back to the assistant message that issued the calls they answer.
	for start > 0 && messages[start].Role == model.RoleTool {
		start--
	}
	return messages[start:]
}

// Dispose clears the log. Kept as an explicit operation (spec §4.5) rather
// than relying on garbage collection so callers can observe a definite
// teardown point.
func (h *History) Dispose() {
	h.mu.Lock()
	h.raw = nil
	h.mu.Unlock()
}
