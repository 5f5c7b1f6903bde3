// Package signal implements the single-slot asynchronous notifier used
// throughout the turn engine (spec §4.6's agentChange/toolCommit/toolError/
// toolStop/rescue/output signals, and the swarm's agentChanged/cancelOutput).
// The shape is inspired by the teacher's interrupt.Controller — a named
// channel a waiter blocks on until a value arrives — simplified from
// Temporal's replay-safe SignalChannel down to a plain Go channel, since
// this runtime has no durable-replay requirement (see DESIGN.md).
package signal

import (
	"context"
	"sync"
)

// Signal is a single-slot, multi-waiter, broadcast notifier for values of
// type T. Fire delivers val to every goroutine currently blocked in Wait;
// a Wait call started after a Fire only observes the next Fire, never a
// past one. A zero Signal is not usable; construct with New.
type Signal[T any] struct {
	mu  sync.Mutex
	ch  chan struct{}
	val T
}

// New constructs a ready-to-use Signal.
func New[T any]() *Signal[T] {
	return &Signal[T]{ch: make(chan struct{})}
}

// Fire broadcasts val to every goroutine currently blocked in Wait and
// arms a fresh slot for the next Fire.
func (s *Signal[T]) Fire(val T) {
	s.mu.Lock()
	s.val = val
	ch := s.ch
	s.ch = make(chan struct{})
	s.mu.Unlock()
	close(ch)
}

// Wait blocks until the next Fire (or ctx cancellation) and returns the
// fired value.
func (s *Signal[T]) Wait(ctx context.Context) (T, error) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()

	select {
	case <-ch:
		s.mu.Lock()
		v := s.val
		s.mu.Unlock()
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
