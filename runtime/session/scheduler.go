package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"goa.design/agentswarm/runtime/model"
)

// waiter is one caller blocked on a batched Execute call, resolved once the
// batch it joined flushes.
type waiter struct {
	done chan struct{}
	out  string
	err  error
}

// Scheduler implements spec §6's "session.scheduled(clientId, swarmName,
// {delay})... batches messages within a delay window": messages submitted
// via Complete within delay of one another are coalesced into a single
// Session.Execute call, joined in arrival order, and every caller in that
// batch observes the one turn's output. A message that arrives after the
// window has already flushed starts a fresh batch.
type Scheduler struct {
	sess  *Session
	delay time.Duration

	mu      sync.Mutex
	pending []string
	waiters []*waiter
	timer   *time.Timer
}

// NewScheduler wraps sess with delay-window message batching.
func NewScheduler(sess *Session, delay time.Duration) *Scheduler {
	return &Scheduler{sess: sess, delay: delay}
}

// Complete enqueues message into the current batch window, resetting the
// window's timer, and blocks until that batch flushes through the
// underlying session's Execute.
func (s *Scheduler) Complete(ctx context.Context, message string) (string, error) {
	w := &waiter{done: make(chan struct{})}

	s.mu.Lock()
	s.pending = append(s.pending, message)
	s.waiters = append(s.waiters, w)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.flush)
	s.mu.Unlock()

	select {
	case <-w.done:
		return w.out, w.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// flush dispatches whatever is currently buffered as a single Execute call
// and resolves every waiter that joined the batch with its output.
func (s *Scheduler) flush() {
	s.mu.Lock()
	msgs := s.pending
	waiters := s.waiters
	s.pending = nil
	s.waiters = nil
	s.timer = nil
	s.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	out, err := s.sess.Execute(context.Background(), strings.Join(msgs, "\n"), model.ModeUser)
	for _, w := range waiters {
		w.out, w.err = out, err
		close(w.done)
	}
}

// Connect mirrors Session.Connect, but the returned receive callback routes
// every incoming message through the batching window instead of dispatching
// it immediately (spec §6's makeConnection.scheduled).
func (s *Scheduler) Connect(ctx context.Context, send func(Push)) (receive func(ctx context.Context, incoming string) error) {
	// Session.Connect's own receive closure dispatches immediately; only its
	// emit-forwarding goroutine (server-side Push delivery) is wanted here,
	// so the closure it returns is discarded in favor of the batching one
	// below.
	s.sess.Connect(ctx, send)

	return func(ctx context.Context, incoming string) error {
		out, err := s.Complete(ctx, incoming)
		if err != nil {
			return err
		}
		send(Push{Data: out, ClientID: s.sess.clientID})
		return nil
	}
}
