// Package session implements the per-client message gateway of spec §4.8:
// a FIFO-serialized queue over execute/run/commit calls, plus the
// connect(send) bridge used by makeConnection's server-push path. Grounded
// on the teacher's session_lifecycle.go single-goroutine-per-session
// idiom, replacing its Temporal workflow dispatch with a plain buffered
// job channel.
package session

import (
	"context"
	"fmt"

	"goa.design/agentswarm/runtime/bus"
	"goa.design/agentswarm/runtime/model"
	"goa.design/agentswarm/runtime/signal"
)

// Swarm is the subset of swarm.Swarm the session depends on.
type Swarm interface {
	GetAgent() (Agent, error)
	WaitForOutput(ctx context.Context) (string, error)
}

// Agent is the subset of clientagent.Agent the session dispatches to.
type Agent interface {
	Execute(ctx context.Context, incoming string, mode model.Mode) error
	Run(ctx context.Context, incoming string) (string, error)
	CommitUserMessage(msg string, mode model.Mode)
	CommitAssistantMessage(msg string)
	CommitSystemMessage(msg string)
	CommitToolOutput(toolID, content string)
	CommitFlush()
	CommitStopTools()
}

// Push is the payload a connected session pushes to a caller's send
// callback: the turn output, which agent produced it, and the client it
// belongs to.
type Push struct {
	Data      string
	AgentName string
	ClientID  string
}

type job func(ctx context.Context)

// Session is the per-client gateway described in spec §4.8. Every public
// operation enqueues a job onto a single worker goroutine, so concurrent
// callers for the same clientId are linearized (spec §5, per-client
// serialization) while different clients proceed independently.
type Session struct {
	clientID string
	swarm    Swarm
	bus      bus.Bus

	jobs chan job
	done chan struct{}

	emit *signal.Signal[Push]
}

// New constructs a Session bound to clientId and swarm, and starts its
// worker goroutine. Dispose must be called to stop the worker.
func New(clientID string, sw Swarm, b bus.Bus) *Session {
	s := &Session{
		clientID: clientID,
		swarm:    sw,
		bus:      b,
		jobs:     make(chan job, 64),
		done:     make(chan struct{}),
		emit:     signal.New[Push](),
	}
	go s.loop()
	return s
}

func (s *Session) loop() {
	for {
		select {
		case j := <-s.jobs:
			j(context.Background())
		case <-s.done:
			return
		}
	}
}

// enqueue submits fn to the session's worker and blocks until it has run,
// preserving per-client FIFO ordering across concurrent callers.
func (s *Session) enqueue(ctx context.Context, fn func(ctx context.Context)) error {
	result := make(chan struct{})
	select {
	case s.jobs <- func(ctx context.Context) { fn(ctx); close(result) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("session: %s disposed", s.clientID)
	}
	select {
	case <-result:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs message through the active agent's turn engine and returns
// the next output published for this client (spec §4.8: getAgent().
// execute then waitForOutput).
func (s *Session) Execute(ctx context.Context, message string, mode model.Mode) (string, error) {
	var out string
	var runErr error
	err := s.enqueue(ctx, func(ctx context.Context) {
		agent, err := s.swarm.GetAgent()
		if err != nil {
			runErr = err
			return
		}
		// WaitForOutput must already be racing before Execute can publish
		// to it — Signal.Fire only reaches waiters blocked in Wait at the
		// time it fires (runtime/signal), and a turn that dispatches no
		// tool calls fires output synchronously inside Execute.
		waitDone := make(chan struct{})
		var waitOut string
		var waitErr error
		go func() {
			waitOut, waitErr = s.swarm.WaitForOutput(ctx)
			close(waitDone)
		}()
		if err := agent.Execute(ctx, message, mode); err != nil {
			runErr = err
			return
		}
		<-waitDone
		out, runErr = waitOut, waitErr
	})
	if err != nil {
		return "", err
	}
	return out, runErr
}

// Run performs a stateless completion pass through the active agent.
func (s *Session) Run(ctx context.Context, message string) (string, error) {
	var out string
	var runErr error
	err := s.enqueue(ctx, func(ctx context.Context) {
		agent, aerr := s.swarm.GetAgent()
		if aerr != nil {
			runErr = aerr
			return
		}
		out, runErr = agent.Run(ctx, message)
	})
	if err != nil {
		return "", err
	}
	return out, runErr
}

// CommitToolOutput delegates to the active agent.
func (s *Session) CommitToolOutput(ctx context.Context, toolID, content string) error {
	return s.withAgent(ctx, func(a Agent) { a.CommitToolOutput(toolID, content) })
}

// CommitSystemMessage delegates to the active agent.
func (s *Session) CommitSystemMessage(ctx context.Context, msg string) error {
	return s.withAgent(ctx, func(a Agent) { a.CommitSystemMessage(msg) })
}

// CommitUserMessage delegates to the active agent.
func (s *Session) CommitUserMessage(ctx context.Context, msg string, mode model.Mode) error {
	return s.withAgent(ctx, func(a Agent) { a.CommitUserMessage(msg, mode) })
}

// CommitAssistantMessage delegates to the active agent.
func (s *Session) CommitAssistantMessage(ctx context.Context, msg string) error {
	return s.withAgent(ctx, func(a Agent) { a.CommitAssistantMessage(msg) })
}

// CommitFlush delegates to the active agent.
func (s *Session) CommitFlush(ctx context.Context) error {
	return s.withAgent(ctx, func(a Agent) { a.CommitFlush() })
}

// CommitStopTools delegates to the active agent.
func (s *Session) CommitStopTools(ctx context.Context) error {
	return s.withAgent(ctx, func(a Agent) { a.CommitStopTools() })
}

func (s *Session) withAgent(ctx context.Context, fn func(a Agent)) error {
	var agentErr error
	err := s.enqueue(ctx, func(ctx context.Context) {
		agent, aerr := s.swarm.GetAgent()
		if aerr != nil {
			agentErr = aerr
			return
		}
		fn(agent)
	})
	if err != nil {
		return err
	}
	return agentErr
}

// Emit publishes message directly to the emit signal, used by
// makeConnection's server-side push path.
func (s *Session) Emit(push Push) { s.emit.Fire(push) }

// Connect returns a receive callback: every incoming call is executed
// through the session, and send is invoked with the resulting output
// (from either a completed turn or a server-side Emit call) in a
// background loop for the lifetime of ctx.
func (s *Session) Connect(ctx context.Context, send func(Push)) (receive func(ctx context.Context, incoming string) error) {
	go func() {
		for {
			push, err := s.emit.Wait(ctx)
			if err != nil {
				return
			}
			send(push)
		}
	}()

	return func(ctx context.Context, incoming string) error {
		out, err := s.Execute(ctx, incoming, model.ModeUser)
		if err != nil {
			return err
		}
		send(Push{Data: out, ClientID: s.clientID})
		return nil
	}
}

// Dispose stops the session's worker goroutine and disposes bus
// subscriptions for this client.
func (s *Session) Dispose() {
	close(s.done)
	if s.bus != nil {
		s.bus.Dispose(s.clientID)
	}
}
