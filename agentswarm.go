// Package agentswarm is the public facade of spec §4.10/§6: a thin,
// process-global entry surface over the connection-services layer. Entry
// points that take a ctx and act on a client's session or swarm open a
// MethodContext before delegating; Session.Complete and
// ScheduledSession.Complete also open an ExecutionContext. Registration,
// listener, history, storage/state, logger and config functions open
// neither. The layout follows the teacher's
// runtime/agent/runtime/client.go AgentClient surface — one struct of
// embedder-facing methods wrapping the registry/connection machinery below
// it.
package agentswarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/agentswarm/runtime/bus"
	"goa.design/agentswarm/runtime/config"
	"goa.design/agentswarm/runtime/connection"
	"goa.design/agentswarm/runtime/ctxscope"
	"goa.design/agentswarm/runtime/model"
	"goa.design/agentswarm/runtime/persist/fsadapter"
	"goa.design/agentswarm/runtime/schema"
	"goa.design/agentswarm/runtime/session"
	"goa.design/agentswarm/runtime/swarm"
	"goa.design/agentswarm/runtime/telemetry"
	"goa.design/agentswarm/runtime/validate"
)

// dynamicLogger lets UseLogger swap the sink at runtime without having to
// rebuild every component that was constructed with the old one.
type dynamicLogger struct {
	mu    sync.RWMutex
	inner telemetry.Logger
}

func newDynamicLogger() *dynamicLogger { return &dynamicLogger{inner: telemetry.NewNoopLogger()} }

func (d *dynamicLogger) set(l telemetry.Logger) {
	d.mu.Lock()
	d.inner = l
	d.mu.Unlock()
}

func (d *dynamicLogger) get() telemetry.Logger {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.inner
}

func (d *dynamicLogger) Debug(ctx context.Context, msg string, kv ...any) { d.get().Debug(ctx, msg, kv...) }
func (d *dynamicLogger) Info(ctx context.Context, msg string, kv ...any)  { d.get().Info(ctx, msg, kv...) }
func (d *dynamicLogger) Warn(ctx context.Context, msg string, kv ...any)  { d.get().Warn(ctx, msg, kv...) }
func (d *dynamicLogger) Error(ctx context.Context, msg string, kv ...any) { d.get().Error(ctx, msg, kv...) }

// Process-global registries, validators, bus, logger, persistence, and the
// connection-services memoization layer they're wired into (spec §3,
// "registries are process-global"). The default filesystem adapter backs
// the swarm's active-agent and navigation-stack records only. Storages and
// states use the Adapter set on their own schema.Storage/schema.State;
// GetStorage and GetState return an error when that Adapter is nil.
var (
	registries      = schema.New()
	agentValidate   = validate.NewAgents(registries)
	swarmValidate   = validate.NewSwarms(registries, agentValidate)
	sessionValidate = validate.NewSessions()
	eventBus        = bus.New()
	logger          = newDynamicLogger()
	persistence     = fsadapter.New("./logs/data", logger)

	connSvc = connection.New(connection.Options{
		Registries:    registries,
		AgentValidate: agentValidate,
		SwarmValidate: swarmValidate,
		Sessions:      sessionValidate,
		Bus:           eventBus,
		Logger:        logger,
		ActiveStore:   persistence,
		NavStack:      persistence,
	})
)

// --- Registration -----------------------------------------------------

// AddAgent registers an agent schema, returning its name.
func AddAgent(a *schema.Agent) string { return registries.Agents.Register(a.AgentName, a) }

// AddTool registers a tool schema, returning its name.
func AddTool(t *schema.Tool) string { return registries.Tools.Register(t.ToolName, t) }

// AddSwarm registers a swarm schema, returning its name.
func AddSwarm(sw *schema.Swarm) string { return registries.Swarms.Register(sw.SwarmName, sw) }

// AddCompletion registers a named completion backend, returning its name.
func AddCompletion(c *schema.Completion) string {
	return registries.Completions.Register(c.CompletionName, c)
}

// AddEmbedding registers a named embedding backend, returning its name.
func AddEmbedding(e *schema.Embedding) string {
	return registries.Embeddings.Register(e.EmbeddingName, e)
}

// AddStorage registers a named storage collection, returning its name.
func AddStorage(st *schema.Storage) string { return registries.Storages.Register(st.StorageName, st) }

// AddState registers a named state slot, returning its name.
func AddState(st *schema.State) string { return registries.States.Register(st.StateName, st) }

func methodCtx(ctx context.Context, clientID, method, swarmName string) context.Context {
	return ctxscope.WithMethod(ctx, ctxscope.MethodContext{ClientID: clientID, MethodName: method, SwarmName: swarmName})
}

// --- Session -----------------------------------------------------------

// Session is the embedder-facing handle returned by NewSession: complete a
// message through the client's swarm, or dispose the underlying connection
// services.
type Session struct {
	clientID  string
	swarmName string
}

// NewSession implements spec §6's `session(clientId, swarmName)`, binding
// clientID to swarmName under session mode "session".
func NewSession(ctx context.Context, clientID, swarmName string) (*Session, error) {
	ctx = methodCtx(ctx, clientID, "session", swarmName)
	if _, err := connSvc.GetSession(ctx, clientID, swarmName, "session"); err != nil {
		return nil, err
	}
	return &Session{clientID: clientID, swarmName: swarmName}, nil
}

// Complete runs message through the active agent and returns its output.
func (s *Session) Complete(ctx context.Context, message string) (string, error) {
	ctx = methodCtx(ctx, s.clientID, "session.complete", s.swarmName)
	ctx = ctxscope.WithExecution(ctx, ctxscope.ExecutionContext{ClientID: s.clientID})
	sess, err := connSvc.GetSession(ctx, s.clientID, s.swarmName, "session")
	if err != nil {
		return "", err
	}
	return sess.Execute(ctx, message, model.ModeUser)
}

// Dispose releases the client's session, swarm, agents and histories;
// storages and states obtained through GetStorage/GetState are not released.
func (s *Session) Dispose() { connSvc.Dispose(s.clientID, s.swarmName) }

// ScheduledSession is the embedder-facing handle returned by
// NewScheduledSession: like Session, but Complete batches messages arriving
// within a delay window into a single turn (spec §6's
// `session.scheduled(clientId, swarmName, {delay})`).
type ScheduledSession struct {
	*Session
	scheduler *session.Scheduler
}

// NewScheduledSession implements spec §6's `session.scheduled(clientId,
// swarmName, {delay})`, binding clientID to swarmName exactly as NewSession
// does, but returning a handle whose Complete coalesces messages that
// arrive within delay of each other into one turn.
func NewScheduledSession(ctx context.Context, clientID, swarmName string, delay time.Duration) (*ScheduledSession, error) {
	ctx = methodCtx(ctx, clientID, "session.scheduled", swarmName)
	sess, err := connSvc.GetSession(ctx, clientID, swarmName, "session")
	if err != nil {
		return nil, err
	}
	return &ScheduledSession{
		Session:   &Session{clientID: clientID, swarmName: swarmName},
		scheduler: session.NewScheduler(sess, delay),
	}, nil
}

// Complete enqueues message into the current batch window and returns once
// that batch's single turn has run, per spec §6's delay-window batching.
func (s *ScheduledSession) Complete(ctx context.Context, message string) (string, error) {
	ctx = methodCtx(ctx, s.clientID, "session.scheduled.complete", s.swarmName)
	ctx = ctxscope.WithExecution(ctx, ctxscope.ExecutionContext{ClientID: s.clientID})
	return s.scheduler.Complete(ctx, message)
}

// MakeConnection implements spec §6's `makeConnection(receive, clientId,
// swarmName)`: it returns a receive callback driving the session, wired to
// call send whenever a turn produces output (including server-side Emit
// calls).
func MakeConnection(ctx context.Context, clientID, swarmName string, send func(session.Push)) (func(ctx context.Context, incoming string) error, error) {
	ctx = methodCtx(ctx, clientID, "makeConnection", swarmName)
	sess, err := connSvc.GetSession(ctx, clientID, swarmName, "connection")
	if err != nil {
		return nil, err
	}
	return sess.Connect(ctx, send), nil
}

// MakeScheduledConnection implements spec §6's `makeConnection.scheduled(...)`:
// like MakeConnection, but incoming messages are coalesced within delay
// before being dispatched as a single turn.
func MakeScheduledConnection(ctx context.Context, clientID, swarmName string, delay time.Duration, send func(session.Push)) (func(ctx context.Context, incoming string) error, error) {
	ctx = methodCtx(ctx, clientID, "makeConnection.scheduled", swarmName)
	sess, err := connSvc.GetSession(ctx, clientID, swarmName, "connection")
	if err != nil {
		return nil, err
	}
	scheduler := session.NewScheduler(sess, delay)
	return scheduler.Connect(ctx, send), nil
}

// Complete is the one-shot form of spec §6's `complete(msg, clientId,
// swarmName)`.
func Complete(ctx context.Context, clientID, swarmName, message string) (string, error) {
	ctx = methodCtx(ctx, clientID, "complete", swarmName)
	sess, err := connSvc.GetSession(ctx, clientID, swarmName, "complete")
	if err != nil {
		return "", err
	}
	return sess.Execute(ctx, message, model.ModeUser)
}

// --- Execute / run / emit ----------------------------------------------

// Execute runs one turn for message through clientID's active agent. Unlike
// Complete/session.Complete, it does not go through the per-client session
// queue: a tool call's body runs on its own goroutine (spec §9, "coroutine-
// style tool calls") and is the expected caller of Execute/ChangeAgent/
// Commit* for navigation hand-offs — queuing those through the same
// session that is mid-turn (awaiting that very tool call) would deadlock.
func Execute(ctx context.Context, clientID, swarmName, message string, mode model.Mode) (string, error) {
	ctx = methodCtx(ctx, clientID, "execute", swarmName)
	sw, err := connSvc.GetSwarm(ctx, clientID, swarmName)
	if err != nil {
		return "", err
	}
	agent, err := sw.GetAgent()
	if err != nil {
		return "", err
	}
	waitDone := make(chan struct{})
	var waitOut string
	var waitErr error
	go func() {
		waitOut, waitErr = sw.WaitForOutput(ctx)
		close(waitDone)
	}()
	if err := agent.Execute(ctx, message, mode); err != nil {
		return "", err
	}
	<-waitDone
	return waitOut, waitErr
}

// Run performs a stateless completion pass through clientID's active agent.
func Run(ctx context.Context, clientID, swarmName, message string) (string, error) {
	ctx = methodCtx(ctx, clientID, "run", swarmName)
	sw, err := connSvc.GetSwarm(ctx, clientID, swarmName)
	if err != nil {
		return "", err
	}
	agent, err := sw.GetAgent()
	if err != nil {
		return "", err
	}
	return agent.Run(ctx, message)
}

// Emit publishes push directly to clientID's session emit signal, used by
// server-driven push outside a turn.
func Emit(ctx context.Context, clientID, swarmName string, push session.Push) error {
	ctx = methodCtx(ctx, clientID, "emit", swarmName)
	sess, err := connSvc.GetSession(ctx, clientID, swarmName, "emit")
	if err != nil {
		return err
	}
	sess.Emit(push)
	return nil
}

// --- Navigation ----------------------------------------------------------

// ChangeAgent switches clientID's active agent to agentName, a no-op if it
// is already active. ChangeAgentForce skips that guard.
func ChangeAgent(ctx context.Context, clientID, swarmName, agentName string) error {
	return changeAgent(ctx, clientID, swarmName, agentName, false)
}

// ChangeAgentForce switches clientID's active agent to agentName even if it
// is already active (re-firing onAgentChanged and cancelOutput).
func ChangeAgentForce(ctx context.Context, clientID, swarmName, agentName string) error {
	return changeAgent(ctx, clientID, swarmName, agentName, true)
}

// ChangeToAgent is an alias for ChangeAgent, named to match spec §6's
// tool-facing vs facade-facing naming pair.
func ChangeToAgent(ctx context.Context, clientID, swarmName, agentName string) error {
	return changeAgent(ctx, clientID, swarmName, agentName, false)
}

// ChangeToAgentForce is an alias for ChangeAgentForce.
func ChangeToAgentForce(ctx context.Context, clientID, swarmName, agentName string) error {
	return changeAgent(ctx, clientID, swarmName, agentName, true)
}

func changeAgent(ctx context.Context, clientID, swarmName, agentName string, force bool) error {
	ctx = methodCtx(ctx, clientID, "changeAgent", swarmName)
	if !swarmValidate.AgentInSwarm(swarmName, agentName) {
		return fmt.Errorf("agentswarm: agent %q is not a member of swarm %q", agentName, swarmName)
	}
	sw, err := connSvc.GetSwarm(ctx, clientID, swarmName)
	if err != nil {
		return err
	}
	if !force && sw.GetAgentName() == agentName {
		return nil
	}
	return sw.SetAgentName(ctx, agentName)
}

// ChangeToPrevAgent pops clientID's navigation stack and activates the
// popped agent (or the swarm's default agent if the stack was empty). It
// suppresses any ambient method/execution context (spec §4.10) since it may
// itself run from inside a tool call executing inside a turn.
func ChangeToPrevAgent(ctx context.Context, clientID, swarmName string) (string, error) {
	ctx = ctxscope.WithoutExecution(ctxscope.WithoutMethod(ctx))
	ctx = methodCtx(ctx, clientID, "changeToPrevAgent", swarmName)
	sw, err := connSvc.GetSwarm(ctx, clientID, swarmName)
	if err != nil {
		return "", err
	}
	return sw.NavigationPop(ctx)
}

// CancelOutput short-circuits any outstanding waitForOutput for clientID's
// active agent, resolving it to the empty string.
func CancelOutput(ctx context.Context, clientID, swarmName string) error {
	sw, err := connSvc.GetSwarm(methodCtx(ctx, clientID, "cancelOutput", swarmName), clientID, swarmName)
	if err != nil {
		return err
	}
	sw.CancelOutput()
	return nil
}

// --- Commits -------------------------------------------------------------
//
// The commit* family, like Execute, bypasses the session queue: a tool
// body commonly calls CommitToolOutput from its own goroutine to unblock
// the very turn that dispatched it (clientagent's dispatch loop races on
// exactly this signal), so these must never wait behind that turn in a
// FIFO it cannot itself advance.

func activeAgent(ctx context.Context, clientID, swarmName string) (swarm.Agent, error) {
	sw, err := connSvc.GetSwarm(ctx, clientID, swarmName)
	if err != nil {
		return nil, err
	}
	return sw.GetAgent()
}

// CommitToolOutput appends a tool message referencing toolID and fires
// toolCommit on clientID's active agent.
func CommitToolOutput(ctx context.Context, clientID, swarmName, toolID, content string) error {
	agent, err := activeAgent(methodCtx(ctx, clientID, "commitToolOutput", swarmName), clientID, swarmName)
	if err != nil {
		return err
	}
	agent.CommitToolOutput(toolID, content)
	return nil
}

// CommitSystemMessage appends a system message to clientID's active agent.
func CommitSystemMessage(ctx context.Context, clientID, swarmName, msg string) error {
	agent, err := activeAgent(methodCtx(ctx, clientID, "commitSystemMessage", swarmName), clientID, swarmName)
	if err != nil {
		return err
	}
	agent.CommitSystemMessage(msg)
	return nil
}

// CommitUserMessage appends a user message without triggering completion.
func CommitUserMessage(ctx context.Context, clientID, swarmName, msg string, mode model.Mode) error {
	agent, err := activeAgent(methodCtx(ctx, clientID, "commitUserMessage", swarmName), clientID, swarmName)
	if err != nil {
		return err
	}
	agent.CommitUserMessage(msg, mode)
	return nil
}

// CommitAssistantMessage appends an assistant message without triggering
// completion.
func CommitAssistantMessage(ctx context.Context, clientID, swarmName, msg string) error {
	agent, err := activeAgent(methodCtx(ctx, clientID, "commitAssistantMessage", swarmName), clientID, swarmName)
	if err != nil {
		return err
	}
	agent.CommitAssistantMessage(msg)
	return nil
}

// CommitFlush appends a flush marker to clientID's active agent.
func CommitFlush(ctx context.Context, clientID, swarmName string) error {
	agent, err := activeAgent(methodCtx(ctx, clientID, "commitFlush", swarmName), clientID, swarmName)
	if err != nil {
		return err
	}
	agent.CommitFlush()
	return nil
}

// CommitStopTools halts the current tool-call dispatch chain.
func CommitStopTools(ctx context.Context, clientID, swarmName string) error {
	agent, err := activeAgent(methodCtx(ctx, clientID, "commitStopTools", swarmName), clientID, swarmName)
	if err != nil {
		return err
	}
	agent.CommitStopTools()
	return nil
}

// --- Event subscriptions ---------------------------------------------------

// ListenAgentEvent subscribes fn to every agent-bus event for clientID.
func ListenAgentEvent(clientID string, fn bus.Handler) bus.Unsubscribe {
	return eventBus.Subscribe(clientID, bus.AgentBus, fn)
}

// ListenAgentEventOnce subscribes fn to fire at most once.
func ListenAgentEventOnce(clientID string, filter bus.Filter, fn bus.Handler) bus.Unsubscribe {
	return eventBus.Once(clientID, bus.AgentBus, filter, fn)
}

// ListenSessionEvent subscribes fn to every session-bus event for clientID.
func ListenSessionEvent(clientID string, fn bus.Handler) bus.Unsubscribe {
	return eventBus.Subscribe(clientID, bus.SessionBus, fn)
}

// ListenSessionEventOnce subscribes fn to fire at most once.
func ListenSessionEventOnce(clientID string, filter bus.Filter, fn bus.Handler) bus.Unsubscribe {
	return eventBus.Once(clientID, bus.SessionBus, filter, fn)
}

// ListenHistoryEvent subscribes fn to every history-bus event for clientID.
func ListenHistoryEvent(clientID string, fn bus.Handler) bus.Unsubscribe {
	return eventBus.Subscribe(clientID, bus.HistoryBus, fn)
}

// ListenHistoryEventOnce subscribes fn to fire at most once.
func ListenHistoryEventOnce(clientID string, filter bus.Filter, fn bus.Handler) bus.Unsubscribe {
	return eventBus.Once(clientID, bus.HistoryBus, filter, fn)
}

// ListenStorageEvent subscribes fn to every storage-bus event for clientID.
func ListenStorageEvent(clientID string, fn bus.Handler) bus.Unsubscribe {
	return eventBus.Subscribe(clientID, bus.StorageBus, fn)
}

// ListenStorageEventOnce subscribes fn to fire at most once.
func ListenStorageEventOnce(clientID string, filter bus.Filter, fn bus.Handler) bus.Unsubscribe {
	return eventBus.Once(clientID, bus.StorageBus, filter, fn)
}

// ListenStateEvent subscribes fn to every state-bus event for clientID.
func ListenStateEvent(clientID string, fn bus.Handler) bus.Unsubscribe {
	return eventBus.Subscribe(clientID, bus.StateBus, fn)
}

// ListenStateEventOnce subscribes fn to fire at most once.
func ListenStateEventOnce(clientID string, filter bus.Filter, fn bus.Handler) bus.Unsubscribe {
	return eventBus.Once(clientID, bus.StateBus, filter, fn)
}

// ListenSwarmEvent subscribes fn to every swarm-bus event for clientID.
func ListenSwarmEvent(clientID string, fn bus.Handler) bus.Unsubscribe {
	return eventBus.Subscribe(clientID, bus.SwarmBus, fn)
}

// ListenSwarmEventOnce subscribes fn to fire at most once.
func ListenSwarmEventOnce(clientID string, filter bus.Filter, fn bus.Handler) bus.Unsubscribe {
	return eventBus.Once(clientID, bus.SwarmBus, filter, fn)
}

// --- History accessors ---------------------------------------------------

// GetRawHistory returns the entire raw message log for (clientID, agentName).
func GetRawHistory(clientID, agentName string) ([]model.Message, error) {
	h, err := connSvc.GetHistory(clientID, agentName)
	if err != nil {
		return nil, err
	}
	return h.ToArrayForRaw(), nil
}

// GetAgentHistory returns the filtered, keep-last-N log as it would be
// projected for agentName's next completion call.
func GetAgentHistory(clientID, agentName string) ([]model.Message, error) {
	h, err := connSvc.GetHistory(clientID, agentName)
	if err != nil {
		return nil, err
	}
	return h.ToArrayForAgent(agentName, "", ""), nil
}

func filterRole(clientID, agentName string, role model.Role) ([]model.Message, error) {
	h, err := connSvc.GetHistory(clientID, agentName)
	if err != nil {
		return nil, err
	}
	raw := h.ToArrayForRaw()
	out := make([]model.Message, 0, len(raw))
	for _, m := range raw {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out, nil
}

// GetUserHistory returns every user message in (clientID, agentName)'s log.
func GetUserHistory(clientID, agentName string) ([]model.Message, error) {
	return filterRole(clientID, agentName, model.RoleUser)
}

// GetAssistantHistory returns every assistant message in (clientID,
// agentName)'s log.
func GetAssistantHistory(clientID, agentName string) ([]model.Message, error) {
	return filterRole(clientID, agentName, model.RoleAssistant)
}

func lastByRole(clientID, agentName string, role model.Role) (string, bool, error) {
	msgs, err := filterRole(clientID, agentName, role)
	if err != nil {
		return "", false, err
	}
	if len(msgs) == 0 {
		return "", false, nil
	}
	return msgs[len(msgs)-1].Content, true, nil
}

// GetLastUserMessage returns the most recent user message's content.
func GetLastUserMessage(clientID, agentName string) (string, bool, error) {
	return lastByRole(clientID, agentName, model.RoleUser)
}

// GetLastAssistantMessage returns the most recent assistant message's
// content.
func GetLastAssistantMessage(clientID, agentName string) (string, bool, error) {
	return lastByRole(clientID, agentName, model.RoleAssistant)
}

// GetLastSystemMessage returns the most recent system message's content.
func GetLastSystemMessage(clientID, agentName string) (string, bool, error) {
	return lastByRole(clientID, agentName, model.RoleSystem)
}

// GetSessionMode returns the sessionMode clientID was bound with, if any.
func GetSessionMode(clientID string) (string, bool) { return sessionValidate.ModeOf(clientID) }

// GetAgentName returns the name of clientID's current active agent in
// swarmName.
func GetAgentName(ctx context.Context, clientID, swarmName string) (string, error) {
	sw, err := connSvc.GetSwarm(methodCtx(ctx, clientID, "getAgentName", swarmName), clientID, swarmName)
	if err != nil {
		return "", err
	}
	return sw.GetAgentName(), nil
}

// GetSessionContext returns the ExecutionContext set for the call currently
// in flight on ctx, suppressing any ambient method context per spec §4.10
// ("may itself run inside a tool executing inside a turn").
func GetSessionContext(ctx context.Context) (ctxscope.ExecutionContext, bool) {
	return ctxscope.Execution(ctxscope.WithoutMethod(ctx))
}

// --- Auto-dispose ----------------------------------------------------------

// AutoDispose tears down a client's connection services after timeoutSeconds
// elapse without a Tick call.
type AutoDispose struct {
	clientID  string
	swarmName string
	timeout   time.Duration
	onDestroy func()

	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

// MakeAutoDispose constructs and arms an AutoDispose for (clientID,
// swarmName).
func MakeAutoDispose(clientID, swarmName string, timeoutSeconds int, onDestroy func()) *AutoDispose {
	a := &AutoDispose{
		clientID:  clientID,
		swarmName: swarmName,
		timeout:   time.Duration(timeoutSeconds) * time.Second,
		onDestroy: onDestroy,
	}
	a.Tick()
	return a
}

// Tick resets the inactivity timer.
func (a *AutoDispose) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.timeout, a.fire)
}

func (a *AutoDispose) fire() {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		return
	}
	a.done = true
	a.mu.Unlock()
	connSvc.Dispose(a.clientID, a.swarmName)
	if a.onDestroy != nil {
		a.onDestroy()
	}
}

// Destroy disposes immediately, cancelling the pending inactivity timer.
func (a *AutoDispose) Destroy() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.mu.Unlock()
	a.fire()
}

// --- Storage / state -------------------------------------------------------

// GetStorage returns the memoized Storage handle for (clientID, storageName).
func GetStorage(clientID, storageName string) (*connection.Storage, error) {
	return connSvc.GetStorage(clientID, storageName)
}

// GetState returns the memoized State handle for (clientID, stateName).
func GetState(clientID, stateName string) (*connection.State, error) {
	return connSvc.GetState(clientID, stateName)
}

// --- Logger / config --------------------------------------------------------

// UseLogger injects a new logging sink, replacing the prior one everywhere
// it was already wired (every component was handed the dynamicLogger
// indirection, not the sink directly).
func UseLogger(l telemetry.Logger) { logger.set(l) }

// SetConfig overrides the process-global configuration with the non-zero
// fields of partial.
func SetConfig(partial *config.Config) { config.SetConfig(partial) }
