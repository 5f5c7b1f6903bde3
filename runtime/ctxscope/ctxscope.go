// Package ctxscope implements the two ambient, dynamically-scoped value
// holders described in spec §4.1: MethodContext (set at every public-facade
// entry) and ExecutionContext (set for the duration of a single turn).
// Both support nested scopes — an inner scope hides but does not destroy an
// outer one — by carrying the previous value on context.Context, the
// idiomatic Go mechanism for propagating ambient values across goroutines
// and continuations, grounded on the teacher's agent_context.go pattern.
package ctxscope

import "context"

type (
	// MethodContext carries the resource names a public-facade call is
	// scoped to. Nothing in the runtime reads it back: logging does not
	// consult it, and the connection layer keys its memo caches on
	// explicit clientID/name arguments.
	MethodContext struct {
		ClientID    string
		MethodName  string
		AgentName   string
		SwarmName   string
		StorageName string
		StateName   string
	}

	// ExecutionContext carries the identifiers for one turn execution.
	ExecutionContext struct {
		ClientID    string
		ExecutionID string
	}

	methodCtxKey struct{}
	execCtxKey   struct{}
)

// WithMethod returns a context carrying mc as the innermost MethodContext.
// A prior MethodContext on ctx, if any, remains reachable once this scope's
// continuation returns (standard context.Context nesting).
func WithMethod(ctx context.Context, mc MethodContext) context.Context {
	return context.WithValue(ctx, methodCtxKey{}, mc)
}

// Method returns the innermost MethodContext set on ctx and whether one was
// set at all.
func Method(ctx context.Context) (MethodContext, bool) {
	mc, ok := ctx.Value(methodCtxKey{}).(MethodContext)
	return mc, ok
}

// HasMethod reports whether ctx carries a MethodContext.
func HasMethod(ctx context.Context) bool {
	_, ok := Method(ctx)
	return ok
}

// WithoutMethod returns a copy of ctx with any MethodContext suppressed.
// Used by facade entries (changeToPrevAgent, getSessionContext) that must
// not inherit an ambient method context because they may themselves run
// inside a tool call executing inside a turn (spec §4.10).
func WithoutMethod(ctx context.Context) context.Context {
	return context.WithValue(ctx, methodCtxKey{}, nil)
}

// WithExecution returns a context carrying ec as the innermost
// ExecutionContext.
func WithExecution(ctx context.Context, ec ExecutionContext) context.Context {
	return context.WithValue(ctx, execCtxKey{}, ec)
}

// Execution returns the innermost ExecutionContext set on ctx and whether
// one was set at all.
func Execution(ctx context.Context) (ExecutionContext, bool) {
	ec, ok := ctx.Value(execCtxKey{}).(ExecutionContext)
	return ec, ok
}

// HasExecution reports whether ctx carries an ExecutionContext.
func HasExecution(ctx context.Context) bool {
	_, ok := Execution(ctx)
	return ok
}

// WithoutExecution returns a copy of ctx with any ExecutionContext
// suppressed, mirroring WithoutMethod.
func WithoutExecution(ctx context.Context) context.Context {
	return context.WithValue(ctx, execCtxKey{}, nil)
}
