// Package engine implements the EngineBackend abstraction: the polymorphic
// capability set {spawn, evaluate, consult, query, graceful-shutdown,
// force-shutdown, health-probe} that both the forward-chaining and
// backward-chaining sessions are driven through.
package engine

import (
	"context"
	"time"

	"github.com/rulehost/rulehost/internal/toolbox"
	"github.com/rulehost/rulehost/internal/types"
)

// Handle is an opaque reference to a live backend instance. It is
// exclusively owned by the session worker that spawned it; no other
// component may call a Backend method with it concurrently.
type Handle interface {
	// Broken reports whether the handle has already declared EngineFault
	// and must be discarded rather than reused.
	Broken() bool
}

// CallbackSink services engine-initiated callbacks emitted mid-evaluation.
// *toolbox.Bridge satisfies this interface directly.
type CallbackSink interface {
	Dispatch(ctx context.Context, req toolbox.CallbackRequest) toolbox.CallbackResponse
}

// Result is the outcome of one evaluate call.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
}

// QueryResult is the outcome of one backward-chaining query.
type QueryResult struct {
	Bindings []map[string]string
	Success  bool
	Elapsed  time.Duration
}

// Backend is the contract both the forward-chaining (subprocess) and
// backward-chaining (in-process) engines implement so the Scheduler stays
// backend-agnostic.
type Backend interface {
	// Spawn produces an engine ready to accept input. Must be finite-time:
	// on timeout it returns an error and no handle.
	Spawn(ctx context.Context, limits types.ResourceLimits) (Handle, error)

	// Evaluate runs one unit of input to completion, returning within
	// deadline or a Timeout-classified error. Callbacks emitted during
	// execution are delivered in order to sink and their responses
	// flushed back before the next line is read.
	Evaluate(ctx context.Context, h Handle, script string, deadline time.Time, sink CallbackSink) (Result, error)

	// Consult loads clauses/rules into the engine, returning the count
	// accepted.
	Consult(ctx context.Context, h Handle, clauses []string, deadline time.Time) (int, error)

	// Query runs a backward-chaining goal, optionally enumerating all
	// solutions via backtracking.
	Query(ctx context.Context, h Handle, goal string, allSolutions bool, deadline time.Time) (QueryResult, error)

	// GracefulShutdown sends a polite exit, drains remaining output, and
	// reaps within deadline.
	GracefulShutdown(ctx context.Context, h Handle, deadline time.Time) error

	// ForceShutdown unconditionally terminates the handle. Idempotent.
	ForceShutdown(h Handle) error

	// HealthProbe performs a cheap liveness check, used by SupervisorLoop.
	HealthProbe(ctx context.Context, h Handle) error
}
