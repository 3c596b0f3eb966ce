package flow

import (
	"context"
	"time"
)

// NodeKind identifies what a node represents in the workflow.
type NodeKind string

const (
	// NodePhase is an SDLC stage backed by an executor and subject to
	// phase SLO gates.
	NodePhase NodeKind = "phase"

	// NodeConditional is a branching node whose execution depends on a
	// condition expression.
	NodeConditional NodeKind = "conditional"

	// NodeGate is a checkpoint node used for policy evaluation only.
	NodeGate NodeKind = "gate"

	// NodeCustom is a user-defined node backed by an executor.
	NodeCustom NodeKind = "custom"
)

// Backoff selects the delay growth strategy between retry attempts.
type Backoff string

const (
	// BackoffNone retries immediately after the base delay, with no
	// growth between attempts.
	BackoffNone Backoff = "none"

	// BackoffExponential doubles the delay on each attempt:
	// base * 2^(attempt-1).
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy controls how many times a node's executor is attempted
// and how long the engine waits between attempts. Retries apply only to
// transient executor failures, never to policy failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are normalized to 1.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// Backoff selects the growth strategy. Empty means BackoffNone.
	Backoff Backoff
}

// normalize fills zero values with the defaults (1 attempt, no delay,
// no backoff).
func (rp RetryPolicy) normalize() RetryPolicy {
	if rp.MaxAttempts < 1 {
		rp.MaxAttempts = 1
	}
	if rp.Backoff == "" {
		rp.Backoff = BackoffNone
	}
	return rp
}

// Delay returns the wait before re-dispatching after the given failed
// attempt (1-based). Exponential backoff yields base * 2^(attempt-1).
func (rp RetryPolicy) Delay(attempt int) time.Duration {
	if rp.BaseDelay <= 0 {
		return 0
	}
	if rp.Backoff != BackoffExponential {
		return rp.BaseDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	return rp.BaseDelay * (1 << (attempt - 1))
}

// Node is the immutable configuration of one unit of work in a
// workflow graph. Edges are implied by Dependencies: for every
// dependency d there is an edge d -> this node.
type Node struct {
	// ID uniquely identifies the node within the workflow.
	ID string

	// Name is a human-readable label used in events and logs.
	Name string

	// Kind classifies the node. Phase and custom nodes require an
	// Executor.
	Kind NodeKind

	// PhaseID selects the phase SLO evaluated after completion.
	// Optional for non-phase kinds.
	PhaseID string

	// Executor performs the node's work. See the Executor interface.
	Executor Executor

	// Dependencies lists the node ids that must reach a terminal state
	// (completed or skipped) before this node becomes ready.
	Dependencies []string

	// Condition is an optional boolean expression over the outputs map.
	// When present and false at dispatch time, the node is skipped.
	// Example: outputs['analyze']['requires_db'] == true
	Condition string

	// Retry controls re-dispatch on transient executor failures.
	Retry RetryPolicy

	// Timeout bounds one executor attempt. Zero means the engine
	// default applies, or no limit if none is configured. Expiry is
	// recorded as a transient failure.
	Timeout time.Duration
}

// Envelope is the read-only input snapshot handed to an executor.
// Executors must not mutate it; the scheduler builds a fresh copy per
// attempt.
type Envelope struct {
	// NodeID is the id of the node being executed.
	NodeID string

	// Attempt is the 1-based attempt number.
	Attempt int

	// DependencyOutputs maps each dependency id to its output.
	// Skipped dependencies are absent.
	DependencyOutputs map[string]map[string]any

	// DependencyArtifacts maps each dependency id to its artifacts.
	DependencyArtifacts map[string][]string

	// GlobalContext is the caller-supplied run-wide input.
	GlobalContext map[string]any

	// AllOutputs is a view of every completed node's output, for
	// diagnostics and cross-branch reads.
	AllOutputs map[string]map[string]any

	// Cancel is tripped when the run is cancelled. Executors should
	// observe it at every I/O boundary and return promptly.
	Cancel *CancelToken
}

// Result is the normalized executor return shape.
type Result struct {
	// Output is an arbitrary map recorded on the node state and made
	// available to dependents and policy evaluation.
	Output map[string]any

	// Artifacts are opaque identifiers produced by the executor, such
	// as file paths or storage keys.
	Artifacts []string
}

// Output wraps a bare map into a Result with no artifacts. Convenience
// for executors that produce metrics only.
func Output(m map[string]any) Result {
	return Result{Output: m}
}

// Executor performs the work of a single node. Implementations must be
// cancellation-aware through ctx and the envelope token, and idempotent
// at the artifact level: a retried or resumed attempt may re-run.
//
// A failure's retryability is declared through the returned error's
// kind (see Transient and Fatal); plain errors default to transient.
type Executor interface {
	Execute(ctx context.Context, env Envelope) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, env Envelope) (Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, env Envelope) (Result, error) {
	return f(ctx, env)
}
