// Package emit defines the engine's event stream: the event model, the
// Emitter interface, and ready-made emitters for logging, OpenTelemetry
// tracing, in-memory capture, and fan-out.
package emit

import "time"

// Kind names an event on the execution stream.
type Kind string

// Workflow-level events.
const (
	WorkflowStarted   Kind = "workflow_started"
	WorkflowCompleted Kind = "workflow_completed"
	WorkflowFailed    Kind = "workflow_failed"
	WorkflowPaused    Kind = "workflow_paused"
	WorkflowCancelled Kind = "workflow_cancelled"
)

// Node-level events.
const (
	NodeReady     Kind = "node_ready"
	NodeStarted   Kind = "node_started"
	NodeCompleted Kind = "node_completed"
	NodeFailed    Kind = "node_failed"
	NodeSkipped   Kind = "node_skipped"
	NodeRetry     Kind = "node_retry"
)

// Policy events.
const (
	PolicyEvaluated Kind = "policy_evaluated"
	PolicyBlocked   Kind = "policy_blocked"
)

// Event is one entry on the execution stream. Every event carries the
// execution id and an emission timestamp; node and kind-specific
// payloads ride in Fields (for example attempt, output_keys,
// will_retry, failing_gates).
//
// Events are produced by the scheduler after the context change they
// describe has been persisted, so no event references state that is
// not yet durable.
type Event struct {
	Kind        Kind           `json:"kind"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id,omitempty"`
	EmittedAt   time.Time      `json:"emitted_at"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Emitter consumes events. Implementations must not mutate engine
// state and should return quickly; the engine emits synchronously from
// the scheduler.
type Emitter interface {
	Emit(event Event)
}
