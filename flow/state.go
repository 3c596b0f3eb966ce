package flow

import (
	"fmt"
	"time"
)

// NodeStatus is the lifecycle status of a node within one execution.
type NodeStatus string

const (
	// StatusPending means dependencies have not yet resolved.
	StatusPending NodeStatus = "pending"

	// StatusReady means all dependencies are terminal and the node is
	// eligible for dispatch. Also the transient wait state between a
	// retryable failure and the next attempt.
	StatusReady NodeStatus = "ready"

	// StatusRunning means an executor attempt is in flight.
	StatusRunning NodeStatus = "running"

	// StatusCompleted is terminal success; output and artifacts are set.
	StatusCompleted NodeStatus = "completed"

	// StatusFailed is terminal failure after retry exhaustion, a fatal
	// error, or a blocking policy violation.
	StatusFailed NodeStatus = "failed"

	// StatusSkipped is terminal; the node's condition evaluated false.
	StatusSkipped NodeStatus = "skipped"

	// StatusCancelled is terminal; the run was cancelled before or
	// during this node's execution.
	StatusCancelled NodeStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s NodeStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// StateError records why a node failed, with enough structure for
// events and diagnosis without consulting logs.
type StateError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NodeState is the mutable per-node record within one execution.
// Transitions go through the Mark methods, which validate the source
// status and stamp timestamps; an illegal transition is an engine bug
// and surfaces as a KindInternal error.
type NodeState struct {
	NodeID     string         `json:"node_id"`
	Status     NodeStatus     `json:"status"`
	Attempts   int            `json:"attempts"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Artifacts  []string       `json:"artifacts,omitempty"`
	Error      *StateError    `json:"error,omitempty"`
	SkipReason string         `json:"skip_reason,omitempty"`

	// Warnings records non-blocking gate failures from policy
	// evaluation. They never change the status.
	Warnings []string `json:"warnings,omitempty"`
}

// NewNodeState returns a pending state for the given node.
func NewNodeState(nodeID string) *NodeState {
	return &NodeState{NodeID: nodeID, Status: StatusPending}
}

func (ns *NodeState) transitionError(to NodeStatus) error {
	return &Error{
		Kind:    KindInternal,
		NodeID:  ns.NodeID,
		Message: fmt.Sprintf("invalid transition %s -> %s", ns.Status, to),
	}
}

// MarkReady moves pending -> ready once dependencies have resolved.
func (ns *NodeState) MarkReady() error {
	if ns.Status != StatusPending {
		return ns.transitionError(StatusReady)
	}
	ns.Status = StatusReady
	return nil
}

// MarkRunning moves ready -> running and opens a new attempt.
func (ns *NodeState) MarkRunning(now time.Time) error {
	if ns.Status != StatusReady {
		return ns.transitionError(StatusRunning)
	}
	ns.Status = StatusRunning
	ns.Attempts++
	t := now
	ns.StartedAt = &t
	return nil
}

// MarkRetryWait moves running -> ready while the engine waits out the
// retry delay. Internal; observers see only the retry event.
func (ns *NodeState) MarkRetryWait() error {
	if ns.Status != StatusRunning {
		return ns.transitionError(StatusReady)
	}
	ns.Status = StatusReady
	return nil
}

// MarkCompleted sets output and artifacts, then flips running ->
// completed. Output and artifacts are never mutated afterwards.
func (ns *NodeState) MarkCompleted(output map[string]any, artifacts []string, now time.Time) error {
	if ns.Status != StatusRunning {
		return ns.transitionError(StatusCompleted)
	}
	ns.Output = output
	ns.Artifacts = artifacts
	ns.Status = StatusCompleted
	t := now
	ns.FinishedAt = &t
	ns.Error = nil
	return nil
}

// MarkFailed records the failure and flips to failed. Allowed from
// running (executor failure) and from completed (a blocking gate
// overrides a successful executor).
func (ns *NodeState) MarkFailed(kind ErrorKind, message string, now time.Time) error {
	if ns.Status != StatusRunning && ns.Status != StatusCompleted {
		return ns.transitionError(StatusFailed)
	}
	ns.Status = StatusFailed
	ns.Error = &StateError{Kind: kind, Message: message}
	t := now
	ns.FinishedAt = &t
	return nil
}

// MarkSkipped flips a not-yet-running node to skipped with the given
// condition reason.
func (ns *NodeState) MarkSkipped(reason string, now time.Time) error {
	if ns.Status != StatusPending && ns.Status != StatusReady {
		return ns.transitionError(StatusSkipped)
	}
	ns.Status = StatusSkipped
	ns.SkipReason = reason
	t := now
	ns.FinishedAt = &t
	return nil
}

// MarkCancelled flips a non-terminal node to cancelled.
func (ns *NodeState) MarkCancelled(now time.Time) error {
	if ns.Status.Terminal() {
		return ns.transitionError(StatusCancelled)
	}
	ns.Status = StatusCancelled
	t := now
	ns.FinishedAt = &t
	return nil
}
