package flow

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the current persisted context schema. Older
// snapshots with missing fields are filled from defaults on load;
// unknown fields written by newer versions are preserved round-trip.
const SchemaVersion = 1

// ExecutionStatus is the lifecycle status of one workflow invocation.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Context is the durable aggregate of a single workflow invocation:
// every node's state, the outputs of completed nodes, collected
// artifacts, and the run status. It is owned exclusively by the
// scheduler; executors only ever see immutable snapshots carved from
// it.
//
// Context is the unit of persistence. The engine saves it on every
// status transition, and a saved Context plus the matching graph is
// sufficient to resume a paused run.
type Context struct {
	SchemaVersion int
	ExecutionID   string
	WorkflowID    string

	// GraphHash is the structure hash of the graph this context was
	// started with. Resume verifies it before continuing.
	GraphHash string

	// GlobalInput is the caller-supplied input, immutable for the run.
	// Must be JSON-serializable; it rides in every persisted snapshot
	// and executor envelope.
	GlobalInput map[string]any

	NodeStates map[string]*NodeState

	// Outputs holds output maps keyed by node id, populated only for
	// completed nodes. A policy-failed node's entry is removed.
	Outputs map[string]map[string]any

	// Artifacts is the flat list aggregated across nodes.
	Artifacts []string

	Status    ExecutionStatus
	StartedAt time.Time
	UpdatedAt time.Time

	// extra preserves fields written by schema versions this build does
	// not know about.
	extra map[string]json.RawMessage
}

// NewContext builds a fresh running context with every node pending.
func NewContext(executionID, workflowID, graphHash string, globalInput map[string]any, nodeIDs []string) *Context {
	now := time.Now().UTC()
	states := make(map[string]*NodeState, len(nodeIDs))
	for _, id := range nodeIDs {
		states[id] = NewNodeState(id)
	}
	return &Context{
		SchemaVersion: SchemaVersion,
		ExecutionID:   executionID,
		WorkflowID:    workflowID,
		GraphHash:     graphHash,
		GlobalInput:   globalInput,
		NodeStates:    states,
		Outputs:       make(map[string]map[string]any),
		Status:        ExecutionRunning,
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

// NodeState returns the state record for a node id, or nil.
func (c *Context) NodeState(id string) *NodeState {
	return c.NodeStates[id]
}

// NodeOutput returns the output of a completed node and whether it
// exists.
func (c *Context) NodeOutput(id string) (map[string]any, bool) {
	out, ok := c.Outputs[id]
	return out, ok
}

// Touch bumps UpdatedAt. The timestamp is strictly monotonic even when
// the clock does not move between transitions.
func (c *Context) Touch() {
	now := time.Now().UTC()
	if !now.After(c.UpdatedAt) {
		now = c.UpdatedAt.Add(time.Nanosecond)
	}
	c.UpdatedAt = now
}

// Summary returns node counts keyed by status. Used in the
// workflow_completed event payload.
func (c *Context) Summary() map[string]int {
	counts := make(map[string]int)
	for _, ns := range c.NodeStates {
		counts[string(ns.Status)]++
	}
	return counts
}

// FailedNodeIDs returns the ids of failed nodes, if any.
func (c *Context) FailedNodeIDs() []string {
	var ids []string
	for _, ns := range c.NodeStates {
		if ns.Status == StatusFailed {
			ids = append(ids, ns.NodeID)
		}
	}
	return ids
}

// contextJSON is the wire shape of Context.
type contextJSON struct {
	SchemaVersion int                       `json:"schema_version"`
	ExecutionID   string                    `json:"execution_id"`
	WorkflowID    string                    `json:"workflow_id"`
	GraphHash     string                    `json:"graph_hash"`
	GlobalInput   map[string]any            `json:"global_input,omitempty"`
	NodeStates    map[string]*NodeState     `json:"node_states"`
	Outputs       map[string]map[string]any `json:"outputs"`
	Artifacts     []string                  `json:"artifacts,omitempty"`
	Status        ExecutionStatus           `json:"status"`
	StartedAt     time.Time                 `json:"started_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

var contextKnownKeys = map[string]bool{
	"schema_version": true,
	"execution_id":   true,
	"workflow_id":    true,
	"graph_hash":     true,
	"global_input":   true,
	"node_states":    true,
	"outputs":        true,
	"artifacts":      true,
	"status":         true,
	"started_at":     true,
	"updated_at":     true,
}

// MarshalJSON emits the wire shape plus any preserved unknown fields.
func (c *Context) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(contextJSON{
		SchemaVersion: c.SchemaVersion,
		ExecutionID:   c.ExecutionID,
		WorkflowID:    c.WorkflowID,
		GraphHash:     c.GraphHash,
		GlobalInput:   c.GlobalInput,
		NodeStates:    c.NodeStates,
		Outputs:       c.Outputs,
		Artifacts:     c.Artifacts,
		Status:        c.Status,
		StartedAt:     c.StartedAt,
		UpdatedAt:     c.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}
	if len(c.extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(contextKnownKeys)+len(c.extra))
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.extra {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON loads the wire shape, fills defaults for fields missing
// from older snapshots, and stashes unknown fields for the next save.
func (c *Context) UnmarshalJSON(data []byte) error {
	var wire contextJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode context: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode context fields: %w", err)
	}
	var extra map[string]json.RawMessage
	for k, v := range raw {
		if !contextKnownKeys[k] {
			if extra == nil {
				extra = make(map[string]json.RawMessage)
			}
			extra[k] = v
		}
	}

	if wire.SchemaVersion == 0 {
		wire.SchemaVersion = SchemaVersion
	}
	if wire.NodeStates == nil {
		wire.NodeStates = make(map[string]*NodeState)
	}
	if wire.Outputs == nil {
		wire.Outputs = make(map[string]map[string]any)
	}
	if wire.Status == "" {
		wire.Status = ExecutionRunning
	}

	c.SchemaVersion = wire.SchemaVersion
	c.ExecutionID = wire.ExecutionID
	c.WorkflowID = wire.WorkflowID
	c.GraphHash = wire.GraphHash
	c.GlobalInput = wire.GlobalInput
	c.NodeStates = wire.NodeStates
	c.Outputs = wire.Outputs
	c.Artifacts = wire.Artifacts
	c.Status = wire.Status
	c.StartedAt = wire.StartedAt
	c.UpdatedAt = wire.UpdatedAt
	c.extra = extra
	return nil
}

// deepCopyValue clones JSON-compatible data through a marshal round
// trip, isolating executor snapshots from scheduler-owned maps.
func deepCopyValue[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("deep copy marshal: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("deep copy unmarshal: %w", err)
	}
	return out, nil
}
