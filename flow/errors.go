// Package flow provides a DAG workflow engine for orchestrating phase
// executors with dependency-ordered parallel scheduling, retry policies,
// quality-gate enforcement, and durable execution contexts.
package flow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine and executor failures. The kind decides
// retryability and how the scheduler records the failure.
type ErrorKind string

const (
	// KindValidation indicates a malformed graph, a bad gate expression,
	// or an unresumable execution id. The engine refuses to start.
	KindValidation ErrorKind = "ValidationError"

	// KindTransient indicates an executor failure that may succeed on
	// retry (network, timeout, explicit transient). Subject to the
	// node's retry policy.
	KindTransient ErrorKind = "ExecutorTransient"

	// KindFatal indicates the executor declared the failure
	// unrecoverable. The node fails without retry.
	KindFatal ErrorKind = "ExecutorFatal"

	// KindPolicyViolation indicates a blocking quality gate failed after
	// the executor succeeded. The node fails without retry.
	KindPolicyViolation ErrorKind = "PolicyViolation"

	// KindWorkflowMismatch indicates a resume attempt against a graph
	// whose structure hash does not match the persisted context.
	KindWorkflowMismatch ErrorKind = "WorkflowMismatch"

	// KindCancelled indicates the node was aborted by cancellation.
	KindCancelled ErrorKind = "Cancelled"

	// KindInternal indicates an engine invariant violation, such as an
	// illegal state transition. Always a bug.
	KindInternal ErrorKind = "Internal"
)

// Error is the engine's error type. Kind carries the failure class,
// NodeID is set when the error is attributable to a single node, and
// Cause preserves the underlying error for errors.Is/As chains.
type Error struct {
	Kind    ErrorKind
	Message string
	NodeID  string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Transient builds a retryable executor error.
func Transient(format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Message: fmt.Sprintf(format, args...)}
}

// Fatal builds a non-retryable executor error.
func Fatal(format string, args ...any) *Error {
	return &Error{Kind: KindFatal, Message: fmt.Sprintf(format, args...)}
}

// Classify returns the error kind for an executor failure. Errors that
// do not carry a kind default to KindTransient, so executors that
// return plain errors remain retry-eligible.
func Classify(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// Retryable reports whether an executor failure is eligible for retry
// under a node's retry policy. Only transient failures qualify.
func Retryable(err error) bool {
	return Classify(err) == KindTransient
}
