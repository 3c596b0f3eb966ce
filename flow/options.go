package flow

import (
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/forgeline/phaseflow/flow/emit"
	"github.com/forgeline/phaseflow/flow/policy"
	"github.com/forgeline/phaseflow/flow/store"
)

// FailurePolicy decides what happens to the rest of the graph when a
// node fails permanently.
type FailurePolicy string

const (
	// FailFast (default) trips cancellation on the first permanent
	// failure: in-flight nodes drain, pending nodes are cancelled, and
	// the run ends failed.
	FailFast FailurePolicy = "fail_fast"

	// ContinueOnFailure lets branches independent of the failed node
	// run to their own terminal states. The run still ends failed if
	// any node failed.
	ContinueOnFailure FailurePolicy = "continue_on_failure"
)

// engineConfig holds resolved executor configuration. Populated by
// functional options with validation at construction.
type engineConfig struct {
	parallel           bool
	maxConcurrent      int
	defaultNodeTimeout time.Duration
	failurePolicy      FailurePolicy
	metrics            *Metrics
	emitter            emit.Emitter
	store              store.Store[*Context]
	policy             *policy.Engine
	newID              func() string
}

func defaultConfig() engineConfig {
	return engineConfig{
		failurePolicy: FailFast,
		emitter:       emit.NewNullEmitter(),
		newID:         uuid.NewString,
	}
}

// Option configures a DAGExecutor. Options validate eagerly; a bad
// value fails construction rather than the run.
type Option func(*engineConfig) error

// WithParallel switches between parallel dispatch of the ready set and
// linear one-at-a-time dispatch.
func WithParallel(parallel bool) Option {
	return func(c *engineConfig) error {
		c.parallel = parallel
		return nil
	}
}

// WithMaxConcurrent caps concurrent executor dispatches in parallel
// mode. Zero means the default cap of runtime.NumCPU().
func WithMaxConcurrent(n int) Option {
	return func(c *engineConfig) error {
		if n < 0 {
			return &Error{Kind: KindValidation, Message: "max concurrent must be >= 0"}
		}
		c.maxConcurrent = n
		return nil
	}
}

// WithDefaultNodeTimeout bounds executor attempts for nodes that do
// not set their own timeout. Zero disables the default.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(c *engineConfig) error {
		if d < 0 {
			return &Error{Kind: KindValidation, Message: "default node timeout must be >= 0"}
		}
		c.defaultNodeTimeout = d
		return nil
	}
}

// WithFailurePolicy selects the propagation behavior for permanent
// node failures.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(c *engineConfig) error {
		switch p {
		case FailFast, ContinueOnFailure:
			c.failurePolicy = p
			return nil
		default:
			return &Error{Kind: KindValidation, Message: "unknown failure policy"}
		}
	}
}

// WithMetrics attaches Prometheus collectors. Nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *engineConfig) error {
		c.metrics = m
		return nil
	}
}

// WithEmitter sets the event sink. Combine sinks with
// emit.NewMultiEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(c *engineConfig) error {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		c.emitter = e
		return nil
	}
}

// WithStore sets the durable context store. Without a store the engine
// runs fine but nothing survives the process and resume is
// unavailable.
func WithStore(s store.Store[*Context]) Option {
	return func(c *engineConfig) error {
		c.store = s
		return nil
	}
}

// WithPolicyEngine attaches a compiled Quality Fabric. Phase nodes are
// evaluated against it after completion; without one, no gates run.
func WithPolicyEngine(p *policy.Engine) Option {
	return func(c *engineConfig) error {
		c.policy = p
		return nil
	}
}

// WithIDGenerator replaces the execution id generator. The default is
// a random UUID per run; tests use this for stable ids.
func WithIDGenerator(f func() string) Option {
	return func(c *engineConfig) error {
		if f == nil {
			return &Error{Kind: KindValidation, Message: "id generator must not be nil"}
		}
		c.newID = f
		return nil
	}
}

// concurrencyCap resolves the effective dispatch cap for one scheduler
// iteration.
func (c *engineConfig) concurrencyCap() int {
	if !c.parallel {
		return 1
	}
	if c.maxConcurrent > 0 {
		return c.maxConcurrent
	}
	return runtime.NumCPU()
}
