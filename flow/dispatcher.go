package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeline/phaseflow/flow/emit"
	"github.com/forgeline/phaseflow/flow/store"
)

// FeatureFlags selects the execution path and the capabilities wired
// into it. Read once at dispatcher construction.
type FeatureFlags struct {
	// EnableDAGExecution switches from the legacy sequential path to
	// the DAG engine. Off by default: with it off the engine is inert.
	EnableDAGExecution bool

	// EnableParallelExecution selects parallel dispatch within the DAG
	// path. Ignored on the legacy path.
	EnableParallelExecution bool

	// EnableContextPersistence keeps the configured context store. When
	// off, the store is replaced by an in-memory stub and pause/resume
	// is unavailable.
	EnableContextPersistence bool

	// EnableExecutionEvents keeps the configured emitter. When off, no
	// event handlers are invoked.
	EnableExecutionEvents bool
}

// DefaultFeatureFlags returns the defaults: DAG and parallel execution
// off, persistence and events on.
func DefaultFeatureFlags() FeatureFlags {
	return FeatureFlags{
		EnableContextPersistence: true,
		EnableExecutionEvents:    true,
	}
}

// Dispatcher is the front-end consumers call. Depending on feature
// flags it routes a workflow to the legacy sequential path, the DAG
// engine in linear mode, or the DAG engine in parallel mode.
type Dispatcher struct {
	flags FeatureFlags
	dag   *DAGExecutor
}

// NewDispatcher builds a dispatcher. The options configure the
// underlying DAG executor; flag-driven overrides (parallelism, the
// persistence stub, event muting) are applied after them.
func NewDispatcher(flags FeatureFlags, opts ...Option) (*Dispatcher, error) {
	adjusted := make([]Option, 0, len(opts)+3)
	adjusted = append(adjusted, opts...)
	adjusted = append(adjusted, WithParallel(flags.EnableParallelExecution))
	if !flags.EnableContextPersistence {
		adjusted = append(adjusted, WithStore(store.NewMemStore[*Context]()))
	}
	if !flags.EnableExecutionEvents {
		adjusted = append(adjusted, WithEmitter(emit.NewNullEmitter()))
	}

	dag, err := NewDAGExecutor(adjusted...)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{flags: flags, dag: dag}, nil
}

// Dispatch runs the workflow on the path the flags select and returns
// the final context.
func (d *Dispatcher) Dispatch(ctx context.Context, g *Graph, globalInput map[string]any, executionID string) (*Context, error) {
	if !d.flags.EnableDAGExecution {
		return d.runLegacy(ctx, g, globalInput, executionID)
	}
	return d.dag.Execute(ctx, g, globalInput, executionID)
}

// Pause forwards to the DAG executor. It fails when context
// persistence is disabled, since a paused run without a durable
// context could never resume.
func (d *Dispatcher) Pause() error {
	if !d.flags.EnableDAGExecution {
		return &Error{Kind: KindValidation, Message: "pause requires DAG execution"}
	}
	if !d.flags.EnableContextPersistence {
		return &Error{Kind: KindValidation, Message: "pause requires context persistence"}
	}
	d.dag.Pause()
	return nil
}

// Cancel forwards to the DAG executor. No-op on the legacy path.
func (d *Dispatcher) Cancel() {
	if d.flags.EnableDAGExecution {
		d.dag.Cancel()
	}
}

// runLegacy is the pre-DAG execution path: nodes run one at a time in
// topological order, a single attempt each, with no persistence,
// events, retries, or gate enforcement. Kept for consumers that have
// not migrated; the context it returns has the same shape as the DAG
// path's.
func (d *Dispatcher) runLegacy(ctx context.Context, g *Graph, globalInput map[string]any, executionID string) (*Context, error) {
	if issues := g.Validate(); len(issues) > 0 {
		return nil, &Error{
			Kind:    KindValidation,
			Message: fmt.Sprintf("graph %s is invalid: %v", g.ID, issues),
		}
	}
	layers, err := g.TopologicalLayers()
	if err != nil {
		return nil, err
	}

	if executionID == "" {
		executionID = d.dag.cfg.newID()
	}
	ectx := NewContext(executionID, g.ID, g.StructureHash(), globalInput, g.NodeIDs())

	for _, layer := range layers {
		for _, id := range layer {
			node := g.Node(id)
			ns := ectx.NodeStates[id]
			now := time.Now().UTC()

			if node.Condition != "" {
				cond, cerr := compileCondition(node.Condition)
				if cerr != nil {
					return nil, &Error{Kind: KindValidation, NodeID: id, Message: cerr.Error()}
				}
				if ok, reason := cond.Evaluate(ectx.Outputs); !ok {
					if terr := ns.MarkSkipped(reason, now); terr != nil {
						return ectx, terr
					}
					ectx.Touch()
					continue
				}
			}

			if terr := ns.MarkReady(); terr != nil {
				return ectx, terr
			}
			if terr := ns.MarkRunning(now); terr != nil {
				return ectx, terr
			}

			var res Result
			var execErr error
			if node.Executor == nil {
				res = Result{Output: map[string]any{}}
			} else {
				res, execErr = node.Executor.Execute(ctx, d.legacyEnvelope(ectx, node, ns.Attempts))
			}

			if execErr != nil {
				if terr := ns.MarkFailed(Classify(execErr), execErr.Error(), time.Now().UTC()); terr != nil {
					return ectx, terr
				}
				ectx.Status = ExecutionFailed
				ectx.Touch()
				return ectx, nil
			}
			if res.Output == nil {
				res.Output = map[string]any{}
			}
			if terr := ns.MarkCompleted(res.Output, res.Artifacts, time.Now().UTC()); terr != nil {
				return ectx, terr
			}
			ectx.Outputs[id] = res.Output
			ectx.Artifacts = append(ectx.Artifacts, res.Artifacts...)
			ectx.Touch()
		}
	}

	ectx.Status = ExecutionCompleted
	ectx.Touch()
	return ectx, nil
}

// legacyEnvelope mirrors the DAG path's envelope without the deep
// copies; the legacy path is synchronous, so executors cannot race the
// dispatcher.
func (d *Dispatcher) legacyEnvelope(ectx *Context, node *Node, attempt int) Envelope {
	depOutputs := make(map[string]map[string]any)
	depArtifacts := make(map[string][]string)
	for _, dep := range node.Dependencies {
		if out, ok := ectx.Outputs[dep]; ok {
			depOutputs[dep] = out
		}
		if depState := ectx.NodeStates[dep]; depState != nil && len(depState.Artifacts) > 0 {
			depArtifacts[dep] = depState.Artifacts
		}
	}
	return Envelope{
		NodeID:              node.ID,
		Attempt:             attempt,
		DependencyOutputs:   depOutputs,
		DependencyArtifacts: depArtifacts,
		GlobalContext:       ectx.GlobalInput,
		AllOutputs:          ectx.Outputs,
		Cancel:              NewCancelToken(),
	}
}
