package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/forgeline/phaseflow/flow/emit"
	"github.com/forgeline/phaseflow/flow/store"
)

// DAGExecutor runs workflow graphs: dependency-ordered scheduling with
// parallel or linear dispatch, per-node retry with backoff, condition
// skips, quality-gate enforcement, pause/cancel, and durable context
// persistence on every transition.
//
// The scheduler is a single goroutine owning the execution context.
// Executors run as separate goroutines and communicate results back
// over a channel; they never touch the context directly. Events are
// emitted by the scheduler only, after the state they describe has
// been persisted, so per-node event order always matches lifecycle
// order.
//
// One DAGExecutor drives one execution at a time; Pause and Cancel act
// on the in-flight run.
type DAGExecutor struct {
	cfg engineConfig

	mu             sync.Mutex
	token          *CancelToken
	pauseRequested bool
	userCancelled  bool
}

// NewDAGExecutor builds an executor from functional options.
func NewDAGExecutor(opts ...Option) (*DAGExecutor, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &DAGExecutor{cfg: cfg}, nil
}

// Pause cooperatively stops the in-flight run: no new nodes are
// dispatched, the running set drains, the context is marked paused and
// persisted. A paused execution resumes through Execute with the same
// execution id.
func (d *DAGExecutor) Pause() {
	d.mu.Lock()
	d.pauseRequested = true
	d.mu.Unlock()
}

// Cancel trips the run's cancellation token. In-flight executors
// observe it and return; pending and ready nodes transition to
// cancelled. Idempotent. Cancel takes precedence over Pause, and a
// cancelled execution cannot be resumed.
func (d *DAGExecutor) Cancel() {
	d.mu.Lock()
	d.userCancelled = true
	token := d.token
	d.mu.Unlock()
	if token != nil {
		token.Cancel()
	}
}

func (d *DAGExecutor) paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pauseRequested
}

func (d *DAGExecutor) cancelledByUser() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userCancelled
}

// Execute runs the graph to a terminal state and returns the final
// context. Node-level failures never surface as errors; they are
// recorded in the context and its status. Errors are reserved for
// engine-level problems: an invalid graph, a resume mismatch, or a
// persistence failure.
//
// When executionID is non-empty and the store holds a matching
// context, the run resumes from its frontier; otherwise a new run
// starts (with a generated id when executionID is empty).
//
// globalInput must be JSON-serializable: it is persisted with the
// context and deep-copied into executor envelopes.
func (d *DAGExecutor) Execute(ctx context.Context, g *Graph, globalInput map[string]any, executionID string) (*Context, error) {
	if issues := g.Validate(); len(issues) > 0 {
		return nil, &Error{
			Kind:    KindValidation,
			Message: fmt.Sprintf("graph %s is invalid: %v", g.ID, issues),
		}
	}

	conditions := make(map[string]*condition)
	for _, id := range g.NodeIDs() {
		if src := g.Node(id).Condition; src != "" {
			cond, err := compileCondition(src)
			if err != nil {
				// Validate already catches this; kept as a guard.
				return nil, &Error{Kind: KindValidation, NodeID: id, Message: err.Error()}
			}
			conditions[id] = cond
		}
	}

	ectx, resumed, err := d.openContext(ctx, g, globalInput, executionID)
	if err != nil {
		return nil, err
	}

	token := NewCancelToken()
	d.mu.Lock()
	d.token = token
	d.pauseRequested = false
	d.userCancelled = false
	d.mu.Unlock()

	r := &schedulerRun{
		d:          d,
		ctx:        ctx,
		graph:      g,
		ectx:       ectx,
		conditions: conditions,
		token:      token,
		results:    make(chan nodeMsg, g.Len()),
		inflight:   make(map[string]bool),
		terminal:   make(map[string]bool),
		startedAt:  time.Now(),
	}
	for id, ns := range ectx.NodeStates {
		if ns.Status == StatusCompleted || ns.Status == StatusSkipped {
			r.terminal[id] = true
		}
		if ns.Status == StatusFailed {
			r.anyFailed = true
		}
	}

	startFields := map[string]any{
		"workflow_id": ectx.WorkflowID,
		"started_at":  ectx.StartedAt,
	}
	if resumed {
		startFields["resumed"] = true
	}
	r.persist()
	r.emit(emit.WorkflowStarted, "", startFields)

	r.loop()
	return r.finalize()
}

// openContext loads a resumable context or builds a fresh one.
func (d *DAGExecutor) openContext(ctx context.Context, g *Graph, globalInput map[string]any, executionID string) (*Context, bool, error) {
	hash := g.StructureHash()

	if executionID != "" && d.cfg.store != nil {
		ectx, err := d.cfg.store.Load(ctx, executionID)
		switch {
		case err == nil:
			if ectx.WorkflowID != g.ID || (ectx.GraphHash != "" && ectx.GraphHash != hash) {
				return nil, false, &Error{
					Kind:    KindWorkflowMismatch,
					Message: fmt.Sprintf("context %s belongs to workflow %s, not %s", executionID, ectx.WorkflowID, g.ID),
				}
			}
			if ectx.Status == ExecutionCancelled {
				return nil, false, &Error{
					Kind:    KindValidation,
					Message: fmt.Sprintf("execution %s was cancelled and cannot be resumed", executionID),
				}
			}
			// The prior process may have died mid-dispatch; anything
			// caught in flight is re-executed from scratch.
			for _, ns := range ectx.NodeStates {
				if ns.Status == StatusRunning || ns.Status == StatusReady {
					ns.Status = StatusPending
				}
			}
			// Nodes added to the graph after the snapshot (same hash
			// means none, but older snapshots may lack entries).
			for _, id := range g.NodeIDs() {
				if ectx.NodeStates[id] == nil {
					ectx.NodeStates[id] = NewNodeState(id)
				}
			}
			ectx.GraphHash = hash
			ectx.Status = ExecutionRunning
			return ectx, true, nil
		case errors.Is(err, store.ErrNotFound):
			// Fresh run under the caller-chosen id.
		default:
			return nil, false, &Error{
				Kind:    KindInternal,
				Message: fmt.Sprintf("load context %s: %v", executionID, err),
				Cause:   err,
			}
		}
	}

	if executionID == "" {
		executionID = d.cfg.newID()
	}
	return NewContext(executionID, g.ID, hash, globalInput, g.NodeIDs()), false, nil
}

// nodeMsg is what executor goroutines and retry timers send back to
// the scheduler.
type nodeMsg struct {
	nodeID   string
	wake     bool // retry delay elapsed; re-dispatch
	result   Result
	err      error
	duration time.Duration
}

// schedulerRun is the per-execution scheduler state. All fields are
// touched only from the scheduler goroutine.
type schedulerRun struct {
	d          *DAGExecutor
	ctx        context.Context
	graph      *Graph
	ectx       *Context
	conditions map[string]*condition
	token      *CancelToken
	results    chan nodeMsg
	inflight   map[string]bool
	terminal   map[string]bool // completed or skipped
	anyFailed  bool
	runErr     error
	startedAt  time.Time
}

func (r *schedulerRun) stopDispatching() bool {
	if r.token.Cancelled() || r.d.paused() {
		return true
	}
	return r.anyFailed && r.d.cfg.failurePolicy == FailFast
}

// loop is the scheduling loop. Each iteration dispatches whatever is
// ready (unless the run is stopping), then waits for one in-flight
// node or retry timer. It exits when nothing is in flight and nothing
// more can be dispatched.
func (r *schedulerRun) loop() {
	ctxDone := r.ctx.Done()

	for {
		progressed := 0
		if !r.stopDispatching() && r.runErr == nil {
			progressed = r.dispatchReady()
		}

		if len(r.inflight) == 0 {
			if progressed == 0 {
				return
			}
			// Skips opened new frontier; recompute the ready set.
			continue
		}

		select {
		case msg := <-r.results:
			r.handle(msg)
		case <-ctxDone:
			// Caller context cancellation counts as a cancel request.
			r.token.Cancel()
			ctxDone = nil
		}
	}
}

// dispatchReady walks the ready set in insertion order, skipping nodes
// whose condition is false and starting the rest up to the concurrency
// cap. Returns how many nodes it skipped or started.
func (r *schedulerRun) dispatchReady() int {
	limit := r.d.cfg.concurrencyCap()
	progressed := 0

	ready := 0
	for _, id := range r.graph.ReadySet(r.terminal) {
		ns := r.ectx.NodeStates[id]
		if ns.Status != StatusPending {
			continue
		}
		ready++

		if cond := r.conditions[id]; cond != nil {
			ok, reason := cond.Evaluate(r.ectx.Outputs)
			if !ok {
				r.markInternal(ns.MarkSkipped(reason, time.Now().UTC()))
				r.terminal[id] = true
				r.persist()
				r.emit(emit.NodeSkipped, id, map[string]any{"condition_reason": reason})
				progressed++
				continue
			}
		}

		if len(r.inflight) >= limit {
			continue
		}

		r.markInternal(ns.MarkReady())
		r.persist()
		r.emit(emit.NodeReady, id, nil)
		r.startAttempt(id)
		progressed++
	}

	r.d.cfg.metrics.setReadySet(ready)
	return progressed
}

// startAttempt moves a ready node to running and launches its executor
// goroutine.
func (r *schedulerRun) startAttempt(id string) {
	ns := r.ectx.NodeStates[id]
	r.markInternal(ns.MarkRunning(time.Now().UTC()))
	r.persist()
	r.emit(emit.NodeStarted, id, map[string]any{"attempt": ns.Attempts})

	r.inflight[id] = true
	r.d.cfg.metrics.setInflight(len(r.inflight))

	env := r.buildEnvelope(id, ns.Attempts)
	go r.runNode(r.graph.Node(id), env)
}

// buildEnvelope snapshots the inputs an executor sees. Maps are deep
// copied through JSON, so global input and node outputs must be
// JSON-serializable; executors can never reach scheduler-owned state.
// A value that cannot round-trip is the same class of failure persist
// reports, and it stops the run the same way.
func (r *schedulerRun) buildEnvelope(id string, attempt int) Envelope {
	node := r.graph.Node(id)

	depOutputs := make(map[string]map[string]any)
	depArtifacts := make(map[string][]string)
	for _, dep := range node.Dependencies {
		if out, ok := r.ectx.Outputs[dep]; ok {
			cp, err := deepCopyValue(out)
			if err != nil {
				r.markInternal(&Error{
					Kind:    KindInternal,
					NodeID:  dep,
					Message: fmt.Sprintf("output of %s is not JSON-serializable: %v", dep, err),
					Cause:   err,
				})
				continue
			}
			depOutputs[dep] = cp
		}
		if depState := r.ectx.NodeStates[dep]; depState != nil && len(depState.Artifacts) > 0 {
			arts := make([]string, len(depState.Artifacts))
			copy(arts, depState.Artifacts)
			depArtifacts[dep] = arts
		}
	}

	global, err := deepCopyValue(r.ectx.GlobalInput)
	if err != nil {
		r.markInternal(&Error{
			Kind:    KindInternal,
			NodeID:  id,
			Message: fmt.Sprintf("global input is not JSON-serializable: %v", err),
			Cause:   err,
		})
	}
	allOutputs, err := deepCopyValue(r.ectx.Outputs)
	if err != nil {
		r.markInternal(&Error{
			Kind:    KindInternal,
			NodeID:  id,
			Message: fmt.Sprintf("outputs are not JSON-serializable: %v", err),
			Cause:   err,
		})
	}

	return Envelope{
		NodeID:              id,
		Attempt:             attempt,
		DependencyOutputs:   depOutputs,
		DependencyArtifacts: depArtifacts,
		GlobalContext:       global,
		AllOutputs:          allOutputs,
		Cancel:              r.token,
	}
}

// runNode executes one attempt in its own goroutine and reports back
// over the results channel. Timeouts wrap the attempt context; expiry
// is reported as a transient failure. A panicking executor is
// contained and reported as fatal.
func (r *schedulerRun) runNode(node *Node, env Envelope) {
	start := time.Now()
	var res Result
	var err error

	if node.Executor == nil {
		// Gate and conditional nodes without executors complete
		// immediately; their value is the dependency barrier and the
		// policy evaluation that follows.
		res = Result{Output: map[string]any{}}
	} else {
		timeout := node.Timeout
		if timeout == 0 {
			timeout = r.d.cfg.defaultNodeTimeout
		}
		runCtx := r.ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(r.ctx, timeout)
			defer cancel()
		}

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					err = &Error{
						Kind:    KindFatal,
						NodeID:  node.ID,
						Message: fmt.Sprintf("executor panicked: %v", rec),
					}
				}
			}()
			res, err = node.Executor.Execute(runCtx, env)
		}()

		if err != nil && timeout > 0 && (errors.Is(err, context.DeadlineExceeded) || runCtx.Err() == context.DeadlineExceeded) {
			err = &Error{
				Kind:    KindTransient,
				NodeID:  node.ID,
				Message: fmt.Sprintf("attempt exceeded timeout of %v", timeout),
			}
		}
	}

	if err == nil && res.Output == nil {
		res.Output = map[string]any{}
	}
	r.results <- nodeMsg{nodeID: node.ID, result: res, err: err, duration: time.Since(start)}
}

// handle applies one completion or retry wake to the context.
func (r *schedulerRun) handle(msg nodeMsg) {
	if msg.wake {
		r.handleWake(msg.nodeID)
		return
	}
	if msg.err != nil {
		r.handleFailure(msg)
		return
	}
	r.handleSuccess(msg)
}

// handleWake fires when a retry delay elapses. Under normal conditions
// the node goes straight back to running; if the run started stopping
// while the timer ran, the node is parked (or cancelled) instead.
func (r *schedulerRun) handleWake(id string) {
	ns := r.ectx.NodeStates[id]

	if r.token.Cancelled() {
		delete(r.inflight, id)
		r.d.cfg.metrics.setInflight(len(r.inflight))
		r.markInternal(ns.MarkCancelled(time.Now().UTC()))
		r.persist()
		return
	}
	if r.stopDispatching() {
		// Paused mid-delay: leave the node ready; resume re-runs it.
		delete(r.inflight, id)
		r.d.cfg.metrics.setInflight(len(r.inflight))
		r.persist()
		return
	}
	r.startAttempt(id)
}

func (r *schedulerRun) handleFailure(msg nodeMsg) {
	id := msg.nodeID
	ns := r.ectx.NodeStates[id]
	node := r.graph.Node(id)
	kind := Classify(msg.err)
	now := time.Now().UTC()

	delete(r.inflight, id)
	r.d.cfg.metrics.setInflight(len(r.inflight))

	// A run being torn down treats stragglers as cancelled, not failed.
	if kind == KindCancelled || r.token.Cancelled() {
		r.markInternal(ns.MarkCancelled(now))
		r.d.cfg.metrics.observeNodeLatency(StatusCancelled, msg.duration)
		r.persist()
		return
	}

	retryable := kind == KindTransient && ns.Attempts < node.Retry.MaxAttempts

	if retryable && r.d.paused() {
		// No new dispatches during pause; the attempt budget carries
		// over to the resumed run.
		r.markInternal(ns.MarkRetryWait())
		r.persist()
		r.emit(emit.NodeFailed, id, map[string]any{
			"attempt":       ns.Attempts,
			"error_kind":    string(kind),
			"error_message": msg.err.Error(),
			"will_retry":    true,
		})
		return
	}

	if retryable {
		r.markInternal(ns.MarkRetryWait())
		r.persist()
		r.emit(emit.NodeFailed, id, map[string]any{
			"attempt":       ns.Attempts,
			"error_kind":    string(kind),
			"error_message": msg.err.Error(),
			"will_retry":    true,
		})

		delay := node.Retry.Delay(ns.Attempts)
		r.persist()
		r.emit(emit.NodeRetry, id, map[string]any{
			"next_attempt":  ns.Attempts + 1,
			"delay_seconds": delay.Seconds(),
		})
		r.d.cfg.metrics.incRetry(id)

		// The node stays in the inflight set while the delay runs, so
		// the loop keeps waiting on it.
		token := r.token
		results := r.results
		go func() {
			if delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-token.Done():
				}
			}
			results <- nodeMsg{nodeID: id, wake: true}
		}()
		r.inflight[id] = true
		r.d.cfg.metrics.setInflight(len(r.inflight))
		return
	}

	r.markInternal(ns.MarkFailed(kind, msg.err.Error(), now))
	r.anyFailed = true
	r.d.cfg.metrics.observeNodeLatency(StatusFailed, msg.duration)
	r.persist()
	r.emit(emit.NodeFailed, id, map[string]any{
		"attempt":       ns.Attempts,
		"error_kind":    string(kind),
		"error_message": msg.err.Error(),
		"will_retry":    false,
	})

	if r.d.cfg.failurePolicy == FailFast {
		r.token.Cancel()
	}
}

func (r *schedulerRun) handleSuccess(msg nodeMsg) {
	id := msg.nodeID
	ns := r.ectx.NodeStates[id]
	node := r.graph.Node(id)
	now := time.Now().UTC()

	delete(r.inflight, id)
	r.d.cfg.metrics.setInflight(len(r.inflight))

	// A run being torn down discards straggler results: the node is
	// cancelled once control returns, even when the executor ignored
	// the token and produced a value.
	if r.token.Cancelled() {
		r.markInternal(ns.MarkCancelled(now))
		r.d.cfg.metrics.observeNodeLatency(StatusCancelled, msg.duration)
		r.persist()
		return
	}

	r.markInternal(ns.MarkCompleted(msg.result.Output, msg.result.Artifacts, now))
	r.ectx.Outputs[id] = msg.result.Output
	r.ectx.Artifacts = append(r.ectx.Artifacts, msg.result.Artifacts...)
	r.terminal[id] = true
	r.d.cfg.metrics.observeNodeLatency(StatusCompleted, msg.duration)

	outputKeys := make([]string, 0, len(msg.result.Output))
	for k := range msg.result.Output {
		outputKeys = append(outputKeys, k)
	}
	sort.Strings(outputKeys)

	r.persist()
	r.emit(emit.NodeCompleted, id, map[string]any{
		"attempt":        ns.Attempts,
		"output_keys":    outputKeys,
		"artifact_count": len(msg.result.Artifacts),
	})

	r.evaluatePolicy(id, node)
}

// evaluatePolicy runs the Quality Fabric over a completed phase node.
// A blocking failure overrides the completion: the node flips to
// failed with no retry, since the executor's work simply did not meet
// criteria.
func (r *schedulerRun) evaluatePolicy(id string, node *Node) {
	if r.d.cfg.policy == nil || node.PhaseID == "" {
		return
	}
	if node.Kind != NodePhase && node.Kind != NodeGate {
		return
	}

	ns := r.ectx.NodeStates[id]
	eval := r.d.cfg.policy.Evaluate(node.PhaseID, ns.Output)

	gates := make([]map[string]any, 0, len(eval.Results))
	for _, res := range eval.Results {
		gate := map[string]any{
			"name":     res.Name,
			"severity": string(res.Severity),
			"passed":   res.Passed,
		}
		if res.Reason != "" {
			gate["reason"] = res.Reason
		}
		gates = append(gates, gate)
	}
	for _, name := range eval.WarningGates() {
		ns.Warnings = append(ns.Warnings, "gate "+name+" failed with WARNING severity")
	}

	fields := map[string]any{
		"phase_id": node.PhaseID,
		"gates":    gates,
	}
	if eval.Bypassed {
		fields["bypassed"] = true
		fields["reason"] = "no SLO resolved for phase; policy bypassed"
	} else {
		fields["resolved_slo"] = eval.ResolvedSLO
	}

	r.persist()
	r.emit(emit.PolicyEvaluated, id, fields)

	if !eval.Blocked() {
		return
	}

	failing := eval.FailingGates()
	r.markInternal(ns.MarkFailed(
		KindPolicyViolation,
		fmt.Sprintf("blocking gates failed: %v", failing),
		time.Now().UTC(),
	))
	delete(r.ectx.Outputs, id)
	delete(r.terminal, id)
	r.anyFailed = true
	r.d.cfg.metrics.incPolicyBlock(node.PhaseID)

	r.persist()
	r.emit(emit.PolicyBlocked, id, map[string]any{"failing_gates": failing})

	if r.d.cfg.failurePolicy == FailFast {
		r.token.Cancel()
	}
}

// finalize settles leftover nodes, stamps the terminal status, and
// persists the final context.
func (r *schedulerRun) finalize() (*Context, error) {
	now := time.Now().UTC()
	cancelled := r.d.cancelledByUser()
	stopping := r.anyFailed || r.token.Cancelled()
	paused := r.d.paused() && !stopping

	for _, id := range r.graph.NodeIDs() {
		ns := r.ectx.NodeStates[id]
		if ns.Status.Terminal() {
			continue
		}
		switch {
		case paused:
			// Frontier stays as-is; resume picks it up.
		case r.d.cfg.failurePolicy == ContinueOnFailure && r.anyFailed && !cancelled:
			r.markInternal(ns.MarkSkipped("upstream node failed", now))
		default:
			r.markInternal(ns.MarkCancelled(now))
		}
	}

	switch {
	case r.anyFailed:
		r.ectx.Status = ExecutionFailed
		failing := r.ectx.FailedNodeIDs()
		sort.Strings(failing)
		var errMsg string
		if len(failing) > 0 {
			if ns := r.ectx.NodeStates[failing[0]]; ns != nil && ns.Error != nil {
				errMsg = ns.Error.Message
			}
		}
		r.persist()
		r.emit(emit.WorkflowFailed, "", map[string]any{
			"failing_node_ids": failing,
			"error":            errMsg,
		})
	case cancelled || r.token.Cancelled():
		r.ectx.Status = ExecutionCancelled
		r.persist()
		r.emit(emit.WorkflowCancelled, "", nil)
	case paused && r.hasNonTerminalNodes():
		r.ectx.Status = ExecutionPaused
		r.persist()
		r.emit(emit.WorkflowPaused, "", nil)
	default:
		r.ectx.Status = ExecutionCompleted
		r.persist()
		r.emit(emit.WorkflowCompleted, "", map[string]any{
			"summary":  r.ectx.Summary(),
			"duration": time.Since(r.startedAt).Seconds(),
		})
	}
	r.d.cfg.metrics.incExecution(r.ectx.Status)

	if r.runErr != nil {
		var fe *Error
		if errors.As(r.runErr, &fe) {
			return r.ectx, fe
		}
		return r.ectx, &Error{
			Kind:    KindInternal,
			Message: "context persistence failed",
			Cause:   r.runErr,
		}
	}
	return r.ectx, nil
}

func (r *schedulerRun) hasNonTerminalNodes() bool {
	for _, ns := range r.ectx.NodeStates {
		if !ns.Status.Terminal() {
			return true
		}
	}
	return false
}

// persist saves the context. The first persistence failure trips
// cancellation so the run drains and surfaces the error from Execute.
func (r *schedulerRun) persist() {
	if r.d.cfg.store == nil || r.runErr != nil {
		if r.d.cfg.store == nil {
			r.ectx.Touch()
		}
		return
	}
	r.ectx.Touch()
	if err := r.d.cfg.store.Save(r.ctx, r.ectx.ExecutionID, r.ectx); err != nil {
		r.runErr = err
		r.token.Cancel()
	}
}

// emit publishes one event. Called only after persist, so the event
// never references undurable state.
func (r *schedulerRun) emit(kind emit.Kind, nodeID string, fields map[string]any) {
	r.d.cfg.emitter.Emit(emit.Event{
		Kind:        kind,
		ExecutionID: r.ectx.ExecutionID,
		NodeID:      nodeID,
		EmittedAt:   time.Now().UTC(),
		Fields:      fields,
	})
}

// markInternal converts an illegal state transition into a run-level
// failure. These indicate engine bugs; there is nothing sensible to do
// beyond stopping the run and surfacing the error.
func (r *schedulerRun) markInternal(err error) {
	if err == nil {
		return
	}
	if r.runErr == nil {
		r.runErr = err
	}
	r.token.Cancel()
}
