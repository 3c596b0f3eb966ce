package flow

import (
	"context"
	"testing"

	"github.com/forgeline/phaseflow/flow/emit"
	"github.com/forgeline/phaseflow/flow/store"
)

func TestDispatcherLegacyPath(t *testing.T) {
	g := NewGraph("wf-legacy")
	mustAdd(t, g, &Node{ID: "a", Executor: okExecutor(map[string]any{"step": "one"})})
	mustAdd(t, g, &Node{
		ID: "b",
		Executor: ExecutorFunc(func(ctx context.Context, env Envelope) (Result, error) {
			upstream, _ := env.DependencyOutputs["a"]["step"].(string)
			return Result{Output: map[string]any{"saw": upstream}}, nil
		}),
		Dependencies: []string{"a"},
	})

	buf := emit.NewBufferedEmitter()
	disp, err := NewDispatcher(FeatureFlags{}, WithEmitter(buf))
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	ectx, err := disp.Dispatch(context.Background(), g, nil, "exc-legacy")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if ectx.Status != ExecutionCompleted {
		t.Errorf("expected completed, got %s", ectx.Status)
	}
	if out, _ := ectx.NodeOutput("b"); out["saw"] != "one" {
		t.Errorf("dependency outputs should flow on the legacy path, got %v", out)
	}
	if events := buf.History("exc-legacy"); len(events) != 0 {
		t.Errorf("legacy path must not emit events, got %d", len(events))
	}
}

func TestDispatcherLegacyFailure(t *testing.T) {
	g := NewGraph("wf-legacy-fail")
	mustAdd(t, g, &Node{ID: "a", Executor: ExecutorFunc(func(ctx context.Context, env Envelope) (Result, error) {
		return Result{}, Fatal("no good")
	})})
	mustAdd(t, g, &Node{ID: "b", Executor: okExecutor(nil), Dependencies: []string{"a"}})

	disp, _ := NewDispatcher(FeatureFlags{})
	ectx, err := disp.Dispatch(context.Background(), g, nil, "")
	if err != nil {
		t.Fatalf("node failure must not surface as a dispatch error: %v", err)
	}
	if ectx.Status != ExecutionFailed {
		t.Errorf("expected failed, got %s", ectx.Status)
	}
	if got := ectx.NodeStates["b"].Status; got != StatusPending {
		t.Errorf("legacy path stops at the failure, b should stay pending, got %s", got)
	}
}

func TestDispatcherLegacyConditionSkip(t *testing.T) {
	g := NewGraph("wf-legacy-cond")
	mustAdd(t, g, &Node{ID: "a", Executor: okExecutor(map[string]any{"go": false})})
	mustAdd(t, g, &Node{
		ID:           "b",
		Executor:     okExecutor(nil),
		Dependencies: []string{"a"},
		Condition:    "outputs['a']['go'] == true",
	})

	disp, _ := NewDispatcher(FeatureFlags{})
	ectx, err := disp.Dispatch(context.Background(), g, nil, "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := ectx.NodeStates["b"].Status; got != StatusSkipped {
		t.Errorf("expected skipped, got %s", got)
	}
	if ectx.Status != ExecutionCompleted {
		t.Errorf("skip should not fail the run, got %s", ectx.Status)
	}
}

func TestDispatcherDAGPathEmitsEvents(t *testing.T) {
	g := NewGraph("wf-dag")
	mustAdd(t, g, &Node{ID: "a", Executor: okExecutor(nil)})

	buf := emit.NewBufferedEmitter()
	disp, err := NewDispatcher(
		FeatureFlags{EnableDAGExecution: true, EnableExecutionEvents: true},
		WithEmitter(buf),
	)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	ectx, err := disp.Dispatch(context.Background(), g, nil, "exc-dag")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if ectx.Status != ExecutionCompleted {
		t.Errorf("expected completed, got %s", ectx.Status)
	}

	history := buf.History("exc-dag")
	if len(history) == 0 {
		t.Fatal("DAG path with events enabled should emit")
	}
	if history[0].Kind != emit.WorkflowStarted {
		t.Errorf("first event should be workflow_started, got %s", history[0].Kind)
	}
	if history[len(history)-1].Kind != emit.WorkflowCompleted {
		t.Errorf("last event should be workflow_completed, got %s", history[len(history)-1].Kind)
	}
}

func TestDispatcherEventsFlagMutesEmitter(t *testing.T) {
	g := NewGraph("wf-muted")
	mustAdd(t, g, &Node{ID: "a", Executor: okExecutor(nil)})

	buf := emit.NewBufferedEmitter()
	disp, _ := NewDispatcher(
		FeatureFlags{EnableDAGExecution: true},
		WithEmitter(buf),
	)

	if _, err := disp.Dispatch(context.Background(), g, nil, "exc-muted"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if events := buf.History("exc-muted"); len(events) != 0 {
		t.Errorf("events flag off should mute the configured emitter, got %d events", len(events))
	}
}

func TestDispatcherPersistenceFlagReplacesStore(t *testing.T) {
	g := NewGraph("wf-ephemeral")
	mustAdd(t, g, &Node{ID: "a", Executor: okExecutor(nil)})

	st := store.NewMemStore[*Context]()
	disp, _ := NewDispatcher(
		FeatureFlags{EnableDAGExecution: true},
		WithStore(st),
	)

	if _, err := disp.Dispatch(context.Background(), g, nil, "exc-ephemeral"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := st.Load(context.Background(), "exc-ephemeral"); err == nil {
		t.Error("persistence flag off should bypass the configured store")
	}
}

func TestDispatcherPause(t *testing.T) {
	t.Run("requires dag execution", func(t *testing.T) {
		disp, _ := NewDispatcher(DefaultFeatureFlags())
		if err := disp.Pause(); err == nil {
			t.Error("pause on the legacy path should fail")
		}
	})

	t.Run("requires persistence", func(t *testing.T) {
		disp, _ := NewDispatcher(FeatureFlags{EnableDAGExecution: true})
		if err := disp.Pause(); err == nil {
			t.Error("pause without persistence should fail")
		}
	})

	t.Run("allowed with dag and persistence", func(t *testing.T) {
		disp, _ := NewDispatcher(FeatureFlags{
			EnableDAGExecution:       true,
			EnableContextPersistence: true,
		}, WithStore(store.NewMemStore[*Context]()))
		if err := disp.Pause(); err != nil {
			t.Errorf("Pause: %v", err)
		}
	})
}

func TestDispatcherParallelFlag(t *testing.T) {
	g := NewGraph("wf-par")
	mustAdd(t, g, &Node{ID: "s", Executor: okExecutor(nil)})
	mustAdd(t, g, &Node{ID: "l", Executor: okExecutor(nil), Dependencies: []string{"s"}})
	mustAdd(t, g, &Node{ID: "r", Executor: okExecutor(nil), Dependencies: []string{"s"}})
	mustAdd(t, g, &Node{ID: "m", Executor: okExecutor(nil), Dependencies: []string{"l", "r"}})

	disp, err := NewDispatcher(FeatureFlags{
		EnableDAGExecution:      true,
		EnableParallelExecution: true,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	ectx, err := disp.Dispatch(context.Background(), g, nil, "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if ectx.Status != ExecutionCompleted {
		t.Errorf("expected completed, got %s", ectx.Status)
	}
	for _, id := range []string{"s", "l", "r", "m"} {
		if got := ectx.NodeStates[id].Status; got != StatusCompleted {
			t.Errorf("node %s: expected completed, got %s", id, got)
		}
	}
}
