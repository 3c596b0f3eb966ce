package flow

import (
	"encoding/json"
	"testing"
	"time"
)

func TestContextRoundTrip(t *testing.T) {
	c := NewContext("exc-1", "wf", "sha256:abc", map[string]any{"project": "demo"}, []string{"a", "b"})
	c.NodeStates["a"].MarkReady()
	c.NodeStates["a"].MarkRunning(time.Now().UTC())
	c.NodeStates["a"].MarkCompleted(map[string]any{"ok": true}, []string{"art-1"}, time.Now().UTC())
	c.Outputs["a"] = map[string]any{"ok": true}
	c.Artifacts = append(c.Artifacts, "art-1")

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var loaded Context
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if loaded.ExecutionID != "exc-1" || loaded.WorkflowID != "wf" {
		t.Errorf("identity fields lost: %+v", loaded)
	}
	if loaded.SchemaVersion != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, loaded.SchemaVersion)
	}
	if loaded.GraphHash != "sha256:abc" {
		t.Errorf("graph hash lost: %q", loaded.GraphHash)
	}
	if got := loaded.NodeStates["a"]; got == nil || got.Status != StatusCompleted {
		t.Errorf("node state lost: %+v", got)
	}
	if out, ok := loaded.NodeOutput("a"); !ok || out["ok"] != true {
		t.Errorf("output lost: %v %v", out, ok)
	}
	if len(loaded.Artifacts) != 1 || loaded.Artifacts[0] != "art-1" {
		t.Errorf("artifacts lost: %v", loaded.Artifacts)
	}
}

func TestContextPreservesUnknownFields(t *testing.T) {
	snapshot := []byte(`{
		"schema_version": 2,
		"execution_id": "exc-2",
		"workflow_id": "wf",
		"graph_hash": "sha256:abc",
		"node_states": {},
		"outputs": {},
		"status": "running",
		"started_at": "2026-08-24T10:00:00Z",
		"updated_at": "2026-08-24T10:00:01Z",
		"future_field": {"nested": [1, 2, 3]}
	}`)

	var c Context
	if err := json.Unmarshal(snapshot, &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.SchemaVersion != 2 {
		t.Errorf("explicit schema version should survive, got %d", c.SchemaVersion)
	}

	data, err := json.Marshal(&c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if _, ok := raw["future_field"]; !ok {
		t.Error("unknown field should survive a round trip")
	}
}

func TestContextFillsDefaultsFromOldSnapshots(t *testing.T) {
	snapshot := []byte(`{"execution_id": "exc-old", "workflow_id": "wf"}`)

	var c Context
	if err := json.Unmarshal(snapshot, &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.SchemaVersion != SchemaVersion {
		t.Errorf("missing schema version should default to %d, got %d", SchemaVersion, c.SchemaVersion)
	}
	if c.NodeStates == nil || c.Outputs == nil {
		t.Error("missing maps should be initialized")
	}
	if c.Status != ExecutionRunning {
		t.Errorf("missing status should default to running, got %s", c.Status)
	}
}

func TestContextTouchMonotonic(t *testing.T) {
	c := NewContext("exc-3", "wf", "", nil, nil)
	prev := c.UpdatedAt
	for i := 0; i < 100; i++ {
		c.Touch()
		if !c.UpdatedAt.After(prev) {
			t.Fatalf("UpdatedAt must be strictly monotonic: %v then %v", prev, c.UpdatedAt)
		}
		prev = c.UpdatedAt
	}
}

func TestContextSummary(t *testing.T) {
	c := NewContext("exc-4", "wf", "", nil, []string{"a", "b", "c"})
	now := time.Now().UTC()
	c.NodeStates["a"].MarkReady()
	c.NodeStates["a"].MarkRunning(now)
	c.NodeStates["a"].MarkCompleted(nil, nil, now)
	c.NodeStates["b"].MarkSkipped("condition false", now)

	summary := c.Summary()
	if summary["completed"] != 1 || summary["skipped"] != 1 || summary["pending"] != 1 {
		t.Errorf("unexpected summary: %v", summary)
	}
}
