package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// snapshot is a minimal stand-in for the engine's execution context.
type snapshot struct {
	ExecutionID string         `json:"execution_id"`
	Status      string         `json:"status"`
	Outputs     map[string]any `json:"outputs,omitempty"`
}

func runStoreContract(t *testing.T, s Store[*snapshot]) {
	ctx := context.Background()

	t.Run("load missing returns ErrNotFound", func(t *testing.T) {
		_, err := s.Load(ctx, "absent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("save and load round trip", func(t *testing.T) {
		in := &snapshot{
			ExecutionID: "exc-1",
			Status:      "running",
			Outputs:     map[string]any{"a": map[string]any{"ok": true}},
		}
		if err := s.Save(ctx, "exc-1", in); err != nil {
			t.Fatalf("Save: %v", err)
		}

		out, err := s.Load(ctx, "exc-1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if out.ExecutionID != "exc-1" || out.Status != "running" {
			t.Errorf("fields lost: %+v", out)
		}
	})

	t.Run("latest save wins", func(t *testing.T) {
		if err := s.Save(ctx, "exc-1", &snapshot{ExecutionID: "exc-1", Status: "paused"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		out, err := s.Load(ctx, "exc-1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if out.Status != "paused" {
			t.Errorf("expected overwrite, got %+v", out)
		}
	})

	t.Run("loaded snapshots are isolated", func(t *testing.T) {
		first, err := s.Load(ctx, "exc-1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		first.Status = "mutated"

		second, err := s.Load(ctx, "exc-1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if second.Status == "mutated" {
			t.Error("mutating a loaded snapshot must not affect the store")
		}
	})

	t.Run("list is sorted", func(t *testing.T) {
		if err := s.Save(ctx, "exc-0", &snapshot{ExecutionID: "exc-0"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		ids, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(ids) != 2 || ids[0] != "exc-0" || ids[1] != "exc-1" {
			t.Errorf("expected [exc-0 exc-1], got %v", ids)
		}
	})
}

func TestMemStore(t *testing.T) {
	runStoreContract(t, NewMemStore[*snapshot]())
}

func TestMemStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore[*snapshot]()
	if err := s.Save(ctx, "exc-1", &snapshot{ExecutionID: "exc-1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(ctx, "exc-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, "exc-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "exc-1"); err != nil {
		t.Errorf("deleting a missing id should be a no-op, got %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executions.db")
	s, err := NewSQLiteStore[*snapshot](path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	runStoreContract(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "executions.db")

	s, err := NewSQLiteStore[*snapshot](path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Save(ctx, "exc-1", &snapshot{ExecutionID: "exc-1", Status: "paused"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore[*snapshot](path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	out, err := reopened.Load(ctx, "exc-1")
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if out.Status != "paused" {
		t.Errorf("snapshot should survive reopen, got %+v", out)
	}
}

func TestSQLiteStoreDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore[*snapshot](filepath.Join(t.TempDir(), "executions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	if err := s.Save(ctx, "exc-1", &snapshot{ExecutionID: "exc-1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(ctx, "exc-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, "exc-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// TestMySQLStore needs a reachable server; set MYSQL_TEST_DSN to run it,
// e.g. "user:pass@tcp(127.0.0.1:3306)/phaseflow_test?parseTime=true".
func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set")
	}

	s, err := NewMySQLStore[*snapshot](dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore: %v", err)
	}
	defer s.Close()

	runStoreContract(t, s)

	if err := s.Delete(context.Background(), "exc-0"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := s.Delete(context.Background(), "exc-1"); err != nil {
		t.Errorf("Delete: %v", err)
	}
}
