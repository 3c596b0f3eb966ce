package policy

import (
	"strings"
	"testing"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine([]PhaseSLO{
		{
			PhaseID: "backend",
			Gates: []Gate{
				{
					Name:            "quality_threshold",
					Expression:      "code_quality_score >= 8.0 AND test_coverage >= 0.80",
					Severity:        Blocking,
					RequiredMetrics: []string{"code_quality_score", "test_coverage"},
				},
				{
					Name:            "security_clean",
					Expression:      "security_vulnerabilities == 0",
					Severity:        Warning,
					RequiredMetrics: []string{"security_vulnerabilities"},
				},
			},
		},
		{
			PhaseID: ServiceTemplateSLO,
			Gates: []Gate{{
				Name:            "build_health",
				Expression:      "build_success_rate >= 0.95",
				Severity:        Warning,
				RequiredMetrics: []string{"build_success_rate"},
			}},
		},
		{
			PhaseID: CustomComponentSLO,
			Gates: []Gate{{
				Name:            "smoke",
				Expression:      "smoke_passed == 1",
				Severity:        Blocking,
				RequiredMetrics: []string{"smoke_passed"},
			}},
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestEngineResolution(t *testing.T) {
	engine := testEngine(t)

	t.Run("exact match", func(t *testing.T) {
		eval := engine.Evaluate("backend", map[string]any{
			"code_quality_score":       9.0,
			"test_coverage":            0.9,
			"security_vulnerabilities": 0,
		})
		if eval.Bypassed || eval.ResolvedSLO != "backend" {
			t.Errorf("expected exact resolution, got %+v", eval)
		}
		if eval.Blocked() {
			t.Errorf("passing metrics should not block: %+v", eval.Results)
		}
	})

	t.Run("service prefix falls back to template", func(t *testing.T) {
		eval := engine.Evaluate("service_payments", map[string]any{"build_success_rate": 0.99})
		if eval.ResolvedSLO != ServiceTemplateSLO {
			t.Errorf("expected %s, got %q", ServiceTemplateSLO, eval.ResolvedSLO)
		}
	})

	t.Run("everything else falls back to custom component", func(t *testing.T) {
		eval := engine.Evaluate("data_migration", map[string]any{"smoke_passed": 1})
		if eval.ResolvedSLO != CustomComponentSLO {
			t.Errorf("expected %s, got %q", CustomComponentSLO, eval.ResolvedSLO)
		}
	})

	t.Run("no resolution bypasses", func(t *testing.T) {
		engine, err := NewEngine([]PhaseSLO{{
			PhaseID: "backend",
			Gates:   []Gate{{Name: "g", Expression: "x > 0", RequiredMetrics: []string{"x"}}},
		}})
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}
		eval := engine.Evaluate("frontend", nil)
		if !eval.Bypassed {
			t.Error("phase with no resolvable SLO should bypass")
		}
		if eval.Blocked() {
			t.Error("bypass never blocks")
		}
	})
}

func TestEngineBlockingGate(t *testing.T) {
	engine := testEngine(t)

	eval := engine.Evaluate("backend", map[string]any{
		"code_quality_score":       7.0,
		"test_coverage":            0.85,
		"security_vulnerabilities": 0,
	})

	if !eval.Blocked() {
		t.Fatal("failing blocking gate should block")
	}
	failing := eval.FailingGates()
	if len(failing) != 1 || failing[0] != "quality_threshold" {
		t.Errorf("expected [quality_threshold], got %v", failing)
	}

	var result GateResult
	for _, r := range eval.Results {
		if r.Name == "quality_threshold" {
			result = r
		}
	}
	if result.Passed {
		t.Error("gate should have failed")
	}
	if result.Reason == "" {
		t.Error("failed gate should carry a reason")
	}
}

func TestEngineWarningGateDoesNotBlock(t *testing.T) {
	engine := testEngine(t)

	eval := engine.Evaluate("service_payments", map[string]any{"build_success_rate": 0.90})
	if eval.Blocked() {
		t.Error("warning gate failure must not block")
	}
	warnings := eval.WarningGates()
	if len(warnings) != 1 || warnings[0] != "build_health" {
		t.Errorf("expected [build_health], got %v", warnings)
	}
}

func TestEngineMissingMetric(t *testing.T) {
	engine := testEngine(t)

	t.Run("missing metric fails at warning", func(t *testing.T) {
		eval := engine.Evaluate("backend", map[string]any{
			"code_quality_score": 9.0,
			"test_coverage":      0.9,
			// security_vulnerabilities absent
		})
		if eval.Blocked() {
			t.Error("missing metric must not block, even for a security gate")
		}
		var result GateResult
		for _, r := range eval.Results {
			if r.Name == "security_clean" {
				result = r
			}
		}
		if result.Passed {
			t.Error("gate with missing metric fails")
		}
		if result.Severity != Warning {
			t.Errorf("missing metric downgrades to warning, got %s", result.Severity)
		}
		if !strings.HasPrefix(result.Reason, "missing_metric:") {
			t.Errorf("reason should start with missing_metric:, got %q", result.Reason)
		}
		if !strings.Contains(result.Reason, "security_vulnerabilities") {
			t.Errorf("reason should name the missing metric, got %q", result.Reason)
		}
	})

	t.Run("all metrics present evaluates normally", func(t *testing.T) {
		eval := engine.Evaluate("backend", map[string]any{
			"code_quality_score":       9.0,
			"test_coverage":            0.9,
			"security_vulnerabilities": 0,
		})
		for _, r := range eval.Results {
			if !r.Passed {
				t.Errorf("gate %s should pass: %q", r.Name, r.Reason)
			}
		}
	})
}

func TestEngineSecurityEscalation(t *testing.T) {
	engine := testEngine(t)

	// security_clean is declared WARNING; a genuine failure escalates.
	eval := engine.Evaluate("backend", map[string]any{
		"code_quality_score":       9.0,
		"test_coverage":            0.9,
		"security_vulnerabilities": 3,
	})
	if !eval.Blocked() {
		t.Fatal("security gate failure should block despite declared WARNING severity")
	}
	failing := eval.FailingGates()
	if len(failing) != 1 || failing[0] != "security_clean" {
		t.Errorf("expected [security_clean], got %v", failing)
	}
}

func TestEngineUppercaseOperators(t *testing.T) {
	engine, err := NewEngine([]PhaseSLO{{
		PhaseID: "p",
		Gates: []Gate{{
			Name:            "combo",
			Expression:      "NOT (a > 5) OR b == 1 AND c < 2",
			Severity:        Blocking,
			RequiredMetrics: []string{"a", "b", "c"},
		}},
	}})
	if err != nil {
		t.Fatalf("uppercase connectives should compile: %v", err)
	}

	eval := engine.Evaluate("p", map[string]any{"a": 3, "b": 0, "c": 9})
	if eval.Blocked() {
		t.Errorf("NOT (3 > 5) is true, gate should pass: %+v", eval.Results)
	}
}

func TestEngineNonBooleanExpression(t *testing.T) {
	engine, err := NewEngine([]PhaseSLO{{
		PhaseID: "p",
		Gates: []Gate{{
			Name:            "arith",
			Expression:      "a + 1",
			Severity:        Blocking,
			RequiredMetrics: []string{"a"},
		}},
	}})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	eval := engine.Evaluate("p", map[string]any{"a": 1})
	if eval.Blocked() {
		t.Error("non-boolean result fails at warning, never blocks")
	}
	if eval.Results[0].Passed {
		t.Error("non-boolean result should fail the gate")
	}
}

func TestNewEngineValidation(t *testing.T) {
	t.Run("unparsable expression rejected", func(t *testing.T) {
		_, err := NewEngine([]PhaseSLO{{
			PhaseID: "p",
			Gates:   []Gate{{Name: "bad", Expression: "a >= "}},
		}})
		if err == nil {
			t.Fatal("expected compile error")
		}
		if !strings.Contains(err.Error(), "bad") {
			t.Errorf("error should name the gate, got %v", err)
		}
	})

	t.Run("empty phase id rejected", func(t *testing.T) {
		if _, err := NewEngine([]PhaseSLO{{Gates: []Gate{{Name: "g", Expression: "x > 0"}}}}); err == nil {
			t.Error("expected error for empty phase_id")
		}
	})

	t.Run("duplicate phase id rejected", func(t *testing.T) {
		slos := []PhaseSLO{
			{PhaseID: "p", Gates: []Gate{{Name: "a", Expression: "x > 0"}}},
			{PhaseID: "p", Gates: []Gate{{Name: "b", Expression: "y > 0"}}},
		}
		if _, err := NewEngine(slos); err == nil {
			t.Error("expected error for duplicate phase_id")
		}
	})

	t.Run("empty severity defaults to warning", func(t *testing.T) {
		engine, err := NewEngine([]PhaseSLO{{
			PhaseID: "p",
			Gates:   []Gate{{Name: "g", Expression: "x > 0", RequiredMetrics: []string{"x"}}},
		}})
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}
		eval := engine.Evaluate("p", map[string]any{"x": -1})
		if eval.Blocked() {
			t.Error("defaulted severity is WARNING, must not block")
		}
	})
}
