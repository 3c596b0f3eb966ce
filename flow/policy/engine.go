package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Names of the fallback SLOs in the resolution chain.
const (
	// ServiceTemplateSLO serves phase ids matching the service_* prefix
	// that have no exact SLO.
	ServiceTemplateSLO = "service_template"

	// CustomComponentSLO is the generic fallback for everything else.
	CustomComponentSLO = "custom_component"
)

// servicePrefix is the phase id pattern served by ServiceTemplateSLO.
const servicePrefix = "service_"

// wordOperators rewrites the uppercase boolean connectives of the gate
// grammar into the forms the expression compiler accepts.
var wordOperators = regexp.MustCompile(`\b(AND|OR|NOT)\b`)

type compiledGate struct {
	gate     Gate
	program  *vm.Program
	security bool
}

type compiledSLO struct {
	phaseID string
	gates   []compiledGate
}

// Engine evaluates phase SLOs. All gate expressions are compiled at
// construction, so a configuration with an unparsable expression never
// reaches runtime.
type Engine struct {
	slos map[string]*compiledSLO
}

// NewEngine compiles the given SLOs into an evaluation engine. It
// fails on the first gate expression that does not parse; callers
// treat that as a startup error.
func NewEngine(slos []PhaseSLO) (*Engine, error) {
	compiled := make(map[string]*compiledSLO, len(slos))
	for _, slo := range slos {
		if slo.PhaseID == "" {
			return nil, fmt.Errorf("phase SLO without phase_id")
		}
		if _, dup := compiled[slo.PhaseID]; dup {
			return nil, fmt.Errorf("duplicate SLO for phase %q", slo.PhaseID)
		}
		cs := &compiledSLO{phaseID: slo.PhaseID}
		for _, gate := range slo.Gates {
			program, err := compileExpression(gate.Expression)
			if err != nil {
				return nil, fmt.Errorf("phase %q gate %q: %w", slo.PhaseID, gate.Name, err)
			}
			if gate.Severity == "" {
				gate.Severity = Warning
			}
			cs.gates = append(cs.gates, compiledGate{
				gate:     gate,
				program:  program,
				security: gate.security(),
			})
		}
		compiled[slo.PhaseID] = cs
	}
	return &Engine{slos: compiled}, nil
}

// compileExpression parses one gate expression. Identifiers are left
// unresolved until evaluation; only syntax is validated here.
func compileExpression(src string) (*vm.Program, error) {
	normalized := wordOperators.ReplaceAllStringFunc(src, strings.ToLower)
	program, err := expr.Compile(normalized, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("expression %q does not parse: %w", src, err)
	}
	return program, nil
}

// resolve walks the fallback chain for a phase id: exact match, then
// the service template for service_* ids, then the generic fallback.
// Returns nil when nothing matches.
func (e *Engine) resolve(phaseID string) *compiledSLO {
	if slo, ok := e.slos[phaseID]; ok {
		return slo
	}
	if strings.HasPrefix(phaseID, servicePrefix) {
		if slo, ok := e.slos[ServiceTemplateSLO]; ok {
			return slo
		}
	}
	if slo, ok := e.slos[CustomComponentSLO]; ok {
		return slo
	}
	return nil
}

// Evaluate runs the resolved SLO's gates against the metrics a node
// emitted. It never panics or errors: a gate whose required metrics
// are absent, or whose expression cannot evaluate against the supplied
// metrics, fails at WARNING severity with a missing_metric reason.
// Security gates that genuinely fail are escalated to BLOCKING.
func (e *Engine) Evaluate(phaseID string, metrics map[string]any) Evaluation {
	eval := Evaluation{PhaseID: phaseID}

	slo := e.resolve(phaseID)
	if slo == nil {
		eval.Bypassed = true
		return eval
	}
	eval.ResolvedSLO = slo.phaseID

	for _, cg := range slo.gates {
		eval.Results = append(eval.Results, e.evaluateGate(cg, metrics))
	}
	return eval
}

func (e *Engine) evaluateGate(cg compiledGate, metrics map[string]any) GateResult {
	result := GateResult{Name: cg.gate.Name, Severity: cg.gate.Severity}
	if cg.security {
		result.Severity = Blocking
	}

	if missing := missingMetrics(cg.gate.RequiredMetrics, metrics); len(missing) > 0 {
		result.Passed = false
		result.Severity = Warning
		result.Reason = "missing_metric: " + strings.Join(missing, ", ")
		return result
	}

	out, err := expr.Run(cg.program, metrics)
	if err != nil {
		result.Passed = false
		result.Severity = Warning
		result.Reason = fmt.Sprintf("missing_metric: expression could not evaluate: %v", err)
		return result
	}

	passed, ok := out.(bool)
	if !ok {
		result.Passed = false
		result.Severity = Warning
		result.Reason = fmt.Sprintf("missing_metric: expression yielded non-boolean %v", out)
		return result
	}

	result.Passed = passed
	if !passed {
		result.Reason = fmt.Sprintf("expression %q evaluated false", cg.gate.Expression)
	}
	return result
}

func missingMetrics(required []string, metrics map[string]any) []string {
	var missing []string
	for _, name := range required {
		if _, ok := metrics[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
