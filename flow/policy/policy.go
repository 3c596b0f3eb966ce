// Package policy implements the Quality Fabric: per-phase SLO gates
// evaluated against the metrics a phase node emits. A failing BLOCKING
// gate fails the node even though its executor succeeded; WARNING
// failures are recorded and reported but change nothing.
package policy

import "strings"

// Severity is a gate's declared enforcement level.
type Severity string

const (
	// Blocking gate failures fail the node.
	Blocking Severity = "BLOCKING"

	// Warning gate failures are recorded only.
	Warning Severity = "WARNING"
)

// Gate is one named quality check: a boolean expression over numeric
// metrics, with a severity and the metrics it needs to be evaluable.
//
// Expressions use comparison operators (== != < <= > >=) and boolean
// connectives (AND OR NOT) over metric names and numeric literals:
//
//	code_quality_score >= 8.0 AND test_coverage >= 0.80
//	security_vulnerabilities == 0
type Gate struct {
	Name            string   `yaml:"name" json:"name"`
	Expression      string   `yaml:"expression" json:"expression"`
	Severity        Severity `yaml:"severity" json:"severity"`
	RequiredMetrics []string `yaml:"required_metrics" json:"required_metrics"`
}

// security reports whether the gate is security-related. Security
// gates are never enforced below BLOCKING, whatever their declared
// severity says.
func (g Gate) security() bool {
	if strings.HasPrefix(g.Name, "security_") {
		return true
	}
	for _, m := range g.RequiredMetrics {
		if strings.HasPrefix(m, "security_") {
			return true
		}
	}
	return false
}

// PhaseSLO is the set of gates enforced for one phase id.
type PhaseSLO struct {
	PhaseID string `yaml:"phase_id" json:"phase_id"`
	Gates   []Gate `yaml:"gates" json:"gates"`
}

// GateResult is the outcome of evaluating one gate. Severity is the
// effective severity after security escalation and the missing-metric
// downgrade, not necessarily the declared one.
type GateResult struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Passed   bool     `json:"passed"`
	Reason   string   `json:"reason,omitempty"`
}

// Evaluation is the outcome of evaluating a phase's SLO against one
// node's metrics.
type Evaluation struct {
	// PhaseID is the phase the node declared.
	PhaseID string

	// ResolvedSLO names the SLO that actually served: the phase id
	// itself, "service_template", or "custom_component". Empty when no
	// SLO resolved and the evaluation was bypassed.
	ResolvedSLO string

	// Bypassed is true when no SLO could be resolved; the node passes
	// with a warning.
	Bypassed bool

	// Results holds one entry per gate in evaluation order.
	Results []GateResult
}

// Blocked reports whether any effective-BLOCKING gate failed.
func (e Evaluation) Blocked() bool {
	for _, r := range e.Results {
		if !r.Passed && r.Severity == Blocking {
			return true
		}
	}
	return false
}

// FailingGates returns the names of failed effective-BLOCKING gates.
func (e Evaluation) FailingGates() []string {
	var names []string
	for _, r := range e.Results {
		if !r.Passed && r.Severity == Blocking {
			names = append(names, r.Name)
		}
	}
	return names
}

// WarningGates returns the names of failed WARNING gates.
func (e Evaluation) WarningGates() []string {
	var names []string
	for _, r := range e.Results {
		if !r.Passed && r.Severity == Warning {
			names = append(names, r.Name)
		}
	}
	return names
}
