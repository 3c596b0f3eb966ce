package flow

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// condition is a compiled node condition. The expression is evaluated
// against an environment holding the outputs map, so expressions read
// like outputs['analyze']['requires_db'] == true.
//
// Evaluation never raises into the scheduler: a runtime error (for
// example indexing the output of a skipped ancestor) counts as false,
// matching the rule that a missing upstream output yields a falsy
// clause.
type condition struct {
	src     string
	program *vm.Program
}

// compileCondition parses and compiles a condition expression. Called
// from Graph.Validate so malformed expressions are caught before the
// run starts.
func compileCondition(src string) (*condition, error) {
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", src, err)
	}
	return &condition{src: src, program: program}, nil
}

// Evaluate runs the condition against the current outputs. It returns
// whether the node should execute and, when it should not, the reason
// recorded on the skipped state.
func (c *condition) Evaluate(outputs map[string]map[string]any) (bool, string) {
	env := map[string]any{"outputs": outputs}
	out, err := expr.Run(c.program, env)
	if err != nil {
		return false, fmt.Sprintf("condition %q errored, treated as false: %v", c.src, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Sprintf("condition %q evaluated to non-boolean %v", c.src, out)
	}
	if !ok {
		return false, fmt.Sprintf("condition %q evaluated false", c.src)
	}
	return true, ""
}
