// Package gate implements predicate-driven filtering: compiled boolean
// expressions decide whether a data cell proceeds, and an AND-gate
// combines several independent predicate verdicts for the same message
// before deciding. Modeled on the ConditionEvaluator of the workflow
// engine this project grew out of, backed by expr-lang/expr instead of
// the engine's bespoke condition parser.
package gate

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/cellflow/cellflow/internal/cferrors"
)

// Evaluator compiles and caches boolean expressions, keyed by their
// source text, so a predicate reused across many data cells compiles
// once.
type Evaluator struct {
	mu    sync.Mutex
	cache map[string]*vm.Program
}

// NewEvaluator returns an Evaluator with an empty compile cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Eval runs the boolean expression source against env, compiling and
// caching source on first use.
func (e *Evaluator) Eval(source string, env map[string]any) (bool, error) {
	if source == "" {
		return false, cferrors.NewMisconfiguration("gate: empty predicate expression")
	}
	program, err := e.compiled(source)
	if err != nil {
		return false, cferrors.NewMisconfiguration("gate: compile %q: %v", source, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, cferrors.WrapUser("gate", fmt.Errorf("evaluate %q: %w", source, err))
	}
	b, ok := out.(bool)
	if !ok {
		return false, cferrors.NewTypeMismatch(source, true, out)
	}
	return b, nil
}

func (e *Evaluator) compiled(source string) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.cache[source]; ok {
		return p, nil
	}
	p, err := expr.Compile(source, expr.AsBool())
	if err != nil {
		return nil, err
	}
	e.cache[source] = p
	return p, nil
}
