// Package cel evaluates access conditions: boolean CEL expressions over the
// signed-in user's role, identity and the requested path.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/dashgate/internal/domain/gate"
)

// maxExpressionLength is the maximum allowed length for CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single CEL evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates access condition expressions.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates a new CEL evaluator with the access environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewAccessEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create access environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks a CEL expression, returning a compiled program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that expr is non-empty, within the length and
// nesting limits, and compiles to a boolean.
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	if expr == "" {
		return errors.New("expression is empty")
	}

	if err := validateNesting(expr); err != nil {
		return err
	}

	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}

	return nil
}

// Evaluate runs a compiled program against subject.
func (e *Evaluator) Evaluate(ctx context.Context, prg cel.Program, s gate.Subject) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, BuildActivation(s))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}

// Authorizer admits subjects for which a fixed access condition holds.
type Authorizer struct {
	eval *Evaluator
	prg  cel.Program
	expr string
}

// NewAuthorizer validates and compiles expr.
func NewAuthorizer(expr string) (*Authorizer, error) {
	eval, err := NewEvaluator()
	if err != nil {
		return nil, err
	}
	if err := eval.ValidateExpression(expr); err != nil {
		return nil, err
	}
	prg, err := eval.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Authorizer{eval: eval, prg: prg, expr: expr}, nil
}

// Authorize evaluates the condition. Evaluation errors are returned and
// the gate denies on them.
func (a *Authorizer) Authorize(ctx context.Context, s gate.Subject) (bool, error) {
	return a.eval.Evaluate(ctx, a.prg, s)
}

// Expression returns the source of the condition.
func (a *Authorizer) Expression() string { return a.expr }

var _ gate.Authorizer = (*Authorizer)(nil)
