// Package cel provides the CEL-backed policy condition compiler.
// Conditions are boolean CEL expressions over the per-request match
// input (tool, url, args_flat, agent_id, session_id).
package cel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Verdict-Labs/verdict/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for a condition.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit per evaluation.
const maxCostBudget = 100_000

// maxNestingDepth caps parenthesis/bracket nesting in a condition.
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation; conditions run inline in the
// policy layer, so a runaway expression must not stall the pipeline.
const evalTimeout = time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// Compiler compiles policy conditions into runnable CEL programs.
type Compiler struct {
	env *cel.Env
}

// NewCompiler creates a compiler with the condition environment.
func NewCompiler() (*Compiler, error) {
	env, err := newConditionEnv()
	if err != nil {
		return nil, fmt.Errorf("create condition environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// newConditionEnv declares the variables a condition may reference and
// the glob helper for pattern matching on names.
func newConditionEnv() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),

		cel.Variable("tool", cel.StringType),
		cel.Variable("url", cel.StringType),
		cel.Variable("args_flat", cel.StringType),
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("session_id", cel.StringType),

		// glob('deploy-*', tool)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// Compile parses and type-checks a condition, returning a program that
// is immutable and safe for concurrent use.
func (c *Compiler) Compile(expr string) (policy.ConditionProgram, error) {
	if expr == "" {
		return nil, errors.New("condition is empty")
	}
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("condition too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return nil, err
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile condition: %w", issues.Err())
	}
	prg, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("build condition program: %w", err)
	}
	return &program{prg: prg}, nil
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
		return fmt.Errorf("condition nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

type program struct {
	prg cel.Program
}

// Eval runs the condition against the match input. Non-boolean results
// are evaluation errors; the policy layer treats them as non-matches.
func (p *program) Eval(in policy.MatchInput) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	out, _, err := p.prg.ContextEval(ctx, map[string]any{
		"tool":       in.Tool,
		"url":        in.URL,
		"args_flat":  in.ArgsFlat,
		"agent_id":   in.AgentID,
		"session_id": in.SessionID,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, want bool", out.Value())
	}
	return b, nil
}

var _ policy.ConditionCompiler = (*Compiler)(nil)
