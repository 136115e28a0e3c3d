package policy

import (
	"fmt"
	"regexp"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

// WildcardPattern is the tool pattern that matches every tool.
const WildcardPattern = "*"

// MatchInput is the per-request view a compiled policy is matched against.
type MatchInput struct {
	// Tool is the normalized tool name.
	Tool string
	// URL is the scalar "url" argument when present, empty otherwise.
	URL string
	// ArgsFlat is the normalized flattened argument string.
	ArgsFlat string
	// AgentID and SessionID scope condition expressions.
	AgentID   string
	SessionID string
}

// ConditionProgram is a compiled policy condition. Implementations are
// supplied by the expression adapter; the domain only requires that
// evaluation is side-effect free.
type ConditionProgram interface {
	// Eval reports whether the condition holds for the input.
	Eval(in MatchInput) (bool, error)
}

// ConditionCompiler turns a condition source string into a runnable
// program, rejecting expressions that do not compile.
type ConditionCompiler interface {
	Compile(expr string) (ConditionProgram, error)
}

// Compiled is a policy with its regex fields and condition compiled for
// matching. Compiled values are immutable and safe for concurrent use.
type Compiled struct {
	Policy
	urlRe  *regexp.Regexp
	argsRe *regexp.Regexp
	cond   ConditionProgram
}

// Compile validates and compiles the policy's matching machinery.
// The compiler may be nil when the policy carries no condition.
func Compile(p Policy, cc ConditionCompiler) (*Compiled, error) {
	if p.ToolPattern == "" {
		return nil, fmt.Errorf("%w: tool_pattern must not be empty", ErrInvalidPolicy)
	}
	if !p.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidPolicy, p.Severity)
	}
	switch p.Action {
	case action.DecisionAllow, action.DecisionReview, action.DecisionBlock:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidPolicy, p.Action)
	}
	c := &Compiled{Policy: p}
	var err error
	if p.URLRegex != "" {
		if c.urlRe, err = regexp.Compile(p.URLRegex); err != nil {
			return nil, fmt.Errorf("%w: url_regex: %v", ErrInvalidPolicy, err)
		}
	}
	if p.ArgsRegex != "" {
		if c.argsRe, err = regexp.Compile(p.ArgsRegex); err != nil {
			return nil, fmt.Errorf("%w: args_regex: %v", ErrInvalidPolicy, err)
		}
	}
	if p.Condition != "" {
		if cc == nil {
			return nil, fmt.Errorf("%w: condition given but no compiler configured", ErrInvalidPolicy)
		}
		if c.cond, err = cc.Compile(p.Condition); err != nil {
			return nil, fmt.Errorf("%w: condition: %v", ErrInvalidPolicy, err)
		}
	}
	return c, nil
}

// Matches reports whether the policy applies to the input. A condition
// evaluation error counts as a non-match; the error is surfaced so the
// caller can record it.
func (c *Compiled) Matches(in MatchInput) (bool, error) {
	if c.ToolPattern != WildcardPattern && c.ToolPattern != in.Tool {
		return false, nil
	}
	if c.urlRe != nil {
		if in.URL == "" || !c.urlRe.MatchString(in.URL) {
			return false, nil
		}
	}
	if c.argsRe != nil && !c.argsRe.MatchString(in.ArgsFlat) {
		return false, nil
	}
	if c.cond != nil {
		ok, err := c.cond.Eval(in)
		if err != nil {
			return false, fmt.Errorf("condition %q: %w", c.ID, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
