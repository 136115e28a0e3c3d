package policy

import (
	"errors"
	"testing"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

func validPolicy() Policy {
	return Policy{
		ID:          "p1",
		ToolPattern: "shell",
		Severity:    SeverityHigh,
		Action:      action.DecisionBlock,
		Active:      true,
	}
}

func TestCompile_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"empty tool pattern", func(p *Policy) { p.ToolPattern = "" }},
		{"unknown severity", func(p *Policy) { p.Severity = "extreme" }},
		{"unknown action", func(p *Policy) { p.Action = "deny" }},
		{"bad url regex", func(p *Policy) { p.URLRegex = "(" }},
		{"bad args regex", func(p *Policy) { p.ArgsRegex = "[z-a]" }},
		{"condition without compiler", func(p *Policy) { p.Condition = "tool == 'shell'" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			tt.mutate(&p)
			if _, err := Compile(p, nil); !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("Compile() error = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestCompiled_Matches(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		in     MatchInput
		want   bool
	}{
		{
			"exact tool match",
			validPolicy(),
			MatchInput{Tool: "shell"},
			true,
		},
		{
			"tool mismatch",
			validPolicy(),
			MatchInput{Tool: "file_read"},
			false,
		},
		{
			"wildcard matches any tool",
			Policy{ID: "w", ToolPattern: "*", Severity: SeverityLow, Action: action.DecisionReview},
			MatchInput{Tool: "anything"},
			true,
		},
		{
			"url regex requires url",
			Policy{ID: "u", ToolPattern: "*", Severity: SeverityLow, Action: action.DecisionReview, URLRegex: `evil\.example`},
			MatchInput{Tool: "http_request"},
			false,
		},
		{
			"url regex matches",
			Policy{ID: "u", ToolPattern: "*", Severity: SeverityLow, Action: action.DecisionReview, URLRegex: `evil\.example`},
			MatchInput{Tool: "http_request", URL: "https://evil.example/ingest"},
			true,
		},
		{
			"args regex matches flattened string",
			Policy{ID: "a", ToolPattern: "shell", Severity: SeverityCritical, Action: action.DecisionBlock, ArgsRegex: `rm\s+-rf`},
			MatchInput{Tool: "shell", ArgsFlat: "command rm -rf /"},
			true,
		},
		{
			"args regex is case sensitive by default",
			Policy{ID: "a", ToolPattern: "*", Severity: SeverityLow, Action: action.DecisionReview, ArgsRegex: `DROP TABLE`},
			MatchInput{Tool: "db_query", ArgsFlat: "query drop table users"},
			false,
		},
		{
			"args regex opts out of case sensitivity",
			Policy{ID: "a", ToolPattern: "*", Severity: SeverityLow, Action: action.DecisionReview, ArgsRegex: `(?i)DROP TABLE`},
			MatchInput{Tool: "db_query", ArgsFlat: "query drop table users"},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Compile(tt.policy, nil)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			got, err := c.Matches(tt.in)
			if err != nil {
				t.Fatalf("Matches() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

type stubCondition struct {
	result bool
	err    error
}

func (s stubCondition) Eval(MatchInput) (bool, error) { return s.result, s.err }

type stubCompiler struct {
	program ConditionProgram
	err     error
}

func (s stubCompiler) Compile(string) (ConditionProgram, error) { return s.program, s.err }

func TestCompiled_ConditionGates(t *testing.T) {
	p := validPolicy()
	p.Condition = "agent_id == 'a1'"

	c, err := Compile(p, stubCompiler{program: stubCondition{result: false}})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	ok, err := c.Matches(MatchInput{Tool: "shell"})
	if err != nil || ok {
		t.Errorf("Matches() = (%v, %v), want (false, nil)", ok, err)
	}

	c, err = Compile(p, stubCompiler{program: stubCondition{result: true}})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	ok, err = c.Matches(MatchInput{Tool: "shell"})
	if err != nil || !ok {
		t.Errorf("Matches() = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestCompiled_ConditionErrorIsNonMatch(t *testing.T) {
	p := validPolicy()
	p.Condition = "broken"

	c, err := Compile(p, stubCompiler{program: stubCondition{err: errors.New("eval failed")}})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	ok, err := c.Matches(MatchInput{Tool: "shell"})
	if ok {
		t.Error("expected non-match on condition error")
	}
	if err == nil {
		t.Error("expected surfaced evaluation error")
	}
}

func TestCompile_RejectsBadCondition(t *testing.T) {
	p := validPolicy()
	p.Condition = "((("
	_, err := Compile(p, stubCompiler{err: errors.New("parse error")})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("Compile() error = %v, want ErrInvalidPolicy", err)
	}
}

func TestSeverityMapping(t *testing.T) {
	tests := []struct {
		sev       Severity
		blockRisk int
		weight    int
	}{
		{SeverityLow, 85, 5},
		{SeverityMedium, 88, 10},
		{SeverityHigh, 92, 20},
		{SeverityCritical, 97, 30},
	}
	for _, tt := range tests {
		if got := tt.sev.BlockRisk(); got != tt.blockRisk {
			t.Errorf("%s.BlockRisk() = %d, want %d", tt.sev, got, tt.blockRisk)
		}
		if got := tt.sev.Weight(); got != tt.weight {
			t.Errorf("%s.Weight() = %d, want %d", tt.sev, got, tt.weight)
		}
	}
}
