package audit

import (
	"regexp"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

var hexHashRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestNewReceipt_Shape(t *testing.T) {
	a := action.Action{
		ID:        42,
		Timestamp: t0,
		Tool:      "shell",
		Decision:  action.DecisionBlock,
		Risk:      95,
		FeeMilli:  25,
	}
	r := NewReceipt(a, "critical", t0.Add(time.Millisecond))

	if r.ActionID != 42 {
		t.Errorf("ActionID = %d, want 42", r.ActionID)
	}
	if !hexHashRe.MatchString(r.Hash) {
		t.Errorf("Hash = %q, want 64 lowercase hex chars", r.Hash)
	}
	if r.FeeTier != "critical" {
		t.Errorf("FeeTier = %q, want critical", r.FeeTier)
	}
	if r.FeeMilli != 25 {
		t.Errorf("FeeMilli = %d, want 25", r.FeeMilli)
	}
}

func TestNewReceipt_CoversEveryField(t *testing.T) {
	base := action.Action{ID: 1, Timestamp: t0, Tool: "shell", Decision: action.DecisionAllow, Risk: 10}

	variants := map[string]action.Action{
		"id":        {ID: 2, Timestamp: t0, Tool: "shell", Decision: action.DecisionAllow, Risk: 10},
		"tool":      {ID: 1, Timestamp: t0, Tool: "fetch", Decision: action.DecisionAllow, Risk: 10},
		"decision":  {ID: 1, Timestamp: t0, Tool: "shell", Decision: action.DecisionBlock, Risk: 10},
		"risk":      {ID: 1, Timestamp: t0, Tool: "shell", Decision: action.DecisionAllow, Risk: 11},
		"timestamp": {ID: 1, Timestamp: t0.Add(time.Nanosecond), Tool: "shell", Decision: action.DecisionAllow, Risk: 10},
	}
	want := NewReceipt(base, "", t0).Hash
	for field, a := range variants {
		if got := NewReceipt(a, "", t0).Hash; got == want {
			t.Errorf("changing %s did not change the hash", field)
		}
	}
}

func TestNewReceipt_Deterministic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("same action always yields the same hash", prop.ForAll(
		func(id int64, tool string, risk int, offsetSec int64) bool {
			a := action.Action{
				ID:        id,
				Timestamp: t0.Add(time.Duration(offsetSec) * time.Second),
				Tool:      tool,
				Decision:  action.DecisionReview,
				Risk:      risk,
			}
			first := NewReceipt(a, "standard", t0)
			second := NewReceipt(a, "standard", t0.Add(time.Hour))
			return first.Hash == second.Hash && hexHashRe.MatchString(first.Hash)
		},
		gen.Int64(),
		gen.AnyString(),
		gen.IntRange(0, 100),
		gen.Int64Range(-1<<32, 1<<32),
	))

	properties.TestingRun(t)
}

func TestRedactArgs(t *testing.T) {
	args := action.MapOf(
		action.F("path", action.String("/tmp/out")),
		action.F("api_key", action.String("sk-abcdef")),
		action.F("nested", action.MapOf(
			action.F("Password", action.String("hunter2")),
			action.F("count", action.Number("3")),
		)),
		action.F("list", action.ListOf(
			action.MapOf(action.F("auth_token", action.String("xyz"))),
			action.String("plain"),
		)),
	)

	got := RedactArgs(args)

	if v, _ := got.Get("path"); v.Str != "/tmp/out" {
		t.Errorf("path = %q, want untouched", v.Str)
	}
	if v, _ := got.Get("api_key"); v.Str != Redacted {
		t.Errorf("api_key = %q, want %q", v.Str, Redacted)
	}
	nested, _ := got.Get("nested")
	if v, _ := nested.Get("Password"); v.Str != Redacted {
		t.Errorf("nested Password = %q, want %q (case-insensitive key match)", v.Str, Redacted)
	}
	if v, _ := nested.Get("count"); v.Num != "3" {
		t.Errorf("nested count = %q, want preserved", v.Num)
	}
	list, _ := got.Get("list")
	if v, _ := list.List[0].Get("auth_token"); v.Str != Redacted {
		t.Errorf("list auth_token = %q, want %q", v.Str, Redacted)
	}
	if list.List[1].Str != "plain" {
		t.Errorf("list scalar = %q, want untouched", list.List[1].Str)
	}

	// The input tree is never modified.
	if v, _ := args.Get("api_key"); v.Str != "sk-abcdef" {
		t.Errorf("input mutated: api_key = %q", v.Str)
	}
}

func TestActionFilter_Match(t *testing.T) {
	a := action.Action{
		Timestamp: t0,
		AgentID:   "agent-1",
		SessionID: "sess-1",
		Tool:      "shell",
		Decision:  action.DecisionBlock,
	}

	tests := []struct {
		name   string
		filter ActionFilter
		want   bool
	}{
		{"empty filter", ActionFilter{}, true},
		{"agent match", ActionFilter{AgentID: "agent-1"}, true},
		{"agent mismatch", ActionFilter{AgentID: "agent-2"}, false},
		{"session match", ActionFilter{SessionID: "sess-1"}, true},
		{"tool mismatch", ActionFilter{Tool: "fetch"}, false},
		{"decision match", ActionFilter{Decision: action.DecisionBlock}, true},
		{"decision mismatch", ActionFilter{Decision: action.DecisionAllow}, false},
		{"in range", ActionFilter{Start: t0.Add(-time.Hour), End: t0.Add(time.Hour)}, true},
		{"before range", ActionFilter{Start: t0.Add(time.Minute)}, false},
		{"after range", ActionFilter{End: t0.Add(-time.Minute)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(a); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestActionFilter_PageLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultPageLimit},
		{-5, DefaultPageLimit},
		{50, 50},
		{MaxPageLimit, MaxPageLimit},
		{MaxPageLimit + 1, MaxPageLimit},
	}
	for _, tt := range tests {
		f := ActionFilter{Limit: tt.limit}
		if got := f.PageLimit(); got != tt.want {
			t.Errorf("PageLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}
