// Package chain matches multi-step attack patterns against a session's
// action history. Patterns are ordered by descending risk boost; the
// first match wins and contributes its boost to the request's risk.
// Analysis runs under a soft time budget and degrades rather than block
// the evaluation pipeline.
package chain

import (
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/risk"
)

// Input is one analysis request: the current call plus its session
// history, oldest-first and already window-filtered.
type Input struct {
	// History holds the prior actions, oldest first.
	History []action.Action
	// Tool is the normalized current tool name.
	Tool string
	// Class is the current tool's risk class.
	Class risk.Class
	// ArgsFlat is the current flattened argument string.
	ArgsFlat string
	// Now anchors the wall-clock checks (delayed-exfil).
	Now time.Time
}

// Result is the outcome of one analysis.
type Result struct {
	// PatternID is the first matching pattern, empty when none fired.
	PatternID string
	// Boost is the risk contribution of the matched pattern.
	Boost int
	// Degraded is set when the time budget expired before every pattern
	// was checked.
	Degraded bool
	// Checked counts the patterns evaluated before match or cutoff.
	Checked int
}

// Pattern is one multi-step attack signature.
type Pattern struct {
	// ID names the pattern in decisions and traces.
	ID string
	// Boost is added to the base risk when the pattern fires.
	Boost int
	// MinPrior is the minimum history length the pattern needs.
	MinPrior int
	// Match reports whether the pattern fires for the input.
	Match func(in Input) bool
}

// DefaultBudget is the soft time cap for one analysis.
const DefaultBudget = 100 * time.Millisecond

// Analyzer matches the registered patterns in order.
type Analyzer struct {
	patterns []Pattern
	budget   time.Duration
	now      func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithBudget overrides the soft time cap.
func WithBudget(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.budget = d
		}
	}
}

// WithClock injects the time source used for budget accounting.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		a.now = now
	}
}

// NewAnalyzer builds an Analyzer over the standard pattern table.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		patterns: Patterns(),
		budget:   DefaultBudget,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs the pattern table against the input. The first match wins;
// remaining patterns are skipped. When the budget expires mid-table the
// result is marked degraded and the remaining patterns are skipped.
func (a *Analyzer) Analyze(in Input) Result {
	var res Result
	start := a.now()
	for _, p := range a.patterns {
		if a.now().Sub(start) > a.budget {
			res.Degraded = true
			return res
		}
		if len(in.History) < p.MinPrior {
			continue
		}
		res.Checked++
		if p.Match(in) {
			res.PatternID = p.ID
			res.Boost = p.Boost
			return res
		}
	}
	return res
}
