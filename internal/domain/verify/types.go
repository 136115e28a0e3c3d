// Package verify implements post-execution verification: a fixed list of
// independent checks run against a tool's reported output, aggregated
// into a per-action verdict. Checks share one signature and never depend
// on each other's results; the engine iterates a registered list.
package verify

import (
	"context"
	"errors"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/drift"
)

// Outcome is the result of one check.
type Outcome string

const (
	// OutcomePass means the check found nothing.
	OutcomePass Outcome = "pass"
	// OutcomeFail means the check found a concrete problem and
	// contributed its risk delta.
	OutcomeFail Outcome = "fail"
	// OutcomeSkip means the check could not run (missing input, no
	// recorded scope, insufficient baseline). Skips contribute nothing.
	OutcomeSkip Outcome = "skip"
)

// Verdict is the aggregated result over all checks.
type Verdict string

const (
	VerdictCompliant  Verdict = "compliant"
	VerdictSuspicious Verdict = "suspicious"
	VerdictViolation  Verdict = "violation"
)

// Aggregation thresholds. A single fail at or above failDeltaViolation
// is a violation on its own; otherwise the summed deltas decide.
const (
	failDeltaViolation = 20
	sumDeltaViolation  = 60
	sumDeltaSuspicious = 25
)

// CheckResult is one check's contribution to a verification.
type CheckResult struct {
	Name      string  `json:"name"`
	Outcome   Outcome `json:"outcome"`
	RiskDelta int     `json:"risk_delta"`
	Detail    string  `json:"detail,omitempty"`
}

// Log is one persisted verification: the per-check results and the
// aggregate verdict for a single evaluated action.
type Log struct {
	ID       int64
	ActionID int64
	Tool     string
	Verdict  Verdict
	Checks   []CheckResult
	// RiskDelta is the sum of deltas over failed checks.
	RiskDelta int
	// DriftScore is the five-signal drift score computed for the
	// action's agent, or 0 when no baseline was available.
	DriftScore int
	CreatedAt  time.Time
}

// ErrNotFound reports a missing verification log.
var ErrNotFound = errors.New("verification not found")

// Input is the shared input every check receives. Checks read what they
// need and skip when a required field is absent.
type Input struct {
	// Action is the evaluated action the result belongs to.
	Action action.Action
	// Known reports whether the action lookup succeeded. Checks that
	// need the original action skip when false.
	Known bool
	// Tool is the tool name reported alongside the result.
	Tool string
	// Result is the raw reported result.
	Result action.Value
	// Output is the result coerced to normalized text.
	Output string
	// Diff is the optional change diff reported with the result.
	Diff string
	// ResultErr reports whether the caller marked the execution as
	// failed.
	ResultErr bool
	// Drift is the precomputed drift score for the action's agent, nil
	// when no sufficient baseline existed.
	Drift *drift.Score
}

// Check is one registered verification check.
type Check struct {
	Name string
	Run  func(ctx context.Context, in Input) CheckResult
}

// Aggregate derives the verdict and summed risk delta from a completed
// check list.
func Aggregate(checks []CheckResult) (Verdict, int) {
	sum := 0
	violation := false
	for _, c := range checks {
		if c.Outcome != OutcomeFail {
			continue
		}
		sum += c.RiskDelta
		if c.RiskDelta >= failDeltaViolation {
			violation = true
		}
	}
	switch {
	case violation || sum >= sumDeltaViolation:
		return VerdictViolation, sum
	case sum >= sumDeltaSuspicious:
		return VerdictSuspicious, sum
	default:
		return VerdictCompliant, sum
	}
}

func pass(name string) CheckResult {
	return CheckResult{Name: name, Outcome: OutcomePass}
}

func fail(name string, delta int, detail string) CheckResult {
	return CheckResult{Name: name, Outcome: OutcomeFail, RiskDelta: delta, Detail: detail}
}

func skip(name, detail string) CheckResult {
	return CheckResult{Name: name, Outcome: OutcomeSkip, Detail: detail}
}
