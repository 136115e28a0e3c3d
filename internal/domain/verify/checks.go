package verify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/drift"
	"github.com/Verdict-Labs/verdict/internal/domain/firewall"
	"github.com/Verdict-Labs/verdict/internal/domain/risk"
)

// Check names, matching the persisted check result rows.
const (
	CheckCredentialScan      = "credential-scan"
	CheckDestructiveOutput   = "destructive-output"
	CheckScopeCompliance     = "scope-compliance"
	CheckDiffSize            = "diff-size"
	CheckIntentAlignment     = "intent-alignment"
	CheckOutputInjection     = "output-injection"
	CheckIndependentReverify = "independent-reverify"
	CheckDriftDetection      = "drift-detection"
)

// Per-check risk deltas. The critical checks sit at or above the
// single-fail violation threshold; scope, diff and drift sit below it so
// they escalate only in combination.
const (
	deltaCredential  = 20
	deltaDestructive = 25
	deltaScope       = 15
	deltaDiffSize    = 10
	deltaIntent      = 50
	deltaInjection   = 30
	deltaReverify    = 25
	deltaDrift       = 15
)

// CredentialScan fails when the output or diff carries credential
// material (API keys, tokens, private key blocks).
func CredentialScan() Check {
	return Check{Name: CheckCredentialScan, Run: func(_ context.Context, in Input) CheckResult {
		if risk.ContainsCredentials(in.Output) {
			return fail(CheckCredentialScan, deltaCredential, "credential material in output")
		}
		if in.Diff != "" && risk.ContainsCredentials(in.Diff) {
			return fail(CheckCredentialScan, deltaCredential, "credential material in diff")
		}
		return pass(CheckCredentialScan)
	}}
}

var (
	massDeleteRe = regexp.MustCompile(`(?i)\b(?:deleted|removed|purged|dropped)\s+\d{3,}\s+(?:files?|rows?|records?|objects?)\b` +
		`|\b\d{3,}\s+(?:files?|rows?|records?|objects?)\s+(?:deleted|removed|purged|dropped)\b`)
	wipedFileRe = regexp.MustCompile(`(?i)\b(?:wiped|zeroed|formatted)\b.{0,40}\b(?:file|disk|partition|volume|device)\b`)
)

// DestructiveOutput fails when the output or diff reports destructive
// effects: dangerous commands echoed back, mass-delete counts, or
// wiped-storage signatures.
func DestructiveOutput() Check {
	return Check{Name: CheckDestructiveOutput, Run: func(_ context.Context, in Input) CheckResult {
		for _, text := range []string{in.Output, in.Diff} {
			if text == "" {
				continue
			}
			if risk.ContainsDestructive(text) {
				return fail(CheckDestructiveOutput, deltaDestructive, "destructive command signature in output")
			}
			if massDeleteRe.MatchString(text) {
				return fail(CheckDestructiveOutput, deltaDestructive, "mass-delete marker in output")
			}
			if wipedFileRe.MatchString(text) {
				return fail(CheckDestructiveOutput, deltaDestructive, "wiped-storage signature in output")
			}
		}
		return pass(CheckDestructiveOutput)
	}}
}

// ScopeCompliance fails when the reported tool, or a tool named inside a
// structured result, falls outside the allow-list recorded on the
// original action. Actions evaluated without a scope skip this check.
func ScopeCompliance() Check {
	return Check{Name: CheckScopeCompliance, Run: func(_ context.Context, in Input) CheckResult {
		if !in.Known {
			return skip(CheckScopeCompliance, "linked action unknown")
		}
		scope := in.Action.AllowedTools
		if len(scope) == 0 {
			return skip(CheckScopeCompliance, "no scope recorded on action")
		}
		for _, target := range writeTargets(in) {
			if !inScope(scope, target) {
				return fail(CheckScopeCompliance, deltaScope, fmt.Sprintf("target %q outside recorded scope", target))
			}
		}
		return pass(CheckScopeCompliance)
	}}
}

func writeTargets(in Input) []string {
	targets := make([]string, 0, 2)
	if in.Tool != "" {
		targets = append(targets, in.Tool)
	}
	if v, ok := in.Result.Get("tool"); ok {
		if s, ok := v.Scalar(); ok && s != "" {
			targets = append(targets, s)
		}
	}
	return targets
}

func inScope(scope []string, tool string) bool {
	for _, t := range scope {
		if t == tool {
			return true
		}
	}
	return false
}

// DefaultDiffLimit is the diff byte budget when no limit is configured.
const DefaultDiffLimit = 10 << 10

// Limits configures the diff-size check: a default byte budget and
// optional per-tool overrides.
type Limits struct {
	DefaultBytes int
	PerTool      map[string]int
}

func (l Limits) forTool(tool string) int {
	if n, ok := l.PerTool[tool]; ok && n > 0 {
		return n
	}
	if l.DefaultBytes > 0 {
		return l.DefaultBytes
	}
	return DefaultDiffLimit
}

// DiffSize fails when the reported diff exceeds the tool's byte budget.
// When no diff was reported the coerced result text is measured instead.
func DiffSize(limits Limits) Check {
	return Check{Name: CheckDiffSize, Run: func(_ context.Context, in Input) CheckResult {
		measured, source := in.Diff, "diff"
		if measured == "" {
			measured, source = in.Output, "output"
		}
		if measured == "" {
			return skip(CheckDiffSize, "nothing to measure")
		}
		limit := limits.forTool(in.Tool)
		if len(measured) > limit {
			return fail(CheckDiffSize, deltaDiffSize, fmt.Sprintf("%s is %d bytes, limit %d", source, len(measured), limit))
		}
		return pass(CheckDiffSize)
	}}
}

// IntentAlignment fails, critically, when an action the engine blocked
// nonetheless reports a successful result. That means the caller executed
// the call despite the verdict.
func IntentAlignment() Check {
	return Check{Name: CheckIntentAlignment, Run: func(_ context.Context, in Input) CheckResult {
		if !in.Known {
			return skip(CheckIntentAlignment, "linked action unknown")
		}
		if in.Action.Decision == action.DecisionBlock && !in.ResultErr {
			return fail(CheckIntentAlignment, deltaIntent, "blocked action reported a successful result")
		}
		return pass(CheckIntentAlignment)
	}}
}

// OutputInjection runs the injection firewall's pattern set against the
// output text. Any match fails: the tool result is trying to steer the
// calling agent.
func OutputInjection(fw *firewall.Firewall) Check {
	return Check{Name: CheckOutputInjection, Run: func(_ context.Context, in Input) CheckResult {
		res := fw.Scan(in.Output)
		if res.Detected {
			return fail(CheckOutputInjection, deltaInjection, "injection patterns in output: "+strings.Join(res.MatchedIDs(), ", "))
		}
		return pass(CheckOutputInjection)
	}}
}

// RematchFunc re-runs policy matching with the output text substituted
// for the argument string, returning the ids of matched block policies.
type RematchFunc func(ctx context.Context, tool, argsFlat string) ([]string, error)

// IndependentReverify replays the policy engine over the output text.
// A block-policy match means the output itself would have been denied.
func IndependentReverify(rematch RematchFunc) Check {
	return Check{Name: CheckIndependentReverify, Run: func(ctx context.Context, in Input) CheckResult {
		tool := in.Tool
		if in.Known {
			tool = in.Action.Tool
		}
		ids, err := rematch(ctx, tool, in.Output)
		if err != nil {
			return skip(CheckIndependentReverify, "policy rematch unavailable: "+err.Error())
		}
		if len(ids) > 0 {
			return fail(CheckIndependentReverify, deltaReverify, "output matches block policies: "+strings.Join(ids, ", "))
		}
		return pass(CheckIndependentReverify)
	}}
}

// DriftDetection fails when the precomputed five-signal drift score for
// the action's agent reaches the drift threshold. Skipped when no
// sufficient baseline existed.
func DriftDetection() Check {
	return Check{Name: CheckDriftDetection, Run: func(_ context.Context, in Input) CheckResult {
		if in.Drift == nil {
			return skip(CheckDriftDetection, "insufficient baseline")
		}
		if in.Drift.Total >= drift.FailThreshold {
			return fail(CheckDriftDetection, deltaDrift, fmt.Sprintf("drift score %d over threshold %d", in.Drift.Total, drift.FailThreshold))
		}
		return pass(CheckDriftDetection)
	}}
}
