// Package verdict provides a Go SDK for the Verdict governance engine.
//
// Verdict evaluates AI agent actions before they run. This SDK lets Go
// programs submit tool calls for evaluation, report results for
// verification, and drive the management surface (policies, kill switch,
// wallets, escalations, event stream). It uses only the Go standard
// library (net/http) with zero external dependencies.
//
// Quick start:
//
//	// Set VERDICT_SERVER_ADDR and VERDICT_AGENT_ID env vars, then:
//	client := verdict.NewClient()
//
//	ev, err := client.Evaluate(ctx, verdict.EvaluateRequest{
//	    Tool: "shell",
//	    Args: map[string]any{"command": "ls /tmp"},
//	})
//	if err != nil {
//	    // transport or server failure
//	}
//	if ev.Decision == verdict.DecisionBlock {
//	    fmt.Printf("blocked: %s\n", ev.Explanation)
//	}
//
// A blocked action is a successful evaluation, not an error: Evaluate
// returns the decision payload for allow, review, and block alike.
package verdict

import "time"

// Decision is the outcome of an evaluation.
type Decision string

const (
	// DecisionAllow indicates the action may proceed.
	DecisionAllow Decision = "allow"

	// DecisionReview indicates the action may proceed but is flagged
	// for human review.
	DecisionReview Decision = "review"

	// DecisionBlock indicates the action must not run.
	DecisionBlock Decision = "block"
)

// EvaluateRequest is one proposed tool call.
type EvaluateRequest struct {
	// Tool is the tool the agent wants to invoke (e.g., "shell",
	// "http_request", "file_write").
	Tool string `json:"tool"`

	// Args are the tool call arguments as key-value pairs.
	Args map[string]any `json:"args"`

	// Context identifies the caller. Fields left empty fall back to
	// the client's configured defaults.
	Context RequestContext `json:"context"`
}

// RequestContext carries the caller identity and telemetry linkage for
// an evaluation. All fields are optional; an empty AgentID disables
// session scoping, wallet charges, and escalation thresholds.
type RequestContext struct {
	AgentID        string   `json:"agent_id,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	AllowedTools   []string `json:"allowed_tools,omitempty"`
	TraceID        string   `json:"trace_id,omitempty"`
	SpanID         string   `json:"span_id,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	TurnID         string   `json:"turn_id,omitempty"`
	Prompt         string   `json:"prompt,omitempty"`
}

// Evaluation is the engine's decision for one action.
type Evaluation struct {
	// ActionID is the persisted audit log id for this evaluation.
	ActionID int64 `json:"action_id"`

	// Decision is "allow", "review", or "block".
	Decision Decision `json:"decision"`

	// RiskScore is the final risk in [0, 100].
	RiskScore int `json:"risk_score"`

	// Explanation is a human-readable summary of the decision.
	Explanation string `json:"explanation"`

	// PolicyIDs lists the policies that matched, in rank order.
	PolicyIDs []string `json:"policy_ids"`

	// ChainPattern is the behavioral pattern that fired, if any.
	ChainPattern string `json:"chain_pattern,omitempty"`

	// ModifiedArgs is the sanitized argument string when the firewall
	// rewrote the args.
	ModifiedArgs string `json:"modified_args,omitempty"`

	// ExecutionTrace records each pipeline layer's contribution.
	ExecutionTrace []TraceStep `json:"execution_trace"`

	// Degraded is true when a layer was skipped or timed out and the
	// decision was made on partial input.
	Degraded bool `json:"degraded,omitempty"`

	// PaymentRequired is true when the evaluation was blocked because
	// the agent's wallet could not cover the fee.
	PaymentRequired bool `json:"payment_required,omitempty"`
}

// TraceStep is one pipeline layer's entry in the execution trace.
type TraceStep struct {
	Layer      int      `json:"layer"`
	Name       string   `json:"name"`
	Outcome    string   `json:"outcome"`
	RiskDelta  int      `json:"risk_delta"`
	MatchedIDs []string `json:"matched_ids,omitempty"`
	Detail     string   `json:"detail,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// VerifyRequest reports a tool's actual result for post-execution
// verification against the action that approved it.
type VerifyRequest struct {
	// ActionID links back to the evaluation that approved the call.
	ActionID int64 `json:"action_id"`

	// Tool is the tool that ran.
	Tool string `json:"tool"`

	// Result is the tool's reported output.
	Result map[string]any `json:"result,omitempty"`

	// Diff is an optional textual diff of the tool's effect.
	Diff string `json:"diff,omitempty"`
}

// Verdict is the aggregated outcome of a verification.
type Verdict string

const (
	VerdictCompliant  Verdict = "compliant"
	VerdictSuspicious Verdict = "suspicious"
	VerdictViolation  Verdict = "violation"
)

// Verification is one persisted post-execution verification.
type Verification struct {
	ID         int64         `json:"id"`
	ActionID   int64         `json:"action_id"`
	Tool       string        `json:"tool"`
	Verdict    Verdict       `json:"verdict"`
	Checks     []CheckResult `json:"checks"`
	RiskDelta  int           `json:"risk_delta"`
	DriftScore int           `json:"drift_score"`
	CreatedAt  time.Time     `json:"created_at"`
}

// CheckResult is one verification check's contribution.
type CheckResult struct {
	Name      string `json:"name"`
	Outcome   string `json:"outcome"`
	RiskDelta int    `json:"risk_delta"`
	Detail    string `json:"detail,omitempty"`
}
