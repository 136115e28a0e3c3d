// Package action defines the evaluated-action type system: the request a
// caller submits for a proposed tool call, the normalized payload derived
// from it, and the immutable Action record the engine persists together
// with its execution trace.
package action

import (
	"errors"
	"fmt"
	"time"
)

// Decision is the engine's verdict for a proposed tool call.
type Decision string

const (
	// DecisionAllow permits the tool call.
	DecisionAllow Decision = "allow"
	// DecisionReview permits the tool call subject to human adjudication.
	DecisionReview Decision = "review"
	// DecisionBlock denies the tool call.
	DecisionBlock Decision = "block"
)

// String returns the string representation of the Decision.
func (d Decision) String() string {
	return string(d)
}

func (d Decision) rank() int {
	switch d {
	case DecisionBlock:
		return 2
	case DecisionReview:
		return 1
	default:
		return 0
	}
}

// Stricter returns the more severe of two decisions (block > review > allow).
func Stricter(a, b Decision) Decision {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// StepOutcome is the per-layer result recorded in the execution trace.
type StepOutcome string

const (
	// StepPass means the layer found nothing actionable.
	StepPass StepOutcome = "pass"
	// StepReview means the layer downgraded the tentative decision to review.
	StepReview StepOutcome = "review"
	// StepBlock means the layer blocked the call.
	StepBlock StepOutcome = "block"
)

// Pipeline layer names in execution order. The trace records only layers
// that actually ran; a short-circuiting layer is always the last entry.
const (
	LayerKillSwitch = "kill_switch"
	LayerInjection  = "injection_firewall"
	LayerScope      = "scope_enforcer"
	LayerPolicy     = "policy_engine"
	LayerRiskChain  = "risk_chain"
	LayerFinalize   = "finalize"
)

// TraceStep records one pipeline layer's contribution to a decision.
type TraceStep struct {
	// Layer is the 1-based layer index in pipeline order.
	Layer int `json:"layer"`
	// Name is the symbolic layer name (kill_switch, injection_firewall, ...).
	Name string `json:"name"`
	// Outcome is what the layer decided.
	Outcome StepOutcome `json:"outcome"`
	// RiskDelta is the signed risk contribution of this layer.
	RiskDelta int `json:"risk_delta"`
	// MatchedIDs lists pattern or policy ids the layer matched, in order.
	MatchedIDs []string `json:"matched_ids,omitempty"`
	// Detail is a human-readable explanation of the outcome.
	Detail string `json:"detail,omitempty"`
	// DurationMS is the layer's wall-clock duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// RequestContext carries the optional caller-supplied context of a request.
// All fields are optional; an empty AgentID disables session scoping,
// wallet lookup, and escalation thresholds for the call.
type RequestContext struct {
	AgentID   string
	SessionID string
	UserID    string
	// AllowedTools, when non-empty, is the closed set of tools the caller
	// permits for this request. The scope layer blocks anything else.
	AllowedTools   []string
	TraceID        string
	SpanID         string
	ConversationID string
	TurnID         string
	// Prompt is the free-text instruction that produced the tool call,
	// scanned by the injection firewall alongside the arguments.
	Prompt string
}

// ScopePermits reports whether the context's allow-list admits the tool.
// An absent or empty allow-list admits everything.
func (c RequestContext) ScopePermits(tool string) bool {
	if len(c.AllowedTools) == 0 {
		return true
	}
	for _, t := range c.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// Request is one proposed tool call submitted for evaluation.
type Request struct {
	Tool    string
	Args    Value
	Context RequestContext
}

// ErrInvalidRequest reports a request that fails schema validation.
var ErrInvalidRequest = errors.New("invalid request")

// Validate checks the request's required fields.
func (r Request) Validate() error {
	if r.Tool == "" {
		return fmt.Errorf("%w: tool must not be empty", ErrInvalidRequest)
	}
	return nil
}

// Action is one evaluated tool call as persisted to the audit log.
// Immutable once written; the ID is assigned monotonically by the store.
type Action struct {
	ID        int64
	Timestamp time.Time
	AgentID   string
	SessionID string
	UserID    string
	// AllowedTools is the caller scope recorded at evaluation time;
	// post-execution verification checks outputs against it.
	AllowedTools []string
	Tool         string
	Args         Value
	// ArgsFlat is the normalized flattened argument string, derived once
	// at evaluation time and indexed for search.
	ArgsFlat       string
	Decision       Decision
	Risk           int
	PolicyIDs      []string
	ChainPattern   string
	Trace          []TraceStep
	TraceID        string
	SpanID         string
	ConversationID string
	// FeeMilli is the fee assessed for this evaluation in thousandths
	// of a unit; 0 when fees are disabled or the caller is anonymous.
	// Collection happens after the action is persisted, so a fee the
	// wallet could not cover stays recorded here while the response
	// carries the payment_required flag.
	FeeMilli int64
}

// BlockedByScope reports whether the action was blocked by the scope
// enforcement layer. Used by chain analysis to detect scope probing.
func (a *Action) BlockedByScope() bool {
	if a.Decision != DecisionBlock {
		return false
	}
	for _, s := range a.Trace {
		if s.Name == LayerScope && s.Outcome == StepBlock {
			return true
		}
	}
	return false
}

// Evaluation is the engine's verdict for one evaluated request: the
// stable decision payload returned to the caller.
type Evaluation struct {
	ActionID     int64
	Decision     Decision
	Risk         int
	Explanation  string
	PolicyIDs    []string
	ChainPattern string
	// ModifiedArgs carries the sanitized flattened payload when
	// normalization stripped zero-width content; empty otherwise.
	ModifiedArgs string
	Trace        []TraceStep
	// Degraded is set when the policy snapshot came from a stale cache
	// or chain analysis exceeded its time budget.
	Degraded bool
	// PaymentRequired is set when fees are enabled and the wallet could
	// not cover the tier fee. The decision itself is unaffected.
	PaymentRequired bool
}

