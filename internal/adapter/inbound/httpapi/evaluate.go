package httpapi

import (
	"net/http"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/verify"
)

// evaluateRequest is the POST /v1/evaluate body.
type evaluateRequest struct {
	Tool    string            `json:"tool"`
	Args    action.Value      `json:"args"`
	Context requestContextDTO `json:"context"`
}

// requestContextDTO carries the optional caller context. All fields are
// optional; an empty agent_id disables session scoping, wallets, and
// escalation thresholds for the call.
type requestContextDTO struct {
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

func (c requestContextDTO) toDomain() action.RequestContext {
	return action.RequestContext{
		AgentID:        c.AgentID,
		SessionID:      c.SessionID,
		UserID:         c.UserID,
		AllowedTools:   c.AllowedTools,
		TraceID:        c.TraceID,
		SpanID:         c.SpanID,
		ConversationID: c.ConversationID,
		TurnID:         c.TurnID,
		Prompt:         c.Prompt,
	}
}

// decisionDTO is the stable ActionDecision wire schema.
type decisionDTO struct {
	ActionID        int64              `json:"action_id"`
	Decision        action.Decision    `json:"decision"`
	RiskScore       int                `json:"risk_score"`
	Explanation     string             `json:"explanation"`
	PolicyIDs       []string           `json:"policy_ids"`
	ChainPattern    string             `json:"chain_pattern,omitempty"`
	ModifiedArgs    string             `json:"modified_args,omitempty"`
	ExecutionTrace  []action.TraceStep `json:"execution_trace"`
	Degraded        bool               `json:"degraded,omitempty"`
	PaymentRequired bool               `json:"payment_required,omitempty"`
}

func toDecisionDTO(ev action.Evaluation) decisionDTO {
	ids := ev.PolicyIDs
	if ids == nil {
		ids = []string{}
	}
	return decisionDTO{
		ActionID:        ev.ActionID,
		Decision:        ev.Decision,
		RiskScore:       ev.Risk,
		Explanation:     ev.Explanation,
		PolicyIDs:       ids,
		ChainPattern:    ev.ChainPattern,
		ModifiedArgs:    ev.ModifiedArgs,
		ExecutionTrace:  ev.Trace,
		Degraded:        ev.Degraded,
		PaymentRequired: ev.PaymentRequired,
	}
}

// handleEvaluate runs one proposed tool call through the pipeline.
// POST /v1/evaluate
//
// A block is a successful evaluation, not an error: every decided call
// returns 200 with the decision payload.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Tool == "" {
		h.respondError(w, http.StatusBadRequest, "tool is required")
		return
	}

	ev, err := h.deps.Engine.Evaluate(r.Context(), action.Request{
		Tool:    req.Tool,
		Args:    req.Args,
		Context: req.Context.toDomain(),
	})
	if err != nil {
		h.respondServiceError(w, r, err, "evaluation failed")
		return
	}

	h.respondJSON(w, http.StatusOK, toDecisionDTO(ev))
}

// verifyRequest is the POST /v1/verify body: a tool's reported result
// linked back to the action that approved it.
type verifyRequest struct {
	ActionID int64        `json:"action_id"`
	Tool     string       `json:"tool"`
	Result   action.Value `json:"result"`
	Diff     string       `json:"diff,omitempty"`
}

// verificationDTO is the wire form of one verification log.
type verificationDTO struct {
	ID         int64                `json:"id"`
	ActionID   int64                `json:"action_id"`
	Tool       string               `json:"tool"`
	Verdict    verify.Verdict       `json:"verdict"`
	Checks     []verify.CheckResult `json:"checks"`
	RiskDelta  int                  `json:"risk_delta"`
	DriftScore int                  `json:"drift_score"`
	CreatedAt  string               `json:"created_at"`
}

func toVerificationDTO(l verify.Log) verificationDTO {
	return verificationDTO{
		ID:         l.ID,
		ActionID:   l.ActionID,
		Tool:       l.Tool,
		Verdict:    l.Verdict,
		Checks:     l.Checks,
		RiskDelta:  l.RiskDelta,
		DriftScore: l.DriftScore,
		CreatedAt:  l.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// handleVerify runs the post-execution check suite against a reported
// result and persists the verdict.
// POST /v1/verify
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Tool == "" {
		h.respondError(w, http.StatusBadRequest, "tool is required")
		return
	}

	log, err := h.deps.Verifier.Verify(r.Context(), req.ActionID, req.Tool, req.Result, req.Diff)
	if err != nil {
		h.respondServiceError(w, r, err, "verification failed")
		return
	}

	h.respondJSON(w, http.StatusOK, toVerificationDTO(log))
}
