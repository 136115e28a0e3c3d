package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/audit"
	"github.com/Verdict-Labs/verdict/internal/domain/wallet"
)

// actionDTO is the wire form of one evaluated action. Arguments are
// redacted on the way out; the stored record stays untouched.
type actionDTO struct {
	ID             int64              `json:"id"`
	Timestamp      string             `json:"timestamp"`
	AgentID        string             `json:"agent_id,omitempty"`
	SessionID      string             `json:"session_id,omitempty"`
	UserID         string             `json:"user_id,omitempty"`
	AllowedTools   []string           `json:"allowed_tools,omitempty"`
	Tool           string             `json:"tool"`
	Args           action.Value       `json:"args"`
	Decision       action.Decision    `json:"decision"`
	RiskScore      int                `json:"risk_score"`
	PolicyIDs      []string           `json:"policy_ids,omitempty"`
	ChainPattern   string             `json:"chain_pattern,omitempty"`
	ExecutionTrace []action.TraceStep `json:"execution_trace"`
	TraceID        string             `json:"trace_id,omitempty"`
	SpanID         string             `json:"span_id,omitempty"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Fee            string             `json:"fee,omitempty"`
}

func toActionDTO(a action.Action) actionDTO {
	dto := actionDTO{
		ID:             a.ID,
		Timestamp:      a.Timestamp.UTC().Format(time.RFC3339Nano),
		AgentID:        a.AgentID,
		SessionID:      a.SessionID,
		UserID:         a.UserID,
		AllowedTools:   a.AllowedTools,
		Tool:           a.Tool,
		Args:           audit.RedactArgs(a.Args),
		Decision:       a.Decision,
		RiskScore:      a.Risk,
		PolicyIDs:      a.PolicyIDs,
		ChainPattern:   a.ChainPattern,
		ExecutionTrace: a.Trace,
		TraceID:        a.TraceID,
		SpanID:         a.SpanID,
		ConversationID: a.ConversationID,
	}
	if a.FeeMilli > 0 {
		dto.Fee = wallet.Amount(a.FeeMilli).String()
	}
	return dto
}

// actionListResponse is the paged GET /v1/actions body. NextCursor is
// zero on the last page.
type actionListResponse struct {
	Actions    []actionDTO `json:"actions"`
	NextCursor int64       `json:"next_cursor,omitempty"`
	Count      int         `json:"count"`
}

// parseActionFilter reads the GET /v1/actions query parameters. Absent
// time bounds match everything.
func parseActionFilter(r *http.Request) (audit.ActionFilter, error) {
	q := r.URL.Query()
	filter := audit.ActionFilter{
		AgentID:   q.Get("agent_id"),
		SessionID: q.Get("session_id"),
		Tool:      q.Get("tool"),
	}
	if decision := q.Get("decision"); decision != "" {
		switch action.Decision(decision) {
		case action.DecisionAllow, action.DecisionReview, action.DecisionBlock:
			filter.Decision = action.Decision(decision)
		default:
			return filter, fmt.Errorf("invalid decision filter: must be 'allow', 'review', or 'block'")
		}
	}
	if startStr := q.Get("start"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return filter, fmt.Errorf("invalid start time: %w", err)
		}
		filter.Start = t
	}
	if endStr := q.Get("end"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return filter, fmt.Errorf("invalid end time: %w", err)
		}
		filter.End = t
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid limit: must be a positive integer")
		}
		filter.Limit = limit
	}
	if cursorStr := q.Get("cursor"); cursorStr != "" {
		cursor, err := strconv.ParseInt(cursorStr, 10, 64)
		if err != nil || cursor < 1 {
			return filter, fmt.Errorf("invalid cursor")
		}
		filter.Cursor = cursor
	}
	return filter, nil
}

// handleListActions returns evaluated actions newest-first with cursor
// pagination.
// GET /v1/actions
func (h *Handler) handleListActions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseActionFilter(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	actions, next, err := h.deps.Actions.ListActions(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to list actions")
		return
	}

	dtos := make([]actionDTO, len(actions))
	for i, a := range actions {
		dtos[i] = toActionDTO(a)
	}
	h.respondJSON(w, http.StatusOK, actionListResponse{
		Actions:    dtos,
		NextCursor: next,
		Count:      len(dtos),
	})
}

// handleGetAction returns one evaluated action by id.
// GET /v1/actions/{id}
func (h *Handler) handleGetAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(h.pathParam(r, "id"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid action id")
		return
	}

	a, err := h.deps.Actions.GetAction(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to get action")
		return
	}
	h.respondJSON(w, http.StatusOK, toActionDTO(a))
}

// handleActionVerifications returns every verification recorded for one
// action.
// GET /v1/actions/{id}/verifications
func (h *Handler) handleActionVerifications(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(h.pathParam(r, "id"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid action id")
		return
	}

	logs, err := h.deps.Verifier.ForAction(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to list verifications")
		return
	}

	dtos := make([]verificationDTO, len(logs))
	for i, l := range logs {
		dtos[i] = toVerificationDTO(l)
	}
	h.respondJSON(w, http.StatusOK, dtos)
}

// handleGetVerification returns one verification log by id.
// GET /v1/verifications/{id}
func (h *Handler) handleGetVerification(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(h.pathParam(r, "id"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid verification id")
		return
	}

	log, err := h.deps.Verifier.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to get verification")
		return
	}
	h.respondJSON(w, http.StatusOK, toVerificationDTO(log))
}

// handleStats aggregates the action log over an optional time range.
// GET /v1/stats?start=...&end=...
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var start, end time.Time
	if startStr := q.Get("start"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid start time: "+err.Error())
			return
		}
		start = t
	}
	if endStr := q.Get("end"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid end time: "+err.Error())
			return
		}
		end = t
	}

	stats, err := h.deps.Actions.Stats(r.Context(), start, end)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to aggregate stats")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}
