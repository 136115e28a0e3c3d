package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/escalation"
	"github.com/Verdict-Labs/verdict/internal/domain/wallet"
)

// handleKillStatus returns the kill switch state.
// GET /v1/kill
func (h *Handler) handleKillStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.deps.Kill.Status())
}

// handleKillEngage engages the kill switch. Idempotent; repeated engages
// refresh the actor and timestamp.
// POST /v1/kill/engage
func (h *Handler) handleKillEngage(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Kill.Engage(r.Context(), h.actor(r)); err != nil {
		h.respondServiceError(w, r, err, "failed to engage kill switch")
		return
	}
	h.respondJSON(w, http.StatusOK, h.deps.Kill.Status())
}

// handleKillRelease releases the kill switch. The release fails when the
// state cannot be persisted; an unsafe open state must never depend on
// memory alone.
// POST /v1/kill/release
func (h *Handler) handleKillRelease(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Kill.Release(r.Context(), h.actor(r)); err != nil {
		h.respondServiceError(w, r, err, "failed to release kill switch")
		return
	}
	h.respondJSON(w, http.StatusOK, h.deps.Kill.Status())
}

// walletDTO is the wire form of one agent wallet. Balances are decimal
// strings with three places.
type walletDTO struct {
	AgentID   string `json:"agent_id"`
	Balance   string `json:"balance"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toWalletDTO(w wallet.Wallet) walletDTO {
	return walletDTO{
		AgentID:   w.AgentID,
		Balance:   w.Balance.String(),
		CreatedAt: w.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: w.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// handleGetWallet returns an agent's wallet.
// GET /v1/wallets/{agent_id}
func (h *Handler) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	agentID := h.pathParam(r, "agent_id")

	wlt, err := h.deps.Fees.Wallet(r.Context(), agentID)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to get wallet")
		return
	}
	h.respondJSON(w, http.StatusOK, toWalletDTO(wlt))
}

// topUpRequest is the POST /v1/wallets/{agent_id}/topup body.
type topUpRequest struct {
	Amount string `json:"amount"`
}

// handleTopUpWallet credits an agent's wallet, provisioning it on first
// contact.
// POST /v1/wallets/{agent_id}/topup
func (h *Handler) handleTopUpWallet(w http.ResponseWriter, r *http.Request) {
	agentID := h.pathParam(r, "agent_id")

	var req topUpRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	amount, err := wallet.ParseAmount(req.Amount)
	if err != nil {
		h.respondServiceError(w, r, err, "invalid amount")
		return
	}

	wlt, err := h.deps.Fees.TopUp(r.Context(), agentID, amount)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to top up wallet")
		return
	}
	h.respondJSON(w, http.StatusOK, toWalletDTO(wlt))
}

// escalationDTO is the wire form of one escalation event.
type escalationDTO struct {
	ID         int64               `json:"id"`
	AgentID    string              `json:"agent_id,omitempty"`
	ActionID   int64               `json:"action_id,omitempty"`
	Severity   escalation.Severity `json:"severity"`
	Reason     string              `json:"reason"`
	Status     escalation.Status   `json:"status"`
	AutoKill   bool                `json:"auto_kill,omitempty"`
	CreatedAt  string              `json:"created_at"`
	ExpiresAt  string              `json:"expires_at"`
	ResolvedAt string              `json:"resolved_at,omitempty"`
	ResolvedBy string              `json:"resolved_by,omitempty"`
}

func toEscalationDTO(e escalation.Event) escalationDTO {
	dto := escalationDTO{
		ID:         e.ID,
		AgentID:    e.AgentID,
		ActionID:   e.ActionID,
		Severity:   e.Severity,
		Reason:     e.Reason,
		Status:     e.Status,
		AutoKill:   e.AutoKill,
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:  e.ExpiresAt.UTC().Format(time.RFC3339Nano),
		ResolvedBy: e.ResolvedBy,
	}
	if !e.ResolvedAt.IsZero() {
		dto.ResolvedAt = e.ResolvedAt.UTC().Format(time.RFC3339Nano)
	}
	return dto
}

// parseEscalationFilter reads the GET /v1/escalations query parameters.
func parseEscalationFilter(r *http.Request) (escalation.Filter, error) {
	q := r.URL.Query()
	filter := escalation.Filter{AgentID: q.Get("agent_id")}
	if status := q.Get("status"); status != "" {
		switch escalation.Status(status) {
		case escalation.StatusPending, escalation.StatusApproved,
			escalation.StatusRejected, escalation.StatusExpired:
			filter.Status = escalation.Status(status)
		default:
			return filter, errInvalidFilter("status", status)
		}
	}
	if severity := q.Get("severity"); severity != "" {
		switch escalation.Severity(severity) {
		case escalation.SeverityLow, escalation.SeverityMedium,
			escalation.SeverityHigh, escalation.SeverityCritical:
			filter.Severity = escalation.Severity(severity)
		default:
			return filter, errInvalidFilter("severity", severity)
		}
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return filter, errInvalidFilter("limit", limitStr)
		}
		filter.Limit = limit
	}
	return filter, nil
}

// handleListEscalations returns escalations newest-first, filtered by
// status, severity, and agent.
// GET /v1/escalations
func (h *Handler) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEscalationFilter(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.deps.Escalator.List(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to list escalations")
		return
	}

	dtos := make([]escalationDTO, len(events))
	for i, e := range events {
		dtos[i] = toEscalationDTO(e)
	}
	h.respondJSON(w, http.StatusOK, dtos)
}

// handleApproveEscalation resolves a pending escalation as approved.
// POST /v1/escalations/{id}/approve
func (h *Handler) handleApproveEscalation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(h.pathParam(r, "id"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid escalation id")
		return
	}

	resolved, err := h.deps.Escalator.Approve(r.Context(), id, h.actor(r))
	if err != nil {
		h.respondServiceError(w, r, err, "failed to approve escalation")
		return
	}
	h.respondJSON(w, http.StatusOK, toEscalationDTO(resolved))
}

// handleRejectEscalation resolves a pending escalation as rejected.
// POST /v1/escalations/{id}/reject
func (h *Handler) handleRejectEscalation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(h.pathParam(r, "id"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid escalation id")
		return
	}

	resolved, err := h.deps.Escalator.Reject(r.Context(), id, h.actor(r))
	if err != nil {
		h.respondServiceError(w, r, err, "failed to reject escalation")
		return
	}
	h.respondJSON(w, http.StatusOK, toEscalationDTO(resolved))
}
