package httpapi

import (
	"net/http"

	"github.com/Verdict-Labs/verdict/internal/domain/policy"
)

// handleListPolicies returns all policies, optionally only active ones.
// GET /v1/policies?active_only=true
func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"

	policies, err := h.deps.Policies.List(r.Context(), activeOnly)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to list policies")
		return
	}
	if policies == nil {
		policies = []policy.Policy{}
	}
	h.respondJSON(w, http.StatusOK, policies)
}

// handleGetPolicy returns one policy by id.
// GET /v1/policies/{id}
func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id := h.pathParam(r, "id")

	p, err := h.deps.Policies.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to get policy")
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

// handleCreatePolicy validates and persists a new policy.
// POST /v1/policies
func (h *Handler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var spec policy.Spec
	if err := h.readJSON(w, r, &spec); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	created, err := h.deps.Policies.Create(r.Context(), spec, h.actor(r))
	if err != nil {
		h.respondServiceError(w, r, err, "failed to create policy")
		return
	}
	h.respondJSON(w, http.StatusCreated, created)
}

// handlePatchPolicy applies a partial update; absent fields are left
// unchanged.
// PATCH /v1/policies/{id}
func (h *Handler) handlePatchPolicy(w http.ResponseWriter, r *http.Request) {
	id := h.pathParam(r, "id")

	var patch policy.Patch
	if err := h.readJSON(w, r, &patch); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	updated, err := h.deps.Policies.Patch(r.Context(), id, patch, h.actor(r))
	if err != nil {
		h.respondServiceError(w, r, err, "failed to patch policy")
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

// handleTogglePolicy flips a policy's active flag.
// POST /v1/policies/{id}/toggle
func (h *Handler) handleTogglePolicy(w http.ResponseWriter, r *http.Request) {
	id := h.pathParam(r, "id")

	toggled, err := h.deps.Policies.Toggle(r.Context(), id, h.actor(r))
	if err != nil {
		h.respondServiceError(w, r, err, "failed to toggle policy")
		return
	}
	h.respondJSON(w, http.StatusOK, toggled)
}

// handleDeletePolicy removes a dynamic policy. Base policies cannot be
// deleted, only deactivated.
// DELETE /v1/policies/{id}
func (h *Handler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := h.pathParam(r, "id")

	if err := h.deps.Policies.Delete(r.Context(), id, h.actor(r)); err != nil {
		h.respondServiceError(w, r, err, "failed to delete policy")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePolicyVersions returns a policy's version history, oldest first.
// GET /v1/policies/{id}/versions
func (h *Handler) handlePolicyVersions(w http.ResponseWriter, r *http.Request) {
	id := h.pathParam(r, "id")

	versions, err := h.deps.Policies.Versions(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to list policy versions")
		return
	}
	if versions == nil {
		versions = []policy.PolicyVersion{}
	}
	h.respondJSON(w, http.StatusOK, versions)
}

// restoreRequest is the POST /v1/policies/{id}/restore body.
type restoreRequest struct {
	Version int `json:"version"`
}

// handleRestorePolicy reinstates a historical snapshot as a new version.
// POST /v1/policies/{id}/restore
func (h *Handler) handleRestorePolicy(w http.ResponseWriter, r *http.Request) {
	id := h.pathParam(r, "id")

	var req restoreRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Version < 1 {
		h.respondError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}

	restored, err := h.deps.Policies.Restore(r.Context(), id, req.Version, h.actor(r))
	if err != nil {
		h.respondServiceError(w, r, err, "failed to restore policy")
		return
	}
	h.respondJSON(w, http.StatusOK, restored)
}

// handleFirewallPatterns exposes the compiled injection pattern set for
// audit.
// GET /v1/firewall/patterns
func (h *Handler) handleFirewallPatterns(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.deps.Firewall.Patterns())
}
