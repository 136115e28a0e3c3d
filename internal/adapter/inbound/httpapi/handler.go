// Package httpapi exposes the governance engine over HTTP: evaluate and
// verify, policy administration, the kill switch, wallets, escalations,
// the audit read surface, and a server-sent event stream of evaluated
// actions. The surface performs no authentication; the X-Actor header
// identifies the caller for audit attribution only.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/audit"
	"github.com/Verdict-Labs/verdict/internal/domain/escalation"
	"github.com/Verdict-Labs/verdict/internal/domain/firewall"
	"github.com/Verdict-Labs/verdict/internal/domain/policy"
	"github.com/Verdict-Labs/verdict/internal/domain/verify"
	"github.com/Verdict-Labs/verdict/internal/domain/wallet"
	"github.com/Verdict-Labs/verdict/internal/service"
)

// maxBodyBytes caps request bodies. Argument payloads are small; anything
// larger is hostile or misdirected.
const maxBodyBytes = 1 << 20

// defaultActor attributes writes when the caller sends no X-Actor header.
const defaultActor = "api"

// Deps are the collaborators the handler serves. All fields are required.
type Deps struct {
	Engine    *service.Engine
	Verifier  *service.Verifier
	Policies  *service.PolicyService
	Kill      *service.KillSwitch
	Fees      *service.FeeLedger
	Escalator *service.Escalator
	Bus       *service.Bus
	Actions   audit.ActionStore
	Firewall  *firewall.Firewall
}

// Handler serves the engine's JSON API.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// NewHandler validates the dependency set and builds the handler.
func NewHandler(deps Deps, logger *slog.Logger, opts ...HandlerOption) (*Handler, error) {
	switch {
	case deps.Engine == nil:
		return nil, fmt.Errorf("httpapi: engine is required")
	case deps.Verifier == nil:
		return nil, fmt.Errorf("httpapi: verifier is required")
	case deps.Policies == nil:
		return nil, fmt.Errorf("httpapi: policy service is required")
	case deps.Kill == nil:
		return nil, fmt.Errorf("httpapi: kill switch is required")
	case deps.Fees == nil:
		return nil, fmt.Errorf("httpapi: fee ledger is required")
	case deps.Escalator == nil:
		return nil, fmt.Errorf("httpapi: escalator is required")
	case deps.Bus == nil:
		return nil, fmt.Errorf("httpapi: event bus is required")
	case deps.Actions == nil:
		return nil, fmt.Errorf("httpapi: action store is required")
	case deps.Firewall == nil:
		return nil, fmt.Errorf("httpapi: firewall is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{deps: deps, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes returns the API routes. Health and metrics endpoints are
// registered by the server, not here.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Evaluation surface.
	mux.HandleFunc("POST /v1/evaluate", h.handleEvaluate)
	mux.HandleFunc("POST /v1/verify", h.handleVerify)

	// Policy administration.
	mux.HandleFunc("GET /v1/policies", h.handleListPolicies)
	mux.HandleFunc("POST /v1/policies", h.handleCreatePolicy)
	mux.HandleFunc("GET /v1/policies/{id}", h.handleGetPolicy)
	mux.HandleFunc("PATCH /v1/policies/{id}", h.handlePatchPolicy)
	mux.HandleFunc("DELETE /v1/policies/{id}", h.handleDeletePolicy)
	mux.HandleFunc("POST /v1/policies/{id}/toggle", h.handleTogglePolicy)
	mux.HandleFunc("GET /v1/policies/{id}/versions", h.handlePolicyVersions)
	mux.HandleFunc("POST /v1/policies/{id}/restore", h.handleRestorePolicy)

	// Firewall pattern audit surface.
	mux.HandleFunc("GET /v1/firewall/patterns", h.handleFirewallPatterns)

	// Kill switch.
	mux.HandleFunc("GET /v1/kill", h.handleKillStatus)
	mux.HandleFunc("POST /v1/kill/engage", h.handleKillEngage)
	mux.HandleFunc("POST /v1/kill/release", h.handleKillRelease)

	// Wallets.
	mux.HandleFunc("GET /v1/wallets/{agent_id}", h.handleGetWallet)
	mux.HandleFunc("POST /v1/wallets/{agent_id}/topup", h.handleTopUpWallet)

	// Escalations.
	mux.HandleFunc("GET /v1/escalations", h.handleListEscalations)
	mux.HandleFunc("POST /v1/escalations/{id}/approve", h.handleApproveEscalation)
	mux.HandleFunc("POST /v1/escalations/{id}/reject", h.handleRejectEscalation)

	// Audit read surface.
	mux.HandleFunc("GET /v1/actions", h.handleListActions)
	mux.HandleFunc("GET /v1/actions/{id}", h.handleGetAction)
	mux.HandleFunc("GET /v1/actions/{id}/verifications", h.handleActionVerifications)
	mux.HandleFunc("GET /v1/verifications/{id}", h.handleGetVerification)
	mux.HandleFunc("GET /v1/stats", h.handleStats)

	// Event stream.
	mux.HandleFunc("GET /v1/events", h.handleEvents)

	return mux
}

// --- JSON helpers ---

// respondJSON writes a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error body with the given status code.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into v, bounded by maxBodyBytes.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// pathParam extracts a named path parameter from the request URL.
func (h *Handler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// errInvalidFilter reports an unusable query parameter.
func errInvalidFilter(name, value string) error {
	return fmt.Errorf("invalid %s filter: %q", name, value)
}

// actor returns the caller identity for audit attribution. Authorization
// is external to the engine; the header arrives pre-validated.
func (h *Handler) actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return defaultActor
}

// respondServiceError maps domain errors onto the HTTP status space.
// Unrecognized errors are logged and reported as a generic 500; their
// text never reaches the caller.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, action.ErrInvalidRequest),
		errors.Is(err, policy.ErrInvalidPolicy),
		errors.Is(err, wallet.ErrInvalidAmount):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, policy.ErrNotFound),
		errors.Is(err, audit.ErrActionNotFound),
		errors.Is(err, verify.ErrNotFound),
		errors.Is(err, escalation.ErrNotFound),
		errors.Is(err, wallet.ErrWalletNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, policy.ErrDuplicateID),
		errors.Is(err, escalation.ErrAlreadyResolved):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrBasePolicy):
		h.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		h.respondError(w, http.StatusGatewayTimeout, "deadline exceeded")
	default:
		LoggerFromContext(r.Context(), h.logger).Error(fallback, "error", err)
		h.respondError(w, http.StatusInternalServerError, fallback)
	}
}
