package verdict

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Policies lists governance policies. With activeOnly, deactivated
// policies are filtered out.
func (c *Client) Policies(ctx context.Context, activeOnly bool) ([]Policy, error) {
	path := "/v1/policies"
	if activeOnly {
		path += "?active_only=true"
	}
	var policies []Policy
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// Policy returns one policy by id.
func (c *Client) Policy(ctx context.Context, id string) (*Policy, error) {
	var p Policy
	if err := c.doRequest(ctx, http.MethodGet, "/v1/policies/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePolicy registers a new dynamic policy. The spec is compiled
// server-side before it is accepted; a bad pattern or condition returns
// ErrInvalidRequest.
func (c *Client) CreatePolicy(ctx context.Context, spec PolicySpec) (*Policy, error) {
	var p Policy
	if err := c.doRequest(ctx, http.MethodPost, "/v1/policies", spec, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PatchPolicy updates a policy's fields. Nil patch fields are left
// unchanged. Each successful patch bumps the policy version.
func (c *Client) PatchPolicy(ctx context.Context, id string, patch PolicyPatch) (*Policy, error) {
	var p Policy
	if err := c.doRequest(ctx, http.MethodPatch, "/v1/policies/"+url.PathEscape(id), patch, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePolicy removes a dynamic policy. Base policies cannot be
// deleted, only deactivated; deleting one returns ErrForbidden.
func (c *Client) DeletePolicy(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/v1/policies/"+url.PathEscape(id), nil, nil)
}

// TogglePolicy flips a policy's active flag and returns the new state.
func (c *Client) TogglePolicy(ctx context.Context, id string) (*Policy, error) {
	var p Policy
	if err := c.doRequest(ctx, http.MethodPost, "/v1/policies/"+url.PathEscape(id)+"/toggle", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PolicyVersions returns a policy's change history, oldest first.
func (c *Client) PolicyVersions(ctx context.Context, id string) ([]PolicyVersion, error) {
	var versions []PolicyVersion
	if err := c.doRequest(ctx, http.MethodGet, "/v1/policies/"+url.PathEscape(id)+"/versions", nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// RestorePolicy reinstates a historical snapshot as a new version.
func (c *Client) RestorePolicy(ctx context.Context, id string, version int) (*Policy, error) {
	body := struct {
		Version int `json:"version"`
	}{Version: version}
	var p Policy
	if err := c.doRequest(ctx, http.MethodPost, "/v1/policies/"+url.PathEscape(id)+"/restore", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FirewallPatterns returns the compiled injection detection patterns,
// for audit.
func (c *Client) FirewallPatterns(ctx context.Context) ([]FirewallPattern, error) {
	var patterns []FirewallPattern
	if err := c.doRequest(ctx, http.MethodGet, "/v1/firewall/patterns", nil, &patterns); err != nil {
		return nil, err
	}
	return patterns, nil
}

// KillStatus returns the kill switch position.
func (c *Client) KillStatus(ctx context.Context) (*KillState, error) {
	var state KillState
	if err := c.doRequest(ctx, http.MethodGet, "/v1/kill", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// EngageKill halts all evaluation until the switch is released. The
// client's actor is recorded on the flip.
func (c *Client) EngageKill(ctx context.Context) (*KillState, error) {
	var state KillState
	if err := c.doRequest(ctx, http.MethodPost, "/v1/kill/engage", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ReleaseKill resumes evaluation.
func (c *Client) ReleaseKill(ctx context.Context) (*KillState, error) {
	var state KillState
	if err := c.doRequest(ctx, http.MethodPost, "/v1/kill/release", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Wallet returns an agent's fee balance.
func (c *Client) Wallet(ctx context.Context, agentID string) (*Wallet, error) {
	var w Wallet
	if err := c.doRequest(ctx, http.MethodGet, "/v1/wallets/"+url.PathEscape(agentID), nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// TopUpWallet credits an agent's wallet, provisioning it on first
// contact. Amount is a decimal string such as "10" or "2.500".
func (c *Client) TopUpWallet(ctx context.Context, agentID, amount string) (*Wallet, error) {
	body := struct {
		Amount string `json:"amount"`
	}{Amount: amount}
	var w Wallet
	if err := c.doRequest(ctx, http.MethodPost, "/v1/wallets/"+url.PathEscape(agentID)+"/topup", body, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Escalations lists escalation events newest-first.
func (c *Client) Escalations(ctx context.Context, filter EscalationFilter) ([]Escalation, error) {
	q := url.Values{}
	if filter.AgentID != "" {
		q.Set("agent_id", filter.AgentID)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Severity != "" {
		q.Set("severity", filter.Severity)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/v1/escalations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var events []Escalation
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ApproveEscalation resolves a pending escalation as approved.
// Resolving one that is already settled returns ErrConflict.
func (c *Client) ApproveEscalation(ctx context.Context, id int64) (*Escalation, error) {
	var e Escalation
	path := fmt.Sprintf("/v1/escalations/%d/approve", id)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// RejectEscalation resolves a pending escalation as rejected.
func (c *Client) RejectEscalation(ctx context.Context, id int64) (*Escalation, error) {
	var e Escalation
	path := fmt.Sprintf("/v1/escalations/%d/reject", id)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Actions pages through the audit log newest-first. Pass the returned
// NextCursor back via filter.Cursor to fetch the next page.
func (c *Client) Actions(ctx context.Context, filter ActionFilter) (*ActionPage, error) {
	q := url.Values{}
	if filter.AgentID != "" {
		q.Set("agent_id", filter.AgentID)
	}
	if filter.SessionID != "" {
		q.Set("session_id", filter.SessionID)
	}
	if filter.Tool != "" {
		q.Set("tool", filter.Tool)
	}
	if filter.Decision != "" {
		q.Set("decision", string(filter.Decision))
	}
	if !filter.Start.IsZero() {
		q.Set("start", filter.Start.UTC().Format(time.RFC3339))
	}
	if !filter.End.IsZero() {
		q.Set("end", filter.End.UTC().Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Cursor > 0 {
		q.Set("cursor", strconv.FormatInt(filter.Cursor, 10))
	}
	path := "/v1/actions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page ActionPage
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Action returns one audit log entry by id.
func (c *Client) Action(ctx context.Context, id int64) (*Action, error) {
	var a Action
	path := fmt.Sprintf("/v1/actions/%d", id)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ActionVerifications returns the verifications recorded against one
// action.
func (c *Client) ActionVerifications(ctx context.Context, actionID int64) ([]Verification, error) {
	var vs []Verification
	path := fmt.Sprintf("/v1/actions/%d/verifications", actionID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &vs); err != nil {
		return nil, err
	}
	return vs, nil
}

// Verification returns one verification by id.
func (c *Client) Verification(ctx context.Context, id int64) (*Verification, error) {
	var v Verification
	path := fmt.Sprintf("/v1/verifications/%d", id)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Stats aggregates the audit log over an optional time range. Zero
// bounds match everything.
func (c *Client) Stats(ctx context.Context, start, end time.Time) (*Stats, error) {
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start", start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		q.Set("end", end.UTC().Format(time.RFC3339))
	}
	path := "/v1/stats"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var s Stats
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Health reports server liveness and the kill switch position.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.doRequest(ctx, http.MethodGet, "/healthz", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
