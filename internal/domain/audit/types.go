// Package audit defines the engine's persisted record surface: the
// append-only action log, attestation receipts, verification logs, and
// the governor-state rows that survive restarts. Store interfaces are
// owned by the domain; adapters implement them.
package audit

import (
	"errors"
	"strings"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

// Sentinel errors for audit store operations.
var (
	ErrActionNotFound  = errors.New("action not found")
	ErrReceiptNotFound = errors.New("receipt not found")
	ErrStateNotFound   = errors.New("state not found")
)

// Receipt is the attestation record written immediately after an action.
// Receipts are advisory: a failed receipt write never rolls back the
// action it attests.
type Receipt struct {
	// ID is assigned by the store, monotonic per store.
	ID       int64 `json:"id"`
	ActionID int64 `json:"action_id"`
	// Hash is the hex SHA-256 over the pipe-joined receipt payload.
	Hash string `json:"hash"`
	// FeeTier is the fee tier label the action's final risk fell into.
	FeeTier string `json:"fee_tier"`
	// FeeMilli is the fee assessed for the action, in thousandths.
	FeeMilli  int64     `json:"fee_milli"`
	CreatedAt time.Time `json:"created_at"`
}

// GovernorState is one persisted engine-state row (kill switch and
// similar singletons). Values are small JSON documents.
type GovernorState struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// ActionFilter selects actions for the read surface. Zero fields match
// everything; Cursor pages newest-first by action id.
type ActionFilter struct {
	Start     time.Time
	End       time.Time
	AgentID   string
	SessionID string
	Tool      string
	Decision  action.Decision
	// Limit caps the page size; DefaultPageLimit applies when 0.
	Limit int
	// Cursor is the exclusive upper action id of the page; 0 starts at
	// the newest action.
	Cursor int64
}

// Page limits for the action read surface.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// PageLimit returns the effective page size for the filter.
func (f ActionFilter) PageLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultPageLimit
	case f.Limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return f.Limit
	}
}

// Match reports whether an action satisfies the filter's field
// constraints (time range, ids, tool, decision). Paging fields are not
// consulted.
func (f ActionFilter) Match(a action.Action) bool {
	if !f.Start.IsZero() && a.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && a.Timestamp.After(f.End) {
		return false
	}
	if f.AgentID != "" && a.AgentID != f.AgentID {
		return false
	}
	if f.SessionID != "" && a.SessionID != f.SessionID {
		return false
	}
	if f.Tool != "" && a.Tool != f.Tool {
		return false
	}
	if f.Decision != "" && a.Decision != f.Decision {
		return false
	}
	return true
}

// ToolStats is the per-tool aggregation of the stats surface.
type ToolStats struct {
	Calls   int64 `json:"calls"`
	Allowed int64 `json:"allowed"`
	Review  int64 `json:"review"`
	Blocked int64 `json:"blocked"`
}

// Stats aggregates the action log over a time range.
type Stats struct {
	Total          int64                `json:"total"`
	UniqueAgents   int64                `json:"unique_agents"`
	UniqueSessions int64                `json:"unique_sessions"`
	ByTool         map[string]ToolStats `json:"by_tool"`
	ByDecision     map[string]int64     `json:"by_decision"`
	MeanRisk       float64              `json:"mean_risk"`
}

// sensitiveKeywords lists substrings that mark an argument key as
// sensitive. Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// Redacted replaces the values of sensitive keys on the read surface.
const Redacted = "***REDACTED***"

// RedactArgs returns a copy of the argument tree with values of
// sensitive keys masked. The stored action is never modified; redaction
// applies only when actions leave the engine over a read API.
func RedactArgs(v action.Value) action.Value {
	switch v.Kind {
	case action.KindMap:
		fields := make([]action.Field, len(v.Map))
		for i, f := range v.Map {
			if isSensitiveKey(f.Key) {
				fields[i] = action.F(f.Key, action.String(Redacted))
			} else {
				fields[i] = action.F(f.Key, RedactArgs(f.Value))
			}
		}
		return action.MapOf(fields...)
	case action.KindList:
		items := make([]action.Value, len(v.List))
		for i, item := range v.List {
			items[i] = RedactArgs(item)
		}
		return action.ListOf(items...)
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
