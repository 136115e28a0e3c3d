// Package session reconstructs rolling per-agent action histories from
// the persisted audit log. Histories are derived, never stored: the query
// runs before each chain analysis so that persisted action N is the
// happens-before edge for any analysis that observes N.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

// Key scopes a history. SessionID is optional; when empty the history
// spans every session of the agent.
type Key struct {
	AgentID   string
	SessionID string
}

// Window bounds a reconstructed history.
type Window struct {
	// Duration is the wall-clock lookback.
	Duration time.Duration
	// MaxEntries caps the number of actions returned.
	MaxEntries int
}

// DefaultWindow is the standard 60-minute, 50-entry window.
var DefaultWindow = Window{Duration: 60 * time.Minute, MaxEntries: 50}

// History is the ordered (oldest-first) action sequence for one key.
type History struct {
	Key     Key
	Actions []action.Action
}

// Len returns the number of actions in the history.
func (h History) Len() int {
	return len(h.Actions)
}

// Last returns the most recent n actions, oldest-first. When the history
// is shorter than n the whole history is returned.
func (h History) Last(n int) []action.Action {
	if n >= len(h.Actions) {
		return h.Actions
	}
	return h.Actions[len(h.Actions)-n:]
}

// ActionSource is the query port histories are rebuilt from. Adapters
// return actions newest-first, already filtered by key and time.
type ActionSource interface {
	RecentActions(ctx context.Context, agentID, sessionID string, since time.Time, limit int) ([]action.Action, error)
}

// Reconstructor builds histories on demand.
type Reconstructor struct {
	src    ActionSource
	window Window
}

// NewReconstructor builds a Reconstructor over src. A zero window falls
// back to DefaultWindow.
func NewReconstructor(src ActionSource, window Window) *Reconstructor {
	if window.Duration <= 0 {
		window.Duration = DefaultWindow.Duration
	}
	if window.MaxEntries <= 0 {
		window.MaxEntries = DefaultWindow.MaxEntries
	}
	return &Reconstructor{src: src, window: window}
}

// History returns the key's action sequence within the window, ordered
// oldest-first. An empty AgentID yields an empty history without a query.
func (r *Reconstructor) History(ctx context.Context, key Key, now time.Time) (History, error) {
	h := History{Key: key}
	if key.AgentID == "" {
		return h, nil
	}
	since := now.Add(-r.window.Duration)
	recent, err := r.src.RecentActions(ctx, key.AgentID, key.SessionID, since, r.window.MaxEntries)
	if err != nil {
		return h, fmt.Errorf("reconstruct history: %w", err)
	}
	// Adapters return newest-first; analysis wants oldest-first.
	h.Actions = make([]action.Action, len(recent))
	for i, a := range recent {
		h.Actions[len(recent)-1-i] = a
	}
	return h, nil
}
