// Package memory provides in-memory implementations of the outbound
// persistence ports. Used by tests and by deployments that trade
// durability for zero setup; the sqlite adapter is the durable twin.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/audit"
)

// ActionStore is the in-memory append-only action log. IDs are assigned
// monotonically from 1.
type ActionStore struct {
	mu      sync.RWMutex
	actions []action.Action
}

// NewActionStore creates an empty action log.
func NewActionStore() *ActionStore {
	return &ActionStore{}
}

// AppendAction persists the action and returns its assigned id.
func (s *ActionStore) AppendAction(_ context.Context, a action.Action) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = int64(len(s.actions)) + 1
	s.actions = append(s.actions, a)
	return a.ID, nil
}

// GetAction returns one action by id.
func (s *ActionStore) GetAction(_ context.Context, id int64) (action.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 1 || id > int64(len(s.actions)) {
		return action.Action{}, audit.ErrActionNotFound
	}
	return s.actions[id-1], nil
}

// ListActions returns a newest-first page matching the filter and the
// cursor for the next page, 0 when the log is exhausted.
func (s *ActionStore) ListActions(_ context.Context, f audit.ActionFilter) ([]action.Action, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.PageLimit()
	start := int64(len(s.actions))
	if f.Cursor > 0 && f.Cursor-1 < start {
		start = f.Cursor - 1
	}

	page := make([]action.Action, 0, limit)
	var next int64
	for id := start; id >= 1; id-- {
		a := s.actions[id-1]
		if !f.Match(a) {
			continue
		}
		if len(page) == limit {
			next = page[len(page)-1].ID
			break
		}
		page = append(page, a)
	}
	return page, next, nil
}

// RecentActions returns the agent's newest actions first, bounded by
// since and limit. An empty sessionID matches every session.
func (s *ActionStore) RecentActions(_ context.Context, agentID, sessionID string, since time.Time, limit int) ([]action.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []action.Action
	for i := len(s.actions) - 1; i >= 0 && len(out) < limit; i-- {
		a := s.actions[i]
		if a.AgentID != agentID {
			continue
		}
		if sessionID != "" && a.SessionID != sessionID {
			continue
		}
		if !since.IsZero() && !a.Timestamp.After(since) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Stats aggregates the log over [start, end]; zero bounds are open.
func (s *ActionStore) Stats(_ context.Context, start, end time.Time) (audit.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := audit.Stats{
		ByTool:     make(map[string]audit.ToolStats),
		ByDecision: make(map[string]int64),
	}
	agents := make(map[string]struct{})
	sessions := make(map[string]struct{})
	var riskSum int64

	for _, a := range s.actions {
		if !start.IsZero() && a.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && a.Timestamp.After(end) {
			continue
		}
		stats.Total++
		riskSum += int64(a.Risk)
		if a.AgentID != "" {
			agents[a.AgentID] = struct{}{}
		}
		if a.SessionID != "" {
			sessions[a.SessionID] = struct{}{}
		}
		ts := stats.ByTool[a.Tool]
		ts.Calls++
		switch a.Decision {
		case action.DecisionAllow:
			ts.Allowed++
		case action.DecisionReview:
			ts.Review++
		case action.DecisionBlock:
			ts.Blocked++
		}
		stats.ByTool[a.Tool] = ts
		stats.ByDecision[a.Decision.String()]++
	}
	stats.UniqueAgents = int64(len(agents))
	stats.UniqueSessions = int64(len(sessions))
	if stats.Total > 0 {
		stats.MeanRisk = float64(riskSum) / float64(stats.Total)
	}
	return stats, nil
}

var _ audit.ActionStore = (*ActionStore)(nil)
