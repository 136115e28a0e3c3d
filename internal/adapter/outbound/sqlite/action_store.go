package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/audit"
)

const actionColumns = `id, ts, agent_id, session_id, user_id, allowed_tools, tool, args,
	args_flat, decision, risk, policy_ids, chain_pattern, trace, trace_id, span_id,
	conversation_id, fee_milli`

// ActionStore is the sqlite-backed append-only action log.
type ActionStore struct {
	db *sql.DB
}

// NewActionStore creates an action store over an opened database.
func NewActionStore(db *sql.DB) *ActionStore {
	return &ActionStore{db: db}
}

// AppendAction persists the action and returns its assigned id.
func (s *ActionStore) AppendAction(ctx context.Context, a action.Action) (int64, error) {
	tools, err := jsonText(a.AllowedTools)
	if err != nil {
		return 0, err
	}
	args, err := jsonText(a.Args)
	if err != nil {
		return 0, err
	}
	policyIDs, err := jsonText(a.PolicyIDs)
	if err != nil {
		return 0, err
	}
	trace, err := jsonText(a.Trace)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (ts, agent_id, session_id, user_id, allowed_tools, tool, args,
			args_flat, decision, risk, policy_ids, chain_pattern, trace, trace_id, span_id,
			conversation_id, fee_milli)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(a.Timestamp), a.AgentID, a.SessionID, a.UserID, tools, a.Tool, args,
		a.ArgsFlat, a.Decision.String(), a.Risk, policyIDs, a.ChainPattern, trace,
		a.TraceID, a.SpanID, a.ConversationID, a.FeeMilli,
	)
	if err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("action id: %w", err)
	}
	return id, nil
}

// GetAction returns one action by id.
func (s *ActionStore) GetAction(ctx context.Context, id int64) (action.Action, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return action.Action{}, audit.ErrActionNotFound
	}
	return a, err
}

// ListActions returns a newest-first page matching the filter and the
// cursor for the next page, 0 when the log is exhausted.
func (s *ActionStore) ListActions(ctx context.Context, f audit.ActionFilter) ([]action.Action, int64, error) {
	var (
		where []string
		args  []any
	)
	if f.Cursor > 0 {
		where = append(where, "id < ?")
		args = append(args, f.Cursor)
	}
	if !f.Start.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, formatTime(f.Start))
	}
	if !f.End.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, formatTime(f.End))
	}
	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Tool != "" {
		where = append(where, "tool = ?")
		args = append(args, f.Tool)
	}
	if f.Decision != "" {
		where = append(where, "decision = ?")
		args = append(args, f.Decision.String())
	}

	q := `SELECT ` + actionColumns + ` FROM actions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.PageLimit()
	// One row past the page tells us whether a next page exists.
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	page := make([]action.Action, 0, limit)
	var next int64
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, 0, err
		}
		if len(page) == limit {
			next = page[len(page)-1].ID
			break
		}
		page = append(page, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return page, next, nil
}

// RecentActions returns the agent's newest actions first, bounded by
// since and limit. An empty sessionID matches every session.
func (s *ActionStore) RecentActions(ctx context.Context, agentID, sessionID string, since time.Time, limit int) ([]action.Action, error) {
	q := `SELECT ` + actionColumns + ` FROM actions WHERE agent_id = ?`
	args := []any{agentID}
	if sessionID != "" {
		q += " AND session_id = ?"
		args = append(args, sessionID)
	}
	if !since.IsZero() {
		q += " AND ts > ?"
		args = append(args, formatTime(since))
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recent actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []action.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Stats aggregates the log over [start, end]; zero bounds are open.
func (s *ActionStore) Stats(ctx context.Context, start, end time.Time) (audit.Stats, error) {
	q := `SELECT agent_id, session_id, tool, decision, risk FROM actions`
	var (
		where []string
		args  []any
	)
	if !start.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, formatTime(start))
	}
	if !end.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, formatTime(end))
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return audit.Stats{}, fmt.Errorf("action stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := audit.Stats{
		ByTool:     make(map[string]audit.ToolStats),
		ByDecision: make(map[string]int64),
	}
	agents := make(map[string]struct{})
	sessions := make(map[string]struct{})
	var riskSum int64

	for rows.Next() {
		var (
			agentID, sessionID, tool, decision string
			risk                               int
		)
		if err := rows.Scan(&agentID, &sessionID, &tool, &decision, &risk); err != nil {
			return audit.Stats{}, err
		}
		stats.Total++
		riskSum += int64(risk)
		if agentID != "" {
			agents[agentID] = struct{}{}
		}
		if sessionID != "" {
			sessions[sessionID] = struct{}{}
		}
		ts := stats.ByTool[tool]
		ts.Calls++
		switch action.Decision(decision) {
		case action.DecisionAllow:
			ts.Allowed++
		case action.DecisionReview:
			ts.Review++
		case action.DecisionBlock:
			ts.Blocked++
		}
		stats.ByTool[tool] = ts
		stats.ByDecision[decision]++
	}
	if err := rows.Err(); err != nil {
		return audit.Stats{}, err
	}
	stats.UniqueAgents = int64(len(agents))
	stats.UniqueSessions = int64(len(sessions))
	if stats.Total > 0 {
		stats.MeanRisk = float64(riskSum) / float64(stats.Total)
	}
	return stats, nil
}

func scanAction(row rowScanner) (action.Action, error) {
	var (
		a                               action.Action
		ts, tools, args, ids, trace, dc string
	)
	err := row.Scan(&a.ID, &ts, &a.AgentID, &a.SessionID, &a.UserID, &tools, &a.Tool,
		&args, &a.ArgsFlat, &dc, &a.Risk, &ids, &a.ChainPattern, &trace, &a.TraceID,
		&a.SpanID, &a.ConversationID, &a.FeeMilli)
	if err != nil {
		return action.Action{}, err
	}
	a.Timestamp = parseTime(ts)
	a.Decision = action.Decision(dc)
	if err := fromJSON(tools, &a.AllowedTools); err != nil {
		return action.Action{}, fmt.Errorf("decode allowed_tools: %w", err)
	}
	if err := fromJSON(args, &a.Args); err != nil {
		return action.Action{}, fmt.Errorf("decode args: %w", err)
	}
	if err := fromJSON(ids, &a.PolicyIDs); err != nil {
		return action.Action{}, fmt.Errorf("decode policy_ids: %w", err)
	}
	if err := fromJSON(trace, &a.Trace); err != nil {
		return action.Action{}, fmt.Errorf("decode trace: %w", err)
	}
	return a, nil
}

var _ audit.ActionStore = (*ActionStore)(nil)
