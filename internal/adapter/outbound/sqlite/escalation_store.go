package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/escalation"
)

const escalationColumns = `id, agent_id, action_id, severity, reason, status, auto_kill,
	created_at, expires_at, resolved_at, resolved_by`

// EscalationStore is the sqlite-backed escalation table.
type EscalationStore struct {
	db *sql.DB
}

// NewEscalationStore creates an escalation store over an opened database.
func NewEscalationStore(db *sql.DB) *EscalationStore {
	return &EscalationStore{db: db}
}

// AppendEscalation persists the event and returns its assigned id.
func (s *EscalationStore) AppendEscalation(ctx context.Context, e escalation.Event) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO escalations (agent_id, action_id, severity, reason, status, auto_kill,
			created_at, expires_at, resolved_at, resolved_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AgentID, e.ActionID, string(e.Severity), e.Reason, string(e.Status), e.AutoKill,
		formatTime(e.CreatedAt), formatTime(e.ExpiresAt), formatTime(e.ResolvedAt), e.ResolvedBy,
	)
	if err != nil {
		return 0, fmt.Errorf("insert escalation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("escalation id: %w", err)
	}
	return id, nil
}

// GetEscalation returns one event by id.
func (s *EscalationStore) GetEscalation(ctx context.Context, id int64) (escalation.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+escalationColumns+` FROM escalations WHERE id = ?`, id)
	e, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return escalation.Event{}, escalation.ErrNotFound
	}
	return e, err
}

// ListEscalations returns newest-first events matching the filter.
func (s *EscalationStore) ListEscalations(ctx context.Context, f escalation.Filter) ([]escalation.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}

	q := `SELECT ` + escalationColumns + ` FROM escalations`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []escalation.Event
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateEscalation replaces the stored event after a transition.
func (s *EscalationStore) UpdateEscalation(ctx context.Context, e escalation.Event) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalations SET agent_id = ?, action_id = ?, severity = ?, reason = ?,
			status = ?, auto_kill = ?, created_at = ?, expires_at = ?, resolved_at = ?,
			resolved_by = ?
		WHERE id = ?`,
		e.AgentID, e.ActionID, string(e.Severity), e.Reason, string(e.Status), e.AutoKill,
		formatTime(e.CreatedAt), formatTime(e.ExpiresAt), formatTime(e.ResolvedAt),
		e.ResolvedBy, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update escalation %d: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return escalation.ErrNotFound
	}
	return nil
}

// ExpirePending marks pending events whose deadline passed as expired.
func (s *EscalationStore) ExpirePending(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalations SET status = ?
		WHERE status = ? AND expires_at < ?`,
		string(escalation.StatusExpired), string(escalation.StatusPending), formatTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("expire escalations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanEscalation(row rowScanner) (escalation.Event, error) {
	var (
		e                                escalation.Event
		severity, status                 string
		createdAt, expiresAt, resolvedAt string
	)
	err := row.Scan(&e.ID, &e.AgentID, &e.ActionID, &severity, &e.Reason, &status,
		&e.AutoKill, &createdAt, &expiresAt, &resolvedAt, &e.ResolvedBy)
	if err != nil {
		return escalation.Event{}, err
	}
	e.Severity = escalation.Severity(severity)
	e.Status = escalation.Status(status)
	e.CreatedAt = parseTime(createdAt)
	e.ExpiresAt = parseTime(expiresAt)
	e.ResolvedAt = parseTime(resolvedAt)
	return e, nil
}

var _ escalation.Store = (*EscalationStore)(nil)
