package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Verdict-Labs/verdict/internal/domain/audit"
	"github.com/Verdict-Labs/verdict/internal/domain/verify"
)

// ReceiptStore is the sqlite-backed receipt log, one receipt per action.
type ReceiptStore struct {
	db *sql.DB
}

// NewReceiptStore creates a receipt store over an opened database.
func NewReceiptStore(db *sql.DB) *ReceiptStore {
	return &ReceiptStore{db: db}
}

// PutReceipt stores the receipt for its action. The id column is assigned on
// first insert and survives a rewrite of the same action's receipt.
func (s *ReceiptStore) PutReceipt(ctx context.Context, r audit.Receipt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (action_id, hash, fee_tier, fee_milli, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
			hash = excluded.hash, fee_tier = excluded.fee_tier,
			fee_milli = excluded.fee_milli, created_at = excluded.created_at`,
		r.ActionID, r.Hash, r.FeeTier, r.FeeMilli, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// ReceiptByAction returns the receipt written for an action.
func (s *ReceiptStore) ReceiptByAction(ctx context.Context, actionID int64) (audit.Receipt, error) {
	var (
		r  audit.Receipt
		ts string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, action_id, hash, fee_tier, fee_milli, created_at FROM receipts WHERE action_id = ?`,
		actionID,
	).Scan(&r.ID, &r.ActionID, &r.Hash, &r.FeeTier, &r.FeeMilli, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Receipt{}, audit.ErrReceiptNotFound
	}
	if err != nil {
		return audit.Receipt{}, err
	}
	r.CreatedAt = parseTime(ts)
	return r, nil
}

// VerificationStore is the sqlite-backed verification log.
type VerificationStore struct {
	db *sql.DB
}

// NewVerificationStore creates a verification store over an opened database.
func NewVerificationStore(db *sql.DB) *VerificationStore {
	return &VerificationStore{db: db}
}

// AppendVerification persists the log and returns its assigned id.
func (s *VerificationStore) AppendVerification(ctx context.Context, v verify.Log) (int64, error) {
	checks, err := jsonText(v.Checks)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO verifications (action_id, tool, verdict, checks, risk_delta, drift_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ActionID, v.Tool, string(v.Verdict), checks, v.RiskDelta, v.DriftScore, formatTime(v.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert verification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("verification id: %w", err)
	}
	return id, nil
}

// GetVerification returns one log by id.
func (s *VerificationStore) GetVerification(ctx context.Context, id int64) (verify.Log, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, action_id, tool, verdict, checks, risk_delta, drift_score, created_at
		FROM verifications WHERE id = ?`, id)
	v, err := scanVerification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return verify.Log{}, verify.ErrNotFound
	}
	return v, err
}

// VerificationsByAction returns all logs for an action, oldest first.
func (s *VerificationStore) VerificationsByAction(ctx context.Context, actionID int64) ([]verify.Log, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action_id, tool, verdict, checks, risk_delta, drift_score, created_at
		FROM verifications WHERE action_id = ? ORDER BY id ASC`, actionID)
	if err != nil {
		return nil, fmt.Errorf("verifications by action: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []verify.Log
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVerification(row rowScanner) (verify.Log, error) {
	var (
		v                   verify.Log
		verdict, checks, ts string
	)
	err := row.Scan(&v.ID, &v.ActionID, &v.Tool, &verdict, &checks, &v.RiskDelta, &v.DriftScore, &ts)
	if err != nil {
		return verify.Log{}, err
	}
	v.Verdict = verify.Verdict(verdict)
	v.CreatedAt = parseTime(ts)
	if err := fromJSON(checks, &v.Checks); err != nil {
		return verify.Log{}, fmt.Errorf("decode checks: %w", err)
	}
	return v, nil
}

// StateStore is the sqlite-backed governor-state table.
type StateStore struct {
	db *sql.DB
}

// NewStateStore creates a state store over an opened database.
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// GetState returns the row for key.
func (s *StateStore) GetState(ctx context.Context, key string) (audit.GovernorState, error) {
	var (
		row audit.GovernorState
		ts  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM governor_state WHERE key = ?`, key,
	).Scan(&row.Key, &row.Value, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.GovernorState{}, audit.ErrStateNotFound
	}
	if err != nil {
		return audit.GovernorState{}, err
	}
	row.UpdatedAt = parseTime(ts)
	return row, nil
}

// PutState inserts or replaces the row.
func (s *StateStore) PutState(ctx context.Context, row audit.GovernorState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO governor_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value, updated_at = excluded.updated_at`,
		row.Key, row.Value, formatTime(row.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put state %s: %w", row.Key, err)
	}
	return nil
}

var (
	_ audit.ReceiptStore      = (*ReceiptStore)(nil)
	_ audit.VerificationStore = (*VerificationStore)(nil)
	_ audit.StateStore        = (*StateStore)(nil)
)
