package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Verdict-Labs/verdict/internal/domain/policy"
)

// PolicyStore is the sqlite-backed dynamic policy source. Policies are
// stored as whole JSON documents keyed by id; reads are list-all and
// get-by-id, so exploding fields into columns buys nothing.
type PolicyStore struct {
	db *sql.DB
}

// NewPolicyStore creates a policy store over an opened database.
func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// ListPolicies returns every dynamic policy, unordered.
func (s *PolicyStore) ListPolicies(ctx context.Context) ([]policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM policies`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []policy.Policy
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p policy.Policy
		if err := fromJSON(doc, &p); err != nil {
			return nil, fmt.Errorf("decode policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPolicy returns the dynamic policy with the given id.
func (s *PolicyStore) GetPolicy(ctx context.Context, id string) (policy.Policy, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM policies WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Policy{}, policy.ErrNotFound
	}
	if err != nil {
		return policy.Policy{}, err
	}
	var p policy.Policy
	if err := fromJSON(doc, &p); err != nil {
		return policy.Policy{}, fmt.Errorf("decode policy %s: %w", id, err)
	}
	return p, nil
}

// PutPolicy inserts or replaces a dynamic policy.
func (s *PolicyStore) PutPolicy(ctx context.Context, p policy.Policy) error {
	doc, err := jsonText(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (id, doc, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc = excluded.doc, updated_at = excluded.updated_at`,
		p.ID, doc, formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put policy %s: %w", p.ID, err)
	}
	return nil
}

// DeletePolicy removes a dynamic policy. Version history stays.
func (s *PolicyStore) DeletePolicy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete policy %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return policy.ErrNotFound
	}
	return nil
}

// AppendPolicyVersion appends one immutable version record.
func (s *PolicyStore) AppendPolicyVersion(ctx context.Context, v policy.PolicyVersion) error {
	doc, err := jsonText(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policy_versions (policy_id, version, doc, created_at)
		VALUES (?, ?, ?, ?)`,
		v.PolicyID, v.Version, doc, formatTime(v.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert policy version %s/%d: %w", v.PolicyID, v.Version, err)
	}
	return nil
}

// ListPolicyVersions returns the version history for a policy id in
// ascending version order.
func (s *PolicyStore) ListPolicyVersions(ctx context.Context, id string) ([]policy.PolicyVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM policy_versions WHERE policy_id = ? ORDER BY version ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list policy versions %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var out []policy.PolicyVersion
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var v policy.PolicyVersion
		if err := fromJSON(doc, &v); err != nil {
			return nil, fmt.Errorf("decode policy version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

var _ policy.Store = (*PolicyStore)(nil)
