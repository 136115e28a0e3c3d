package memory

import (
	"context"
	"sync"

	"github.com/Verdict-Labs/verdict/internal/domain/policy"
)

// PolicyStore is the in-memory dynamic policy source with its
// append-only version history.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]policy.Policy
	versions map[string][]policy.PolicyVersion
}

// NewPolicyStore creates an empty policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		policies: make(map[string]policy.Policy),
		versions: make(map[string][]policy.PolicyVersion),
	}
}

// ListPolicies returns every dynamic policy, unordered.
func (s *PolicyStore) ListPolicies(_ context.Context) ([]policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]policy.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	return out, nil
}

// GetPolicy returns the dynamic policy with the given id.
func (s *PolicyStore) GetPolicy(_ context.Context, id string) (policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return policy.Policy{}, policy.ErrNotFound
	}
	return p, nil
}

// PutPolicy inserts or replaces a dynamic policy.
func (s *PolicyStore) PutPolicy(_ context.Context, p policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = p
	return nil
}

// DeletePolicy removes a dynamic policy.
func (s *PolicyStore) DeletePolicy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[id]; !ok {
		return policy.ErrNotFound
	}
	delete(s.policies, id)
	return nil
}

// AppendPolicyVersion appends one immutable version record.
func (s *PolicyStore) AppendPolicyVersion(_ context.Context, v policy.PolicyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[v.PolicyID] = append(s.versions[v.PolicyID], v)
	return nil
}

// ListPolicyVersions returns the version history for a policy id in
// ascending version order.
func (s *PolicyStore) ListPolicyVersions(_ context.Context, id string) ([]policy.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.versions[id]
	out := make([]policy.PolicyVersion, len(history))
	copy(out, history)
	return out, nil
}

var _ policy.Store = (*PolicyStore)(nil)
