package policy

import "context"

// Store is the persistence port for dynamic policies and their version
// history. Base policies never pass through it; they are parsed from the
// base file at startup and merged in by the policy service.
type Store interface {
	// ListPolicies returns every dynamic policy, unordered.
	ListPolicies(ctx context.Context) ([]Policy, error)
	// GetPolicy returns the dynamic policy with the given id.
	// Returns ErrNotFound when absent.
	GetPolicy(ctx context.Context, id string) (Policy, error)
	// PutPolicy inserts or replaces a dynamic policy.
	PutPolicy(ctx context.Context, p Policy) error
	// DeletePolicy removes a dynamic policy. Returns ErrNotFound when absent.
	DeletePolicy(ctx context.Context, id string) error
	// AppendPolicyVersion appends one immutable version record.
	AppendPolicyVersion(ctx context.Context, v PolicyVersion) error
	// ListPolicyVersions returns the version history for a policy id in
	// ascending version order. An empty history is not an error.
	ListPolicyVersions(ctx context.Context, id string) ([]PolicyVersion, error)
}
