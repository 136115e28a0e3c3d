package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Verdict-Labs/verdict/internal/adapter/outbound/memory"
	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/policy"
)

// failingPolicyStore wraps the memory store and fails list calls on
// demand, for cache fallback tests.
type failingPolicyStore struct {
	*memory.PolicyStore
	fail bool
}

func (f *failingPolicyStore) ListPolicies(ctx context.Context) ([]policy.Policy, error) {
	if f.fail {
		return nil, errStoreDown
	}
	return f.PolicyStore.ListPolicies(ctx)
}

func newPolicyService(t *testing.T, opts ...PolicyServiceOption) *PolicyService {
	t.Helper()
	opts = append([]PolicyServiceOption{WithPolicyTTL(0)}, opts...)
	s, err := NewPolicyService(context.Background(), memory.NewPolicyStore(), nil, testLogger(), opts...)
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	return s
}

func TestPolicyServiceCreateGetDelete(t *testing.T) {
	s := newPolicyService(t)
	ctx := context.Background()

	created, err := s.Create(ctx, policy.Spec{
		Description: "no deploys",
		ToolPattern: "deploy",
		Severity:    policy.SeverityHigh,
		Action:      action.DecisionBlock,
	}, "tester")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" || created.Version != 1 || !created.Active {
		t.Errorf("created = %+v", created)
	}
	if created.Origin != policy.OriginDynamic {
		t.Errorf("origin = %q, want dynamic", created.Origin)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil || got.ToolPattern != "deploy" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	if err := s.Delete(ctx, created.ID, "tester"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, created.ID); !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestPolicyServiceCreateValidates(t *testing.T) {
	s := newPolicyService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec policy.Spec
	}{
		{"empty tool pattern", policy.Spec{Severity: policy.SeverityLow, Action: action.DecisionAllow}},
		{"bad severity", policy.Spec{ToolPattern: "*", Severity: "extreme", Action: action.DecisionAllow}},
		{"bad action", policy.Spec{ToolPattern: "*", Severity: policy.SeverityLow, Action: "maybe"}},
		{"bad args regex", policy.Spec{ToolPattern: "*", Severity: policy.SeverityLow, Action: action.DecisionAllow, ArgsRegex: "("}},
		{"bad url regex", policy.Spec{ToolPattern: "*", Severity: policy.SeverityLow, Action: action.DecisionAllow, URLRegex: "["}},
		{"condition without compiler", policy.Spec{ToolPattern: "*", Severity: policy.SeverityLow, Action: action.DecisionAllow, Condition: "tool == 'x'"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Create(ctx, tt.spec, "tester"); !errors.Is(err, policy.ErrInvalidPolicy) {
				t.Errorf("Create error = %v, want ErrInvalidPolicy", err)
			}
		})
	}

	if _, err := s.Create(ctx, policy.Spec{ID: "dup", ToolPattern: "*", Severity: policy.SeverityLow, Action: action.DecisionAllow}, "t"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, policy.Spec{ID: "dup", ToolPattern: "*", Severity: policy.SeverityLow, Action: action.DecisionAllow}, "t"); !errors.Is(err, policy.ErrDuplicateID) {
		t.Errorf("duplicate create error = %v, want ErrDuplicateID", err)
	}
}

func TestPolicyServiceVersionsStrictlyIncrease(t *testing.T) {
	s := newPolicyService(t)
	ctx := context.Background()

	created, err := s.Create(ctx, policy.Spec{ID: "v-test", ToolPattern: "*", Severity: policy.SeverityLow, Action: action.DecisionAllow}, "t")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	desc := "updated"
	patched, err := s.Patch(ctx, created.ID, policy.Patch{Description: &desc}, "t")
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if patched.Version != 2 {
		t.Errorf("patched version = %d, want 2", patched.Version)
	}

	toggled, err := s.Toggle(ctx, created.ID, "t")
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if toggled.Active || toggled.Version != 3 {
		t.Errorf("toggled = active %t version %d", toggled.Active, toggled.Version)
	}

	vers, err := s.Versions(ctx, created.ID)
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(vers) != 3 {
		t.Fatalf("versions len = %d, want 3", len(vers))
	}
	for i, v := range vers {
		if v.Version != i+1 {
			t.Errorf("version[%d] = %d, want %d", i, v.Version, i+1)
		}
	}
	if vers[0].DiffBefore != "" || vers[0].DiffAfter == "" {
		t.Error("create version diffs malformed")
	}
	if vers[1].DiffBefore == "" || !strings.Contains(vers[1].DiffAfter, "updated") {
		t.Error("patch version diffs malformed")
	}

	// Restore appends a fourth version rather than rewriting history.
	restored, err := s.Restore(ctx, created.ID, 1, "t")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Version != 4 || restored.Description != "" || !restored.Active {
		t.Errorf("restored = %+v", restored)
	}
	if vers, _ = s.Versions(ctx, created.ID); len(vers) != 4 {
		t.Errorf("versions after restore = %d, want 4", len(vers))
	}
}

func TestPolicyServiceBaseProtection(t *testing.T) {
	s := newPolicyService(t)
	ctx := context.Background()

	if err := s.Delete(ctx, "shell-dangerous", "t"); !errors.Is(err, ErrBasePolicy) {
		t.Errorf("base delete error = %v, want ErrBasePolicy", err)
	}

	// Patching a base policy creates a dynamic override that wins the merge.
	toggled, err := s.Toggle(ctx, "shell-dangerous", "t")
	if err != nil {
		t.Fatalf("Toggle base: %v", err)
	}
	if toggled.Active || toggled.Origin != policy.OriginDynamic || toggled.Version != 2 {
		t.Errorf("base override = %+v", toggled)
	}
	merged, err := s.List(ctx, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, p := range merged {
		if p.ID == "shell-dangerous" {
			found = true
			if p.Active {
				t.Error("merged view kept the base entry over the override")
			}
		}
	}
	if !found {
		t.Error("shell-dangerous missing from merged view")
	}
}

func TestPolicyServiceSnapshotInvalidation(t *testing.T) {
	store := memory.NewPolicyStore()
	// Long TTL: only explicit invalidation can refresh within the test.
	s, err := NewPolicyService(context.Background(), store, nil, testLogger(), WithPolicyTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	ctx := context.Background()

	snap, degraded, err := s.Snapshot(ctx)
	if err != nil || degraded {
		t.Fatalf("Snapshot = degraded %t, %v", degraded, err)
	}
	before := snap.Fingerprint

	if _, err := s.Create(ctx, policy.Spec{ID: "hot", ToolPattern: "deploy", Severity: policy.SeverityHigh, Action: action.DecisionBlock}, "t"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	snap, _, err = s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot after write: %v", err)
	}
	if snap.Fingerprint == before {
		t.Error("write did not invalidate the snapshot")
	}
	m := snap.Match(policy.MatchInput{Tool: "deploy"})
	if m.Decision != action.DecisionBlock || m.BlockRisk != policy.SeverityHigh.BlockRisk() {
		t.Errorf("fresh policy not matched: %+v", m)
	}

	// A write that bypasses the service stays invisible until Invalidate.
	outOfBand := policy.Policy{
		ID:          "side-door",
		ToolPattern: "migrate",
		Severity:    policy.SeverityMedium,
		Action:      action.DecisionReview,
		Active:      true,
		Origin:      policy.OriginDynamic,
		Version:     1,
	}
	if err := store.PutPolicy(ctx, outOfBand); err != nil {
		t.Fatalf("PutPolicy: %v", err)
	}
	snap, _, _ = s.Snapshot(ctx)
	if m := snap.Match(policy.MatchInput{Tool: "migrate"}); len(m.IDs) != 0 {
		t.Errorf("out-of-band policy visible before Invalidate: %+v", m)
	}
	if err := s.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	snap, _, _ = s.Snapshot(ctx)
	if m := snap.Match(policy.MatchInput{Tool: "migrate"}); m.Decision != action.DecisionReview {
		t.Errorf("out-of-band policy not matched after Invalidate: %+v", m)
	}
}

func TestPolicyServiceStaleFallback(t *testing.T) {
	store := &failingPolicyStore{PolicyStore: memory.NewPolicyStore()}
	s, err := NewPolicyService(context.Background(), store, nil, testLogger(), WithPolicyTTL(0))
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	ctx := context.Background()

	snap, degraded, err := s.Snapshot(ctx)
	if err != nil || degraded {
		t.Fatalf("healthy snapshot = degraded %t, %v", degraded, err)
	}
	healthy := snap.Fingerprint

	store.fail = true
	snap, degraded, err = s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot with dead store: %v", err)
	}
	if !degraded {
		t.Error("degraded flag not set on stale fallback")
	}
	if snap.Fingerprint != healthy {
		t.Error("stale fallback served a different snapshot")
	}

	store.fail = false
	if _, degraded, _ = s.Snapshot(ctx); degraded {
		t.Error("snapshot still degraded after store recovery")
	}
}

func TestPolicyServiceMatchBlockIDs(t *testing.T) {
	s := newPolicyService(t)

	ids, err := s.MatchBlockIDs(context.Background(), "shell", "command rm -rf /tmp/scratch")
	if err != nil {
		t.Fatalf("MatchBlockIDs: %v", err)
	}
	found := false
	for _, id := range ids {
		if id == "shell-dangerous" {
			found = true
		}
	}
	if !found {
		t.Errorf("MatchBlockIDs = %v, want shell-dangerous", ids)
	}

	if ids, _ := s.MatchBlockIDs(context.Background(), "shell", "ls -la"); len(ids) != 0 {
		t.Errorf("benign command matched %v", ids)
	}
}
