package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/policy"
)

// DefaultPolicyTTL is how long a snapshot is served before the dynamic
// source is re-read. Zero disables caching entirely.
const DefaultPolicyTTL = 10 * time.Second

// ErrBasePolicy rejects destructive operations on base-file policies.
var ErrBasePolicy = errors.New("base policies cannot be deleted")

// PolicySnapshot is one immutable merged view of the base and dynamic
// policy sources, compiled for matching. Only active policies are
// included; the read surface lists inactive ones straight from the
// sources.
type PolicySnapshot struct {
	// Policies holds the compiled active policies in merged order: base
	// policies first (dynamic overrides replacing them in place), then
	// dynamic-only policies sorted by creation time.
	Policies []*policy.Compiled
	// Fingerprint identifies the snapshot contents for logs and caching.
	Fingerprint uint64
	LoadedAt    time.Time
}

// SnapshotMatch is the aggregate outcome of matching one request against
// a snapshot.
type SnapshotMatch struct {
	// IDs lists every matching policy in merged order.
	IDs []string
	// Decision is the strictest action among the matches; empty when
	// nothing matched.
	Decision action.Decision
	// BlockRisk is the highest severity risk floor among blocking
	// matches, 0 when none block.
	BlockRisk int
	// Weight is the strongest non-blocking severity contribution.
	Weight int
	// CondErrors counts condition evaluations that failed.
	CondErrors int
}

// Match runs the input against every compiled policy and aggregates the
// outcome. Condition evaluation errors are counted, not fatal: a broken
// condition must not take the pipeline down.
func (s *PolicySnapshot) Match(in policy.MatchInput) SnapshotMatch {
	var m SnapshotMatch
	for _, c := range s.Policies {
		ok, err := c.Matches(in)
		if err != nil {
			m.CondErrors++
			continue
		}
		if !ok {
			continue
		}
		m.IDs = append(m.IDs, c.ID)
		m.Decision = action.Stricter(m.Decision, c.Action)
		if c.Action == action.DecisionBlock {
			if r := c.Severity.BlockRisk(); r > m.BlockRisk {
				m.BlockRisk = r
			}
		} else if w := c.Severity.Weight(); w > m.Weight {
			m.Weight = w
		}
	}
	return m
}

// PolicyService owns the merged policy view: it serves TTL-cached
// compiled snapshots to the pipeline and applies versioned writes to the
// dynamic source. A fresh cache read is a single atomic pointer load;
// writers hold a mutex, persist, and swap the snapshot atomically.
type PolicyService struct {
	store    policy.Store
	compiler policy.ConditionCompiler
	logger   *slog.Logger
	now      Clock
	ttl      time.Duration

	base []policy.Policy // immutable after construction

	snapshot atomic.Value // *PolicySnapshot
	mu       sync.Mutex   // serializes refresh and writes
}

// PolicyServiceOption configures a PolicyService.
type PolicyServiceOption func(*PolicyService)

// WithBasePolicies replaces the built-in base set, usually with the
// parsed contents of the base policy file.
func WithBasePolicies(base []policy.Policy) PolicyServiceOption {
	return func(s *PolicyService) {
		s.base = base
	}
}

// WithPolicyTTL sets the snapshot lifetime. Zero disables caching; every
// read then hits the dynamic source.
func WithPolicyTTL(ttl time.Duration) PolicyServiceOption {
	return func(s *PolicyService) {
		s.ttl = ttl
	}
}

// WithPolicyClock injects the time source.
func WithPolicyClock(now Clock) PolicyServiceOption {
	return func(s *PolicyService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewPolicyService validates and compiles the base set, loads the first
// snapshot, and returns the service. A broken base policy is fatal. A
// store error at boot is not: the service starts on a base-only
// snapshot and heals on the next successful refresh.
func NewPolicyService(ctx context.Context, store policy.Store, compiler policy.ConditionCompiler, logger *slog.Logger, opts ...PolicyServiceOption) (*PolicyService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PolicyService{
		store:    store,
		compiler: compiler,
		logger:   logger,
		now:      time.Now,
		ttl:      DefaultPolicyTTL,
		base:     DefaultBasePolicies(),
	}
	for _, opt := range opts {
		opt(s)
	}

	seen := make(map[string]struct{}, len(s.base))
	for i := range s.base {
		p := &s.base[i]
		p.Origin = policy.OriginBase
		if p.Version == 0 {
			p.Version = 1
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate base policy id %q", policy.ErrInvalidPolicy, p.ID)
		}
		seen[p.ID] = struct{}{}
		if _, err := policy.Compile(*p, s.compiler); err != nil {
			return nil, fmt.Errorf("base policy %q: %w", p.ID, err)
		}
	}

	if err := s.refreshLocked(ctx); err != nil {
		s.logger.Warn("policy store unavailable at startup, serving base policies only", "error", err)
		snap, buildErr := s.build(nil)
		if buildErr != nil {
			return nil, buildErr
		}
		s.snapshot.Store(snap)
	}
	return s, nil
}

// Snapshot returns the current compiled policy view. The degraded flag
// is set when the dynamic source could not be read and a stale or
// base-only snapshot is served instead.
func (s *PolicyService) Snapshot(ctx context.Context) (*PolicySnapshot, bool, error) {
	snap := s.loaded()
	if s.ttl > 0 && snap != nil && s.now().Sub(snap.LoadedAt) < s.ttl {
		return snap, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have refreshed while this one waited.
	if snap = s.loaded(); s.ttl > 0 && snap != nil && s.now().Sub(snap.LoadedAt) < s.ttl {
		return snap, false, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		if snap != nil {
			s.logger.Warn("policy refresh failed, serving stale snapshot",
				"error", err, "age", s.now().Sub(snap.LoadedAt))
			return snap, true, nil
		}
		return nil, false, fmt.Errorf("refresh policies: %w", err)
	}
	return s.loaded(), false, nil
}

// Invalidate rebuilds the snapshot from the store immediately,
// regardless of its age. Writes through this service invalidate on
// their own; this serves callers that changed the store out of band.
func (s *PolicyService) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *PolicyService) loaded() *PolicySnapshot {
	snap, _ := s.snapshot.Load().(*PolicySnapshot)
	return snap
}

// refreshLocked re-reads the dynamic source and swaps the snapshot.
// Caller holds s.mu, or is the constructor before the service escapes.
func (s *PolicyService) refreshLocked(ctx context.Context) error {
	dynamic, err := s.store.ListPolicies(ctx)
	if err != nil {
		return fmt.Errorf("list policies: %w", err)
	}
	snap, err := s.build(dynamic)
	if err != nil {
		return err
	}
	prev := s.loaded()
	s.snapshot.Store(snap)
	if prev == nil || prev.Fingerprint != snap.Fingerprint {
		s.logger.Info("policy snapshot refreshed",
			"policies", len(snap.Policies), "fingerprint", fmt.Sprintf("%016x", snap.Fingerprint))
	}
	return nil
}

// build merges the base set with the dynamic policies and compiles the
// active ones. A stored policy that no longer compiles is skipped with a
// warning rather than failing the whole refresh.
func (s *PolicyService) build(dynamic []policy.Policy) (*PolicySnapshot, error) {
	merged := mergePolicies(s.base, dynamic)

	snap := &PolicySnapshot{LoadedAt: s.now()}
	h := xxhash.New()
	for _, p := range merged {
		h.WriteString(p.ID)
		h.Write([]byte{0})
		h.WriteString(strconv.Itoa(p.Version))
		h.Write([]byte{0})
		h.WriteString(strconv.FormatBool(p.Active))
		h.Write([]byte{0})

		if !p.Active {
			continue
		}
		c, err := policy.Compile(p, s.compiler)
		if err != nil {
			s.logger.Warn("skipping policy that no longer compiles", "policy_id", p.ID, "error", err)
			continue
		}
		snap.Policies = append(snap.Policies, c)
	}
	snap.Fingerprint = h.Sum64()
	return snap, nil
}

// mergePolicies produces the canonical merged order: base order with
// dynamic overrides replacing entries in place, then dynamic-only
// policies by creation time.
func mergePolicies(base, dynamic []policy.Policy) []policy.Policy {
	byID := make(map[string]policy.Policy, len(dynamic))
	for _, d := range dynamic {
		byID[d.ID] = d
	}
	merged := make([]policy.Policy, 0, len(base)+len(dynamic))
	for _, b := range base {
		if d, ok := byID[b.ID]; ok {
			merged = append(merged, d)
			delete(byID, b.ID)
			continue
		}
		merged = append(merged, b)
	}
	rest := make([]policy.Policy, 0, len(byID))
	for _, d := range byID {
		rest = append(rest, d)
	}
	sort.Slice(rest, func(i, j int) bool {
		if !rest[i].CreatedAt.Equal(rest[j].CreatedAt) {
			return rest[i].CreatedAt.Before(rest[j].CreatedAt)
		}
		return rest[i].ID < rest[j].ID
	})
	return append(merged, rest...)
}

// List returns the merged policy view. With activeOnly set, inactive
// policies are filtered out.
func (s *PolicyService) List(ctx context.Context, activeOnly bool) ([]policy.Policy, error) {
	dynamic, err := s.store.ListPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	merged := mergePolicies(s.base, dynamic)
	if !activeOnly {
		return merged, nil
	}
	active := merged[:0]
	for _, p := range merged {
		if p.Active {
			active = append(active, p)
		}
	}
	return active, nil
}

// Get returns one policy by id, dynamic source first.
func (s *PolicyService) Get(ctx context.Context, id string) (policy.Policy, error) {
	p, err := s.store.GetPolicy(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, policy.ErrNotFound) {
		return policy.Policy{}, fmt.Errorf("get policy: %w", err)
	}
	for _, b := range s.base {
		if b.ID == id {
			return b, nil
		}
	}
	return policy.Policy{}, policy.ErrNotFound
}

// Create adds a dynamic policy. An empty spec id gets a random one; a
// spec id equal to a base policy's creates a dynamic override, while a
// collision with an existing dynamic policy is rejected.
func (s *PolicyService) Create(ctx context.Context, spec policy.Spec, actor string) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := s.store.GetPolicy(ctx, id); err == nil {
		return policy.Policy{}, fmt.Errorf("%w: %q", policy.ErrDuplicateID, id)
	} else if !errors.Is(err, policy.ErrNotFound) {
		return policy.Policy{}, fmt.Errorf("check policy id: %w", err)
	}

	active := true
	if spec.Active != nil {
		active = *spec.Active
	}
	now := s.now()
	p := policy.Policy{
		ID:          id,
		Description: spec.Description,
		ToolPattern: spec.ToolPattern,
		Severity:    spec.Severity,
		Action:      spec.Action,
		URLRegex:    spec.URLRegex,
		ArgsRegex:   spec.ArgsRegex,
		Condition:   spec.Condition,
		Active:      active,
		Origin:      policy.OriginDynamic,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := policy.Compile(p, s.compiler); err != nil {
		return policy.Policy{}, err
	}
	if err := s.writeLocked(ctx, policy.Policy{}, p, actor); err != nil {
		return policy.Policy{}, err
	}
	s.logger.Info("policy created", "policy_id", p.ID, "actor", actor)
	return p, nil
}

// Patch applies a partial update. Patching a base policy materializes a
// dynamic override seeded from the base entry, preserving the id and
// continuing its version count.
func (s *PolicyService) Patch(ctx context.Context, id string, patch policy.Patch, actor string) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patchLocked(ctx, id, patch, actor)
}

func (s *PolicyService) patchLocked(ctx context.Context, id string, patch policy.Patch, actor string) (policy.Policy, error) {
	before, err := s.Get(ctx, id)
	if err != nil {
		return policy.Policy{}, err
	}
	after := before
	if patch.Description != nil {
		after.Description = *patch.Description
	}
	if patch.ToolPattern != nil {
		after.ToolPattern = *patch.ToolPattern
	}
	if patch.Severity != nil {
		after.Severity = *patch.Severity
	}
	if patch.Action != nil {
		after.Action = *patch.Action
	}
	if patch.URLRegex != nil {
		after.URLRegex = *patch.URLRegex
	}
	if patch.ArgsRegex != nil {
		after.ArgsRegex = *patch.ArgsRegex
	}
	if patch.Condition != nil {
		after.Condition = *patch.Condition
	}
	if patch.Active != nil {
		after.Active = *patch.Active
	}
	after.Origin = policy.OriginDynamic
	after.Version = before.Version + 1
	after.UpdatedAt = s.now()
	if after.CreatedAt.IsZero() {
		after.CreatedAt = after.UpdatedAt
	}
	if _, err := policy.Compile(after, s.compiler); err != nil {
		return policy.Policy{}, err
	}
	if err := s.writeLocked(ctx, before, after, actor); err != nil {
		return policy.Policy{}, err
	}
	s.logger.Info("policy updated", "policy_id", id, "version", after.Version, "actor", actor)
	return after, nil
}

// Toggle flips a policy's active flag.
func (s *PolicyService) Toggle(ctx context.Context, id, actor string) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.Get(ctx, id)
	if err != nil {
		return policy.Policy{}, err
	}
	next := !p.Active
	return s.patchLocked(ctx, id, policy.Patch{Active: &next}, actor)
}

// Delete removes a dynamic policy, appending a tombstone version. Base
// policies cannot be deleted, only overridden or toggled off.
func (s *PolicyService) Delete(ctx context.Context, id, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.store.GetPolicy(ctx, id)
	if errors.Is(err, policy.ErrNotFound) {
		for _, b := range s.base {
			if b.ID == id {
				return fmt.Errorf("%w: %q", ErrBasePolicy, id)
			}
		}
		return policy.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get policy: %w", err)
	}

	diffBefore, err := canonicalPolicy(before)
	if err != nil {
		return err
	}
	if err := s.store.DeletePolicy(ctx, id); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	// A tombstone version with an empty after-diff records the delete.
	ver := policy.PolicyVersion{
		PolicyID:   id,
		Version:    before.Version + 1,
		Snapshot:   before,
		DiffBefore: diffBefore,
		ActorID:    actor,
		CreatedAt:  s.now(),
	}
	if err := s.store.AppendPolicyVersion(ctx, ver); err != nil {
		return fmt.Errorf("append policy version: %w", err)
	}
	s.invalidateLocked(ctx)
	s.logger.Info("policy deleted", "policy_id", id, "actor", actor)
	return nil
}

// Versions returns the append-only history for a policy id in ascending
// version order.
func (s *PolicyService) Versions(ctx context.Context, id string) ([]policy.PolicyVersion, error) {
	vers, err := s.store.ListPolicyVersions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list policy versions: %w", err)
	}
	return vers, nil
}

// Restore re-applies a historical version as a new write. The restored
// state gets a fresh version number; history is never rewritten.
func (s *PolicyService) Restore(ctx context.Context, id string, version int, actor string) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vers, err := s.store.ListPolicyVersions(ctx, id)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("list policy versions: %w", err)
	}
	var target *policy.PolicyVersion
	latest := 0
	for i := range vers {
		if vers[i].Version > latest {
			latest = vers[i].Version
		}
		if vers[i].Version == version {
			target = &vers[i]
		}
	}
	if target == nil {
		return policy.Policy{}, fmt.Errorf("%w: version %d of %q", policy.ErrNotFound, version, id)
	}

	var before policy.Policy
	current, err := s.store.GetPolicy(ctx, id)
	switch {
	case err == nil:
		before = current
	case errors.Is(err, policy.ErrNotFound):
		// Restoring a deleted policy; the before-diff stays empty.
	default:
		return policy.Policy{}, fmt.Errorf("get policy: %w", err)
	}

	restored := target.Snapshot
	restored.Origin = policy.OriginDynamic
	restored.Version = latest + 1
	restored.UpdatedAt = s.now()
	if restored.CreatedAt.IsZero() {
		restored.CreatedAt = restored.UpdatedAt
	}
	if _, err := policy.Compile(restored, s.compiler); err != nil {
		return policy.Policy{}, err
	}
	if err := s.writeLocked(ctx, before, restored, actor); err != nil {
		return policy.Policy{}, err
	}
	s.logger.Info("policy restored",
		"policy_id", id, "from_version", version, "new_version", restored.Version, "actor", actor)
	return restored, nil
}

// MatchBlockIDs re-matches a tool call against the current snapshot and
// returns the ids of blocking policies. Used by verification's
// independent re-check; a stale snapshot is acceptable there, so the
// degraded flag is ignored.
func (s *PolicyService) MatchBlockIDs(ctx context.Context, tool, argsFlat string) ([]string, error) {
	snap, _, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, c := range snap.Policies {
		if c.Action != action.DecisionBlock {
			continue
		}
		ok, err := c.Matches(policy.MatchInput{Tool: tool, ArgsFlat: argsFlat})
		if err != nil || !ok {
			continue
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// writeLocked persists one policy write plus its version record, then
// synchronously rebuilds the snapshot. Caller holds s.mu. A zero before
// means create.
func (s *PolicyService) writeLocked(ctx context.Context, before, after policy.Policy, actor string) error {
	diffAfter, err := canonicalPolicy(after)
	if err != nil {
		return err
	}
	var diffBefore string
	if before.ID != "" {
		if diffBefore, err = canonicalPolicy(before); err != nil {
			return err
		}
	}
	if err := s.store.PutPolicy(ctx, after); err != nil {
		return fmt.Errorf("put policy: %w", err)
	}
	ver := policy.PolicyVersion{
		PolicyID:   after.ID,
		Version:    after.Version,
		Snapshot:   after,
		DiffBefore: diffBefore,
		DiffAfter:  diffAfter,
		ActorID:    actor,
		CreatedAt:  s.now(),
	}
	if err := s.store.AppendPolicyVersion(ctx, ver); err != nil {
		return fmt.Errorf("append policy version: %w", err)
	}
	s.invalidateLocked(ctx)
	return nil
}

// invalidateLocked rebuilds the snapshot after a write. A refresh
// failure leaves the previous snapshot in place; the write itself has
// already succeeded.
func (s *PolicyService) invalidateLocked(ctx context.Context) {
	if err := s.refreshLocked(ctx); err != nil {
		s.logger.Warn("snapshot invalidation failed after write", "error", err)
	}
}

// canonicalPolicy renders a policy as RFC 8785 canonical JSON, the form
// stored in version diffs so textual comparison is stable.
func canonicalPolicy(p policy.Policy) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode policy: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize policy: %w", err)
	}
	return string(canon), nil
}

// DefaultBasePolicies is the built-in base set used when no base policy
// file is configured. It mirrors the shipped verdict.policies.yaml.
func DefaultBasePolicies() []policy.Policy {
	base := func(id, description, toolPattern string, sev policy.Severity, act action.Decision, argsRegex string) policy.Policy {
		return policy.Policy{
			ID:          id,
			Description: description,
			ToolPattern: toolPattern,
			Severity:    sev,
			Action:      act,
			ArgsRegex:   argsRegex,
			Active:      true,
			Origin:      policy.OriginBase,
			Version:     1,
		}
	}
	return []policy.Policy{
		base("shell-dangerous",
			"Block shell commands that destroy data or escalate privileges",
			"shell", policy.SeverityCritical, action.DecisionBlock,
			`(?i)rm\s+-[a-z]*[rf]|mkfs|dd\s+if=|:\(\)\s*\{|chmod\s+777\s+/|curl[^|]*\|\s*(?:ba)?sh`),
		base("exec-dangerous",
			"Block exec payloads that destroy data or escalate privileges",
			"exec", policy.SeverityCritical, action.DecisionBlock,
			`(?i)rm\s+-[a-z]*[rf]|mkfs|dd\s+if=|sudo\s`),
		base("sql-destructive",
			"Block destructive SQL statements on any tool",
			"*", policy.SeverityCritical, action.DecisionBlock,
			`(?i)\b(?:drop|truncate)\s+(?:table|database|schema)\b`),
		base("secrets-path-read",
			"Review file reads under secret-bearing paths",
			"file_read", policy.SeverityHigh, action.DecisionReview,
			`(?i)/(?:etc/(?:shadow|passwd)|\.ssh|\.aws|\.gnupg)|(?:secret|credential)s?/`),
		base("outbound-webhook",
			"Review HTTP requests to webhook collectors",
			"http_request", policy.SeverityMedium, action.DecisionReview,
			`(?i)webhook|requestbin|pipedream`),
	}
}
