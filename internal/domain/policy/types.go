// Package policy contains the governance policy model: rules mapping tool
// invocation patterns to decisions, their compiled matching form, and the
// append-only version history written on every change.
package policy

import (
	"errors"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

// Severity classifies how serious a policy match is.
type Severity string

const (
	// SeverityLow marks informational or low-impact matches.
	SeverityLow Severity = "low"
	// SeverityMedium marks matches that warrant attention.
	SeverityMedium Severity = "medium"
	// SeverityHigh marks matches on sensitive operations.
	SeverityHigh Severity = "high"
	// SeverityCritical marks matches on operations that must never run
	// unreviewed.
	SeverityCritical Severity = "critical"
)

// String returns the string representation of the Severity.
func (s Severity) String() string {
	return string(s)
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// BlockRisk returns the risk floor assigned when a policy of this severity
// blocks a call. All floors sit at or above 85.
func (s Severity) BlockRisk() int {
	switch s {
	case SeverityCritical:
		return 97
	case SeverityHigh:
		return 92
	case SeverityMedium:
		return 88
	default:
		return 85
	}
}

// Weight returns the risk contribution of a non-blocking match of this
// severity.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 30
	case SeverityHigh:
		return 20
	case SeverityMedium:
		return 10
	default:
		return 5
	}
}

// Origin identifies which source a policy came from.
type Origin string

const (
	// OriginBase marks policies loaded from the static base file.
	OriginBase Origin = "base"
	// OriginDynamic marks policies created at runtime through the store.
	OriginDynamic Origin = "dynamic"
)

// Policy is one governance rule. Dynamic policies override a base policy
// with the same id in the merged view.
type Policy struct {
	// ID is unique across both sources.
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	// ToolPattern is either the literal "*" (matches every tool) or an
	// exact tool name.
	ToolPattern string   `json:"tool_pattern" yaml:"tool_pattern"`
	Severity    Severity `json:"severity" yaml:"severity"`
	// Action is the decision a match produces.
	Action action.Decision `json:"action" yaml:"action"`
	// URLRegex, when set, must match the URL extracted from the args
	// (the "url" scalar by convention). Case-sensitive unless the
	// pattern itself opts out with (?i).
	URLRegex string `json:"url_regex,omitempty" yaml:"url_regex,omitempty"`
	// ArgsRegex, when set, must match the flattened argument string.
	ArgsRegex string `json:"args_regex,omitempty" yaml:"args_regex,omitempty"`
	// Condition is an optional CEL expression over the request; when set
	// it must additionally evaluate to true for the policy to match.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Active    bool   `json:"active" yaml:"active"`
	Origin    Origin `json:"origin" yaml:"-"`
	// Version counts writes to this policy, starting at 1.
	Version   int       `json:"version" yaml:"-"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// PolicyVersion is an immutable snapshot of a policy at write time,
// including the canonical-JSON before/after diff and the actor who wrote
// it. Append-only; restores append rather than rewrite.
type PolicyVersion struct {
	PolicyID string `json:"policy_id"`
	// Version is the counter value the write produced.
	Version int `json:"version"`
	// Snapshot is the policy state after the write.
	Snapshot Policy `json:"snapshot"`
	// DiffBefore and DiffAfter are canonical JSON of the policy before
	// and after the write; DiffBefore is empty on create.
	DiffBefore string    `json:"diff_before,omitempty"`
	DiffAfter  string    `json:"diff_after"`
	ActorID    string    `json:"actor_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Spec is the caller-supplied body of a policy create.
type Spec struct {
	// ID is optional; a random one is assigned when empty.
	ID          string          `json:"id"`
	Description string          `json:"description"`
	ToolPattern string          `json:"tool_pattern" validate:"required"`
	Severity    Severity        `json:"severity" validate:"required"`
	Action      action.Decision `json:"action" validate:"required"`
	URLRegex    string          `json:"url_regex"`
	ArgsRegex   string          `json:"args_regex"`
	Condition   string          `json:"condition"`
	Active      *bool           `json:"active"`
}

// Patch is a partial policy update; nil fields are left unchanged.
type Patch struct {
	Description *string          `json:"description"`
	ToolPattern *string          `json:"tool_pattern"`
	Severity    *Severity        `json:"severity"`
	Action      *action.Decision `json:"action"`
	URLRegex    *string          `json:"url_regex"`
	ArgsRegex   *string          `json:"args_regex"`
	Condition   *string          `json:"condition"`
	Active      *bool            `json:"active"`
}

// Store errors shared by every persistence adapter.
var (
	// ErrNotFound reports a lookup for a policy or version that does not exist.
	ErrNotFound = errors.New("policy not found")
	// ErrDuplicateID reports a create colliding with an existing id.
	ErrDuplicateID = errors.New("policy id already exists")
	// ErrInvalidPolicy reports a policy that failed validation, such as a
	// regex or condition that does not compile.
	ErrInvalidPolicy = errors.New("invalid policy")
)
