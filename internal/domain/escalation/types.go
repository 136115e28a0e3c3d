// Package escalation defines human-review events raised for risky
// decisions and verification violations, their lifecycle, and the
// notifier port escalations fan out through.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Severity ranks an escalation for triage.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFromRisk maps a final risk score to a severity band.
func SeverityFromRisk(risk int) Severity {
	switch {
	case risk >= 90:
		return SeverityCritical
	case risk >= 80:
		return SeverityHigh
	case risk >= 60:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SeverityFromDelta maps a verification's aggregated risk delta to a
// severity band.
func SeverityFromDelta(delta int) Severity {
	switch {
	case delta >= 50:
		return SeverityCritical
	case delta >= 30:
		return SeverityHigh
	case delta >= 20:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Status is the lifecycle state of an escalation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// DefaultPendingTTL is how long a pending escalation waits before it
// expires unresolved.
const DefaultPendingTTL = time.Hour

// Sentinel errors for escalation operations.
var (
	ErrNotFound        = errors.New("escalation not found")
	ErrAlreadyResolved = errors.New("escalation already resolved")
)

// Event is one escalation raised for an evaluated action or a
// verification violation.
type Event struct {
	ID       int64
	AgentID  string
	ActionID int64
	Severity Severity
	// Reason is the human-readable trigger description.
	Reason string
	Status Status
	// AutoKill reports whether this escalation also engaged the kill
	// switch.
	AutoKill   bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ResolvedAt time.Time
	ResolvedBy string
}

// Resolve transitions a pending event to approved or rejected. Any
// other starting state fails with ErrAlreadyResolved.
func (e *Event) Resolve(to Status, by string, now time.Time) error {
	if e.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, statusLabel(e.ID), e.Status)
	}
	if to != StatusApproved && to != StatusRejected {
		return fmt.Errorf("invalid resolution %q", to)
	}
	e.Status = to
	e.ResolvedAt = now
	e.ResolvedBy = by
	return nil
}

func statusLabel(id int64) string {
	return fmt.Sprintf("escalation %d", id)
}

// Filter selects escalations for the read surface. Zero fields match
// everything.
type Filter struct {
	AgentID  string
	Status   Status
	Severity Severity
	Limit    int
}

// Match reports whether an event satisfies the filter.
func (f Filter) Match(e Event) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	return true
}

// Store persists escalation events.
type Store interface {
	// AppendEscalation persists the event and returns its assigned id.
	AppendEscalation(ctx context.Context, e Event) (int64, error)

	// GetEscalation returns one event by id, or ErrNotFound.
	GetEscalation(ctx context.Context, id int64) (Event, error)

	// ListEscalations returns newest-first events matching the filter.
	ListEscalations(ctx context.Context, f Filter) ([]Event, error)

	// UpdateEscalation replaces the stored event after a transition.
	UpdateEscalation(ctx context.Context, e Event) error

	// ExpirePending marks pending events whose deadline passed as
	// expired, returning how many changed.
	ExpirePending(ctx context.Context, before time.Time) (int, error)
}

// Notifier is one delivery channel (chat, email, issue tracker,
// webhook). Sinks are invoked once on create and once on resolution;
// failures are logged and never block persistence.
type Notifier interface {
	// Name identifies the sink in logs.
	Name() string

	// Notify delivers one event.
	Notify(ctx context.Context, e Event) error
}
