package escalation

import (
	"errors"
	"testing"
	"time"
)

func TestSeverityFromRisk(t *testing.T) {
	tests := []struct {
		risk int
		want Severity
	}{
		{0, SeverityLow},
		{59, SeverityLow},
		{60, SeverityMedium},
		{79, SeverityMedium},
		{80, SeverityHigh},
		{89, SeverityHigh},
		{90, SeverityCritical},
		{100, SeverityCritical},
	}
	for _, tt := range tests {
		if got := SeverityFromRisk(tt.risk); got != tt.want {
			t.Errorf("SeverityFromRisk(%d) = %s, want %s", tt.risk, got, tt.want)
		}
	}
}

func TestSeverityFromDelta(t *testing.T) {
	tests := []struct {
		delta int
		want  Severity
	}{
		{0, SeverityLow},
		{19, SeverityLow},
		{20, SeverityMedium},
		{30, SeverityHigh},
		{49, SeverityHigh},
		{50, SeverityCritical},
	}
	for _, tt := range tests {
		if got := SeverityFromDelta(tt.delta); got != tt.want {
			t.Errorf("SeverityFromDelta(%d) = %s, want %s", tt.delta, got, tt.want)
		}
	}
}

func TestEventResolve(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	e := Event{ID: 1, Status: StatusPending}
	if err := e.Resolve(StatusApproved, "reviewer-1", now); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if e.Status != StatusApproved || e.ResolvedBy != "reviewer-1" || !e.ResolvedAt.Equal(now) {
		t.Errorf("resolved event = %+v", e)
	}

	// Second resolution fails.
	if err := e.Resolve(StatusRejected, "reviewer-2", now); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("double resolve error = %v, want ErrAlreadyResolved", err)
	}

	// Expired events cannot be resolved.
	expired := Event{ID: 2, Status: StatusExpired}
	if err := expired.Resolve(StatusApproved, "reviewer-1", now); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("resolve expired error = %v, want ErrAlreadyResolved", err)
	}

	// Only approved and rejected are valid resolutions.
	pending := Event{ID: 3, Status: StatusPending}
	if err := pending.Resolve(StatusExpired, "reviewer-1", now); err == nil {
		t.Error("Resolve(expired) succeeded, want error")
	}
	if pending.Status != StatusPending {
		t.Errorf("failed resolve mutated status to %s", pending.Status)
	}
}

func TestFilterMatch(t *testing.T) {
	e := Event{AgentID: "agent-1", Status: StatusPending, Severity: SeverityHigh}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"agent match", Filter{AgentID: "agent-1"}, true},
		{"agent mismatch", Filter{AgentID: "agent-2"}, false},
		{"status match", Filter{Status: StatusPending}, true},
		{"status mismatch", Filter{Status: StatusApproved}, false},
		{"severity match", Filter{Severity: SeverityHigh}, true},
		{"severity mismatch", Filter{Severity: SeverityLow}, false},
		{"combined", Filter{AgentID: "agent-1", Status: StatusPending, Severity: SeverityHigh}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(e); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}
