// Package events defines the envelope published on the in-process event
// bus and streamed to subscribers.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

// Kind discriminates bus events.
type Kind string

const (
	// KindConnected is sent once to each new subscriber.
	KindConnected Kind = "connected"
	// KindActionEvaluated announces one persisted decision.
	KindActionEvaluated Kind = "action_evaluated"
	// KindHeartbeat is the periodic liveness signal for idle streams.
	KindHeartbeat Kind = "heartbeat"
)

// ActionEvaluated is the payload of an action_evaluated event, the
// stable wire schema streamed to subscribers.
type ActionEvaluated struct {
	ActionID  int64     `json:"action_id"`
	Tool      string    `json:"tool"`
	Decision  string    `json:"decision"`
	RiskScore int       `json:"risk_score"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one bus message.
type Event struct {
	ID        string           `json:"id"`
	Kind      Kind             `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	Action    *ActionEvaluated `json:"action,omitempty"`
}

// New builds an empty envelope of the given kind.
func New(kind Kind, now time.Time) Event {
	return Event{ID: uuid.NewString(), Kind: kind, Timestamp: now}
}

// NewActionEvaluated builds the announcement for a persisted action.
func NewActionEvaluated(a action.Action, now time.Time) Event {
	ev := New(KindActionEvaluated, now)
	ev.Action = &ActionEvaluated{
		ActionID:  a.ID,
		Tool:      a.Tool,
		Decision:  a.Decision.String(),
		RiskScore: a.Risk,
		AgentID:   a.AgentID,
		Timestamp: a.Timestamp,
	}
	return ev
}
