package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/escalation"
)

// EscalationStore is the in-memory escalation table.
type EscalationStore struct {
	mu     sync.RWMutex
	events []escalation.Event
}

// NewEscalationStore creates an empty escalation store.
func NewEscalationStore() *EscalationStore {
	return &EscalationStore{}
}

// AppendEscalation persists the event and returns its assigned id.
func (s *EscalationStore) AppendEscalation(_ context.Context, e escalation.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.events)) + 1
	s.events = append(s.events, e)
	return e.ID, nil
}

// GetEscalation returns one event by id.
func (s *EscalationStore) GetEscalation(_ context.Context, id int64) (escalation.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 1 || id > int64(len(s.events)) {
		return escalation.Event{}, escalation.ErrNotFound
	}
	return s.events[id-1], nil
}

// ListEscalations returns newest-first events matching the filter.
func (s *EscalationStore) ListEscalations(_ context.Context, f escalation.Filter) ([]escalation.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []escalation.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		if f.Match(s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// UpdateEscalation replaces the stored event after a transition.
func (s *EscalationStore) UpdateEscalation(_ context.Context, e escalation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID < 1 || e.ID > int64(len(s.events)) {
		return escalation.ErrNotFound
	}
	s.events[e.ID-1] = e
	return nil
}

// ExpirePending marks pending events whose deadline passed as expired.
func (s *EscalationStore) ExpirePending(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.events {
		e := &s.events[i]
		if e.Status == escalation.StatusPending && e.ExpiresAt.Before(before) {
			e.Status = escalation.StatusExpired
			n++
		}
	}
	return n, nil
}

var _ escalation.Store = (*EscalationStore)(nil)
