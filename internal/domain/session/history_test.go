package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

type fakeSource struct {
	actions []action.Action // newest-first, as an adapter would return
	err     error

	gotAgent   string
	gotSession string
	gotSince   time.Time
	gotLimit   int
}

func (f *fakeSource) RecentActions(_ context.Context, agentID, sessionID string, since time.Time, limit int) ([]action.Action, error) {
	f.gotAgent, f.gotSession, f.gotSince, f.gotLimit = agentID, sessionID, since, limit
	return f.actions, f.err
}

func TestHistory_OrdersOldestFirst(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{actions: []action.Action{
		{ID: 3, Tool: "shell"},
		{ID: 2, Tool: "file_read"},
		{ID: 1, Tool: "http_request"},
	}}
	r := NewReconstructor(src, Window{Duration: 60 * time.Minute, MaxEntries: 50})

	h, err := r.History(context.Background(), Key{AgentID: "a1", SessionID: "s1"}, now)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if h.Len() != 3 {
		t.Fatalf("len = %d, want 3", h.Len())
	}
	for i, wantID := range []int64{1, 2, 3} {
		if h.Actions[i].ID != wantID {
			t.Errorf("actions[%d].ID = %d, want %d", i, h.Actions[i].ID, wantID)
		}
	}

	if src.gotAgent != "a1" || src.gotSession != "s1" {
		t.Errorf("query key = (%q, %q)", src.gotAgent, src.gotSession)
	}
	if want := now.Add(-60 * time.Minute); !src.gotSince.Equal(want) {
		t.Errorf("since = %v, want %v", src.gotSince, want)
	}
	if src.gotLimit != 50 {
		t.Errorf("limit = %d, want 50", src.gotLimit)
	}
}

func TestHistory_EmptyAgentSkipsQuery(t *testing.T) {
	src := &fakeSource{err: errors.New("should not be called")}
	r := NewReconstructor(src, DefaultWindow)

	h, err := r.History(context.Background(), Key{}, time.Now())
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if h.Len() != 0 {
		t.Errorf("len = %d, want 0", h.Len())
	}
	if src.gotLimit != 0 {
		t.Error("source should not have been queried")
	}
}

func TestHistory_PropagatesError(t *testing.T) {
	src := &fakeSource{err: errors.New("store down")}
	r := NewReconstructor(src, DefaultWindow)

	if _, err := r.History(context.Background(), Key{AgentID: "a1"}, time.Now()); err == nil {
		t.Error("expected error")
	}
}

func TestNewReconstructor_ZeroWindowDefaults(t *testing.T) {
	src := &fakeSource{}
	r := NewReconstructor(src, Window{})
	if _, err := r.History(context.Background(), Key{AgentID: "a1"}, time.Now()); err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if src.gotLimit != DefaultWindow.MaxEntries {
		t.Errorf("limit = %d, want %d", src.gotLimit, DefaultWindow.MaxEntries)
	}
}

func TestHistory_Last(t *testing.T) {
	h := History{Actions: []action.Action{{ID: 1}, {ID: 2}, {ID: 3}}}
	last := h.Last(2)
	if len(last) != 2 || last[0].ID != 2 || last[1].ID != 3 {
		t.Errorf("Last(2) = %+v", last)
	}
	if got := h.Last(10); len(got) != 3 {
		t.Errorf("Last(10) len = %d, want 3", len(got))
	}
}
