package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/audit"
)

func seedActions(t *testing.T, s *ActionStore, n int) time.Time {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		decision := action.DecisionAllow
		if i%3 == 2 {
			decision = action.DecisionBlock
		}
		a := action.Action{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			AgentID:   "agent-1",
			SessionID: "sess-1",
			Tool:      "shell",
			Decision:  decision,
			Risk:      10 * (i % 10),
		}
		if i%2 == 1 {
			a.SessionID = "sess-2"
			a.Tool = "http_request"
		}
		id, err := s.AppendAction(context.Background(), a)
		if err != nil {
			t.Fatalf("AppendAction: %v", err)
		}
		if want := int64(i + 1); id != want {
			t.Fatalf("AppendAction id = %d, want %d", id, want)
		}
	}
	return base
}

func TestActionStoreGet(t *testing.T) {
	s := NewActionStore()
	seedActions(t, s, 3)

	a, err := s.GetAction(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetAction: %v", err)
	}
	if a.ID != 2 || a.Tool != "http_request" {
		t.Errorf("GetAction(2) = id %d tool %q", a.ID, a.Tool)
	}
	if _, err := s.GetAction(context.Background(), 99); !errors.Is(err, audit.ErrActionNotFound) {
		t.Errorf("GetAction(99) error = %v, want ErrActionNotFound", err)
	}
}

func TestActionStoreListPagination(t *testing.T) {
	s := NewActionStore()
	seedActions(t, s, 10)
	ctx := context.Background()

	page1, next, err := s.ListActions(ctx, audit.ActionFilter{Limit: 4})
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(page1) != 4 || page1[0].ID != 10 || page1[3].ID != 7 {
		t.Fatalf("first page ids = %v", actionIDs(page1))
	}
	if next != 7 {
		t.Fatalf("next cursor = %d, want 7", next)
	}

	page2, next, err := s.ListActions(ctx, audit.ActionFilter{Limit: 4, Cursor: next})
	if err != nil {
		t.Fatalf("ListActions page 2: %v", err)
	}
	if len(page2) != 4 || page2[0].ID != 6 {
		t.Fatalf("second page ids = %v", actionIDs(page2))
	}

	page3, next, err := s.ListActions(ctx, audit.ActionFilter{Limit: 4, Cursor: next})
	if err != nil {
		t.Fatalf("ListActions page 3: %v", err)
	}
	if len(page3) != 2 || next != 0 {
		t.Errorf("final page len = %d next = %d, want 2 and 0", len(page3), next)
	}
}

func TestActionStoreListFilter(t *testing.T) {
	s := NewActionStore()
	seedActions(t, s, 12)

	page, _, err := s.ListActions(context.Background(), audit.ActionFilter{
		Tool:     "shell",
		Decision: action.DecisionBlock,
	})
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	for _, a := range page {
		if a.Tool != "shell" || a.Decision != action.DecisionBlock {
			t.Errorf("filter leaked action %d: tool %q decision %q", a.ID, a.Tool, a.Decision)
		}
	}
	if len(page) == 0 {
		t.Error("expected at least one blocked shell action")
	}
}

func TestActionStoreRecentActions(t *testing.T) {
	s := NewActionStore()
	base := seedActions(t, s, 10)
	ctx := context.Background()

	all, err := s.RecentActions(ctx, "agent-1", "", time.Time{}, 100)
	if err != nil {
		t.Fatalf("RecentActions: %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("all sessions len = %d, want 10", len(all))
	}
	if all[0].ID != 10 {
		t.Errorf("newest first: got leading id %d", all[0].ID)
	}

	sess, err := s.RecentActions(ctx, "agent-1", "sess-2", time.Time{}, 100)
	if err != nil {
		t.Fatalf("RecentActions session: %v", err)
	}
	for _, a := range sess {
		if a.SessionID != "sess-2" {
			t.Errorf("session filter leaked %q", a.SessionID)
		}
	}

	since := base.Add(7 * time.Minute)
	bounded, err := s.RecentActions(ctx, "agent-1", "", since, 100)
	if err != nil {
		t.Fatalf("RecentActions since: %v", err)
	}
	if len(bounded) != 2 {
		t.Errorf("since filter len = %d, want 2", len(bounded))
	}

	if capped, _ := s.RecentActions(ctx, "agent-1", "", time.Time{}, 3); len(capped) != 3 {
		t.Errorf("limit ignored: len = %d", len(capped))
	}
	if none, _ := s.RecentActions(ctx, "agent-x", "", time.Time{}, 10); len(none) != 0 {
		t.Errorf("unknown agent returned %d actions", len(none))
	}
}

func TestActionStoreStats(t *testing.T) {
	s := NewActionStore()
	seedActions(t, s, 6)

	stats, err := s.Stats(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 6 {
		t.Errorf("Total = %d, want 6", stats.Total)
	}
	if stats.UniqueAgents != 1 || stats.UniqueSessions != 2 {
		t.Errorf("unique agents/sessions = %d/%d, want 1/2", stats.UniqueAgents, stats.UniqueSessions)
	}
	shell := stats.ByTool["shell"]
	if shell.Calls != 3 {
		t.Errorf("shell calls = %d, want 3", shell.Calls)
	}
	if got := stats.ByDecision[action.DecisionBlock.String()]; got != 2 {
		t.Errorf("blocked = %d, want 2", got)
	}
}

func actionIDs(actions []action.Action) []int64 {
	ids := make([]int64, len(actions))
	for i, a := range actions {
		ids[i] = a.ID
	}
	return ids
}
