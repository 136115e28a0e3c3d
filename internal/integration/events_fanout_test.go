package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/events"
	"github.com/Verdict-Labs/verdict/internal/service"
)

// nextEvent returns the subscriber's next non-heartbeat event, failing
// after a bounded wait.
func nextEvent(t *testing.T, sub *service.Subscription) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatal("event channel closed early")
			}
			if ev.Kind == events.KindHeartbeat {
				continue
			}
			return ev
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestEventFanOutPreservesOrder(t *testing.T) {
	stack := newStack(t, stackConfig{heartbeat: 5 * time.Millisecond})
	subA := stack.bus.Subscribe()
	defer subA.Close()
	subB := stack.bus.Subscribe()
	defer subB.Close()

	// Three decisions from unrelated agents, published in append order.
	reqs := []action.Request{
		{
			Tool:    "file_read",
			Args:    action.MapOf(action.F("path", action.String("notes/plan.md"))),
			Context: action.RequestContext{AgentID: "fan-a1", SessionID: "s1"},
		},
		{
			Tool:    "http_request",
			Args:    action.MapOf(action.F("url", action.String("https://status.example/healthz"))),
			Context: action.RequestContext{AgentID: "fan-a2", SessionID: "s1"},
		},
		{
			Tool:    "sql_query",
			Args:    action.MapOf(action.F("query", action.String("select count(*) from jobs"))),
			Context: action.RequestContext{AgentID: "fan-a3", SessionID: "s1"},
		},
	}
	var want []int64
	for _, req := range reqs {
		want = append(want, stack.evaluate(t, req).ActionID)
	}

	subs := []struct {
		name string
		sub  *service.Subscription
	}{{"first", subA}, {"second", subB}}
	for _, s := range subs {
		first := nextEvent(t, s.sub)
		if first.Kind != events.KindConnected {
			t.Fatalf("%s subscriber: first event = %s, want connected", s.name, first.Kind)
		}
		for i, id := range want {
			ev := nextEvent(t, s.sub)
			if ev.Kind != events.KindActionEvaluated || ev.Action == nil {
				t.Fatalf("%s subscriber event %d: kind = %s, want action_evaluated", s.name, i, ev.Kind)
			}
			if ev.Action.ActionID != id {
				t.Errorf("%s subscriber event %d: action = %d, want %d", s.name, i, ev.Action.ActionID, id)
			}
		}
		if got := s.sub.Dropped(); got != 0 {
			t.Errorf("%s subscriber dropped = %d, want 0", s.name, got)
		}
	}
}

func TestSlowSubscriberMissesNotBlocks(t *testing.T) {
	stack := newStack(t, stackConfig{subscriberBuf: 1})

	// The slow subscriber's one-slot buffer is filled by the connected
	// seed and never drained.
	slow := stack.bus.Subscribe()
	defer slow.Close()
	fast := stack.bus.Subscribe()
	defer fast.Close()

	if ev := nextEvent(t, fast); ev.Kind != events.KindConnected {
		t.Fatalf("first event = %s, want connected", ev.Kind)
	}

	const calls = 5
	for i := 0; i < calls; i++ {
		ev := stack.evaluate(t, action.Request{
			Tool:    "file_read",
			Args:    action.MapOf(action.F("path", action.String(fmt.Sprintf("notes/%d.md", i)))),
			Context: action.RequestContext{AgentID: "slow-a1", SessionID: "s1"},
		})
		got := nextEvent(t, fast)
		if got.Kind != events.KindActionEvaluated || got.Action == nil || got.Action.ActionID != ev.ActionID {
			t.Fatalf("call %d: fast subscriber got %s, want action %d", i+1, got.Kind, ev.ActionID)
		}
	}

	if got := slow.Dropped(); got != calls {
		t.Errorf("slow subscriber dropped = %d, want %d", got, calls)
	}
	if got := stack.bus.TotalDropped(); got != calls {
		t.Errorf("bus total dropped = %d, want %d", got, calls)
	}
}

// postEvaluateID submits one evaluation over HTTP and returns the
// assigned action id.
func postEvaluateID(t *testing.T, baseURL, body string) int64 {
	t.Helper()
	res, err := http.Post(baseURL+"/v1/evaluate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/evaluate: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("POST /v1/evaluate status = %d, want 200", res.StatusCode)
	}
	var out struct {
		ActionID int64 `json:"action_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode evaluate response: %v", err)
	}
	return out.ActionID
}

// readActionEvents consumes one SSE stream until n action events have
// arrived, signalling ready once the connected frame is seen. Heartbeat
// comments keep the connection alive and are skipped.
func readActionEvents(ctx context.Context, url string, n int, ready chan<- struct{}) ([]int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		return nil, fmt.Errorf("content type = %q, want text/event-stream", ct)
	}

	var (
		ids   []int64
		event string
		data  string
	)
	sc := bufio.NewScanner(res.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment.
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			switch event {
			case "":
			case "connected":
				ready <- struct{}{}
			case "action_evaluated":
				var payload struct {
					ActionID int64 `json:"action_id"`
				}
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return nil, fmt.Errorf("action event payload %q: %v", data, err)
				}
				ids = append(ids, payload.ActionID)
				if len(ids) == n {
					return ids, nil
				}
			default:
				return nil, fmt.Errorf("unexpected event kind %q", event)
			}
			event, data = "", ""
		}
	}
	if err := sc.Err(); err != nil {
		return ids, err
	}
	return ids, fmt.Errorf("stream closed after %d of %d action events", len(ids), n)
}

func TestEventStreamOverHTTP(t *testing.T) {
	stack := newStack(t, stackConfig{heartbeat: 5 * time.Millisecond})
	srv := httptest.NewServer(newHandler(t, stack).Routes())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const readers = 2
	const calls = 3
	type streamResult struct {
		ids []int64
		err error
	}
	ready := make(chan struct{}, readers)
	results := make(chan streamResult, readers)
	for i := 0; i < readers; i++ {
		go func() {
			ids, err := readActionEvents(ctx, srv.URL+"/v1/events", calls, ready)
			results <- streamResult{ids: ids, err: err}
		}()
	}

	// 1. Both streams are attached once their connected frames arrive.
	for i := 0; i < readers; i++ {
		select {
		case <-ready:
		case <-ctx.Done():
			t.Fatal("stream readers never connected")
		}
	}

	// 2. Evaluate over the same API the streams hang off.
	var want []int64
	for i := 0; i < calls; i++ {
		body := fmt.Sprintf(`{"tool":"file_read","args":{"path":"notes/%d.md"},"context":{"agent_id":"sse-a%d","session_id":"s1"}}`, i, i+1)
		want = append(want, postEvaluateID(t, srv.URL, body))
	}

	// 3. Every reader saw every action, in publish order.
	for i := 0; i < readers; i++ {
		select {
		case res := <-results:
			if res.err != nil {
				t.Fatalf("stream reader: %v", res.err)
			}
			for j, id := range res.ids {
				if id != want[j] {
					t.Errorf("stream event %d = action %d, want %d", j, id, want[j])
				}
			}
		case <-ctx.Done():
			t.Fatal("stream readers never finished")
		}
	}
}
