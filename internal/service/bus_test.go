package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/events"
)

func recvEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

func TestBusSubscribeSeedsConnected(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(testLogger(), WithHeartbeatInterval(0))
	defer bus.Stop()

	sub := bus.Subscribe()
	defer sub.Close()

	ev := recvEvent(t, sub.Events())
	if ev.Kind != events.KindConnected {
		t.Errorf("first event kind = %q, want %q", ev.Kind, events.KindConnected)
	}
	if ev.ID == "" {
		t.Error("connected event has empty id")
	}
	if got := bus.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", got)
	}
}

func TestBusFanOutPreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(testLogger(), WithHeartbeatInterval(0))
	defer bus.Stop()

	first := bus.Subscribe()
	defer first.Close()
	second := bus.Subscribe()
	defer second.Close()

	now := time.Now()
	for i := int64(1); i <= 3; i++ {
		a := action.Action{ID: i, Tool: "shell", Decision: action.DecisionAllow, Risk: 10}
		bus.Publish(events.NewActionEvaluated(a, now))
	}

	for name, sub := range map[string]*Subscription{"first": first, "second": second} {
		if ev := recvEvent(t, sub.Events()); ev.Kind != events.KindConnected {
			t.Fatalf("%s: expected connected event first, got %q", name, ev.Kind)
		}
		for want := int64(1); want <= 3; want++ {
			ev := recvEvent(t, sub.Events())
			if ev.Kind != events.KindActionEvaluated {
				t.Fatalf("%s: event kind = %q, want %q", name, ev.Kind, events.KindActionEvaluated)
			}
			if ev.Action == nil || ev.Action.ActionID != want {
				t.Errorf("%s: received action %+v, want action id %d", name, ev.Action, want)
			}
		}
	}
}

func TestBusDropsWhenSubscriberSaturated(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(testLogger(), WithHeartbeatInterval(0), WithSubscriberBuffer(1))
	defer bus.Stop()

	sub := bus.Subscribe()
	defer sub.Close()
	// The connected seed fills the single-slot buffer; both publishes miss.
	bus.Publish(events.New(events.KindActionEvaluated, time.Now()))
	bus.Publish(events.New(events.KindActionEvaluated, time.Now()))

	if got := sub.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	if got := bus.TotalDropped(); got != 2 {
		t.Errorf("TotalDropped() = %d, want 2", got)
	}
	if ev := recvEvent(t, sub.Events()); ev.Kind != events.KindConnected {
		t.Errorf("buffered event kind = %q, want %q", ev.Kind, events.KindConnected)
	}
}

func TestBusHeartbeat(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(testLogger(), WithHeartbeatInterval(5*time.Millisecond))
	bus.Start(context.Background())
	defer bus.Stop()

	sub := bus.Subscribe()
	defer sub.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == events.KindHeartbeat {
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat within deadline")
		}
	}
}

func TestBusStopClosesSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(testLogger(), WithHeartbeatInterval(0))
	sub := bus.Subscribe()
	recvEvent(t, sub.Events()) // drain the connected seed

	bus.Stop()
	bus.Stop() // idempotent

	if _, ok := <-sub.Events(); ok {
		t.Error("subscriber channel still open after Stop")
	}
	// Publishing after Stop is a no-op, not a panic.
	bus.Publish(events.New(events.KindHeartbeat, time.Now()))

	late := bus.Subscribe()
	if _, ok := <-late.Events(); ok {
		t.Error("subscription on stopped bus delivered an event")
	}
	late.Close()
}

func TestBusSubscriptionCloseDetaches(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(testLogger(), WithHeartbeatInterval(0))
	defer bus.Stop()

	sub := bus.Subscribe()
	sub.Close()
	sub.Close() // safe to repeat

	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() after Close = %d, want 0", got)
	}
	bus.Publish(events.New(events.KindActionEvaluated, time.Now()))
	if got := bus.TotalDropped(); got != 0 {
		t.Errorf("TotalDropped() = %d, want 0 after detach", got)
	}
}
