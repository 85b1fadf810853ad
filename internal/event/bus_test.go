package event

import (
	"sync"
	"testing"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus()

	var received []Event
	bus.Subscribe("node.transition", func(e Event) {
		received = append(received, e)
	})

	bus.Publish(NewNodeTransitionEvent("s1", "evaluate", "deliberating", 2, 0))
	bus.Publish(NewSessionKilledEvent("s1", "admin", "manual")) // different type, not delivered

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}

	nt, ok := received[0].(NodeTransitionEvent)
	if !ok {
		t.Fatalf("expected NodeTransitionEvent, got %T", received[0])
	}
	if nt.Node != "evaluate" || nt.Round != 2 {
		t.Errorf("unexpected event payload: %+v", nt)
	}
	if nt.EventType() != "node.transition" {
		t.Errorf("EventType() = %q", nt.EventType())
	}
	if nt.Timestamp().IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()

	var count int
	bus.SubscribeAll(func(Event) { count++ })

	bus.Publish(NewSessionStartedEvent("s1", "owner", "problem", 3))
	bus.Publish(NewRoundCompletedEvent("s1", 1, "maria", "initial"))
	bus.Publish(NewBudgetExceededEvent("s1", 12.5, 10.0))

	if count != 3 {
		t.Errorf("wildcard handler received %d events, want 3", count)
	}
}

func TestSpecificHandlersRunBeforeWildcard(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "wildcard") })
	bus.Subscribe("checkpoint.written", func(Event) { order = append(order, "specific") })

	bus.Publish(NewCheckpointWrittenEvent("s1", 1, "evaluate"))

	if len(order) != 2 || order[0] != "specific" || order[1] != "wildcard" {
		t.Errorf("dispatch order = %v, want [specific wildcard]", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	var count int
	id := bus.Subscribe("session.paused", func(Event) { count++ })

	bus.Publish(NewSessionPausedEvent("s1", "evaluate"))
	if !bus.Unsubscribe(id) {
		t.Error("Unsubscribe returned false for a live subscription")
	}
	bus.Publish(NewSessionPausedEvent("s1", "evaluate"))

	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe returned true for a removed subscription")
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()

	var delivered bool
	bus.Subscribe("session.completed", func(Event) { panic("handler bug") })
	bus.Subscribe("session.completed", func(Event) { delivered = true })

	bus.Publish(NewSessionCompletedEvent("s1", "complete", "", 1.25))

	if !delivered {
		t.Error("second handler not called after first panicked")
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var count int

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Subscribe("round.completed", func(Event) {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
		go func() {
			defer wg.Done()
			bus.Publish(NewRoundCompletedEvent("s1", 1, "maria", "response"))
		}()
	}
	wg.Wait()

	if bus.SubscriptionCount() != 10 {
		t.Errorf("SubscriptionCount = %d, want 10", bus.SubscriptionCount())
	}
}

func TestClear(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", func(Event) {})
	bus.SubscribeAll(func(Event) {})

	bus.Clear()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount after Clear = %d, want 0", bus.SubscriptionCount())
	}
}
