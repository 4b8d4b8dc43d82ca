package event

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Stop()

	var mu sync.Mutex
	var received []Event
	done := make(chan struct{})

	bus.Subscribe(EventTaskStateChange, func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		close(done)
	})

	bus.Publish(&TaskStateChangeEvent{
		TaskID:         "task-1",
		PreviousStatus: "ready",
		NewStatus:      "running",
		Timestamp_:     time.Now(),
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	ev := received[0].(*TaskStateChangeEvent)
	if ev.TaskID != "task-1" || ev.NewStatus != "running" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestBus_OrderPreserved(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Stop()

	const n = 50
	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	bus.Subscribe(EventCheckpointSaved, func(e Event) {
		mu.Lock()
		order = append(order, e.(*CheckpointSavedEvent).CheckpointID)
		if len(order) == n {
			close(done)
		}
		mu.Unlock()
	})

	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = string(rune('a' + i%26))
		bus.Publish(&CheckpointSavedEvent{CheckpointID: ids[i], Timestamp_: time.Now()})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all events delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, id := range ids {
		if order[i] != id {
			t.Fatalf("event %d delivered out of order: got %q want %q", i, order[i], id)
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Stop()

	invoked := make(chan struct{}, 1)
	id := bus.Subscribe(EventThreadClosed, func(Event) {
		invoked <- struct{}{}
	})
	bus.Unsubscribe(id)

	bus.Publish(&ThreadClosedEvent{ThreadID: "t1", Timestamp_: time.Now()})

	select {
	case <-invoked:
		t.Fatal("handler invoked after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_HandlerPanicIsolated(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Stop()

	done := make(chan struct{})
	bus.Subscribe(EventThreadClosed, func(Event) {
		panic("boom")
	})
	bus.Subscribe(EventThreadClosed, func(Event) {
		// Registered second; still runs after the first handler panics.
		select {
		case <-done:
		default:
			close(done)
		}
	})

	bus.Publish(&ThreadClosedEvent{ThreadID: "t1", Timestamp_: time.Now()})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panicking handler stopped dispatch")
	}
}

func TestBus_StopIdempotent(t *testing.T) {
	bus := NewBus(nil)
	bus.Stop()
	bus.Stop()
}
