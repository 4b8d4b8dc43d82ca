package event

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType identifies the kind of state transition an event describes.
type EventType string

const (
	EventTaskStateChange   EventType = "task_state_change"
	EventCheckpointSaved   EventType = "checkpoint_saved"
	EventThreadReverted    EventType = "thread_reverted"
	EventThreadClosed      EventType = "thread_closed"
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalResolved  EventType = "approval_resolved"
)

// subscriptionCounter generates unique subscription IDs.
var subscriptionCounter int64

// Event is a single broadcast state transition.
type Event interface {
	Timestamp() time.Time
	Type() EventType
}

// Handler consumes a broadcast event.
type Handler func(Event)

// Bus defines the broadcast bus interface.
type Bus interface {
	Publish(event Event)
	Subscribe(eventType EventType, handler Handler) string
	Unsubscribe(subscriptionID string)
	Stop()
}

// SimpleBus is a buffered in-process bus. A single dispatch goroutine
// invokes handlers in publish order, so subscribers observe a dependent's
// READY transition only after its dependency's COMPLETED transition.
type SimpleBus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[string]Handler
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// NewBus creates a new bus. A nil logger falls back to zap.NewNop.
func NewBus(logger *zap.Logger) Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &SimpleBus{
		handlers: make(map[EventType]map[string]Handler),
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
		logger:   logger.With(zap.String("component", "event_bus")),
	}
	go b.dispatch()
	return b
}

// Publish enqueues an event without blocking. Events are dropped when the
// buffer is full; the core must never stall on subscriber I/O.
func (b *SimpleBus) Publish(event Event) {
	select {
	case b.events <- event:
	case <-b.done:
	default:
		b.logger.Warn("event buffer full, dropping event",
			zap.String("event_type", string(event.Type())),
		)
	}
}

// Subscribe registers a handler for an event type and returns a subscription ID.
func (b *SimpleBus) Subscribe(eventType EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}

	id := fmt.Sprintf("%s-%d", eventType, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[eventType][id] = handler
	return id
}

// Unsubscribe removes a subscription.
func (b *SimpleBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, eventType)
			}
			return
		}
	}
}

func (b *SimpleBus) dispatch() {
	for {
		select {
		case event := <-b.events:
			b.mu.RLock()
			src := b.handlers[event.Type()]
			handlers := make([]Handler, 0, len(src))
			for _, h := range src {
				handlers = append(handlers, h)
			}
			b.mu.RUnlock()

			for _, handler := range handlers {
				b.invoke(handler, event)
			}
		case <-b.done:
			return
		}
	}
}

// invoke runs one handler with panic isolation. Handlers run on the
// dispatch goroutine to preserve publish order.
func (b *SimpleBus) invoke(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", zap.Any("recover", r))
		}
	}()
	handler(event)
}

// Stop stops the bus. Idempotent.
func (b *SimpleBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}
