package engine

import (
	"sync"
	"time"
)

type EventType int

type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

// EventBus fans engine events out to in-process handlers. Handlers run on
// the emitting goroutine, in registration order.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]func(Event)
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[EventType][]func(Event))}
}

// SubscribeTypes registers fn for each listed event type.
func (eb *EventBus) SubscribeTypes(fn func(Event), types ...EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for _, t := range types {
		eb.handlers[t] = append(eb.handlers[t], fn)
	}
}

func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eb.mu.RLock()
	handlers := eb.handlers[evt.Type]
	eb.mu.RUnlock()

	for _, fn := range handlers {
		fn(evt)
	}
}
