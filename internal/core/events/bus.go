package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Event interface {
	EventType() string
	EventID() string
	OccurredAt() time.Time
	Payload() interface{}
}

type BaseEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func NewBaseEvent(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) EventID() string {
	return e.ID
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

func (e BaseEvent) Payload() interface{} {
	return e.Data
}

type Handler func(ctx context.Context, event Event) error

// Publisher is the write side of the bus handed to services.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	PublishSync(ctx context.Context, event Event) error
}

type subscription struct {
	id      uint64
	handler Handler
}

type EventBus struct {
	handlers map[string][]subscription
	nextID   uint64
	logger   *slog.Logger
	mu       sync.RWMutex
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers handler for eventType. The returned func removes it and
// is safe to call more than once.
func (eb *EventBus) Subscribe(eventType string, handler Handler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})
	eb.logger.Debug("event handler registered",
		"event_type", eventType,
		"total_handlers", len(eb.handlers[eventType]))

	var once sync.Once
	return func() {
		once.Do(func() { eb.unsubscribe(eventType, id) })
	}
}

func (eb *EventBus) unsubscribe(eventType string, id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			eb.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(eb.handlers[eventType]) == 0 {
		delete(eb.handlers, eventType)
	}
}

func (eb *EventBus) snapshot(eventType string) []Handler {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	subs := eb.handlers[eventType]
	out := make([]Handler, len(subs))
	for i, s := range subs {
		out[i] = s.handler
	}
	return out
}

func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	handlers := eb.snapshot(event.EventType())
	if len(handlers) == 0 {
		eb.logger.Debug("no handlers for event type", "event_type", event.EventType())
		return nil
	}

	eb.logger.Debug("publishing event",
		"event_type", event.EventType(),
		"event_id", event.EventID(),
		"handlers_count", len(handlers))

	for _, handler := range handlers {
		go func(h Handler) {
			if err := h(ctx, event); err != nil {
				eb.logger.Error("event handler failed",
					"event_type", event.EventType(),
					"event_id", event.EventID(),
					"error", err)
			}
		}(handler)
	}

	return nil
}

// PublishSync runs handlers in subscription order on the caller's goroutine
// and stops at the first failure.
func (eb *EventBus) PublishSync(ctx context.Context, event Event) error {
	handlers := eb.snapshot(event.EventType())
	if len(handlers) == 0 {
		eb.logger.Debug("no handlers for event type", "event_type", event.EventType())
		return nil
	}

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			eb.logger.Error("event handler failed",
				"event_type", event.EventType(),
				"event_id", event.EventID(),
				"error", err)
			return fmt.Errorf("handler failed for event %s: %w", event.EventType(), err)
		}
	}

	return nil
}
