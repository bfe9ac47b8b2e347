package events

import (
	"context"
	"log/slog"
)

const (
	OwnerBootstrapped   = "owner.bootstrapped"
	UserCreated         = "user.created"
	UserPasswordRotated = "user.password_rotated"
	UserDeleted         = "user.deleted"
)

// AuditTypes lists the events written to the audit log.
var AuditTypes = []string{OwnerBootstrapped, UserCreated, UserPasswordRotated, UserDeleted}

func NewOwnerBootstrappedEvent(userID string) BaseEvent {
	return NewBaseEvent(OwnerBootstrapped, map[string]interface{}{
		"user_id": userID,
	})
}

func NewUserCreatedEvent(actorID, userID, role string) BaseEvent {
	return NewBaseEvent(UserCreated, map[string]interface{}{
		"actor_id": actorID,
		"user_id":  userID,
		"role":     role,
	})
}

func NewUserPasswordRotatedEvent(actorID, userID string) BaseEvent {
	return NewBaseEvent(UserPasswordRotated, map[string]interface{}{
		"actor_id": actorID,
		"user_id":  userID,
	})
}

func NewUserDeletedEvent(actorID, userID string) BaseEvent {
	return NewBaseEvent(UserDeleted, map[string]interface{}{
		"actor_id": actorID,
		"user_id":  userID,
	})
}

// RegisterAuditLog subscribes a structured-log writer for every audit event.
// Payloads never carry passwords or login codes.
func RegisterAuditLog(bus *EventBus, logger *slog.Logger) func() {
	var cancels []func()
	for _, t := range AuditTypes {
		cancels = append(cancels, bus.Subscribe(t, func(ctx context.Context, event Event) error {
			attrs := []any{"event_type", event.EventType(), "event_id", event.EventID(), "occurred_at", event.OccurredAt()}
			if data, ok := event.Payload().(map[string]interface{}); ok {
				for k, v := range data {
					attrs = append(attrs, k, v)
				}
			}
			logger.InfoContext(ctx, "audit", attrs...)
			return nil
		}))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}
