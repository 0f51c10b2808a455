package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ReviewForge/internal/domain/event"
	"github.com/Strob0t/ReviewForge/internal/logger"
	"github.com/Strob0t/ReviewForge/internal/port/broadcast"
	"github.com/Strob0t/ReviewForge/internal/port/eventstore"
	"github.com/Strob0t/ReviewForge/internal/port/messagequeue"
)

// EventPublisher fans state transitions out to live clients, the message
// queue and the event store. Delivery is best effort: failures are logged
// and never reach the caller. A nil publisher or nil sink is skipped.
type EventPublisher struct {
	hub    broadcast.Broadcaster
	queue  messagequeue.Queue
	events eventstore.Store
}

// NewEventPublisher creates an EventPublisher. Any sink may be nil.
func NewEventPublisher(hub broadcast.Broadcaster, queue messagequeue.Queue, events eventstore.Store) *EventPublisher {
	return &EventPublisher{hub: hub, queue: queue, events: events}
}

// Publish emits one event.
func (p *EventPublisher) Publish(ctx context.Context, typ event.Type, taskID, actorID string, payload any) {
	if p == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event payload", "type", typ, "error", err)
		return
	}

	ev := &event.Event{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		ActorID:   actorID,
		Type:      typ,
		Payload:   data,
		RequestID: logger.RequestID(ctx),
		CreatedAt: time.Now().UTC(),
	}

	if p.hub != nil {
		p.hub.BroadcastEvent(ctx, string(typ), taskID, payload)
	}

	if p.queue != nil {
		env, err := json.Marshal(messagequeue.EventPayload{
			ID:        ev.ID,
			Type:      string(typ),
			TaskID:    taskID,
			ActorID:   actorID,
			RequestID: ev.RequestID,
			Data:      data,
		})
		if err == nil {
			err = p.queue.Publish(ctx, typ.Subject(), env)
		}
		if err != nil {
			slog.Warn("publish event to queue", "type", typ, "task_id", taskID, "error", err)
		}
	}

	if p.events != nil {
		if err := p.events.Append(ctx, ev); err != nil {
			slog.Warn("append event", "type", typ, "task_id", taskID, "error", err)
		}
	}
}
