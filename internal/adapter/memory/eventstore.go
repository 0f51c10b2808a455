package memory

import (
	"context"
	"sync"

	"github.com/Strob0t/ReviewForge/internal/domain/event"
)

// EventStore is an append-only in-memory eventstore.Store.
type EventStore struct {
	mu     sync.RWMutex
	events []event.Event
}

// NewEventStore creates an empty event store.
func NewEventStore() *EventStore { return &EventStore{} }

func (s *EventStore) Append(_ context.Context, ev *event.Event) error {
	s.mu.Lock()
	s.events = append(s.events, *ev)
	s.mu.Unlock()
	return nil
}

func (s *EventStore) LoadByTask(_ context.Context, taskID string, filter event.Filter) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]event.Event, 0)
	for i := range s.events {
		ev := s.events[i]
		if ev.TaskID != taskID || !filter.Match(&ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
