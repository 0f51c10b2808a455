// Package eventstore defines the port interface for the append-only event store.
package eventstore

import (
	"context"

	"github.com/Strob0t/ReviewForge/internal/domain/event"
)

// Store is the port interface for appending and loading events.
type Store interface {
	// Append persists a new event to the store.
	Append(ctx context.Context, ev *event.Event) error

	// LoadByTask returns the events of a task in creation order.
	LoadByTask(ctx context.Context, taskID string, filter event.Filter) ([]event.Event, error)
}
