// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients. taskID
	// is empty for events that are not about a task, such as actor status.
	BroadcastEvent(ctx context.Context, eventType, taskID string, payload any)
}

// Nop discards every event. It stands in when no live clients are served.
type Nop struct{}

// BroadcastEvent implements Broadcaster.
func (Nop) BroadcastEvent(context.Context, string, string, any) {}

// Multi fans every event out to each of its broadcasters in order.
type Multi []Broadcaster

// BroadcastEvent implements Broadcaster.
func (m Multi) BroadcastEvent(ctx context.Context, eventType, taskID string, payload any) {
	for _, b := range m {
		b.BroadcastEvent(ctx, eventType, taskID, payload)
	}
}
