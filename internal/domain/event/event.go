// Package event defines the state-transition events published for external
// consumers and kept in the append-only event store.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	TypeTaskSubmitted Type = "task.submitted"
	TypeTaskAssigned  Type = "task.assigned"
	TypeTaskStarted   Type = "task.started"
	TypeTaskCompleted Type = "task.completed"
	TypeTaskFailed    Type = "task.failed"
	TypeTaskCancelled Type = "task.cancelled"

	TypeActorRegistered Type = "actor.registered"
	TypeActorStatus     Type = "actor.status"

	TypeRevisionCreated Type = "draft.revision_created"
	TypeReviewCompleted Type = "review.completed"
	TypeReviewTimeout   Type = "review.timeout"
	TypeConsensus       Type = "review.consensus"
)

// Subject returns the messaging subject for the event type.
func (t Type) Subject() string {
	switch t {
	case TypeRevisionCreated:
		return "drafts.revision_created"
	case TypeReviewCompleted, TypeReviewTimeout, TypeConsensus:
		return "reviews." + string(t)[len("review."):]
	case TypeActorRegistered, TypeActorStatus:
		return "actors." + string(t)[len("actor."):]
	default:
		return "tasks." + string(t)[len("task."):]
	}
}

// Event is a single immutable record of something that happened.
type Event struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id,omitempty"`
	ActorID   string          `json:"actor_id,omitempty"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Filter narrows event store queries.
type Filter struct {
	Types  []Type     `json:"types,omitempty"`
	After  *time.Time `json:"after,omitempty"`
	Before *time.Time `json:"before,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// Match reports whether ev passes the type and time filters. Limit is
// applied by the caller.
func (f Filter) Match(ev *Event) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if ev.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.After != nil && !ev.CreatedAt.After(*f.After) {
		return false
	}
	if f.Before != nil && !ev.CreatedAt.Before(*f.Before) {
		return false
	}
	return true
}
