package messagequeue

import "encoding/json"

// TaskSubmitPayload is the schema for tasks.submit messages.
type TaskSubmitPayload struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Type        string            `json:"type"`
	Priority    string            `json:"priority,omitempty"`
	ParentID    string            `json:"parent_id,omitempty"`
	Content     string            `json:"content"`
	Criteria    []string          `json:"criteria,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TaskCancelPayload is the schema for tasks.cancel messages.
type TaskCancelPayload struct {
	TaskID string `json:"task_id"`
}

// EventPayload is the envelope published for every state transition.
type EventPayload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	TaskID    string          `json:"task_id,omitempty"`
	ActorID   string          `json:"actor_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}
