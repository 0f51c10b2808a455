// Package task defines the Task domain entity and its state machine.
package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain"
)

// State represents the lifecycle position of a task.
type State string

const (
	StatePending    State = "pending"
	StateAssigned   State = "assigned"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether from -> to is a legal move. Transitions are
// monotonic; cancelled is reachable from any non-terminal state, and a
// pending task may fail directly when it cannot be routed.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateCancelled || to == StateFailed {
		return true
	}
	switch from {
	case StatePending:
		return to == StateAssigned
	case StateAssigned:
		return to == StateInProgress
	case StateInProgress:
		return to == StateCompleted
	}
	return false
}

// Priority is an ordered urgency level.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"low", "normal", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority maps a name to a priority. Empty defaults to normal.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	for i, n := range priorityNames {
		if strings.EqualFold(n, s) {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

// MarshalText encodes the priority by name.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Input is the payload a task carries into its handler.
type Input struct {
	Content  string            `json:"content"`
	Criteria []string          `json:"criteria,omitempty"`
	Keywords []string          `json:"keywords,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Output is the payload a handler returns on success.
type Output struct {
	Content    string  `json:"content"`
	Decision   string  `json:"decision,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Revisions  int     `json:"revisions,omitempty"`
	RevisionID string  `json:"revision_id,omitempty"`
}

// Error is the machine-readable failure attached to a failed task.
type Error struct {
	Kind   domain.Kind `json:"kind"`
	Detail string      `json:"detail"`
}

// ErrorFrom converts a handler error into a task error. Unclassified errors
// are recorded as handler faults.
func ErrorFrom(err error) *Error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return &Error{Kind: de.Kind, Detail: err.Error()}
	}
	return &Error{Kind: domain.KindHandlerFault, Detail: err.Error()}
}

// Task represents one unit of work routed through the system.
type Task struct {
	ID          string     `json:"id"`
	ParentID    string     `json:"parent_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Type        string     `json:"type"`
	Priority    Priority   `json:"priority"`
	State       State      `json:"state"`
	ActorID     string     `json:"actor_id,omitempty"`
	Input       Input      `json:"input"`
	Output      *Output    `json:"output,omitempty"`
	Error       *Error     `json:"error,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Transition moves the task to the next state or returns ErrIllegalTransition.
func (t *Task) Transition(to State) error {
	if !CanTransition(t.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.State, to)
	}
	t.State = to
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Status is the read model returned to submitters.
type Status struct {
	ID      string  `json:"id"`
	State   State   `json:"state"`
	ActorID string  `json:"actor_id,omitempty"`
	Output  *Output `json:"output,omitempty"`
	Error   *Error  `json:"error,omitempty"`
}

// StatusOf projects a task to its status view.
func StatusOf(t *Task) Status {
	return Status{ID: t.ID, State: t.State, ActorID: t.ActorID, Output: t.Output, Error: t.Error}
}

// SubmitRequest holds the fields needed to submit a new task.
type SubmitRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Type        string     `json:"type"`
	Priority    Priority   `json:"priority"`
	ParentID    string     `json:"parent_id,omitempty"`
	Input       Input      `json:"input"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

var (
	ErrTitleRequired     = errors.New("task title is required")
	ErrTypeRequired      = errors.New("task type is required")
	ErrContentRequired   = errors.New("task input content is required")
	ErrInvalidPriority   = errors.New("invalid priority: must be low, normal, high, or critical")
	ErrDeadlinePassed    = errors.New("task deadline is in the past")
	ErrIllegalTransition = errors.New("illegal task state transition")
)

// Validate checks the request for structural correctness.
func (r *SubmitRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return ErrTitleRequired
	}
	if strings.TrimSpace(r.Type) == "" {
		return ErrTypeRequired
	}
	if strings.TrimSpace(r.Input.Content) == "" {
		return ErrContentRequired
	}
	if r.Priority < PriorityLow || r.Priority > PriorityCritical {
		return ErrInvalidPriority
	}
	if r.Deadline != nil && r.Deadline.Before(time.Now()) {
		return ErrDeadlinePassed
	}
	return nil
}

// Filter narrows task queries. Zero values match everything.
type Filter struct {
	State    State  `json:"state,omitempty"`
	Type     string `json:"type,omitempty"`
	ActorID  string `json:"actor_id,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Match reports whether t passes the filter.
func (f Filter) Match(t *Task) bool {
	if f.State != "" && t.State != f.State {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.ActorID != "" && t.ActorID != f.ActorID {
		return false
	}
	if f.ParentID != "" && t.ParentID != f.ParentID {
		return false
	}
	return true
}
