// Package draft models the append-only revision chain of a task's content.
package draft

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ReviewForge/internal/domain/diff"
)

// Revision is one immutable version of a task's content. Diff holds the
// change set from the previous revision and is nil for the first.
type Revision struct {
	ID        string       `json:"id"`
	TaskID    string       `json:"task_id"`
	Number    int          `json:"number"`
	Content   string       `json:"content"`
	Diff      *diff.Result `json:"diff,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// ErrEmptyContent is returned when a revision has no content.
var ErrEmptyContent = errors.New("revision content is required")

// Chain is the ordered revision history of one task. It only grows.
type Chain struct {
	TaskID    string
	revisions []Revision
}

// NewChain starts an empty chain for a task.
func NewChain(taskID string) *Chain {
	return &Chain{TaskID: taskID}
}

// Append adds a new revision after the latest and returns it.
func (c *Chain) Append(content string, d *diff.Result) (Revision, error) {
	if content == "" {
		return Revision{}, ErrEmptyContent
	}
	rev := Revision{
		ID:        uuid.New().String(),
		TaskID:    c.TaskID,
		Number:    len(c.revisions) + 1,
		Content:   content,
		Diff:      d,
		CreatedAt: time.Now().UTC(),
	}
	c.revisions = append(c.revisions, rev)
	return rev, nil
}

// Len returns the number of revisions.
func (c *Chain) Len() int { return len(c.revisions) }
