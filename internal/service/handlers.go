package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/draft"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
	"github.com/Strob0t/ReviewForge/internal/port/database"
	"github.com/Strob0t/ReviewForge/internal/port/producer"
	"github.com/Strob0t/ReviewForge/internal/port/reviewer"
)

// Handler is the closed set of ways a registered actor can execute a task.
// The variants are DepartmentHandler, ReviewerHandler and ProducerHandler.
type Handler interface {
	Kind() actor.Kind
	Handle(ctx context.Context, t *task.Task) (task.Output, error)
	sealed()
}

// DepartmentHandler runs the full review and revision loop of a department
// coordinator.
type DepartmentHandler struct {
	Coordinator *Coordinator
}

func (DepartmentHandler) Kind() actor.Kind { return actor.KindCoordinator }
func (DepartmentHandler) sealed()          {}

// Handle implements Handler.
func (h DepartmentHandler) Handle(ctx context.Context, t *task.Task) (task.Output, error) {
	return h.Coordinator.Run(ctx, t)
}

// ReviewerHandler answers a task with a single review of its content. When
// the handler is reserved by a coordinator only Reviewer is used.
type ReviewerHandler struct {
	Reviewer reviewer.Reviewer
	Rubric   review.Rubric
	Store    database.Store
}

func (ReviewerHandler) Kind() actor.Kind { return actor.KindReviewer }
func (ReviewerHandler) sealed()          {}

// Handle implements Handler.
func (h ReviewerHandler) Handle(ctx context.Context, t *task.Task) (task.Output, error) {
	rev := draft.Revision{
		ID:        uuid.New().String(),
		TaskID:    t.ID,
		Number:    1,
		Content:   t.Input.Content,
		CreatedAt: time.Now().UTC(),
	}
	rubric := rubricFor(h.Rubric, t)
	res, err := h.Reviewer.Review(ctx, rev, rubric)
	if err != nil {
		return task.Output{}, fmt.Errorf("review task %s: %w", t.ID, err)
	}
	if t.ActorID != "" {
		res.ReviewerID = t.ActorID
	}
	res.TaskID = t.ID
	res.RevisionID = rev.ID
	if h.Store != nil {
		if err := h.Store.SaveRevision(ctx, &rev); err != nil {
			slog.Warn("save revision", "task_id", t.ID, "error", err)
		}
		if err := h.Store.SaveReviewResult(ctx, &res); err != nil {
			slog.Warn("save review result", "task_id", t.ID, "error", err)
		}
	}
	return task.Output{
		Content:    t.Input.Content,
		Score:      res.Aggregate,
		Revisions:  1,
		RevisionID: rev.ID,
	}, nil
}

// ProducerHandler drafts content from a task description.
type ProducerHandler struct {
	Producer producer.Producer
}

func (ProducerHandler) Kind() actor.Kind { return actor.KindProducer }
func (ProducerHandler) sealed()          {}

// Handle implements Handler.
func (h ProducerHandler) Handle(ctx context.Context, t *task.Task) (task.Output, error) {
	content, err := h.Producer.Revise(ctx, producer.Request{
		Task:    t,
		Current: draft.Revision{TaskID: t.ID, Number: 1, Content: t.Input.Content},
	})
	if err != nil {
		return task.Output{}, fmt.Errorf("produce draft for task %s: %w", t.ID, err)
	}
	return task.Output{Content: content, Revisions: 1}, nil
}

var errNilHandler = errors.New("handler is required for non-dispatcher actors")

// rubricFor narrows the base rubric to the task's requested criteria and
// keywords.
func rubricFor(base review.Rubric, t *task.Task) review.Rubric {
	if len(base.Criteria) == 0 {
		base = review.DefaultRubric()
	}
	r := base.WithCriteria(t.Input.Criteria)
	if len(t.Input.Keywords) > 0 {
		r.Keywords = append([]string(nil), t.Input.Keywords...)
	}
	return r
}
