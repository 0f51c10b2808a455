package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ReviewForge/internal/domain/task"
	"github.com/Strob0t/ReviewForge/internal/port/messagequeue"
)

// SubscribeIntake consumes tasks.submit and tasks.cancel messages from q.
// The returned function cancels both subscriptions.
func (d *Dispatcher) SubscribeIntake(ctx context.Context, q messagequeue.Queue) (func(), error) {
	unsubSubmit, err := q.Subscribe(ctx, messagequeue.SubjectTaskSubmit, d.handleSubmitMessage)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectTaskSubmit, err)
	}
	unsubCancel, err := q.Subscribe(ctx, messagequeue.SubjectTaskCancel, d.handleCancelMessage)
	if err != nil {
		unsubSubmit()
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectTaskCancel, err)
	}
	return func() {
		unsubSubmit()
		unsubCancel()
	}, nil
}

func (d *Dispatcher) handleSubmitMessage(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.TaskSubmitPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode submit: %w", err)
	}
	prio, err := task.ParsePriority(p.Priority)
	if err != nil {
		return err
	}
	t, err := d.Submit(ctx, task.SubmitRequest{
		Title:       p.Title,
		Description: p.Description,
		Type:        p.Type,
		Priority:    prio,
		ParentID:    p.ParentID,
		Input: task.Input{
			Content:  p.Content,
			Criteria: p.Criteria,
			Keywords: p.Keywords,
			Metadata: p.Metadata,
		},
	})
	if err != nil && t != nil {
		// The task exists and has been failed; redelivery would duplicate it.
		slog.WarnContext(ctx, "queued task not routed", "task_id", t.ID, "type", t.Type, "error", err)
		return nil
	}
	return err
}

func (d *Dispatcher) handleCancelMessage(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.TaskCancelPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode cancel: %w", err)
	}
	return d.Cancel(ctx, p.TaskID)
}
