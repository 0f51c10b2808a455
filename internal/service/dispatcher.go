package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ReviewForge/internal/adapter/otel"
	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/event"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
	"github.com/Strob0t/ReviewForge/internal/port/database"
)

// ErrShuttingDown is returned by Submit after Shutdown has begun.
var ErrShuttingDown = errors.New("dispatcher is shutting down")

// DispatcherConfig tunes routing and cancellation.
type DispatcherConfig struct {
	// RouteAttempts bounds find-and-reserve rounds per submission.
	RouteAttempts int
	// GracePeriod is how long a cancelled handler may keep running before
	// the dispatcher reclaims its actor.
	GracePeriod time.Duration
}

// execution tracks one task between assignment and a terminal state.
type execution struct {
	mu      sync.Mutex
	task    *task.Task
	actorID string
	started time.Time

	cancel    context.CancelFunc
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// Dispatcher accepts tasks, routes each to a capable actor and tracks it to
// completion. Submit never waits for the handler.
type Dispatcher struct {
	registry   *Registry
	classifier Classifier
	store      database.Store
	events     *EventPublisher
	metrics    *otel.Metrics
	cfg        DispatcherConfig

	mu      sync.Mutex
	runs    map[string]*execution
	closing bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. events and metrics may be nil.
func NewDispatcher(cfg DispatcherConfig, registry *Registry, classifier Classifier, store database.Store, events *EventPublisher, metrics *otel.Metrics) *Dispatcher {
	if cfg.RouteAttempts < 1 {
		cfg.RouteAttempts = 3
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	return &Dispatcher{
		registry:   registry,
		classifier: classifier,
		store:      store,
		events:     events,
		metrics:    metrics,
		cfg:        cfg,
		runs:       make(map[string]*execution),
	}
}

// Submit validates and persists a task, routes it and hands it off. It
// returns as soon as the task is assigned. When no actor can take the task
// the task is stored as failed and a routing failure is returned with it.
func (d *Dispatcher) Submit(ctx context.Context, req task.SubmitRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if req.ParentID != "" {
		if _, err := d.store.GetTask(ctx, req.ParentID); err != nil {
			return nil, fmt.Errorf("parent task %s: %w", req.ParentID, err)
		}
	}

	d.mu.Lock()
	closing := d.closing
	d.mu.Unlock()
	if closing {
		return nil, ErrShuttingDown
	}

	now := time.Now().UTC()
	t := &task.Task{
		ID:          uuid.New().String(),
		ParentID:    req.ParentID,
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Priority:    req.Priority,
		State:       task.StatePending,
		Input:       req.Input,
		Deadline:    req.Deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := d.store.SaveTask(ctx, t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	d.metrics.TaskSubmitted(ctx, t.Type)
	d.events.Publish(ctx, event.TypeTaskSubmitted, t.ID, "", task.StatusOf(t))

	required, err := d.classifier.Classify(t)
	var reserved Reserved
	if err == nil {
		reserved, err = d.registry.Acquire(ctx, required, d.cfg.RouteAttempts)
	}
	if err != nil {
		d.failUnrouted(ctx, t, err)
		return snapshot(t), err
	}

	t.ActorID = reserved.Actor.ID
	if err := t.Transition(task.StateAssigned); err != nil {
		d.registry.Release(ctx, reserved.Actor.ID, Outcome{})
		return nil, err
	}
	if err := d.store.SaveTask(ctx, t); err != nil {
		d.registry.Release(ctx, reserved.Actor.ID, Outcome{})
		return nil, fmt.Errorf("save assigned task: %w", err)
	}
	d.events.Publish(ctx, event.TypeTaskAssigned, t.ID, reserved.Actor.ID, task.StatusOf(t))
	slog.Info("task assigned", "task_id", t.ID, "type", t.Type, "actor_id", reserved.Actor.ID, "capabilities", required.String())

	out := snapshot(t)
	d.start(ctx, t, reserved)
	return out, nil
}

// failUnrouted records a task that could not be routed.
func (d *Dispatcher) failUnrouted(ctx context.Context, t *task.Task, cause error) {
	t.Error = task.ErrorFrom(cause)
	if err := t.Transition(task.StateFailed); err != nil {
		slog.Error("fail unrouted task", "task_id", t.ID, "error", err)
		return
	}
	if err := d.store.SaveTask(ctx, t); err != nil {
		slog.Error("save unrouted task", "task_id", t.ID, "error", err)
	}
	slog.Warn("task routing failed", "task_id", t.ID, "type", t.Type, "error", cause)
	d.metrics.TaskFinished(ctx, t.Type, string(t.State), string(t.Error.Kind), 0)
	d.events.Publish(ctx, event.TypeTaskFailed, t.ID, "", task.StatusOf(t))
}

// start runs the handler on a context detached from the caller's
// cancellation but carrying its values.
func (d *Dispatcher) start(ctx context.Context, t *task.Task, reserved Reserved) {
	runCtx := context.WithoutCancel(ctx)
	var stopDeadline context.CancelFunc = func() {}
	if t.Deadline != nil {
		runCtx, stopDeadline = context.WithDeadline(runCtx, *t.Deadline)
	}
	runCtx, cancel := context.WithCancel(runCtx)

	ex := &execution{
		task:    t,
		actorID: reserved.Actor.ID,
		started: time.Now(),
		cancel: func() {
			cancel()
			stopDeadline()
		},
		done: make(chan struct{}),
	}

	d.mu.Lock()
	d.runs[t.ID] = ex
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer ex.cancel()
		d.execute(runCtx, ex, reserved.Handler)
	}()
}

func (d *Dispatcher) execute(ctx context.Context, ex *execution, h Handler) {
	ex.mu.Lock()
	t := ex.task
	if t.State.Terminal() {
		ex.mu.Unlock()
		return
	}
	if err := t.Transition(task.StateInProgress); err != nil {
		ex.mu.Unlock()
		d.finish(ctx, ex, task.Output{}, err)
		return
	}
	if err := d.store.SaveTask(ctx, t); err != nil {
		slog.Warn("save started task", "task_id", t.ID, "error", err)
	}
	input := *t
	ex.mu.Unlock()

	ctx, span := otel.StartTaskSpan(ctx, input.ID, input.Type, ex.actorID)
	defer span.End()
	d.events.Publish(ctx, event.TypeTaskStarted, input.ID, ex.actorID, task.StatusOf(&input))

	out, err := invoke(ctx, h, &input)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
	}
	d.finish(ctx, ex, out, err)
}

// invoke calls the handler variant, converting a panic into an error.
func invoke(ctx context.Context, h Handler, t *task.Task) (out task.Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	switch h := h.(type) {
	case DepartmentHandler:
		return h.Handle(ctx, t)
	case ReviewerHandler:
		return h.Handle(ctx, t)
	case ProducerHandler:
		return h.Handle(ctx, t)
	default:
		return task.Output{}, errNilHandler
	}
}

// finish moves the task to its terminal state exactly once, releases the
// actor and publishes the outcome.
func (d *Dispatcher) finish(ctx context.Context, ex *execution, out task.Output, handlerErr error) {
	ex.once.Do(func() {
		ctx = context.WithoutCancel(ctx)

		ex.mu.Lock()
		t := ex.task
		fault := false
		state := task.StateCompleted
		switch {
		case handlerErr == nil:
			t.Output = &out
		case ex.cancelled.Load():
			state = task.StateCancelled
			t.Error = &task.Error{Kind: domain.KindCancelled, Detail: "cancelled on request"}
		case errors.Is(handlerErr, context.DeadlineExceeded) && t.Deadline != nil && !time.Now().Before(*t.Deadline):
			state = task.StateFailed
			t.Error = &task.Error{Kind: domain.KindDeadlineExceeded, Detail: fmt.Sprintf("deadline %s passed: %v", t.Deadline.Format(time.RFC3339), handlerErr)}
		default:
			state = task.StateFailed
			t.Error = task.ErrorFrom(handlerErr)
			fault = t.Error.Kind == domain.KindHandlerFault
		}
		if handlerErr != nil && out.RevisionID != "" {
			partial := out
			t.Output = &partial
		}
		if err := t.Transition(state); err != nil {
			slog.Error("finish task", "task_id", t.ID, "state", state, "error", err)
		}
		if err := d.store.SaveTask(ctx, t); err != nil {
			slog.Error("save finished task", "task_id", t.ID, "state", t.State, "error", err)
		}
		status := task.StatusOf(t)
		typ := t.Type
		ex.mu.Unlock()

		elapsed := time.Since(ex.started)
		d.registry.Release(ctx, ex.actorID, Outcome{
			Fault:   fault,
			Counted: true,
			Success: handlerErr == nil,
			Latency: elapsed,
		})

		kind := ""
		if status.Error != nil {
			kind = string(status.Error.Kind)
		}
		d.metrics.TaskFinished(ctx, typ, string(status.State), kind, elapsed.Seconds())

		switch status.State {
		case task.StateCompleted:
			slog.Info("task completed", "task_id", t.ID, "actor_id", ex.actorID, "duration_ms", elapsed.Milliseconds())
			d.events.Publish(ctx, event.TypeTaskCompleted, t.ID, ex.actorID, status)
		case task.StateCancelled:
			slog.Info("task cancelled", "task_id", t.ID, "actor_id", ex.actorID)
			d.events.Publish(ctx, event.TypeTaskCancelled, t.ID, ex.actorID, status)
		default:
			slog.Warn("task failed", "task_id", t.ID, "actor_id", ex.actorID, "kind", kind, "error", handlerErr)
			d.events.Publish(ctx, event.TypeTaskFailed, t.ID, ex.actorID, status)
		}

		d.mu.Lock()
		delete(d.runs, t.ID)
		d.mu.Unlock()
		close(ex.done)
	})
}

// Cancel asks a running task to stop. The handler's context is cancelled at
// once; if it has not returned after the grace period the task is marked
// cancelled and its actor reclaimed regardless.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	d.mu.Lock()
	ex, ok := d.runs[id]
	d.mu.Unlock()
	if !ok {
		t, err := d.store.GetTask(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("task %s is %s: %w", id, t.State, domain.ErrConflict)
	}

	if !ex.cancelled.CompareAndSwap(false, true) {
		return nil
	}
	slog.Info("task cancel requested", "task_id", id, "grace", d.cfg.GracePeriod)
	ex.cancel()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		timer := time.NewTimer(d.cfg.GracePeriod)
		defer timer.Stop()
		select {
		case <-ex.done:
		case <-timer.C:
			slog.Warn("handler ignored cancellation, reclaiming actor", "task_id", id, "actor_id", ex.actorID)
			d.finish(ctx, ex, task.Output{}, context.Canceled)
		}
	}()
	return nil
}

// GetStatus returns the current status of a task.
func (d *Dispatcher) GetStatus(ctx context.Context, id string) (task.Status, error) {
	t, err := d.store.GetTask(ctx, id)
	if err != nil {
		return task.Status{}, err
	}
	return task.StatusOf(t), nil
}

// Get returns the stored task.
func (d *Dispatcher) Get(ctx context.Context, id string) (*task.Task, error) {
	return d.store.GetTask(ctx, id)
}

// Wait blocks until the task is terminal or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context, id string) (*task.Task, error) {
	d.mu.Lock()
	ex, ok := d.runs[id]
	d.mu.Unlock()
	if ok {
		select {
		case <-ex.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.store.GetTask(ctx, id)
}

// List returns stored tasks matching filter.
func (d *Dispatcher) List(ctx context.Context, filter task.Filter) ([]task.Task, error) {
	return d.store.ListTasks(ctx, filter)
}

// Running returns the number of tasks currently executing.
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runs)
}

// Shutdown stops accepting tasks and waits for running ones. When ctx ends
// first, every running task is cancelled and ctx.Err is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		for _, ex := range d.runs {
			ex.cancelled.Store(true)
			ex.cancel()
		}
		d.mu.Unlock()
		return ctx.Err()
	}
}

func snapshot(t *task.Task) *task.Task {
	cp := *t
	return &cp
}
