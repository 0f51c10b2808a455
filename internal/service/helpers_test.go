package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/ReviewForge/internal/adapter/memory"
	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/capability"
	"github.com/Strob0t/ReviewForge/internal/domain/draft"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/messagequeue"
	"github.com/Strob0t/ReviewForge/internal/port/producer"
	"github.com/Strob0t/ReviewForge/internal/port/reviewer"
)

// recordingHub implements broadcast.Broadcaster and remembers event types.
type recordingHub struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHub) BroadcastEvent(_ context.Context, eventType, _ string, _ any) {
	h.mu.Lock()
	h.events = append(h.events, eventType)
	h.mu.Unlock()
}

func (h *recordingHub) count(eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu        sync.Mutex
	published []string
	handlers  map[string]messagequeue.Handler
}

func (q *mockQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	q.published = append(q.published, subject)
	q.mu.Unlock()
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]messagequeue.Handler)
	}
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

// producerFunc adapts a function to producer.Producer.
type producerFunc func(ctx context.Context, req producer.Request) (string, error)

func (f producerFunc) Revise(ctx context.Context, req producer.Request) (string, error) {
	return f(ctx, req)
}

// fixedReviewer scores every criterion with the same value.
func fixedReviewer(score float64) reviewer.Reviewer {
	return scoringReviewer(func(draft.Revision) float64 { return score })
}

func scoringReviewer(fn func(draft.Revision) float64) reviewer.Reviewer {
	return reviewer.Func(func(ctx context.Context, rev draft.Revision, rubric review.Rubric) (review.Result, error) {
		if err := ctx.Err(); err != nil {
			return review.Result{}, err
		}
		score := fn(rev)
		res := review.Result{Aggregate: score}
		for _, c := range rubric.Criteria {
			res.Scores = append(res.Scores, review.CriterionScore{Criterion: c.Name, Score: score})
		}
		return res, nil
	})
}

// slowReviewer answers after d unless ctx ends first.
func slowReviewer(d time.Duration, score float64) reviewer.Reviewer {
	fast := fixedReviewer(score)
	return reviewer.Func(func(ctx context.Context, rev draft.Revision, rubric review.Rubric) (review.Result, error) {
		select {
		case <-ctx.Done():
			return review.Result{}, ctx.Err()
		case <-time.After(d):
		}
		return fast.Review(ctx, rev, rubric)
	})
}

type fixture struct {
	store    *memory.Store
	hub      *recordingHub
	events   *EventPublisher
	registry *Registry
}

func newFixture() *fixture {
	store := memory.NewStore()
	hub := &recordingHub{}
	events := NewEventPublisher(hub, &mockQueue{}, memory.NewEventStore())
	return &fixture{
		store:    store,
		hub:      hub,
		events:   events,
		registry: NewRegistry(store, events),
	}
}

func (f *fixture) addReviewer(t *testing.T, name string, r reviewer.Reviewer, flags ...capability.Flag) string {
	t.Helper()
	caps := capability.Of(capability.Review).With(flags...)
	a, err := f.registry.Register(context.Background(), actor.RegisterRequest{
		Name:         name,
		Kind:         actor.KindReviewer,
		Capabilities: caps,
	}, ReviewerHandler{Reviewer: r})
	if err != nil {
		t.Fatalf("register reviewer %s: %v", name, err)
	}
	return a.ID
}

func (f *fixture) coordinator(t *testing.T, policy review.Policy, prod producer.Producer) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(CoordinatorConfig{
		Policy:     policy,
		Department: capability.ContentReview,
	}, f.registry, prod, NewDiffService(nil, nil, 0), f.store, f.events, nil)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

func (f *fixture) statusOf(t *testing.T, id string) actor.Status {
	t.Helper()
	a, err := f.registry.Get(id)
	if err != nil {
		t.Fatalf("get actor %s: %v", id, err)
	}
	return a.Status
}

func testPolicy() review.Policy {
	p := review.DefaultPolicy()
	p.Timeout = 2 * time.Second
	return p
}

func refs(pairs ...any) []ReviewerRef {
	out := make([]ReviewerRef, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, ReviewerRef{ID: pairs[i].(string), Reviewer: pairs[i+1].(reviewer.Reviewer)})
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
