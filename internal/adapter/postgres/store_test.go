package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ReviewForge/internal/adapter/postgres"
	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/capability"
	"github.com/Strob0t/ReviewForge/internal/domain/diff"
	"github.com/Strob0t/ReviewForge/internal/domain/draft"
	"github.com/Strob0t/ReviewForge/internal/domain/event"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
	"github.com/Strob0t/ReviewForge/internal/port/database"
	"github.com/Strob0t/ReviewForge/internal/port/eventstore"
)

var (
	_ database.Store   = (*postgres.Store)(nil)
	_ eventstore.Store = (*postgres.EventStore)(nil)
)

// setupPool connects, runs all migrations and returns a pool that is closed
// via t.Cleanup. Skips when DATABASE_URL is not set.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func newTask(parent string) *task.Task {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &task.Task{
		ID:        uuid.New().String(),
		ParentID:  parent,
		Title:     "Launch post",
		Type:      "content",
		Priority:  task.PriorityHigh,
		State:     task.StatePending,
		Input:     task.Input{Content: "Draft.", Keywords: []string{"launch"}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := postgres.NewStore(setupPool(t))
	ctx := context.Background()

	tk := newTask("")
	if err := s.SaveTask(ctx, tk); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if tk.Version != 1 {
		t.Fatalf("version after insert = %d, want 1", tk.Version)
	}

	dup := *tk
	dup.Version = 0
	if err := s.SaveTask(ctx, &dup); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate insert err = %v, want ErrConflict", err)
	}

	stale := *tk
	tk.State = task.StateCompleted
	tk.Output = &task.Output{Content: "Final.", Decision: "accept", Score: 88.5, Revisions: 2}
	if err := s.SaveTask(ctx, tk); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.SaveTask(ctx, &stale); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale update err = %v, want ErrConflict", err)
	}

	missing := newTask("")
	missing.Version = 3
	if err := s.SaveTask(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("update of missing task err = %v, want ErrNotFound", err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != task.StateCompleted || got.Output == nil || got.Output.Score != 88.5 {
		t.Fatalf("got %+v", got)
	}
	if got.Priority != task.PriorityHigh || got.Input.Keywords[0] != "launch" {
		t.Fatalf("input not round-tripped: %+v", got)
	}
	if got.Version != 2 {
		t.Fatalf("version = %d, want 2", got.Version)
	}

	if _, err := s.GetTask(ctx, uuid.New().String()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get missing err = %v", err)
	}
}

func TestListTasksByParent(t *testing.T) {
	s := postgres.NewStore(setupPool(t))
	ctx := context.Background()

	parent := newTask("")
	if err := s.SaveTask(ctx, parent); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := s.SaveTask(ctx, newTask(parent.ID)); err != nil {
			t.Fatal(err)
		}
	}

	subs, err := s.ListTasks(ctx, task.Filter{ParentID: parent.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 3 {
		t.Fatalf("expected 3 subtasks, got %d", len(subs))
	}
	limited, err := s.ListTasks(ctx, task.Filter{ParentID: parent.ID, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].ID != subs[0].ID {
		t.Fatalf("limit should keep submission order: %+v", limited)
	}
}

func TestActorUpsert(t *testing.T) {
	s := postgres.NewStore(setupPool(t))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	a := &actor.Actor{
		ID:            uuid.New().String(),
		Name:          "style",
		Kind:          actor.KindReviewer,
		Capabilities:  capability.Of(capability.Review, capability.ContentReview).WithMaxParallelReviews(2),
		Status:        actor.StatusIdle,
		RegisteredSeq: now.UnixNano(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.SaveActor(ctx, a); err != nil {
		t.Fatal(err)
	}
	a.Status = actor.StatusBusy
	a.Stats.Record(true, 120*time.Millisecond)
	if err := s.SaveActor(ctx, a); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetActor(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != actor.StatusBusy || got.Stats.TasksCompleted != 1 {
		t.Fatalf("got %+v", got)
	}
	if !got.Capabilities.Has(capability.ContentReview) || got.Capabilities.MaxParallelReviews != 2 {
		t.Fatalf("capabilities not round-tripped: %v", got.Capabilities)
	}
}

func TestRevisionsResultsConsensus(t *testing.T) {
	s := postgres.NewStore(setupPool(t))
	ctx := context.Background()

	tk := newTask("")
	if err := s.SaveTask(ctx, tk); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	r1 := &draft.Revision{ID: uuid.New().String(), TaskID: tk.ID, Number: 1, Content: "One.", CreatedAt: now}
	r2 := &draft.Revision{
		ID: uuid.New().String(), TaskID: tk.ID, Number: 2, Content: "One. Two.", CreatedAt: now,
		Diff: &diff.Result{Granularity: diff.GranularitySentence, Changes: []diff.Change{{Kind: diff.KindAdd, After: "Two."}}},
	}
	for _, r := range []*draft.Revision{r2, r1} {
		if err := s.SaveRevision(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	dup := *r1
	dup.ID = uuid.New().String()
	if err := s.SaveRevision(ctx, &dup); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate number err = %v, want ErrConflict", err)
	}
	revs, err := s.ListRevisions(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(revs) != 2 || revs[0].Number != 1 || revs[1].Diff == nil {
		t.Fatalf("revisions = %+v", revs)
	}

	res := &review.Result{
		ID: uuid.New().String(), TaskID: tk.ID, RevisionID: r1.ID, ReviewerID: "style",
		Scores:    []review.CriterionScore{{Criterion: "length", Score: 70}},
		Aggregate: 70, Suggestions: []string{"Expand the draft."}, LatencyMS: 12, CreatedAt: now,
	}
	if err := s.SaveReviewResult(ctx, res); err != nil {
		t.Fatal(err)
	}
	results, err := s.ListReviewResults(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Scores[0].Score != 70 || results[0].Suggestions[0] != "Expand the draft." {
		t.Fatalf("results = %+v", results)
	}

	c := &review.Consensus{
		ID: uuid.New().String(), TaskID: tk.ID, RevisionID: r1.ID, Cycle: 1, CombinedScore: 70,
		Decision: review.DecisionRevise, ReviewerCount: 2, QuorumMet: true,
		Reviewers: []string{"style", "facts"}, TimedOut: []string{"slow"}, CreatedAt: now,
	}
	if err := s.SaveConsensus(ctx, c); err != nil {
		t.Fatal(err)
	}
	records, err := s.ListConsensus(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Decision != review.DecisionRevise || records[0].TimedOut[0] != "slow" {
		t.Fatalf("consensus = %+v", records)
	}
}

func TestEventStoreFilter(t *testing.T) {
	es := postgres.NewEventStore(setupPool(t))
	ctx := context.Background()

	taskID := uuid.New().String()
	base := time.Now().UTC().Truncate(time.Microsecond)
	types := []event.Type{event.TypeTaskSubmitted, event.TypeReviewCompleted, event.TypeTaskCompleted}
	for i, typ := range types {
		payload, _ := json.Marshal(map[string]int{"n": i})
		ev := &event.Event{
			ID: uuid.New().String(), TaskID: taskID, Type: typ, Payload: payload,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := es.Append(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	all, err := es.LoadByTask(ctx, taskID, event.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Type != event.TypeTaskSubmitted {
		t.Fatalf("events = %+v", all)
	}

	after := base
	onlyTasks, err := es.LoadByTask(ctx, taskID, event.Filter{
		Types: []event.Type{event.TypeTaskSubmitted, event.TypeTaskCompleted},
		After: &after,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyTasks) != 1 || onlyTasks[0].Type != event.TypeTaskCompleted {
		t.Fatalf("filtered events = %+v", onlyTasks)
	}

	limited, err := es.LoadByTask(ctx, taskID, event.Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
}
