package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/capability"
	"github.com/Strob0t/ReviewForge/internal/domain/diff"
	"github.com/Strob0t/ReviewForge/internal/domain/draft"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
	"github.com/Strob0t/ReviewForge/internal/port/producer"
	"github.com/Strob0t/ReviewForge/internal/port/reviewer"
)

var testRevision = draft.Revision{ID: "rev-1", TaskID: "task-1", Number: 1, Content: "A short draft. It reads fine."}

func TestReviewDraftCombinesScores(t *testing.T) {
	f := newFixture()
	c := f.coordinator(t, testPolicy(), nil)

	round, err := c.ReviewDraft(context.Background(), testRevision,
		refs("a", fixedReviewer(90), "b", fixedReviewer(85), "c", fixedReviewer(40)),
		testPolicy(), review.DefaultRubric())
	if err != nil {
		t.Fatalf("ReviewDraft: %v", err)
	}
	cons := round.Consensus
	if cons.CombinedScore != 71.7 {
		t.Errorf("score = %v, want 71.7", cons.CombinedScore)
	}
	if cons.Decision != review.DecisionRevise {
		t.Errorf("decision = %s, want revise", cons.Decision)
	}
	if !cons.QuorumMet || cons.ReviewerCount != 3 {
		t.Errorf("quorum = %v count = %d", cons.QuorumMet, cons.ReviewerCount)
	}
	if cons.TaskID != "task-1" || cons.RevisionID != "rev-1" {
		t.Errorf("consensus not linked to revision: %+v", cons)
	}
	for _, r := range round.Results {
		if r.RevisionID != "rev-1" || r.ID == "" {
			t.Errorf("result not stamped: %+v", r)
		}
	}
}

func TestReviewDraftQuorumWithTimeouts(t *testing.T) {
	policy := testPolicy()
	policy.Timeout = 50 * time.Millisecond

	tests := []struct {
		name         string
		pool         []ReviewerRef
		wantErr      error
		wantResults  int
		wantTimedOut int
	}{
		{
			name:         "one timeout keeps quorum",
			pool:         refs("a", fixedReviewer(90), "b", fixedReviewer(80), "c", slowReviewer(time.Second, 10)),
			wantResults:  2,
			wantTimedOut: 1,
		},
		{
			name:         "two timeouts deadlock",
			pool:         refs("a", fixedReviewer(90), "b", slowReviewer(time.Second, 10), "c", slowReviewer(time.Second, 10)),
			wantErr:      domain.ErrConsensusDeadlock,
			wantResults:  1,
			wantTimedOut: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFixture().coordinator(t, policy, nil)
			round, err := c.ReviewDraft(context.Background(), testRevision, tt.pool, policy, review.DefaultRubric())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if len(round.Results) != tt.wantResults {
				t.Errorf("results = %d, want %d", len(round.Results), tt.wantResults)
			}
			if len(round.TimedOut) != tt.wantTimedOut {
				t.Errorf("timed out = %v, want %d", round.TimedOut, tt.wantTimedOut)
			}
			if tt.wantErr == nil && round.Consensus.ReviewerCount != tt.wantResults {
				t.Errorf("timed out reviewers must be excluded from consensus, count = %d", round.Consensus.ReviewerCount)
			}
		})
	}
}

func TestReviewDraftExcludesFailedReviewer(t *testing.T) {
	policy := testPolicy()
	broken := reviewer.Func(func(context.Context, draft.Revision, review.Rubric) (review.Result, error) {
		return review.Result{}, errors.New("model unavailable")
	})
	outOfRange := reviewer.Func(func(context.Context, draft.Revision, review.Rubric) (review.Result, error) {
		return review.Result{Aggregate: 140}, nil
	})
	c := newFixture().coordinator(t, policy, nil)

	round, err := c.ReviewDraft(context.Background(), testRevision,
		refs("a", fixedReviewer(90), "b", broken, "c", fixedReviewer(70), "d", outOfRange),
		policy, review.DefaultRubric())
	if err != nil {
		t.Fatalf("ReviewDraft: %v", err)
	}
	if len(round.Failed) != 2 {
		t.Fatalf("failed = %v, want b and d", round.Failed)
	}
	if round.Consensus.CombinedScore != 80 {
		t.Fatalf("score = %v, want 80", round.Consensus.CombinedScore)
	}
}

func TestReviewDraftEarlyQuorum(t *testing.T) {
	policy := testPolicy()
	policy.EarlyQuorum = true
	policy.Timeout = 5 * time.Second
	c := newFixture().coordinator(t, policy, nil)

	start := time.Now()
	round, err := c.ReviewDraft(context.Background(), testRevision,
		refs("a", fixedReviewer(90), "b", fixedReviewer(90), "c", slowReviewer(3*time.Second, 0)),
		policy, review.DefaultRubric())
	if err != nil {
		t.Fatalf("ReviewDraft: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("early quorum did not stop collection, took %v", time.Since(start))
	}
	if len(round.TimedOut) != 0 {
		t.Fatalf("stragglers must not count as timeouts: %v", round.TimedOut)
	}
	if round.Consensus.Decision != review.DecisionAccept {
		t.Fatalf("decision = %s", round.Consensus.Decision)
	}
}

func TestReviewDraftAbandonsUnresponsiveReviewer(t *testing.T) {
	policy := testPolicy()
	policy.Timeout = 50 * time.Millisecond
	release := make(chan struct{})
	defer close(release)
	stuck := reviewer.Func(func(context.Context, draft.Revision, review.Rubric) (review.Result, error) {
		<-release
		return review.Result{}, nil
	})
	c := newFixture().coordinator(t, policy, nil)

	start := time.Now()
	round, err := c.ReviewDraft(context.Background(), testRevision,
		refs("a", fixedReviewer(90), "b", fixedReviewer(90), "c", stuck), policy, review.DefaultRubric())
	if err != nil {
		t.Fatalf("ReviewDraft: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("round waited on a reviewer that ignores its context: %v", time.Since(start))
	}
	if len(round.TimedOut) != 1 || round.TimedOut[0] != "c" {
		t.Fatalf("timed out = %v", round.TimedOut)
	}
}

func TestReviewDraftParentCancelled(t *testing.T) {
	policy := testPolicy()
	c := newFixture().coordinator(t, policy, nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.ReviewDraft(ctx, testRevision,
		refs("a", slowReviewer(time.Second, 90), "b", slowReviewer(time.Second, 90)), policy, review.DefaultRubric())
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("err = %v, want cancelled", err)
	}
}

func TestReviewDraftBoundsParallelism(t *testing.T) {
	policy := testPolicy()
	policy.PoolSize = 4
	policy.MinQuorum = 4
	policy.MaxParallel = 2
	c := newFixture().coordinator(t, policy, nil)

	var inflight, peak atomic.Int32
	counting := reviewer.Func(func(ctx context.Context, rev draft.Revision, rubric review.Rubric) (review.Result, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		return fixedReviewer(80).Review(ctx, rev, rubric)
	})
	_, err := c.ReviewDraft(context.Background(), testRevision,
		refs("a", counting, "b", counting, "c", counting, "d", counting), policy, review.DefaultRubric())
	if err != nil {
		t.Fatalf("ReviewDraft: %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func contentTask(id, content string) *task.Task {
	return &task.Task{ID: id, Title: "Article", Type: "content", State: task.StateInProgress, Input: task.Input{Content: content}}
}

func TestRunAcceptsFirstCycle(t *testing.T) {
	f := newFixture()
	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		ids = append(ids, f.addReviewer(t, name, fixedReviewer(90), capability.ContentReview))
	}
	c := f.coordinator(t, testPolicy(), nil)
	ctx := context.Background()

	out, err := c.Run(ctx, contentTask("t1", "First draft. Good enough."))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Decision != string(review.DecisionAccept) || out.Score != 90 || out.Revisions != 1 {
		t.Fatalf("output = %+v", out)
	}

	revs, _ := f.store.ListRevisions(ctx, "t1")
	results, _ := f.store.ListReviewResults(ctx, "t1")
	cons, _ := f.store.ListConsensus(ctx, "t1")
	if len(revs) != 1 || len(results) != 3 || len(cons) != 1 {
		t.Fatalf("persisted revisions=%d results=%d consensus=%d", len(revs), len(results), len(cons))
	}
	for _, id := range ids {
		a, _ := f.registry.Get(id)
		if a.Status != actor.StatusIdle || a.Stats.TasksCompleted != 1 {
			t.Fatalf("reviewer %s = %s %+v, want idle with one completion", a.Name, a.Status, a.Stats)
		}
	}
}

func TestRunRejectCompletes(t *testing.T) {
	f := newFixture()
	for _, name := range []string{"a", "b", "c"} {
		f.addReviewer(t, name, fixedReviewer(30), capability.ContentReview)
	}
	out, err := f.coordinator(t, testPolicy(), nil).Run(context.Background(), contentTask("t1", "Weak draft."))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Decision != string(review.DecisionReject) {
		t.Fatalf("decision = %s, want reject", out.Decision)
	}
}

func TestRunRevisesUntilAccepted(t *testing.T) {
	f := newFixture()
	improved := scoringReviewer(func(rev draft.Revision) float64 {
		if strings.Contains(rev.Content, "Evidence") {
			return 88
		}
		return 65
	})
	for _, name := range []string{"a", "b", "c"} {
		f.addReviewer(t, name, improved, capability.ContentReview)
	}
	var calls atomic.Int32
	prod := producerFunc(func(_ context.Context, req producer.Request) (string, error) {
		calls.Add(1)
		if req.Consensus.Decision != review.DecisionRevise {
			t.Errorf("producer called with decision %s", req.Consensus.Decision)
		}
		return req.Current.Content + " Evidence supports the claim.", nil
	})
	ctx := context.Background()

	out, err := f.coordinator(t, testPolicy(), prod).Run(ctx, contentTask("t1", "A bold claim."))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Decision != string(review.DecisionAccept) || out.Revisions != 2 || calls.Load() != 1 {
		t.Fatalf("output = %+v calls = %d", out, calls.Load())
	}
	revs, _ := f.store.ListRevisions(ctx, "t1")
	if len(revs) != 2 {
		t.Fatalf("revisions = %d", len(revs))
	}
	if revs[0].Diff != nil {
		t.Fatal("first revision must not carry a diff")
	}
	if revs[1].Diff == nil || revs[1].Diff.Count(diff.KindAdd) != 1 {
		t.Fatalf("second revision diff = %+v", revs[1].Diff)
	}
	if out.RevisionID != revs[1].ID {
		t.Fatalf("output revision = %s, want latest %s", out.RevisionID, revs[1].ID)
	}
}

func TestRunMaxRevisionCycles(t *testing.T) {
	f := newFixture()
	for _, name := range []string{"a", "b", "c"} {
		f.addReviewer(t, name, fixedReviewer(70), capability.ContentReview)
	}
	var calls atomic.Int32
	prod := producerFunc(func(_ context.Context, req producer.Request) (string, error) {
		calls.Add(1)
		return req.Current.Content + " More detail.", nil
	})
	policy := testPolicy()
	policy.MaxRevisionCycles = 3
	ctx := context.Background()

	_, err := f.coordinator(t, policy, prod).Run(ctx, contentTask("t1", "Start."))
	if !errors.Is(err, domain.ErrMaxRevisionsExceeded) {
		t.Fatalf("err = %v, want max revisions exceeded", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("producer calls = %d, want 2", calls.Load())
	}
	revs, _ := f.store.ListRevisions(ctx, "t1")
	cons, _ := f.store.ListConsensus(ctx, "t1")
	if len(revs) != 3 || len(cons) != 3 {
		t.Fatalf("revisions=%d consensus=%d, want 3 each", len(revs), len(cons))
	}
	for i, c := range cons {
		if c.Cycle != i+1 || c.Decision != review.DecisionRevise {
			t.Fatalf("consensus %d = %+v", i, c)
		}
	}
}

func TestRunTooFewReviewersIsRoutingFailure(t *testing.T) {
	f := newFixture()
	f.addReviewer(t, "only", fixedReviewer(90), capability.ContentReview)
	f.addReviewer(t, "other-department", fixedReviewer(90), capability.CodeReview)

	_, err := f.coordinator(t, testPolicy(), nil).Run(context.Background(), contentTask("t1", "Draft."))
	if !errors.Is(err, domain.ErrRoutingFailure) {
		t.Fatalf("err = %v, want routing failure", err)
	}
	for _, a := range f.registry.List() {
		if a.Status != actor.StatusIdle {
			t.Fatalf("actor %s left %s", a.Name, a.Status)
		}
	}
}

func TestRunRejectsConcurrentCyclesForOneTask(t *testing.T) {
	f := newFixture()
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		f.addReviewer(t, name, slowReviewer(100*time.Millisecond, 90), capability.ContentReview)
	}
	c := f.coordinator(t, testPolicy(), nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Run(context.Background(), contentTask("same", "Draft."))
		}()
	}
	wg.Wait()

	conflicts := 0
	for _, err := range errs {
		if errors.Is(err, domain.ErrConflict) {
			conflicts++
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1 (errs %v)", conflicts, errs)
	}
}

func TestNewCoordinatorRejectsInvalidPolicy(t *testing.T) {
	f := newFixture()
	p := testPolicy()
	p.PoolSize = 1
	_, err := NewCoordinator(CoordinatorConfig{Policy: p}, f.registry, nil, nil, nil, nil, nil)
	if !errors.Is(err, review.ErrPoolBelowQuorum) {
		t.Fatalf("err = %v", err)
	}
}
