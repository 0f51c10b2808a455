package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ReviewForge/internal/adapter/otel"
	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/capability"
	"github.com/Strob0t/ReviewForge/internal/domain/draft"
	"github.com/Strob0t/ReviewForge/internal/domain/event"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
	"github.com/Strob0t/ReviewForge/internal/fanout"
	"github.com/Strob0t/ReviewForge/internal/port/database"
	"github.com/Strob0t/ReviewForge/internal/port/producer"
	"github.com/Strob0t/ReviewForge/internal/port/reviewer"
)

// ReviewerRef is one member of a review pool.
type ReviewerRef struct {
	ID       string
	Reviewer reviewer.Reviewer
}

// Round is the outcome of fanning one revision out to a review pool.
type Round struct {
	Results   []review.Result
	TimedOut  []string
	Failed    []string
	Consensus review.Consensus
	// Latency holds the observed latency of every reviewer that answered or
	// timed out, keyed by reviewer ID.
	Latency map[string]time.Duration
}

// CoordinatorConfig configures a department coordinator.
type CoordinatorConfig struct {
	Policy review.Policy
	Rubric review.Rubric
	// Department narrows the reviewer pool to reviewers that also carry this
	// flag. Zero accepts any reviewer.
	Department capability.Flag
	// AcquireAttempts bounds reservation rounds per cycle.
	AcquireAttempts int
}

// Coordinator runs the review and revision loop for one department.
type Coordinator struct {
	registry *Registry
	producer producer.Producer
	diffs    *DiffService
	store    database.Store
	events   *EventPublisher
	metrics  *otel.Metrics
	cfg      CoordinatorConfig

	mu     sync.Mutex
	active map[string]bool
}

// NewCoordinator creates a department coordinator. store, events and
// metrics may be nil.
func NewCoordinator(
	cfg CoordinatorConfig,
	registry *Registry,
	prod producer.Producer,
	diffs *DiffService,
	store database.Store,
	events *EventPublisher,
	metrics *otel.Metrics,
) (*Coordinator, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("review policy: %w", err)
	}
	if cfg.AcquireAttempts < 1 {
		cfg.AcquireAttempts = 3
	}
	if len(cfg.Rubric.Criteria) == 0 {
		cfg.Rubric = review.DefaultRubric()
	}
	if diffs == nil {
		diffs = NewDiffService(nil, nil, 0)
	}
	return &Coordinator{
		registry: registry,
		producer: prod,
		diffs:    diffs,
		store:    store,
		events:   events,
		metrics:  metrics,
		cfg:      cfg,
		active:   make(map[string]bool),
	}, nil
}

// Policy returns the coordinator's review policy.
func (c *Coordinator) Policy() review.Policy { return c.cfg.Policy }

// Run drives a task through review cycles until the panel accepts or
// rejects it, or the cycle budget is exhausted. Only one Run per task may be
// active at a time.
func (c *Coordinator) Run(ctx context.Context, t *task.Task) (task.Output, error) {
	if !c.begin(t.ID) {
		return task.Output{}, fmt.Errorf("task %s is already under review: %w", t.ID, domain.ErrConflict)
	}
	defer c.end(t.ID)

	policy := c.cfg.Policy
	rubric := rubricFor(c.cfg.Rubric, t)

	chain := draft.NewChain(t.ID)
	rev, err := chain.Append(t.Input.Content, nil)
	if err != nil {
		return task.Output{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	c.saveRevision(ctx, &rev)

	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return task.Output{}, domain.WrapError(domain.KindCancelled, err, "review loop stopped")
		}

		cctx, span := otel.StartCycleSpan(ctx, t.ID, rev.ID, cycle)
		round, err := c.reviewCycle(cctx, t, rev, cycle, policy, rubric)
		span.End()
		if err != nil {
			return task.Output{}, err
		}

		cons := round.Consensus
		out := task.Output{
			Content:    rev.Content,
			Decision:   string(cons.Decision),
			Score:      cons.CombinedScore,
			Revisions:  chain.Len(),
			RevisionID: rev.ID,
		}
		slog.Info("review cycle finished",
			"task_id", t.ID, "cycle", cycle, "revision_id", rev.ID,
			"score", cons.CombinedScore, "decision", cons.Decision,
			"reviewers", cons.ReviewerCount, "timed_out", len(round.TimedOut))

		if cons.Decision.Terminal() {
			c.metrics.CyclesUsed(ctx, cycle)
			return out, nil
		}
		if cycle >= policy.MaxRevisionCycles {
			c.metrics.CyclesUsed(ctx, cycle)
			return out, domain.NewError(domain.KindMaxRevisionsExceeded,
				"no accept or reject after %d cycle(s), last score %.*f",
				cycle, policy.ScorePrecision, cons.CombinedScore)
		}
		if c.producer == nil {
			return out, errors.New("revision requested but no producer is configured")
		}

		content, err := c.producer.Revise(ctx, producer.Request{
			Task:      t,
			Current:   rev,
			Consensus: cons,
			Results:   round.Results,
		})
		if err != nil {
			if ctx.Err() != nil {
				return out, domain.WrapError(domain.KindCancelled, ctx.Err(), "revision interrupted")
			}
			return out, fmt.Errorf("revise draft %d of task %s: %w", rev.Number, t.ID, err)
		}

		d, err := c.diffs.Compute(ctx, rev.Content, content)
		if err != nil {
			return out, fmt.Errorf("diff revision %d of task %s: %w", rev.Number, t.ID, err)
		}
		next, err := chain.Append(content, &d)
		if err != nil {
			return out, fmt.Errorf("append revision to task %s: %w", t.ID, err)
		}
		rev = next
		c.saveRevision(ctx, &rev)
	}
}

// reviewCycle reserves a pool, reviews rev and records the outcome.
func (c *Coordinator) reviewCycle(ctx context.Context, t *task.Task, rev draft.Revision, cycle int, policy review.Policy, rubric review.Rubric) (Round, error) {
	required := capability.Of(capability.Review)
	if c.cfg.Department != 0 {
		required = required.With(c.cfg.Department)
	}

	reserved, err := c.registry.AcquireN(ctx, required, policy.PoolSize, policy.MinQuorum, c.cfg.AcquireAttempts)
	if err != nil {
		return Round{}, err
	}

	refs := make([]ReviewerRef, 0, len(reserved))
	for _, r := range reserved {
		switch h := r.Handler.(type) {
		case ReviewerHandler:
			refs = append(refs, ReviewerRef{ID: r.Actor.ID, Reviewer: h.Reviewer})
		case DepartmentHandler, ProducerHandler, nil:
			slog.Warn("reserved actor cannot review", "actor_id", r.Actor.ID, "kind", r.Actor.Kind)
			c.registry.Release(ctx, r.Actor.ID, Outcome{})
		}
	}

	round, reviewErr := c.ReviewDraft(ctx, rev, refs, policy, rubric)
	c.releasePool(ctx, refs, round)

	for i := range round.Results {
		res := &round.Results[i]
		if c.store != nil {
			if err := c.store.SaveReviewResult(ctx, res); err != nil {
				slog.Warn("save review result", "task_id", t.ID, "reviewer_id", res.ReviewerID, "error", err)
			}
		}
		c.events.Publish(ctx, event.TypeReviewCompleted, t.ID, res.ReviewerID, res)
	}
	for _, id := range round.TimedOut {
		c.events.Publish(ctx, event.TypeReviewTimeout, t.ID, id, map[string]any{
			"revision_id": rev.ID,
			"cycle":       cycle,
		})
	}
	if reviewErr != nil {
		return round, reviewErr
	}

	cons := &round.Consensus
	cons.ID = uuid.New().String()
	cons.Cycle = cycle
	cons.CreatedAt = time.Now().UTC()
	if c.store != nil {
		if err := c.store.SaveConsensus(ctx, cons); err != nil {
			slog.Warn("save consensus", "task_id", t.ID, "error", err)
		}
	}
	c.metrics.ConsensusReached(ctx, string(cons.Decision), cons.CombinedScore)
	c.events.Publish(ctx, event.TypeConsensus, t.ID, "", cons)
	return round, nil
}

// releasePool returns every reserved reviewer to the registry, folding the
// round outcome into its stats. Stragglers cut off by an early quorum are
// released without being counted.
func (c *Coordinator) releasePool(ctx context.Context, refs []ReviewerRef, round Round) {
	answered := make(map[string]bool, len(round.Results))
	for _, r := range round.Results {
		answered[r.ReviewerID] = true
	}
	missed := make(map[string]bool, len(round.TimedOut)+len(round.Failed))
	for _, id := range round.TimedOut {
		missed[id] = true
	}
	for _, id := range round.Failed {
		missed[id] = true
	}
	for _, ref := range refs {
		o := Outcome{
			Counted: answered[ref.ID] || missed[ref.ID],
			Success: answered[ref.ID],
			Latency: round.Latency[ref.ID],
		}
		c.registry.Release(ctx, ref.ID, o)
	}
}

type reviewReply struct {
	ref      ReviewerRef
	result   review.Result
	err      error
	timedOut bool
	latency  time.Duration
}

// ReviewDraft sends rev to every reviewer in refs concurrently, bounded by
// policy.Parallelism, with policy.Timeout per reviewer. Reviewers that do
// not answer in time are recorded as timed out and excluded; reviewers that
// fail are recorded as failed and excluded. Neither is retried.
//
// With fewer usable results than policy.MinQuorum the error is a consensus
// deadlock and the returned Round still carries the partial results.
func (c *Coordinator) ReviewDraft(ctx context.Context, rev draft.Revision, refs []ReviewerRef, policy review.Policy, rubric review.Rubric) (Round, error) {
	round := Round{Latency: make(map[string]time.Duration, len(refs))}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := fanout.NewPool(policy.Parallelism())
	replies := make(chan reviewReply, len(refs))
	for _, ref := range refs {
		go func() {
			var reply reviewReply
			err := pool.Run(poolCtx, func() error {
				reply = c.callReviewer(poolCtx, ref, rev, rubric, policy.Timeout)
				return nil
			})
			if err != nil {
				reply = reviewReply{ref: ref, err: err}
			}
			replies <- reply
		}()
	}

	pending := make(map[string]bool, len(refs))
	for _, ref := range refs {
		pending[ref.ID] = true
	}

collect:
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			cancel()
			return round, domain.WrapError(domain.KindCancelled, ctx.Err(), "review round abandoned")
		case r := <-replies:
			delete(pending, r.ref.ID)
			c.record(ctx, &round, r, rev)
			if policy.EarlyQuorum && len(round.Results) >= policy.MinQuorum && len(pending) > 0 {
				slog.Debug("early quorum reached", "revision_id", rev.ID, "results", len(round.Results), "stragglers", len(pending))
				break collect
			}
		}
	}
	cancel()
	if err := ctx.Err(); err != nil {
		return round, domain.WrapError(domain.KindCancelled, err, "review round abandoned")
	}

	if len(round.Results) < policy.MinQuorum {
		return round, domain.NewError(domain.KindConsensusDeadlock,
			"%d usable result(s) from %d reviewer(s), quorum is %d (timed out %d, failed %d)",
			len(round.Results), len(refs), policy.MinQuorum, len(round.TimedOut), len(round.Failed))
	}

	cons := review.Aggregate(round.Results, policy)
	cons.TaskID = rev.TaskID
	cons.RevisionID = rev.ID
	cons.TimedOut = round.TimedOut
	cons.Failed = round.Failed
	round.Consensus = cons
	return round, nil
}

// record sorts one reply into the round.
func (c *Coordinator) record(ctx context.Context, round *Round, r reviewReply, rev draft.Revision) {
	id := r.ref.ID
	switch {
	case r.timedOut:
		round.TimedOut = append(round.TimedOut, id)
		round.Latency[id] = r.latency
		c.metrics.ReviewObserved(ctx, id, float64(r.latency.Milliseconds()), true)
		slog.Warn("reviewer timed out", "reviewer_id", id, "revision_id", rev.ID, "kind", domain.KindReviewTimeout, "latency_ms", r.latency.Milliseconds())
	case r.err != nil:
		round.Failed = append(round.Failed, id)
		round.Latency[id] = r.latency
		slog.Warn("reviewer failed", "reviewer_id", id, "revision_id", rev.ID, "error", r.err)
	default:
		res := r.result
		res.ReviewerID = id
		res.TaskID = rev.TaskID
		res.RevisionID = rev.ID
		if res.ID == "" {
			res.ID = uuid.New().String()
		}
		if res.CreatedAt.IsZero() {
			res.CreatedAt = time.Now().UTC()
		}
		res.LatencyMS = r.latency.Milliseconds()
		if err := res.Validate(); err != nil {
			round.Failed = append(round.Failed, id)
			slog.Warn("reviewer returned invalid result", "reviewer_id", id, "error", err)
			return
		}
		round.Results = append(round.Results, res)
		round.Latency[id] = r.latency
		c.metrics.ReviewObserved(ctx, id, float64(r.latency.Milliseconds()), false)
	}
}

// callReviewer runs one review under its own deadline. A reviewer that
// ignores its context is abandoned when the deadline passes.
func (c *Coordinator) callReviewer(ctx context.Context, ref ReviewerRef, rev draft.Revision, rubric review.Rubric, timeout time.Duration) reviewReply {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	rctx, span := otel.StartReviewSpan(rctx, ref.ID, rev.ID)
	defer span.End()

	start := time.Now()
	done := make(chan reviewReply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- reviewReply{ref: ref, err: fmt.Errorf("reviewer panic: %v", p)}
			}
		}()
		res, err := ref.Reviewer.Review(rctx, rev, rubric)
		done <- reviewReply{ref: ref, result: res, err: err}
	}()

	var reply reviewReply
	select {
	case reply = <-done:
	case <-rctx.Done():
		reply = reviewReply{ref: ref, err: rctx.Err()}
	}
	reply.latency = time.Since(start)
	if reply.err != nil && errors.Is(rctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		reply.timedOut = true
	}
	if reply.err != nil {
		span.RecordError(reply.err)
	}
	return reply
}

func (c *Coordinator) begin(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[taskID] {
		return false
	}
	c.active[taskID] = true
	return true
}

func (c *Coordinator) end(taskID string) {
	c.mu.Lock()
	delete(c.active, taskID)
	c.mu.Unlock()
}

func (c *Coordinator) saveRevision(ctx context.Context, rev *draft.Revision) {
	if c.store != nil {
		if err := c.store.SaveRevision(ctx, rev); err != nil {
			slog.Warn("save revision", "task_id", rev.TaskID, "revision", rev.Number, "error", err)
		}
	}
	c.events.Publish(ctx, event.TypeRevisionCreated, rev.TaskID, "", map[string]any{
		"revision_id": rev.ID,
		"number":      rev.Number,
		"diff":        rev.Diff,
	})
}
