package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/capability"
	"github.com/Strob0t/ReviewForge/internal/domain/diff"
	"github.com/Strob0t/ReviewForge/internal/domain/draft"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Tasks ---

const taskColumns = `id, COALESCE(parent_id, ''), title, description, type, priority, state, actor_id, input, output, error, deadline, version, created_at, updated_at`

func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	input, err := json.Marshal(t.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	output, err := marshalNullable(t.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	taskErr, err := marshalNullable(t.Error)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	if t.Version == 0 {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO tasks (id, parent_id, title, description, type, priority, state, actor_id, input, output, error, deadline, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)`,
			t.ID, nullIfEmpty(t.ParentID), t.Title, t.Description, t.Type, int(t.Priority), string(t.State), t.ActorID,
			input, output, taskErr, nullTime(t.Deadline), t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return conflictWrap(err, "insert task %s", t.ID)
		}
		t.Version = 1
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET state = $2, actor_id = $3, output = $4, error = $5, updated_at = $6, version = version + 1
		 WHERE id = $1 AND version = $7`,
		t.ID, string(t.State), t.ActorID, output, taskErr, t.UpdatedAt, t.Version)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update task %s: %w", t.ID, err)
		}
		if !exists {
			return fmt.Errorf("update task %s: %w", t.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("update task %s version %d: %w", t.ID, t.Version, domain.ErrConflict)
	}
	t.Version++
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

// ListTasks returns matching tasks in submission order.
func (s *Store) ListTasks(ctx context.Context, filter task.Filter) ([]task.Task, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.State != "" {
		add("state = $%d", string(filter.State))
	}
	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.ParentID != "" {
		add("parent_id = $%d", filter.ParentID)
	}

	q := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY seq ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row scannable) (task.Task, error) {
	var (
		t                   task.Task
		priority            int
		state               string
		input, output, tErr []byte
	)
	if err := row.Scan(&t.ID, &t.ParentID, &t.Title, &t.Description, &t.Type, &priority, &state, &t.ActorID,
		&input, &output, &tErr, &t.Deadline, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	t.Priority = task.Priority(priority)
	t.State = task.State(state)
	if err := json.Unmarshal(input, &t.Input); err != nil {
		return t, fmt.Errorf("unmarshal input: %w", err)
	}
	var err error
	if t.Output, err = unmarshalNullable[task.Output](output); err != nil {
		return t, fmt.Errorf("unmarshal output: %w", err)
	}
	if t.Error, err = unmarshalNullable[task.Error](tErr); err != nil {
		return t, fmt.Errorf("unmarshal error: %w", err)
	}
	return t, nil
}

// --- Actors ---

const actorColumns = `id, name, kind, capabilities, status, parent_id, stats, registered_seq, created_at, updated_at`

func (s *Store) SaveActor(ctx context.Context, a *actor.Actor) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	stats, err := json.Marshal(a.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO actors (id, name, kind, capabilities, status, parent_id, stats, registered_seq, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, kind = EXCLUDED.kind, capabilities = EXCLUDED.capabilities,
		   status = EXCLUDED.status, parent_id = EXCLUDED.parent_id, stats = EXCLUDED.stats,
		   updated_at = EXCLUDED.updated_at`,
		a.ID, a.Name, string(a.Kind), caps, string(a.Status), a.ParentID, stats, a.RegisteredSeq, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save actor %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) GetActor(ctx context.Context, id string) (*actor.Actor, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = $1`, id)
	a, err := scanActor(row)
	if err != nil {
		return nil, notFoundWrap(err, "get actor %s", id)
	}
	return &a, nil
}

// ListActors returns actors in registration order.
func (s *Store) ListActors(ctx context.Context) ([]actor.Actor, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+actorColumns+` FROM actors ORDER BY registered_seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close()

	actors := make([]actor.Actor, 0)
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan actor: %w", err)
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}

func scanActor(row scannable) (actor.Actor, error) {
	var (
		a            actor.Actor
		kind, status string
		caps, stats  []byte
	)
	if err := row.Scan(&a.ID, &a.Name, &kind, &caps, &status, &a.ParentID, &stats, &a.RegisteredSeq, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	a.Kind = actor.Kind(kind)
	a.Status = actor.Status(status)
	var set capability.Set
	if err := json.Unmarshal(caps, &set); err != nil {
		return a, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	a.Capabilities = set
	if err := json.Unmarshal(stats, &a.Stats); err != nil {
		return a, fmt.Errorf("unmarshal stats: %w", err)
	}
	return a, nil
}

// --- Draft revisions ---

func (s *Store) SaveRevision(ctx context.Context, rev *draft.Revision) error {
	d, err := marshalNullable(rev.Diff)
	if err != nil {
		return fmt.Errorf("marshal diff: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO draft_revisions (id, task_id, number, content, diff, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rev.ID, rev.TaskID, rev.Number, rev.Content, d, rev.CreatedAt)
	if err != nil {
		return conflictWrap(err, "save revision %d of task %s", rev.Number, rev.TaskID)
	}
	return nil
}

// ListRevisions returns revisions ordered by number.
func (s *Store) ListRevisions(ctx context.Context, taskID string) ([]draft.Revision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, number, content, diff, created_at FROM draft_revisions WHERE task_id = $1 ORDER BY number ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list revisions %s: %w", taskID, err)
	}
	defer rows.Close()

	revs := make([]draft.Revision, 0)
	for rows.Next() {
		var (
			r draft.Revision
			d []byte
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Number, &r.Content, &d, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		if r.Diff, err = unmarshalNullable[diff.Result](d); err != nil {
			return nil, fmt.Errorf("unmarshal diff: %w", err)
		}
		revs = append(revs, r)
	}
	return revs, rows.Err()
}

// --- Review results ---

func (s *Store) SaveReviewResult(ctx context.Context, r *review.Result) error {
	scores, err := json.Marshal(orEmpty(r.Scores))
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	suggestions, err := json.Marshal(orEmpty(r.Suggestions))
	if err != nil {
		return fmt.Errorf("marshal suggestions: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO review_results (id, task_id, revision_id, reviewer_id, scores, aggregate, suggestions, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.TaskID, r.RevisionID, r.ReviewerID, scores, r.Aggregate, suggestions, r.LatencyMS, r.CreatedAt)
	if err != nil {
		return conflictWrap(err, "save review result %s", r.ID)
	}
	return nil
}

func (s *Store) ListReviewResults(ctx context.Context, taskID string) ([]review.Result, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, revision_id, reviewer_id, scores, aggregate, suggestions, latency_ms, created_at
		 FROM review_results WHERE task_id = $1 ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list review results %s: %w", taskID, err)
	}
	defer rows.Close()

	results := make([]review.Result, 0)
	for rows.Next() {
		var (
			r                   review.Result
			scores, suggestions []byte
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.RevisionID, &r.ReviewerID, &scores, &r.Aggregate, &suggestions, &r.LatencyMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review result: %w", err)
		}
		if err := json.Unmarshal(scores, &r.Scores); err != nil {
			return nil, fmt.Errorf("unmarshal scores: %w", err)
		}
		if err := json.Unmarshal(suggestions, &r.Suggestions); err != nil {
			return nil, fmt.Errorf("unmarshal suggestions: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Consensus ---

func (s *Store) SaveConsensus(ctx context.Context, c *review.Consensus) error {
	reviewers, err := json.Marshal(orEmpty(c.Reviewers))
	if err != nil {
		return fmt.Errorf("marshal reviewers: %w", err)
	}
	timedOut, err := json.Marshal(orEmpty(c.TimedOut))
	if err != nil {
		return fmt.Errorf("marshal timed out: %w", err)
	}
	failed, err := json.Marshal(orEmpty(c.Failed))
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO consensus_records (id, task_id, revision_id, cycle, combined_score, decision, reviewer_count, quorum_met, reviewers, timed_out, failed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.TaskID, c.RevisionID, c.Cycle, c.CombinedScore, string(c.Decision), c.ReviewerCount, c.QuorumMet,
		reviewers, timedOut, failed, c.CreatedAt)
	if err != nil {
		return conflictWrap(err, "save consensus %s", c.ID)
	}
	return nil
}

func (s *Store) ListConsensus(ctx context.Context, taskID string) ([]review.Consensus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, revision_id, cycle, combined_score, decision, reviewer_count, quorum_met, reviewers, timed_out, failed, created_at
		 FROM consensus_records WHERE task_id = $1 ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list consensus %s: %w", taskID, err)
	}
	defer rows.Close()

	out := make([]review.Consensus, 0)
	for rows.Next() {
		c, err := scanConsensus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConsensus(rows pgx.Rows) (review.Consensus, error) {
	var (
		c                           review.Consensus
		decision                    string
		reviewers, timedOut, failed []byte
	)
	if err := rows.Scan(&c.ID, &c.TaskID, &c.RevisionID, &c.Cycle, &c.CombinedScore, &decision, &c.ReviewerCount, &c.QuorumMet,
		&reviewers, &timedOut, &failed, &c.CreatedAt); err != nil {
		return c, fmt.Errorf("scan consensus: %w", err)
	}
	c.Decision = review.Decision(decision)
	for _, f := range []struct {
		data []byte
		dst  *[]string
	}{{reviewers, &c.Reviewers}, {timedOut, &c.TimedOut}, {failed, &c.Failed}} {
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return c, fmt.Errorf("unmarshal consensus lists: %w", err)
		}
	}
	return c, nil
}
