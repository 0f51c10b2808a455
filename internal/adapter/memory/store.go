// Package memory implements the persistence ports in process memory. It is
// used in development mode and by tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/draft"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
)

// Store is a thread-safe in-memory database.Store. Values are deep copied
// on the way in and out so callers never share state with the store.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]*task.Task
	order     []string
	actors    map[string]*actor.Actor
	revisions map[string][]draft.Revision
	results   map[string][]review.Result
	consensus map[string][]review.Consensus
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tasks:     make(map[string]*task.Task),
		actors:    make(map[string]*actor.Actor),
		revisions: make(map[string][]draft.Revision),
		results:   make(map[string][]review.Result),
		consensus: make(map[string][]review.Consensus),
	}
}

func (s *Store) SaveTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.tasks[t.ID]
	switch {
	case t.Version == 0 && exists:
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrConflict)
	case t.Version == 0:
		s.order = append(s.order, t.ID)
	case !exists:
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrNotFound)
	case cur.Version != t.Version:
		return fmt.Errorf("task %s version %d (stored %d): %w", t.ID, t.Version, cur.Version, domain.ErrConflict)
	}
	t.Version++
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return cloneTask(t), nil
}

// ListTasks returns matching tasks in submission order.
func (s *Store) ListTasks(_ context.Context, filter task.Filter) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.Task, 0)
	for _, id := range s.order {
		t := s.tasks[id]
		if !filter.Match(t) {
			continue
		}
		out = append(out, *cloneTask(t))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) SaveActor(_ context.Context, a *actor.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.actors[a.ID] = &cp
	return nil
}

func (s *Store) GetActor(_ context.Context, id string) (*actor.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[id]
	if !ok {
		return nil, fmt.Errorf("actor %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

// ListActors returns actors in registration order.
func (s *Store) ListActors(_ context.Context) ([]actor.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]actor.Actor, 0, len(s.actors))
	for _, a := range s.actors {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredSeq < out[j].RegisteredSeq })
	return out, nil
}

func (s *Store) SaveRevision(_ context.Context, rev *draft.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.revisions[rev.TaskID] {
		if r.Number == rev.Number {
			return fmt.Errorf("revision %d of task %s: %w", rev.Number, rev.TaskID, domain.ErrConflict)
		}
	}
	cp, err := clone(*rev)
	if err != nil {
		return err
	}
	s.revisions[rev.TaskID] = append(s.revisions[rev.TaskID], cp)
	return nil
}

// ListRevisions returns revisions ordered by number.
func (s *Store) ListRevisions(_ context.Context, taskID string) ([]draft.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]draft.Revision, 0, len(s.revisions[taskID]))
	for _, r := range s.revisions[taskID] {
		cp, err := clone(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) SaveReviewResult(_ context.Context, r *review.Result) error {
	cp, err := clone(*r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.results[r.TaskID] = append(s.results[r.TaskID], cp)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListReviewResults(_ context.Context, taskID string) ([]review.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.results[taskID])
}

func (s *Store) SaveConsensus(_ context.Context, c *review.Consensus) error {
	cp, err := clone(*c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.consensus[c.TaskID] = append(s.consensus[c.TaskID], cp)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListConsensus(_ context.Context, taskID string) ([]review.Consensus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.consensus[taskID])
}

func cloneTask(t *task.Task) *task.Task {
	cp := *t
	cp.Input.Criteria = append([]string(nil), t.Input.Criteria...)
	cp.Input.Keywords = append([]string(nil), t.Input.Keywords...)
	if t.Input.Metadata != nil {
		cp.Input.Metadata = make(map[string]string, len(t.Input.Metadata))
		for k, v := range t.Input.Metadata {
			cp.Input.Metadata[k] = v
		}
	}
	if t.Output != nil {
		o := *t.Output
		cp.Output = &o
	}
	if t.Error != nil {
		e := *t.Error
		cp.Error = &e
	}
	if t.Deadline != nil {
		d := *t.Deadline
		cp.Deadline = &d
	}
	return &cp
}

// clone deep copies nested values through their JSON form, which is also
// what the Postgres adapter stores.
func clone[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("copy %T: %w", v, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("copy %T: %w", v, err)
	}
	return out, nil
}

func cloneSlice[T any](in []T) ([]T, error) {
	out := make([]T, 0, len(in))
	for _, v := range in {
		cp, err := clone(v)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}
