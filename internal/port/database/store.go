// Package database defines the persistence port (interface).
package database

import (
	"context"

	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/draft"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
)

// Store persists every entity the core owns. Load operations return
// domain.ErrNotFound for unknown IDs.
type Store interface {
	// Tasks. SaveTask inserts when Version is 0 and otherwise updates with
	// optimistic locking, returning domain.ErrConflict on a stale version.
	// On success Version is incremented in place.
	SaveTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, filter task.Filter) ([]task.Task, error)

	// Actors are upserted by ID.
	SaveActor(ctx context.Context, a *actor.Actor) error
	GetActor(ctx context.Context, id string) (*actor.Actor, error)
	ListActors(ctx context.Context) ([]actor.Actor, error)

	// Draft revisions are append-only, ordered by number.
	SaveRevision(ctx context.Context, rev *draft.Revision) error
	ListRevisions(ctx context.Context, taskID string) ([]draft.Revision, error)

	// Review results and consensus records are append-only.
	SaveReviewResult(ctx context.Context, r *review.Result) error
	ListReviewResults(ctx context.Context, taskID string) ([]review.Result, error)
	SaveConsensus(ctx context.Context, c *review.Consensus) error
	ListConsensus(ctx context.Context, taskID string) ([]review.Consensus, error)
}
