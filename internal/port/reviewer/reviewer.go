// Package reviewer defines the port for scoring one draft revision.
package reviewer

import (
	"context"

	"github.com/Strob0t/ReviewForge/internal/domain/draft"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
)

// Reviewer scores a revision against a rubric. Implementations must be safe
// for concurrent use and must return promptly once ctx is done.
type Reviewer interface {
	Review(ctx context.Context, rev draft.Revision, rubric review.Rubric) (review.Result, error)
}

// Func adapts a function to the Reviewer interface.
type Func func(ctx context.Context, rev draft.Revision, rubric review.Rubric) (review.Result, error)

// Review implements Reviewer.
func (f Func) Review(ctx context.Context, rev draft.Revision, rubric review.Rubric) (review.Result, error) {
	return f(ctx, rev, rubric)
}
