// Package producer defines the port for drafting a new revision from review
// feedback.
package producer

import (
	"context"

	"github.com/Strob0t/ReviewForge/internal/domain/draft"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
)

// Request carries everything a producer needs to redraft.
type Request struct {
	Task      *task.Task
	Current   draft.Revision
	Consensus review.Consensus
	Results   []review.Result
}

// Suggestions flattens the reviewer suggestions in reviewer order.
func (r Request) Suggestions() []string {
	var out []string
	seen := map[string]bool{}
	for _, res := range r.Results {
		for _, s := range res.Suggestions {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Producer returns the content of the next revision.
type Producer interface {
	Revise(ctx context.Context, req Request) (string, error)
}
