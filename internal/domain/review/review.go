// Package review defines rubric-based review results, review policy, and the
// consensus aggregation that reduces a set of results to one decision.
package review

import (
	"errors"
	"fmt"
	"time"
)

// Score bounds for every criterion.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// Criterion is one rubric dimension.
type Criterion struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Rubric is the fixed set of criteria a reviewer scores against.
type Rubric struct {
	Criteria []Criterion `json:"criteria" yaml:"criteria"`
	// NeedsImprovement is the score below which a criterion gets a suggestion.
	NeedsImprovement float64  `json:"needs_improvement" yaml:"needs_improvement"`
	Keywords         []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	TargetWords      int      `json:"target_words,omitempty" yaml:"target_words,omitempty"`
}

// Well-known criterion names scored by the built-in rubric reviewer.
const (
	CriterionLength      = "length"
	CriterionReadability = "readability"
	CriterionStructure   = "structure"
	CriterionKeywords    = "keywords"
	CriterionRepetition  = "repetition"
)

// DefaultRubric returns the five built-in criteria with a 60 point
// improvement threshold.
func DefaultRubric() Rubric {
	return Rubric{
		Criteria: []Criterion{
			{Name: CriterionLength, Description: "content is close to the target length"},
			{Name: CriterionReadability, Description: "sentences are of a readable length"},
			{Name: CriterionStructure, Description: "content is split into paragraphs or sections"},
			{Name: CriterionKeywords, Description: "required keywords are covered"},
			{Name: CriterionRepetition, Description: "sentences are not repeated"},
		},
		NeedsImprovement: 60,
		TargetWords:      150,
	}
}

// WithCriteria keeps only the named criteria, preserving rubric order. Unknown
// names are appended with an empty description.
func (r Rubric) WithCriteria(names []string) Rubric {
	if len(names) == 0 {
		return r
	}
	known := make(map[string]Criterion, len(r.Criteria))
	for _, c := range r.Criteria {
		known[c.Name] = c
	}
	out := r
	out.Criteria = make([]Criterion, 0, len(names))
	for _, n := range names {
		if c, ok := known[n]; ok {
			out.Criteria = append(out.Criteria, c)
			continue
		}
		out.Criteria = append(out.Criteria, Criterion{Name: n})
	}
	return out
}

// CriterionScore is one criterion's bounded score.
type CriterionScore struct {
	Criterion string  `json:"criterion"`
	Score     float64 `json:"score"`
}

// Result is one reviewer's verdict on one revision.
type Result struct {
	ID          string           `json:"id"`
	TaskID      string           `json:"task_id"`
	RevisionID  string           `json:"revision_id"`
	ReviewerID  string           `json:"reviewer_id"`
	Scores      []CriterionScore `json:"scores"`
	Aggregate   float64          `json:"aggregate"`
	Suggestions []string         `json:"suggestions,omitempty"`
	LatencyMS   int64            `json:"latency_ms"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ErrScoreOutOfRange is returned when a score is outside [MinScore, MaxScore].
var ErrScoreOutOfRange = errors.New("score out of range [0, 100]")

// Validate checks score bounds.
func (r *Result) Validate() error {
	if r.Aggregate < MinScore || r.Aggregate > MaxScore {
		return fmt.Errorf("aggregate %.2f: %w", r.Aggregate, ErrScoreOutOfRange)
	}
	for _, s := range r.Scores {
		if s.Score < MinScore || s.Score > MaxScore {
			return fmt.Errorf("criterion %s %.2f: %w", s.Criterion, s.Score, ErrScoreOutOfRange)
		}
	}
	return nil
}

// Mean returns the unweighted mean of the criterion scores, or 0 if none.
func Mean(scores []CriterionScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s.Score
	}
	return sum / float64(len(scores))
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(v float64) float64 {
	switch {
	case v < MinScore:
		return MinScore
	case v > MaxScore:
		return MaxScore
	}
	return v
}
